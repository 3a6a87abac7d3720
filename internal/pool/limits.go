package pool

import "time"

const (
	// DefaultCooldown is applied when the upstream rate-limits without
	// a retry hint.
	DefaultCooldown = time.Minute

	// QuotaCooldown is the long cooldown for quota exhaustion. Quota is
	// an allocation, not a transient throttle; it normally stays in
	// place until the manual reset operation.
	QuotaCooldown = 24 * time.Hour
)

// RecordLimited puts the (account, model) pair on cooldown. A later
// call for the same pair overwrites the previous deadline; cooldowns do
// not stack.
func RecordLimited(acc *Account, model string, retryAfter time.Duration, now time.Time) {
	if retryAfter <= 0 {
		retryAfter = DefaultCooldown
	}
	if acc.RateLimits == nil {
		acc.RateLimits = make(map[string]time.Time)
	}
	acc.RateLimits[model] = now.Add(retryAfter)
}

// RecordExhausted marks the (account, model) pair quota-exhausted.
// Same mechanism as RecordLimited with a long deadline.
func RecordExhausted(acc *Account, model string, now time.Time) {
	RecordLimited(acc, model, QuotaCooldown, now)
}

// ClearExpired drops cooldown entries whose deadline has passed.
// Purely housekeeping: availability checks are lazy and do not depend
// on it. Returns the number of entries removed.
func ClearExpired(accounts []*Account, now time.Time) int {
	cleared := 0
	for _, acc := range accounts {
		for model, until := range acc.RateLimits {
			if !now.Before(until) {
				delete(acc.RateLimits, model)
				cleared++
			}
		}
	}
	return cleared
}

// ResetAll clears every cooldown across every account.
func ResetAll(accounts []*Account) {
	for _, acc := range accounts {
		ResetAccount(acc)
	}
}

// ResetAccount clears all cooldowns for a single account.
func ResetAccount(acc *Account) {
	acc.RateLimits = make(map[string]time.Time)
}
