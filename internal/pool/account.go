// Package pool implements a multi-account OAuth credential pool with
// rate-limit-aware failover for the Cloud Code (Antigravity) upstream.
package pool

import "time"

// Credential is the OAuth token material owned by a single account.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Account is one Google-authenticated upstream identity. Email is the
// unique key across the pool.
type Account struct {
	Email         string
	ProjectID     string
	Credential    Credential
	Invalid       bool
	InvalidReason string

	// RateLimits maps a model name to the deadline before which the
	// account must not be selected for that model. An absent entry
	// means the account is not limited for that model.
	RateLimits map[string]time.Time

	LastSelectedAt time.Time
	CreatedAt      time.Time
}

// AvailableFor reports whether the account may serve a request for the
// given model at the given instant. Expiry is lazy: cooldowns are
// compared against the clock here, there is no background sweep.
func (a *Account) AvailableFor(model string, now time.Time) bool {
	if a.Invalid {
		return false
	}
	if until, ok := a.RateLimits[model]; ok && now.Before(until) {
		return false
	}
	return true
}

// RateLimitedNow reports whether any model cooldown is currently active.
func (a *Account) RateLimitedNow(now time.Time) bool {
	for _, until := range a.RateLimits {
		if now.Before(until) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to callers outside the pool lock.
func (a *Account) Clone() Account {
	out := *a
	out.RateLimits = make(map[string]time.Time, len(a.RateLimits))
	for model, until := range a.RateLimits {
		out.RateLimits[model] = until
	}
	return out
}
