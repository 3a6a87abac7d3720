package pool_test

import (
	"testing"
	"time"

	"github.com/pysugar/antigravity-pool/internal/pool"
	"github.com/stretchr/testify/assert"
)

func TestRecordLimited_OverwritesWithoutStacking(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	acc := newAccount("a@x")

	pool.RecordLimited(acc, "gemini-3-flash", time.Hour, now)
	pool.RecordLimited(acc, "gemini-3-flash", 30*time.Second, now)

	assert.Equal(t, now.Add(30*time.Second), acc.RateLimits["gemini-3-flash"])
}

func TestRecordLimited_DefaultCooldownWhenNoHint(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	acc := newAccount("a@x")

	pool.RecordLimited(acc, "gemini-3-flash", 0, now)

	assert.Equal(t, now.Add(pool.DefaultCooldown), acc.RateLimits["gemini-3-flash"])
}

func TestRecordExhausted_LongCooldown(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	acc := newAccount("a@x")

	pool.RecordExhausted(acc, "gemini-3-pro-high", now)

	assert.Equal(t, now.Add(pool.QuotaCooldown), acc.RateLimits["gemini-3-pro-high"])
	assert.False(t, acc.AvailableFor("gemini-3-pro-high", now.Add(12*time.Hour)))
}

func TestClearExpired(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	a := newAccount("a@x")
	pool.RecordLimited(a, "gemini-3-flash", time.Minute, now)
	pool.RecordLimited(a, "claude-sonnet-4.5", time.Hour, now)

	cleared := pool.ClearExpired([]*pool.Account{a}, now.Add(2*time.Minute))

	assert.Equal(t, 1, cleared)
	assert.NotContains(t, a.RateLimits, "gemini-3-flash")
	assert.Contains(t, a.RateLimits, "claude-sonnet-4.5")
}

func TestResetAll(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	a := newAccount("a@x")
	b := newAccount("b@x")
	pool.RecordLimited(a, "gemini-3-flash", time.Hour, now)
	pool.RecordExhausted(b, "claude-sonnet-4.5", now)

	pool.ResetAll([]*pool.Account{a, b})

	assert.Empty(t, a.RateLimits)
	assert.Empty(t, b.RateLimits)
	assert.True(t, a.AvailableFor("gemini-3-flash", now))
	assert.True(t, b.AvailableFor("claude-sonnet-4.5", now))
}

func TestAvailableFor_PerModelState(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	acc := newAccount("a@x")
	pool.RecordLimited(acc, "gemini-3-flash", time.Hour, now)

	assert.False(t, acc.AvailableFor("gemini-3-flash", now))
	assert.True(t, acc.AvailableFor("gemini-3-pro-low", now))
	assert.True(t, acc.RateLimitedNow(now))
	assert.False(t, acc.RateLimitedNow(now.Add(2*time.Hour)))
}
