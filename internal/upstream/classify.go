package upstream

import (
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/antigravity-pool/internal/pool"
)

// Classify maps an upstream failure response to the report kind the
// pool understands. The request pipeline calls this before
// Manager.ReportFailure. The second return is false when the failure is
// not the pool's concern (5xx, transport noise) and no report is due.
//
// 401/403 and auth markers flag the credential. Throttling becomes a
// cooldown: an explicit reset hint (Retry-After or a "reset after 5h30m"
// message) sets the deadline, quota markers without a hint get the long
// quota cooldown, and anything else falls back to the default cooldown.
func Classify(statusCode int, body string, retryAfter time.Duration) (pool.Failure, bool) {
	lower := strings.ToLower(body)

	switch {
	case statusCode == http.StatusUnauthorized ||
		statusCode == http.StatusForbidden ||
		strings.Contains(lower, "invalid_grant") ||
		strings.Contains(lower, "unauthenticated"):
		return pool.Failure{Kind: pool.FailureCredentialInvalid, Reason: truncate(body, 200)}, true

	case statusCode == http.StatusTooManyRequests ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "quota_exhausted") ||
		strings.Contains(lower, "rate limit"):
		if retryAfter <= 0 {
			retryAfter = ParseResetDelay(body)
		}
		if retryAfter > 0 {
			return pool.Failure{Kind: pool.FailureRateLimited, RetryAfter: retryAfter, Reason: truncate(body, 200)}, true
		}
		if isQuotaExhausted(lower) {
			return pool.Failure{Kind: pool.FailureQuotaExhausted, Reason: truncate(body, 200)}, true
		}
		return pool.Failure{Kind: pool.FailureRateLimited, Reason: truncate(body, 200)}, true
	}

	return pool.Failure{}, false
}

func isQuotaExhausted(lower string) bool {
	return strings.Contains(lower, "quota_exhausted") ||
		strings.Contains(lower, "exhausted your capacity") ||
		strings.Contains(lower, "quota")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
