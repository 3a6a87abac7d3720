package upstream

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pysugar/antigravity-pool/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Unauthorized(t *testing.T) {
	failure, ok := Classify(http.StatusUnauthorized, `{"error":"token expired"}`, 0)
	require.True(t, ok)
	assert.Equal(t, pool.FailureCredentialInvalid, failure.Kind)
}

func TestClassify_InvalidGrantBody(t *testing.T) {
	failure, ok := Classify(http.StatusBadRequest, `{"error":"invalid_grant"}`, 0)
	require.True(t, ok)
	assert.Equal(t, pool.FailureCredentialInvalid, failure.Kind)
}

func TestClassify_RateLimitWithHeaderHint(t *testing.T) {
	failure, ok := Classify(http.StatusTooManyRequests, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`, 30*time.Second)
	require.True(t, ok)
	assert.Equal(t, pool.FailureRateLimited, failure.Kind)
	assert.Equal(t, 30*time.Second, failure.RetryAfter)
}

func TestClassify_ResetMessageSetsDeadline(t *testing.T) {
	body := `{"error":{"message":"You have exhausted your capacity on this model. Quota will reset after 5h30m."}}`

	failure, ok := Classify(http.StatusTooManyRequests, body, 0)
	require.True(t, ok)
	assert.Equal(t, pool.FailureRateLimited, failure.Kind)
	assert.Equal(t, 5*time.Hour+30*time.Minute, failure.RetryAfter)
}

func TestClassify_QuotaWithoutHint(t *testing.T) {
	failure, ok := Classify(http.StatusTooManyRequests, `{"error":{"status":"RESOURCE_EXHAUSTED","message":"quota_exhausted"}}`, 0)
	require.True(t, ok)
	assert.Equal(t, pool.FailureQuotaExhausted, failure.Kind)
}

func TestClassify_PlainRateLimitWithoutHint(t *testing.T) {
	failure, ok := Classify(http.StatusTooManyRequests, "rate limit exceeded, slow down", 0)
	require.True(t, ok)
	assert.Equal(t, pool.FailureRateLimited, failure.Kind)
	assert.Equal(t, time.Duration(0), failure.RetryAfter)
}

func TestClassify_ServerErrorsAreNotPoolConcerns(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable} {
		_, ok := Classify(status, "upstream blew up", 0)
		assert.False(t, ok, "status %d", status)
	}
}

func TestClassify_TruncatesLongReasons(t *testing.T) {
	body := "rate limit " + strings.Repeat("x", 500)

	failure, ok := Classify(http.StatusTooManyRequests, body, 0)
	require.True(t, ok)
	assert.LessOrEqual(t, len(failure.Reason), 210)
	assert.True(t, strings.HasSuffix(failure.Reason, "..."))
}
