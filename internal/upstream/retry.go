package upstream

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// retryInfo is the structured error body Google returns on 429s.
type retryInfo struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string            `json:"@type"`
			Reason     string            `json:"reason"`
			Metadata   map[string]string `json:"metadata"`
			RetryDelay string            `json:"retryDelay"` // e.g. "3.5s"
		} `json:"details"`
	} `json:"error"`
}

// ParseRetryDelay extracts a retry duration from a throttled response:
// the standard Retry-After header first, then the Google RetryInfo
// detail in the JSON body. Returns 0 when no hint is present. The body
// is restored after reading so callers can still forward it.
func ParseRetryDelay(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			return time.Until(t)
		}
	}

	if resp.Body == nil {
		return 0
	}
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0
	}
	resp.Body = io.NopCloser(strings.NewReader(string(bodyBytes)))

	var info retryInfo
	if err := json.Unmarshal(bodyBytes, &info); err != nil {
		return 0
	}

	for _, detail := range info.Error.Details {
		if detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
		if delay, ok := detail.Metadata["retryDelay"]; ok {
			if d, err := time.ParseDuration(delay); err == nil {
				return d
			}
		}
	}

	if d := ParseResetDelay(info.Error.Message); d > 0 {
		return d
	}
	return 0
}

var resetAfterRe = regexp.MustCompile(`(?i)reset after (?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?`)

// ParseResetDelay pulls a duration out of quota messages like
// "Quota will reset after 5h30m". Returns 0 when nothing matches.
func ParseResetDelay(text string) time.Duration {
	match := resetAfterRe.FindStringSubmatch(text)
	if match == nil {
		return 0
	}

	var d time.Duration
	if match[1] != "" {
		h, _ := strconv.Atoi(match[1])
		d += time.Duration(h) * time.Hour
	}
	if match[2] != "" {
		m, _ := strconv.Atoi(match[2])
		d += time.Duration(m) * time.Minute
	}
	if match[3] != "" {
		s, _ := strconv.Atoi(match[3])
		d += time.Duration(s) * time.Second
	}
	return d
}
