// Package upstream talks to the Cloud Code (Antigravity) service for
// project discovery and interprets its failure responses.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"
)

// Cloud Code endpoints in fallback order: daily sandbox first, prod second.
const (
	EndpointDaily = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	EndpointProd  = "https://cloudcode-pa.googleapis.com"

	// DefaultProjectID is used when discovery fails everywhere.
	DefaultProjectID = "rising-fact-p41fc"

	antigravityVersion = "1.11.5"
)

// Client performs project discovery against the Cloud Code API.
type Client struct {
	hc    *http.Client
	bases []string
}

// NewClient builds a discovery client. AGPOOL_UPSTREAM_BASE (or the
// base argument) pins a single endpoint; otherwise the daily→prod
// fallback chain is used.
func NewClient(base string) *Client {
	if base == "" {
		base = os.Getenv("AGPOOL_UPSTREAM_BASE")
	}
	bases := []string{EndpointDaily, EndpointProd}
	if base != "" {
		bases = []string{base}
	}
	return &Client{
		hc:    &http.Client{Timeout: 15 * time.Second},
		bases: bases,
	}
}

func userAgent() string {
	return fmt.Sprintf("antigravity/%s %s/%s", antigravityVersion, runtime.GOOS, runtime.GOARCH)
}

// DiscoverProjectID resolves the Cloud Code project for an access token
// via the loadCodeAssist endpoint, walking the endpoint fallback chain.
// Returns DefaultProjectID when every endpoint fails to yield one.
func (c *Client) DiscoverProjectID(ctx context.Context, accessToken string) (string, error) {
	body := []byte(`{"metadata":{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}}`)

	var lastErr error
	for _, base := range c.bases {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1internal:loadCodeAssist", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", userAgent())
		req.Header.Set("X-Goog-Api-Client", "google-cloud-sdk vscode_cloudshelleditor/0.1")
		req.Header.Set("Client-Metadata", `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`)

		resp, err := c.hc.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		pid, err := parseProjectID(resp)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if pid != "" {
			return pid, nil
		}
	}

	if lastErr != nil {
		return DefaultProjectID, fmt.Errorf("project discovery: %w", lastErr)
	}
	return DefaultProjectID, nil
}

func parseProjectID(resp *http.Response) (string, error) {
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("loadCodeAssist: status %d", resp.StatusCode)
	}

	var result struct {
		CloudaicompanionProject string `json:"cloudaicompanionProject"`
		Config                  struct {
			ProjectID string `json:"projectId"`
		} `json:"codeAssistConfig"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("loadCodeAssist: decode: %w", err)
	}

	if result.CloudaicompanionProject != "" {
		return result.CloudaicompanionProject, nil
	}
	return result.Config.ProjectID, nil
}
