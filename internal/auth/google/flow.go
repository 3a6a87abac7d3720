package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pysugar/antigravity-pool/internal/pool"
	"golang.org/x/oauth2"
)

const defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Flow implements the add-account exchange: consent URL out, credential
// plus account email back. It satisfies pool.AuthFlow.
type Flow struct {
	timeout     time.Duration
	userInfoURL string
	endpoint    *oauth2.Endpoint // non-nil overrides the Google endpoint (tests)
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithExchangeTimeout bounds the code-exchange and userinfo calls.
func WithExchangeTimeout(d time.Duration) FlowOption {
	return func(f *Flow) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithEndpoint overrides the provider endpoint. Test hook.
func WithEndpoint(ep oauth2.Endpoint, userInfoURL string) FlowOption {
	return func(f *Flow) {
		f.endpoint = &ep
		f.userInfoURL = userInfoURL
	}
}

func NewFlow(opts ...FlowOption) *Flow {
	f := &Flow{
		timeout:     30 * time.Second,
		userInfoURL: defaultUserInfoURL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flow) config(redirectURL string) *oauth2.Config {
	cfg := OAuthConfig(redirectURL)
	if f.endpoint != nil {
		cfg.Endpoint = *f.endpoint
	}
	return cfg
}

// AuthURL builds the consent URL. Offline access plus forced approval
// so Google always returns a refresh token.
func (f *Flow) AuthURL(redirectURL, state string) string {
	return f.config(redirectURL).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
	)
}

// Exchange redeems the authorization code and resolves the account
// email from the userinfo endpoint.
func (f *Flow) Exchange(ctx context.Context, redirectURL, code string) (pool.Credential, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cfg := f.config(redirectURL)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return pool.Credential{}, "", fmt.Errorf("token exchange: %w", err)
	}

	email, err := f.fetchEmail(ctx, cfg, token)
	if err != nil {
		return pool.Credential{}, "", err
	}

	return pool.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, email, nil
}

func (f *Flow) fetchEmail(ctx context.Context, cfg *oauth2.Config, token *oauth2.Token) (string, error) {
	client := cfg.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.userInfoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch user info: status %d", resp.StatusCode)
	}

	var userInfo struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return "", fmt.Errorf("decode user info: %w", err)
	}
	if userInfo.Email == "" {
		return "", fmt.Errorf("user info response missing email")
	}
	return userInfo.Email, nil
}
