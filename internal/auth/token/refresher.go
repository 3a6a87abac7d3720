// Package token keeps account access tokens valid, deduplicating
// concurrent refresh exchanges per account.
package token

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pysugar/antigravity-pool/internal/pool"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// Tokens within this window of expiry are treated as stale.
	expirySkew = time.Minute

	defaultRefreshTimeout = 30 * time.Second
)

// Refresher implements pool.Refresher on top of the oauth2 refresh
// grant. At most one refresh exchange is in flight per email at any
// time; concurrent callers wait on the shared result.
type Refresher struct {
	config  *oauth2.Config
	group   singleflight.Group
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithTimeout bounds each refresh exchange against the provider.
func WithTimeout(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) { r.now = now }
}

// NewRefresher builds a Refresher around the given OAuth2 config (the
// refresh grant does not use a redirect URL).
func NewRefresher(config *oauth2.Config, opts ...Option) *Refresher {
	r := &Refresher{
		config:  config,
		timeout: defaultRefreshTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureValid returns a credential usable right now. The cached
// credential is returned untouched while it has more than expirySkew of
// life left; otherwise one refresh exchange runs and every concurrent
// caller for the same email receives its result.
//
// Terminal provider rejections come back as *pool.CredentialInvalidError.
// Timeouts and transport failures are transient: the credential was not
// proven bad, so the account must not be flagged invalid for them.
func (r *Refresher) EnsureValid(ctx context.Context, email string, cred pool.Credential) (pool.Credential, error) {
	if cred.AccessToken != "" && r.now().Before(cred.ExpiresAt.Add(-expirySkew)) {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		return pool.Credential{}, &pool.CredentialInvalidError{Email: email, Reason: "no refresh token"}
	}

	v, err, _ := r.group.Do(email, func() (interface{}, error) {
		return r.refresh(ctx, email, cred)
	})
	if err != nil {
		return pool.Credential{}, err
	}
	return v.(pool.Credential), nil
}

func (r *Refresher) refresh(ctx context.Context, email string, cred pool.Credential) (pool.Credential, error) {
	// The result is shared by every waiter, so the exchange must not
	// die with the first caller's context. Only the timeout is kept.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	source := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	fresh, err := source.Token()
	if err != nil {
		if isPermanentRefreshError(err) {
			log.Printf("❌ Refresh rejected for %s: %v", email, err)
			return pool.Credential{}, &pool.CredentialInvalidError{Email: email, Reason: err.Error()}
		}
		log.Printf("⏳ Transient refresh failure for %s: %v", email, err)
		return pool.Credential{}, fmt.Errorf("refresh token for %s: %w", email, err)
	}

	out := pool.Credential{
		AccessToken:  fresh.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    fresh.Expiry,
	}
	// Persist rotated refresh tokens when the provider issues one (RFC 6749).
	if fresh.RefreshToken != "" && fresh.RefreshToken != cred.RefreshToken {
		log.Printf("🔄 Rotating refresh token for: %s", email)
		out.RefreshToken = fresh.RefreshToken
	}
	log.Printf("✅ Refreshed token for: %s (expires: %s)", email, fresh.Expiry.Format(time.RFC3339))
	return out, nil
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
