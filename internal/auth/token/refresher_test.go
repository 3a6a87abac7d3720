package token_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pysugar/antigravity-pool/internal/auth/token"
	"github.com/pysugar/antigravity-pool/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTokenServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *oauth2.Config) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := &oauth2.Config{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		Endpoint:     oauth2.Endpoint{TokenURL: server.URL + "/token"},
	}
	return server, cfg
}

func tokenResponse(w http.ResponseWriter, accessToken, refreshToken string) {
	w.Header().Set("Content-Type", "application/json")
	if refreshToken != "" {
		fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3600,"refresh_token":%q}`, accessToken, refreshToken)
		return
	}
	fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3600}`, accessToken)
}

func TestEnsureValid_FastPathSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	_, cfg := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		tokenResponse(w, "unexpected", "")
	})

	r := token.NewRefresher(cfg)
	cred := pool.Credential{
		AccessToken:  "still-good",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	got, err := r.EnsureValid(context.Background(), "a@x", cred)
	require.NoError(t, err)
	assert.Equal(t, "still-good", got.AccessToken)
	assert.Equal(t, int32(0), calls.Load())
}

func TestEnsureValid_RefreshesExpiredToken(t *testing.T) {
	_, cfg := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "rt", r.FormValue("refresh_token"))
		tokenResponse(w, "new-access", "")
	})

	r := token.NewRefresher(cfg)
	cred := pool.Credential{
		AccessToken:  "stale",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}

	got, err := r.EnsureValid(context.Background(), "a@x", cred)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)
	assert.True(t, got.ExpiresAt.After(time.Now()))
}

func TestEnsureValid_TreatsSkewWindowAsStale(t *testing.T) {
	var calls atomic.Int32
	_, cfg := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		tokenResponse(w, "new-access", "")
	})

	r := token.NewRefresher(cfg)
	cred := pool.Credential{
		AccessToken:  "about-to-expire",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(10 * time.Second),
	}

	got, err := r.EnsureValid(context.Background(), "a@x", cred)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnsureValid_RotatesRefreshToken(t *testing.T) {
	_, cfg := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		tokenResponse(w, "new-access", "rt-2")
	})

	r := token.NewRefresher(cfg)
	cred := pool.Credential{
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}

	got, err := r.EnsureValid(context.Background(), "a@x", cred)
	require.NoError(t, err)
	assert.Equal(t, "rt-2", got.RefreshToken)
}

func TestEnsureValid_MissingRefreshToken(t *testing.T) {
	_, cfg := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected")
	})

	r := token.NewRefresher(cfg)
	_, err := r.EnsureValid(context.Background(), "a@x", pool.Credential{AccessToken: "stale"})

	var inv *pool.CredentialInvalidError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "a@x", inv.Email)
}

func TestEnsureValid_InvalidGrantIsPermanent(t *testing.T) {
	_, cfg := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	})

	r := token.NewRefresher(cfg)
	cred := pool.Credential{
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}

	_, err := r.EnsureValid(context.Background(), "a@x", cred)

	var inv *pool.CredentialInvalidError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "a@x", inv.Email)
}

func TestEnsureValid_ServerErrorIsTransient(t *testing.T) {
	_, cfg := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"internal"}`)
	})

	r := token.NewRefresher(cfg)
	cred := pool.Credential{
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}

	_, err := r.EnsureValid(context.Background(), "a@x", cred)
	require.Error(t, err)

	var inv *pool.CredentialInvalidError
	assert.False(t, errors.As(err, &inv), "transient failure must not read as invalid credential")
}

func TestEnsureValid_DeduplicatesConcurrentRefreshes(t *testing.T) {
	var calls atomic.Int32
	_, cfg := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		tokenResponse(w, "shared-access", "")
	})

	r := token.NewRefresher(cfg)
	cred := pool.Credential{
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]pool.Credential, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.EnsureValid(context.Background(), "a@x", cred)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-access", results[i].AccessToken)
	}
}

func TestEnsureValid_SeparateEmailsRefreshIndependently(t *testing.T) {
	var calls atomic.Int32
	_, cfg := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		tokenResponse(w, "access", "")
	})

	r := token.NewRefresher(cfg)
	cred := pool.Credential{
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}

	var wg sync.WaitGroup
	for _, email := range []string{"a@x", "b@x"} {
		wg.Add(1)
		go func(email string) {
			defer wg.Done()
			_, err := r.EnsureValid(context.Background(), email, cred)
			assert.NoError(t, err)
		}(email)
	}
	wg.Wait()

	assert.Equal(t, int32(2), calls.Load())
}
