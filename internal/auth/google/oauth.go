// Package google holds the OAuth2 configuration and add-account flow
// for Google-authenticated Cloud Code access.
package google

import (
	"os"
	"strings"

	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"
)

// Built-in client published with the Antigravity IDE. Used when no
// GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET pair is configured; the
// upstream only accepts tokens minted for this client.
const (
	DefaultClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	DefaultClientSecret = "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"
)

// Scopes covers Cloud Code model access plus userinfo, which the add
// flow needs to resolve the account email.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/cclog",
	"https://www.googleapis.com/auth/experimentsandconfigs",
}

// OAuthConfig builds the oauth2 config shared by the add flow and the
// token refresher. The refresh grant passes an empty redirectURL.
func OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     envOr("GOOGLE_CLIENT_ID", DefaultClientID),
		ClientSecret: envOr("GOOGLE_CLIENT_SECRET", DefaultClientSecret),
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     googleOAuth.Endpoint,
	}
}

// IsUsingDefaultOAuthCredentials reports whether the built-in client is
// in effect for either half of the credential pair. main logs a warning
// when it is.
func IsUsingDefaultOAuthCredentials() bool {
	return strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")) == "" ||
		strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_SECRET")) == ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
