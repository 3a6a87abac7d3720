// Package api exposes the management surface consumed by the dashboard.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/antigravity-pool/internal/pool"
)

// Routes builds the management router. The OAuth callback stays outside
// the AdminAuth group: the provider redirect cannot carry credentials.
func Routes(m *pool.Manager, adminPassword string) chi.Router {
	r := chi.NewRouter()
	r.Get("/auth/callback", AuthCallbackHandler(m))

	r.Group(func(r chi.Router) {
		r.Use(AdminAuth(adminPassword))
		r.Get("/accounts", AccountsHandler(m))
		r.Delete("/accounts/{email}", DeleteAccountHandler(m))
		r.Post("/accounts/reset-rate-limits", ResetRateLimitsHandler(m))
		r.Get("/auth/start", AuthStartHandler(m))
	})
	return r
}

// AccountsHandler returns the aggregate pool status as JSON.
func AccountsHandler(m *pool.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.ListAccounts())
	}
}

// DeleteAccountHandler removes one account by email.
func DeleteAccountHandler(m *pool.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		if err := m.DeleteAccount(email); err != nil {
			if errors.Is(err, pool.ErrAccountNotFound) {
				http.Error(w, fmt.Sprintf("account %s not found", email), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"message": fmt.Sprintf("account %s removed", email),
		})
	}
}

// ResetRateLimitsHandler clears every cooldown in the pool.
func ResetRateLimitsHandler(m *pool.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.ResetRateLimits(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"message": "all rate limits cleared",
		})
	}
}

// AuthStartHandler begins the add-account flow and returns the consent URL.
func AuthStartHandler(m *pool.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, state := m.BeginAdd(callbackURL(r))
		writeJSON(w, http.StatusOK, map[string]string{
			"auth_url": authURL,
			"state":    state,
		})
	}
}

// AuthCallbackHandler completes the add-account flow from the provider
// redirect and renders a small result page.
func AuthCallbackHandler(m *pool.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if errParam := r.URL.Query().Get("error"); errParam != "" {
			renderResult(w, http.StatusBadRequest, "Authentication Failed", "Provider error: "+errParam)
			return
		}

		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		if code == "" || state == "" {
			renderResult(w, http.StatusBadRequest, "Authentication Failed", "Missing authorization code or state parameter.")
			return
		}

		view, err := m.CompleteAdd(r.Context(), callbackURL(r), code, state)
		if err != nil {
			log.Printf("⚠️ OAuth callback failed: %v", err)
			if errors.Is(err, pool.ErrStateMismatch) {
				renderResult(w, http.StatusBadRequest, "Authentication Failed", "Invalid or expired state. Please start over.")
				return
			}
			renderResult(w, http.StatusInternalServerError, "Authentication Failed", err.Error())
			return
		}

		project := view.ProjectID
		if project == "" {
			project = "auto-discovered on first use"
		}
		renderResult(w, http.StatusOK, "Authentication Successful",
			fmt.Sprintf("Account <strong>%s</strong> added. Project ID: <code>%s</code>", view.Email, project))
	}
}

// callbackURL reconstructs this deployment's callback endpoint from the
// inbound request, honoring reverse-proxy headers.
func callbackURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/auth/callback", scheme, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func renderResult(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>%s</title>
<style>body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; }</style>
</head>
<body><h1>%s</h1><p>%s</p><p>You can close this window.</p></body>
</html>`, title, title, detail)
}
