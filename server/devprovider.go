package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/go-chi/chi/v5"
)

// DevProvider is an in-process stand-in for the Google OAuth endpoints so
// the full consent round-trip works offline in dev mode. It auto-approves
// every authorization request and mints opaque tokens.
type DevProvider struct {
	mu     sync.Mutex
	codes  map[string]string // code -> granted scope string
	logger *slog.Logger
}

// NewDevProvider constructs the stub provider.
func NewDevProvider(logger *slog.Logger) *DevProvider {
	return &DevProvider{codes: make(map[string]string), logger: logger}
}

// Routes exposes the stub authorization and token endpoints.
func (dp *DevProvider) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/auth", dp.handleAuthorize)
	r.Post("/token", dp.handleToken)
	return r
}

// handleAuthorize skips the consent screen entirely: it issues a code for
// the requested scopes and bounces straight back to the redirect URI.
func (dp *DevProvider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")
	scope := q.Get("scope")

	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code, err := newID()
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	dp.mu.Lock()
	dp.codes[code] = scope
	dp.mu.Unlock()

	values := target.Query()
	values.Set("code", code)
	values.Set("state", state)
	target.RawQuery = values.Encode()

	dp.logger.Debug("dev provider auto-approved", "scope", scope)
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// handleToken serves both the code exchange and refresh grants.
func (dp *DevProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	var scope string
	switch r.FormValue("grant_type") {
	case "authorization_code":
		code := r.FormValue("code")
		dp.mu.Lock()
		granted, ok := dp.codes[code]
		delete(dp.codes, code)
		dp.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		scope = granted
	case "refresh_token":
		if r.FormValue("refresh_token") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	access, err := newID()
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	refresh, err := newID()
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  "dev-" + access,
		"refresh_token": "dev-" + refresh,
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         scope,
	})
}
