package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultReturnTarget = "/auth/status"

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Store    CredentialStore
	States   *StateManager
	Sessions *SessionManager
	Flow     *FlowController
	Resolver *Resolver
	Registry *ScopeRegistry
	Dev      *DevProvider
}

// NewApp wires together the application state from configuration.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	key, err := LoadOrCreateSessionKey(cfg.Server.SecretsPath, logger)
	if err != nil {
		return nil, err
	}

	var dev *DevProvider
	if cfg.Server.DevMode && cfg.Google.ClientSecret == "" {
		dev = NewDevProvider(logger)
		base := strings.TrimSuffix(cfg.Server.PublicURL, "/")
		cfg.Google.AuthURL = base + "/dev/oauth2/auth"
		cfg.Google.TokenURL = base + "/dev/oauth2/token"
		cfg.Google.Issuer = ""
		if cfg.Google.ClientID == "" {
			cfg.Google.ClientID = "gsuited-dev"
		}
		logger.Info("using built-in dev OAuth provider", "auth_url", cfg.Google.AuthURL)
	}

	identity, err := NewIdentityVerifier(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store := NewInMemoryCredentialStore(cfg.SessionTTL(), logger)
	states := NewStateManager(cfg.StateTTL(), logger)
	flow := NewFlowController(cfg, states, store, identity, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		States:   states,
		Sessions: NewSessionManager(cfg, key, logger),
		Flow:     flow,
		Resolver: NewResolver(store, flow, logger),
		Registry: NewScopeRegistry(),
		Dev:      dev,
	}, nil
}

// Close stops background goroutines.
func (a *App) Close() {
	a.States.Stop()
	if s, ok := a.Store.(*InMemoryCredentialStore); ok {
		s.Stop()
	}
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Google Workspace agent gateway. Agent services are mounted under their own prefixes.",
		"agents":  a.Registry.Agents(),
	})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// handleLogin begins an authorization flow for the requested agents
// (default: all registered) and redirects the browser to the consent URL.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	agents := splitAndTrim(r.URL.Query().Get("agents"))
	if len(agents) == 0 {
		agents = a.Registry.Agents()
	}

	required, err := a.Registry.Merged(agents...)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "unknown_agent", err.Error())
		return
	}

	sid, err := a.Sessions.Ensure(w, r)
	if err != nil {
		a.Logger.Error("session ensure", "error", err)
		errorJSON(w, http.StatusInternalServerError, "server_error", "failed to establish session")
		return
	}

	redirectURL, err := a.Flow.BeginAuthorization(sid, required, sanitizeReturnTarget(r.URL.Query().Get("return_to")))
	if err != nil {
		a.Logger.Error("begin authorization", "error", err)
		errorJSON(w, http.StatusInternalServerError, "server_error", "failed to start authorization")
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// handleCallback receives the provider redirect and completes the flow.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		a.Logger.Warn("consent denied", "error", errParam)
		errorJSON(w, http.StatusForbidden, "consent_denied", "please sign in again")
		return
	}

	state := q.Get("state")
	code := q.Get("code")
	if state == "" || code == "" {
		errorJSON(w, http.StatusBadRequest, "invalid_request", "missing state or code")
		return
	}

	_, returnTo, err := a.Flow.CompleteAuthorization(r.Context(), state, code)
	switch {
	case errors.Is(err, ErrInvalidState):
		errorJSON(w, http.StatusBadRequest, "invalid_state", "please sign in again")
		return
	case errors.Is(err, ErrProviderUnavailable):
		errorJSON(w, http.StatusBadGateway, "provider_unavailable", "please try again later")
		return
	case err != nil:
		errorJSON(w, http.StatusBadGateway, "exchange_failed", "please sign in again")
		return
	}

	if returnTo == "" {
		returnTo = defaultReturnTarget
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// handleStatus reports whether the session holds credentials and for what.
func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	sid, ok := a.Sessions.Peek(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}

	rec, ok := a.Store.Get(sid)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"email":         rec.Email,
		"scopes":        rec.Scopes.List(),
		"expires_at":    rec.Expiry.Format(time.RFC3339),
	})
}

// handleLogout revokes the session's credentials and clears the cookie.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sid, ok := a.Sessions.Peek(r); ok {
		a.Store.Delete(sid)
	}
	a.Sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// sanitizeReturnTarget only accepts local paths, never absolute URLs, so
// the callback cannot be turned into an open redirect.
func sanitizeReturnTarget(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return ""
	}
	return target
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorJSON(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}
