// Package agents exposes the Google Workspace agent endpoints. Each agent
// is a thin wrapper around the vendor SDK; credentials come from the
// resolver, never from request bodies.
package agents

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"gsuited/server"
)

// Mount attaches every agent router under its prefix. Extra client options
// (endpoint overrides in tests) apply to all Google API services.
func Mount(app *server.App, opts ...option.ClientOption) server.RouteMounter {
	return func(r chi.Router) {
		r.Mount("/sheets", NewSheets(app, opts...).Routes())
		r.Mount("/docs", NewDocs(app, opts...).Routes())
		r.Mount("/drive", NewDrive(app, opts...).Routes())
		r.Mount("/slides", NewSlides(app, opts...).Routes())
		r.Mount("/calendar", NewCalendar(app, opts...).Routes())
		r.Mount("/chat", NewChat(app.Config.Chat, app.Logger).Routes())
	}
}

// base carries what every Google-backed agent needs: the app wiring, the
// agent's registry name, and API client options.
type base struct {
	app    *server.App
	name   string
	opts   []option.ClientOption
	logger *slog.Logger
}

func newBase(app *server.App, name string, opts []option.ClientOption) base {
	return base{app: app, name: name, opts: opts, logger: app.Logger.With("agent", name)}
}

// tokenSource resolves a credential covering this agent's scopes. When the
// session needs (re-)authorization it answers the request itself with 401
// and the consent URL, returning ok=false.
func (b *base) tokenSource(w http.ResponseWriter, r *http.Request) (oauth2.TokenSource, bool) {
	scopes, err := b.app.Registry.ScopesFor(b.name)
	if err != nil {
		b.logger.Error("agent not registered", "error", err)
		respondError(w, http.StatusInternalServerError, "server_error", "agent misconfigured")
		return nil, false
	}

	sid, err := b.app.Sessions.Ensure(w, r)
	if err != nil {
		b.logger.Error("session ensure", "error", err)
		respondError(w, http.StatusInternalServerError, "server_error", "failed to establish session")
		return nil, false
	}

	cred, err := b.app.Resolver.Resolve(r.Context(), sid, scopes)
	if err != nil {
		var na *server.NeedsAuthorizationError
		switch {
		case errors.As(err, &na):
			respond(w, http.StatusUnauthorized, map[string]any{
				"error":             "authorization_required",
				"authorization_url": na.URL,
			})
		case errors.Is(err, server.ErrProviderUnavailable):
			respondError(w, http.StatusServiceUnavailable, "provider_unavailable", "please try again later")
		default:
			b.logger.Error("resolve credentials", "error", err)
			respondError(w, http.StatusInternalServerError, "server_error", "failed to resolve credentials")
		}
		return nil, false
	}

	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
		Expiry:      cred.Expiry,
	}), true
}

// clientOptions combines the per-request token source with any configured
// overrides.
func (b *base) clientOptions(ts oauth2.TokenSource) []option.ClientOption {
	out := make([]option.ClientOption, 0, len(b.opts)+1)
	out = append(out, option.WithTokenSource(ts))
	out = append(out, b.opts...)
	return out
}

// decodeJSON parses a request body, answering 400 itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body: "+err.Error())
		return false
	}
	return true
}

// apiError maps a Google API failure onto the response, passing through the
// vendor status code the way the original endpoints did.
func (b *base) apiError(w http.ResponseWriter, endpoint string, err error) {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		b.logger.Error("google api error", "endpoint", endpoint, "status", gerr.Code, "message", gerr.Message)
		status := gerr.Code
		if status < http.StatusBadRequest {
			status = http.StatusInternalServerError
		}
		respond(w, status, map[string]any{
			"success": false,
			"error":   "Google API Error",
			"details": gerr.Message,
		})
		return
	}

	b.logger.Error("agent request failed", "endpoint", endpoint, "error", err)
	respondError(w, http.StatusInternalServerError, "server_error", "an unexpected error occurred")
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, desc string) {
	respond(w, status, map[string]any{"success": false, "error": code, "error_description": desc})
}

func respondOK(w http.ResponseWriter, v map[string]any) {
	if v == nil {
		v = map[string]any{}
	}
	v["success"] = true
	respond(w, http.StatusOK, v)
}
