package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

func newTestFlow(t *testing.T, tokenHandler http.HandlerFunc) (*FlowController, *StateManager, CredentialStore) {
	t.Helper()

	mux := http.NewServeMux()
	if tokenHandler != nil {
		mux.HandleFunc("/token", tokenHandler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Google.ClientID = "client"
	cfg.Google.ClientSecret = "secret"
	cfg.Google.AuthURL = srv.URL + "/auth"
	cfg.Google.TokenURL = srv.URL + "/token"
	cfg.Google.Issuer = ""
	cfg.Google.TimeoutSeconds = 5

	states := NewStateManager(cfg.StateTTL(), testLogger())
	t.Cleanup(states.Stop)
	store := NewInMemoryCredentialStore(cfg.SessionTTL(), testLogger())
	t.Cleanup(store.Stop)
	fc := NewFlowController(cfg, states, store, nil, testLogger())
	return fc, states, store
}

func serveToken(resp tokenResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestBeginAuthorizationURL(t *testing.T) {
	fc, states, _ := newTestFlow(t, nil)

	rawURL, err := fc.BeginAuthorization("s1", NewScopeSet(ScopeSpreadsheets), "/after")
	if err != nil {
		t.Fatalf("BeginAuthorization: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse consent URL: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != "client" {
		t.Fatalf("unexpected client_id: %q", q.Get("client_id"))
	}
	if q.Get("response_type") != "code" {
		t.Fatalf("unexpected response_type: %q", q.Get("response_type"))
	}
	if q.Get("access_type") != "offline" {
		t.Fatalf("consent URL must request offline access, got %q", q.Get("access_type"))
	}

	scope := q.Get("scope")
	for _, want := range []string{ScopeSpreadsheets, "openid", "email"} {
		if !strings.Contains(scope, want) {
			t.Fatalf("scope param missing %q: %q", want, scope)
		}
	}

	st, err := states.Consume(q.Get("state"))
	if err != nil {
		t.Fatalf("state from URL should be consumable: %v", err)
	}
	if st.SessionID != "s1" || st.ReturnTo != "/after" {
		t.Fatalf("unexpected state payload: %+v", st)
	}
}

func TestBeginAuthorizationMergesPriorGrants(t *testing.T) {
	fc, _, store := newTestFlow(t, nil)

	store.Put(&CredentialRecord{
		SessionID: "s1",
		Scopes:    NewScopeSet(ScopeDocuments),
		Expiry:    time.Now().Add(time.Hour),
	})

	rawURL, err := fc.BeginAuthorization("s1", NewScopeSet(ScopeSpreadsheets), "")
	if err != nil {
		t.Fatalf("BeginAuthorization: %v", err)
	}

	u, _ := url.Parse(rawURL)
	scope := u.Query().Get("scope")
	if !strings.Contains(scope, ScopeDocuments) {
		t.Fatalf("re-authorization must carry prior grants, scope=%q", scope)
	}
	if !strings.Contains(scope, ScopeSpreadsheets) {
		t.Fatalf("re-authorization must carry new scopes, scope=%q", scope)
	}
}

func TestCompleteAuthorizationStoresCredential(t *testing.T) {
	fc, states, store := newTestFlow(t, serveToken(tokenResponse{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		Scope:        ScopeSpreadsheets + " openid email",
	}))

	st, err := states.Issue("s1", NewScopeSet(ScopeSpreadsheets), "/back")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rec, returnTo, err := fc.CompleteAuthorization(context.Background(), st.ID, "code-1")
	if err != nil {
		t.Fatalf("CompleteAuthorization: %v", err)
	}
	if returnTo != "/back" {
		t.Fatalf("unexpected return target: %q", returnTo)
	}
	if rec.AccessToken != "at-1" || rec.RefreshToken != "rt-1" {
		t.Fatalf("unexpected tokens: %+v", rec)
	}
	if !rec.Scopes.Contains(ScopeSpreadsheets) {
		t.Fatalf("granted scopes not recorded: %s", rec.Scopes)
	}

	stored, ok := store.Get("s1")
	if !ok {
		t.Fatalf("credential not persisted")
	}
	if stored.AccessToken != "at-1" {
		t.Fatalf("unexpected stored token: %q", stored.AccessToken)
	}
}

func TestCompleteAuthorizationStateErrorsCollapse(t *testing.T) {
	fc, states, _ := newTestFlow(t, nil)

	// Unknown state.
	if _, _, err := fc.CompleteAuthorization(context.Background(), "bogus", "code"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("unknown state should surface as ErrInvalidState, got %v", err)
	}

	// Replayed state collapses the same way; callers cannot distinguish.
	st, _ := states.Issue("s1", NewScopeSet("a"), "")
	if _, err := states.Consume(st.ID); err != nil {
		t.Fatalf("setup consume: %v", err)
	}
	if _, _, err := fc.CompleteAuthorization(context.Background(), st.ID, "code"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("replayed state should surface as ErrInvalidState, got %v", err)
	}
}

func TestCompleteAuthorizationExchangeRejected(t *testing.T) {
	fc, states, store := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	st, _ := states.Issue("s1", NewScopeSet("a"), "")
	_, _, err := fc.CompleteAuthorization(context.Background(), st.ID, "bad-code")
	if !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected ErrExchangeFailed, got %v", err)
	}
	if _, ok := store.Get("s1"); ok {
		t.Fatalf("failed exchange must not persist a credential")
	}
}

func TestCompleteAuthorizationProviderDown(t *testing.T) {
	fc, states, _ := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	st, _ := states.Issue("s1", NewScopeSet("a"), "")
	_, _, err := fc.CompleteAuthorization(context.Background(), st.ID, "code")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable for a 5xx, got %v", err)
	}
}

func TestCompleteAuthorizationReconsentPreservesRefreshToken(t *testing.T) {
	fc, states, store := newTestFlow(t, serveToken(tokenResponse{
		AccessToken: "at-2",
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		Scope:       ScopeDrive,
	}))

	store.Put(&CredentialRecord{
		SessionID:    "s1",
		AccessToken:  "at-1",
		RefreshToken: "rt-original",
		Scopes:       NewScopeSet(ScopeSpreadsheets),
		Expiry:       time.Now().Add(time.Hour),
	})

	st, _ := states.Issue("s1", NewScopeSet(ScopeDrive), "")
	rec, _, err := fc.CompleteAuthorization(context.Background(), st.ID, "code")
	if err != nil {
		t.Fatalf("CompleteAuthorization: %v", err)
	}

	if rec.RefreshToken != "rt-original" {
		t.Fatalf("refresh token must survive a re-consent without one, got %q", rec.RefreshToken)
	}
	if !rec.Scopes.Contains(ScopeSpreadsheets) || !rec.Scopes.Contains(ScopeDrive) {
		t.Fatalf("scopes must only grow across consents: %s", rec.Scopes)
	}
}

func TestRefreshPreservesRefreshTokenAndScopes(t *testing.T) {
	fc, _, _ := newTestFlow(t, serveToken(tokenResponse{
		AccessToken: "at-fresh",
		TokenType:   "Bearer",
		ExpiresIn:   3600,
	}))

	rec := &CredentialRecord{
		SessionID:    "s1",
		AccessToken:  "at-stale",
		RefreshToken: "rt-1",
		Scopes:       NewScopeSet(ScopeSpreadsheets, ScopeDrive),
		Expiry:       time.Now().Add(-time.Minute),
	}

	out, err := fc.Refresh(context.Background(), rec)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if out.AccessToken != "at-fresh" {
		t.Fatalf("unexpected access token: %q", out.AccessToken)
	}
	if out.RefreshToken != "rt-1" {
		t.Fatalf("refresh token must be preserved when not rotated, got %q", out.RefreshToken)
	}
	if !out.Scopes.HasAll(rec.Scopes) {
		t.Fatalf("refresh must not narrow scopes: %s", out.Scopes)
	}
	if !out.Expiry.After(time.Now()) {
		t.Fatalf("expected a future expiry, got %v", out.Expiry)
	}
}

func TestRefreshAdoptsRotatedToken(t *testing.T) {
	fc, _, _ := newTestFlow(t, serveToken(tokenResponse{
		AccessToken:  "at-fresh",
		RefreshToken: "rt-rotated",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
	}))

	rec := &CredentialRecord{SessionID: "s1", RefreshToken: "rt-1", Expiry: time.Now().Add(-time.Minute)}
	out, err := fc.Refresh(context.Background(), rec)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if out.RefreshToken != "rt-rotated" {
		t.Fatalf("rotated refresh token must be adopted, got %q", out.RefreshToken)
	}
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	fc, _, _ := newTestFlow(t, nil)

	_, err := fc.Refresh(context.Background(), &CredentialRecord{SessionID: "s1"})
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
}

func TestRefreshProviderErrors(t *testing.T) {
	t.Run("rejection", func(t *testing.T) {
		fc, _, _ := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		})
		_, err := fc.Refresh(context.Background(), &CredentialRecord{SessionID: "s1", RefreshToken: "revoked"})
		if !errors.Is(err, ErrRefreshFailed) {
			t.Fatalf("expected ErrRefreshFailed, got %v", err)
		}
	})

	t.Run("outage", func(t *testing.T) {
		fc, _, _ := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := fc.Refresh(context.Background(), &CredentialRecord{SessionID: "s1", RefreshToken: "rt"})
		if !errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("expected ErrProviderUnavailable, got %v", err)
		}
	})
}
