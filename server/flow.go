package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Scopes every consent request carries so the exchange yields an id_token
// identifying the account. Agent scopes come from the registry on top.
var identityScopes = NewScopeSet("openid", "email")

// FlowController orchestrates the three-legged OAuth2 dance: it builds the
// consent redirect, receives the callback, exchanges the code, and writes
// the result into the credential store. Splitting begin from complete keeps
// the state machine testable without an HTTP layer.
type FlowController struct {
	oauth    *oauth2.Config
	states   *StateManager
	store    CredentialStore
	identity IdentityVerifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewFlowController wires the controller from configuration.
func NewFlowController(cfg Config, states *StateManager, store CredentialStore, identity IdentityVerifier, logger *slog.Logger) *FlowController {
	return &FlowController{
		oauth: &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.CallbackURL(),
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Google.AuthURL,
				TokenURL: cfg.Google.TokenURL,
			},
		},
		states:   states,
		store:    store,
		identity: identity,
		timeout:  cfg.ProviderTimeout(),
		logger:   logger,
	}
}

// BeginAuthorization starts an authorization attempt and returns the
// provider consent URL for the caller to redirect to. The requested scope
// set is merged with identity scopes and with anything the session already
// holds, so re-authorization only ever broadens access.
func (fc *FlowController) BeginAuthorization(sessionID string, required ScopeSet, returnTo string) (string, error) {
	merged := required.Union(identityScopes)
	if prior, ok := fc.store.Get(sessionID); ok {
		merged = merged.Union(prior.Scopes)
	}

	st, err := fc.states.Issue(sessionID, merged, returnTo)
	if err != nil {
		return "", err
	}

	cfg := *fc.oauth
	cfg.Scopes = merged.List()
	return cfg.AuthCodeURL(st.ID, oauth2.AccessTypeOffline), nil
}

// CompleteAuthorization handles the provider callback: it consumes the
// state token (the CSRF/replay defense), exchanges the authorization code,
// and persists the resulting credential record. It returns the record and
// the post-login redirect target recorded when the flow began.
//
// Codes are single-use per OAuth2 semantics; a failed exchange is terminal
// for this attempt and the caller must restart the flow.
func (fc *FlowController) CompleteAuthorization(ctx context.Context, stateParam, code string) (*CredentialRecord, string, error) {
	st, err := fc.states.Consume(stateParam)
	if err != nil {
		fc.logger.Warn("state rejected", "error", err)
		return nil, "", ErrInvalidState
	}

	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	tok, err := fc.oauth.Exchange(ctx, code)
	if err != nil {
		fc.logger.Error("code exchange failed", "error", err)
		return nil, "", classifyProviderError(err, ErrExchangeFailed)
	}

	granted := st.Scopes
	if raw, ok := tok.Extra("scope").(string); ok && raw != "" {
		granted = ParseScopes(raw)
	}

	rec := &CredentialRecord{
		SessionID:    st.SessionID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scopes:       granted,
	}

	// Re-consent may omit the refresh token and reports only the newly
	// granted scopes; fold in what the session already had so access never
	// silently narrows.
	if prior, ok := fc.store.Get(st.SessionID); ok {
		if rec.RefreshToken == "" {
			rec.RefreshToken = prior.RefreshToken
		}
		rec.Scopes = rec.Scopes.Union(prior.Scopes)
	}

	if fc.identity != nil {
		rawIDToken, _ := tok.Extra("id_token").(string)
		if rawIDToken == "" {
			fc.logger.Error("id_token missing in token response")
			return nil, "", ErrExchangeFailed
		}
		ident, err := fc.identity.Verify(ctx, rawIDToken)
		if err != nil {
			fc.logger.Error("id_token verification failed", "error", err)
			return nil, "", ErrExchangeFailed
		}
		rec.Subject = ident.Subject
		rec.Email = ident.Email
	}

	fc.store.Put(rec)
	fc.logger.Info("authorization complete", "session", st.SessionID, "scopes", rec.Scopes.String())
	return rec.Clone(), st.ReturnTo, nil
}

// Refresh obtains a fresh access token using the record's refresh token.
// It does not touch the store; the caller writes the result back under the
// session's write discipline. The returned record preserves the refresh
// token unless the provider rotated it, and never narrows scopes.
func (fc *FlowController) Refresh(ctx context.Context, rec *CredentialRecord) (*CredentialRecord, error) {
	if rec.RefreshToken == "" {
		return nil, ErrRefreshFailed
	}

	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	tok, err := fc.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.RefreshToken}).Token()
	if err != nil {
		fc.logger.Warn("token refresh failed", "session", rec.SessionID, "error", err)
		return nil, classifyProviderError(err, ErrRefreshFailed)
	}

	out := rec.Clone()
	out.AccessToken = tok.AccessToken
	out.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		out.RefreshToken = tok.RefreshToken
	}
	return out, nil
}

// classifyProviderError separates explicit provider rejections (terminal
// for the attempt) from transport trouble, which must not destroy state
// that may still be valid.
func classifyProviderError(err error, terminal error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: provider returned %d", ErrProviderUnavailable, re.Response.StatusCode)
		}
		return terminal
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
