package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// expirySkew is the clock-skew margin applied when deciding whether an
// access token is still usable.
const expirySkew = 60 * time.Second

// Resolver is the per-request entry point used by every agent: given a
// session and a required scope set it returns a usable credential,
// transparently refreshing an expired one, or signals that the user must
// re-authorize.
type Resolver struct {
	store  CredentialStore
	flow   *FlowController
	logger *slog.Logger

	// Per-session refresh serialization. The store lock is never held
	// across the token-endpoint call; this is the single-writer-per-session
	// discipline instead. Entries are reference counted and removed once
	// the last waiter releases, so the map only holds in-flight sessions.
	mu         sync.Mutex
	refreshing map[string]*refreshLock
}

type refreshLock struct {
	mu   sync.Mutex
	refs int
}

// NewResolver constructs the resolver.
func NewResolver(store CredentialStore, flow *FlowController, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:      store,
		flow:       flow,
		logger:     logger,
		refreshing: make(map[string]*refreshLock),
	}
}

// Resolve returns a credential snapshot covering the required scopes, or a
// *NeedsAuthorizationError carrying the consent URL the caller should send
// the user to. ErrProviderUnavailable is returned when a needed refresh
// could not reach the provider; the stored credential is kept in that case.
func (rv *Resolver) Resolve(ctx context.Context, sessionID string, required ScopeSet) (*ResolvedCredential, error) {
	rec, ok := rv.store.Get(sessionID)
	if !ok {
		return nil, rv.needsAuthorization(sessionID, required)
	}

	// Scope upgrades always go through a fresh consent screen, never
	// silent escalation.
	if !rec.Scopes.HasAll(required) {
		return nil, rv.needsAuthorization(sessionID, required)
	}

	if rec.Expired(expirySkew) {
		refreshed, err := rv.refresh(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrProviderUnavailable) {
				return nil, err
			}
			return nil, rv.needsAuthorization(sessionID, required)
		}
		rec = refreshed
	}

	return &ResolvedCredential{
		AccessToken: rec.AccessToken,
		Expiry:      rec.Expiry,
		Scopes:      rec.Scopes,
	}, nil
}

// refresh serializes refreshes per session and writes the result back only
// if the record still exists, so a concurrent logout wins. A provider
// rejection deletes the record: the refresh token is dead and a full
// re-login is required. Transport failures leave the record alone.
func (rv *Resolver) refresh(ctx context.Context, sessionID string) (*CredentialRecord, error) {
	lock := rv.lockSession(sessionID)
	defer rv.unlockSession(sessionID, lock)

	// Another request may have refreshed while we waited for the lock.
	rec, ok := rv.store.Get(sessionID)
	if !ok {
		return nil, ErrRefreshFailed
	}
	if !rec.Expired(expirySkew) {
		return rec, nil
	}

	refreshed, err := rv.flow.Refresh(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			return nil, err
		}
		rv.logger.Warn("refresh rejected; credential revoked", "session", sessionID)
		rv.store.Delete(sessionID)
		return nil, err
	}

	rv.store.Update(sessionID, func(cur *CredentialRecord) {
		cur.AccessToken = refreshed.AccessToken
		cur.Expiry = refreshed.Expiry
		cur.RefreshToken = refreshed.RefreshToken
	})
	return refreshed, nil
}

func (rv *Resolver) needsAuthorization(sessionID string, required ScopeSet) error {
	url, err := rv.flow.BeginAuthorization(sessionID, required, "")
	if err != nil {
		return err
	}
	return &NeedsAuthorizationError{URL: url}
}

func (rv *Resolver) lockSession(sessionID string) *refreshLock {
	rv.mu.Lock()
	lock, ok := rv.refreshing[sessionID]
	if !ok {
		lock = &refreshLock{}
		rv.refreshing[sessionID] = lock
	}
	lock.refs++
	rv.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (rv *Resolver) unlockSession(sessionID string, lock *refreshLock) {
	lock.mu.Unlock()

	rv.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(rv.refreshing, sessionID)
	}
	rv.mu.Unlock()
}
