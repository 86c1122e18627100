package server

import "errors"

// Credential-core error taxonomy. State-token errors are collapsed to
// ErrInvalidState at the flow boundary; callers only learn the flow must
// restart, never why.
var (
	ErrUnknownAgent        = errors.New("unknown agent")
	ErrUnknownState        = errors.New("unknown state")
	ErrExpiredState        = errors.New("state expired")
	ErrReplayedState       = errors.New("state already consumed")
	ErrInvalidState        = errors.New("invalid state")
	ErrExchangeFailed      = errors.New("code exchange failed")
	ErrRefreshFailed       = errors.New("token refresh failed")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// NeedsAuthorizationError signals that the caller must send the user through
// a fresh consent flow. URL is the provider consent URL for the merged scope
// set of the failed request.
type NeedsAuthorizationError struct {
	URL string
}

func (e *NeedsAuthorizationError) Error() string {
	return "authorization required"
}
