package server

import (
	"sort"
	"strings"
	"time"
)

// ScopeSet is an unordered, deduplicated set of OAuth scope strings.
// Scope sets are compared by subset relation, never by order.
type ScopeSet map[string]struct{}

// NewScopeSet builds a set from the given scopes, dropping empty strings.
func NewScopeSet(scopes ...string) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// ParseScopes splits a space-joined scope string into a set.
func ParseScopes(raw string) ScopeSet {
	return NewScopeSet(strings.Fields(raw)...)
}

// Union returns a new set containing every scope from both sets.
func (s ScopeSet) Union(other ScopeSet) ScopeSet {
	out := make(ScopeSet, len(s)+len(other))
	for sc := range s {
		out[sc] = struct{}{}
	}
	for sc := range other {
		out[sc] = struct{}{}
	}
	return out
}

// HasAll reports whether required is a subset of s.
func (s ScopeSet) HasAll(required ScopeSet) bool {
	for sc := range required {
		if _, ok := s[sc]; !ok {
			return false
		}
	}
	return true
}

// Contains reports whether a single scope is present.
func (s ScopeSet) Contains(scope string) bool {
	_, ok := s[scope]
	return ok
}

// List returns the scopes sorted, for stable URLs and logs.
func (s ScopeSet) List() []string {
	out := make([]string, 0, len(s))
	for sc := range s {
		out = append(out, sc)
	}
	sort.Strings(out)
	return out
}

// String joins the sorted scopes with spaces, the OAuth wire form.
func (s ScopeSet) String() string {
	return strings.Join(s.List(), " ")
}

// Clone returns an independent copy of the set.
func (s ScopeSet) Clone() ScopeSet {
	out := make(ScopeSet, len(s))
	for sc := range s {
		out[sc] = struct{}{}
	}
	return out
}

// AuthState correlates an outbound consent redirect with its inbound
// callback. Single-use: the callback accepts a given ID at most once.
type AuthState struct {
	ID        string
	SessionID string
	Scopes    ScopeSet
	ReturnTo  string
	CreatedAt time.Time
	Consumed  bool
}

// CredentialRecord is the per-session token bundle. The granted scope set
// only ever grows across re-authorizations; it never shrinks implicitly.
type CredentialRecord struct {
	SessionID    string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       ScopeSet

	// Identity of the Google account, populated when id_token verification
	// is configured.
	Subject string
	Email   string
}

// Expired reports whether the access token is past (or within skew of) its
// expiry. A zero expiry means the provider gave no lifetime; treat as live.
func (r *CredentialRecord) Expired(skew time.Duration) bool {
	if r.Expiry.IsZero() {
		return false
	}
	return !time.Now().Add(skew).Before(r.Expiry)
}

// Clone returns an independent copy so callers never share map state with
// the store.
func (r *CredentialRecord) Clone() *CredentialRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Scopes = r.Scopes.Clone()
	return &out
}

// ResolvedCredential is the short-lived snapshot handed to agent handlers.
// It must not be cached beyond the current request; the underlying record
// may be refreshed again on the next call.
type ResolvedCredential struct {
	AccessToken string
	Expiry      time.Time
	Scopes      ScopeSet
}
