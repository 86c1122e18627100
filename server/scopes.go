package server

import "fmt"

// Google API scopes per agent. One declarative table instead of per-agent
// hardcoded lists; merged-scope computation stays total and testable.
const (
	ScopeSpreadsheets   = "https://www.googleapis.com/auth/spreadsheets"
	ScopeDocuments      = "https://www.googleapis.com/auth/documents"
	ScopeDrive          = "https://www.googleapis.com/auth/drive"
	ScopePresentations  = "https://www.googleapis.com/auth/presentations"
	ScopeCalendarEvents = "https://www.googleapis.com/auth/calendar.events"
)

// ScopeRegistry maps agent names to the OAuth scopes they require.
// Read-only after construction.
type ScopeRegistry struct {
	agents map[string]ScopeSet
}

// NewScopeRegistry builds the static agent table.
func NewScopeRegistry() *ScopeRegistry {
	return &ScopeRegistry{agents: map[string]ScopeSet{
		"sheets":   NewScopeSet(ScopeSpreadsheets),
		"docs":     NewScopeSet(ScopeDocuments),
		"drive":    NewScopeSet(ScopeDrive),
		"slides":   NewScopeSet(ScopePresentations),
		"calendar": NewScopeSet(ScopeCalendarEvents),
	}}
}

// Agents lists the registered agent names, sorted.
func (sr *ScopeRegistry) Agents() []string {
	names := NewScopeSet()
	for name := range sr.agents {
		names[name] = struct{}{}
	}
	return names.List()
}

// ScopesFor returns the scope set an agent requires.
func (sr *ScopeRegistry) ScopesFor(agent string) (ScopeSet, error) {
	scopes, ok := sr.agents[agent]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, agent)
	}
	return scopes.Clone(), nil
}

// Merged unions the scopes of several agents for a combined consent request.
func (sr *ScopeRegistry) Merged(agents ...string) (ScopeSet, error) {
	merged := NewScopeSet()
	for _, name := range agents {
		scopes, err := sr.ScopesFor(name)
		if err != nil {
			return nil, err
		}
		merged = merged.Union(scopes)
	}
	return merged, nil
}
