package server

import (
	"errors"
	"testing"
)

func TestScopeSetUnionAndSubset(t *testing.T) {
	a := NewScopeSet("a", "b")
	b := NewScopeSet("b", "c")

	merged := a.Union(b)
	if len(merged) != 3 {
		t.Fatalf("expected 3 scopes after union, got %d", len(merged))
	}
	if !merged.HasAll(a) || !merged.HasAll(b) {
		t.Fatalf("union must contain both operands")
	}
	if a.HasAll(merged) {
		t.Fatalf("subset check must fail for a superset")
	}

	// Union must not mutate its operands.
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("union mutated an operand: a=%d b=%d", len(a), len(b))
	}
}

func TestParseScopesRoundTrip(t *testing.T) {
	set := ParseScopes("  openid   email  a.b/c ")
	if len(set) != 3 {
		t.Fatalf("expected 3 parsed scopes, got %d", len(set))
	}
	if got := set.String(); got != "a.b/c email openid" {
		t.Fatalf("unexpected canonical form: %q", got)
	}
}

func TestScopeSetListIsSorted(t *testing.T) {
	set := NewScopeSet("zeta", "alpha", "mid")
	list := set.List()
	if len(list) != 3 || list[0] != "alpha" || list[1] != "mid" || list[2] != "zeta" {
		t.Fatalf("unexpected list order: %v", list)
	}
}

func TestRegistryScopesFor(t *testing.T) {
	reg := NewScopeRegistry()

	scopes, err := reg.ScopesFor("sheets")
	if err != nil {
		t.Fatalf("ScopesFor(sheets): %v", err)
	}
	if !scopes.Contains(ScopeSpreadsheets) {
		t.Fatalf("sheets agent must require the spreadsheets scope, got %s", scopes)
	}

	if _, err := reg.ScopesFor("nonexistent"); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestRegistryMerged(t *testing.T) {
	reg := NewScopeRegistry()

	merged, err := reg.Merged("sheets", "drive")
	if err != nil {
		t.Fatalf("Merged: %v", err)
	}
	if !merged.Contains(ScopeSpreadsheets) || !merged.Contains(ScopeDrive) {
		t.Fatalf("merged set missing agent scopes: %s", merged)
	}

	if _, err := reg.Merged("sheets", "nope"); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent for unknown member, got %v", err)
	}
}

func TestRegistryAgentsSorted(t *testing.T) {
	reg := NewScopeRegistry()
	agents := reg.Agents()
	if len(agents) == 0 {
		t.Fatalf("expected registered agents")
	}
	for i := 1; i < len(agents); i++ {
		if agents[i-1] >= agents[i] {
			t.Fatalf("agents not sorted: %v", agents)
		}
	}
}
