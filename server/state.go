package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const stateCleanupInterval = time.Minute

// StateManager issues and consumes the anti-forgery state tokens that bind
// an outbound consent redirect to its callback. Consumption is an atomic
// check-and-mark: exactly one caller wins, even under concurrent access.
type StateManager struct {
	mu     sync.Mutex
	states map[string]*AuthState
	ttl    time.Duration
	stop   chan struct{}
	logger *slog.Logger
}

// NewStateManager constructs the manager and starts background eviction of
// expired and consumed entries.
func NewStateManager(ttl time.Duration, logger *slog.Logger) *StateManager {
	sm := &StateManager{
		states: make(map[string]*AuthState),
		ttl:    ttl,
		stop:   make(chan struct{}),
		logger: logger,
	}
	go sm.cleanupLoop()
	return sm
}

// Issue creates a new single-use state for an authorization attempt.
func (sm *StateManager) Issue(sessionID string, scopes ScopeSet, returnTo string) (*AuthState, error) {
	id, err := newID()
	if err != nil {
		return nil, fmt.Errorf("generate state id: %w", err)
	}

	st := &AuthState{
		ID:        id,
		SessionID: sessionID,
		Scopes:    scopes.Clone(),
		ReturnTo:  returnTo,
		CreatedAt: time.Now(),
	}

	sm.mu.Lock()
	sm.states[id] = st
	sm.mu.Unlock()

	sm.logger.Debug("issued auth state", "session", sessionID, "scopes", scopes.String())
	return st, nil
}

// Consume validates a callback state parameter and marks it used. Consumed
// entries are retained until eviction so replays are distinguishable from
// unknown identifiers.
func (sm *StateManager) Consume(id string) (*AuthState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	st, ok := sm.states[id]
	if !ok {
		return nil, ErrUnknownState
	}
	if st.Consumed {
		return nil, ErrReplayedState
	}
	if time.Since(st.CreatedAt) > sm.ttl {
		delete(sm.states, id)
		return nil, ErrExpiredState
	}

	st.Consumed = true
	out := *st
	out.Scopes = st.Scopes.Clone()
	return &out, nil
}

// Stop halts the background eviction goroutine.
func (sm *StateManager) Stop() {
	close(sm.stop)
}

func (sm *StateManager) cleanupLoop() {
	ticker := time.NewTicker(stateCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sm.cleanup()
		case <-sm.stop:
			return
		}
	}
}

func (sm *StateManager) cleanup() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	count := 0
	for id, st := range sm.states {
		if time.Since(st.CreatedAt) > sm.ttl {
			delete(sm.states, id)
			count++
		}
	}
	if count > 0 {
		sm.logger.Debug("evicted auth states", "count", count)
	}
}

// newID generates a 128-bit random identifier, hex encoded.
func newID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
