package server

import (
	"log/slog"
	"sync"
	"time"
)

const storeCleanupInterval = time.Minute

// CredentialStore is keyed storage for per-session credential records. It
// performs no network calls. Implementations must be safe for concurrent
// sessions and give Update read-modify-write atomicity per session, so a
// refresh write-back never clobbers a concurrent put or delete blindly.
//
// The in-memory implementation serves a single instance; a deployment that
// needs multiple instances can inject an implementation backed by an
// external keyed store.
type CredentialStore interface {
	Get(sessionID string) (*CredentialRecord, bool)
	Put(rec *CredentialRecord)
	Delete(sessionID string)
	Update(sessionID string, fn func(*CredentialRecord)) bool
}

// InMemoryCredentialStore keeps credential records in a process-local map.
// A record not written to for longer than the session TTL belongs to a
// session whose cookie has lapsed, so it is unreachable; such records read
// as absent and a background sweep reclaims them.
type InMemoryCredentialStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	records map[string]*storedCredential
	stop    chan struct{}
	logger  *slog.Logger
}

type storedCredential struct {
	rec     *CredentialRecord
	written time.Time
}

// NewInMemoryCredentialStore constructs an empty store and starts background
// eviction of records for lapsed sessions. A zero sessionTTL disables
// eviction.
func NewInMemoryCredentialStore(sessionTTL time.Duration, logger *slog.Logger) *InMemoryCredentialStore {
	s := &InMemoryCredentialStore{
		ttl:     sessionTTL,
		records: make(map[string]*storedCredential),
		stop:    make(chan struct{}),
		logger:  logger,
	}
	go s.cleanupLoop()
	return s
}

// Get returns a snapshot of the record for the session, if any. Mutating
// the returned record does not affect the store.
func (s *InMemoryCredentialStore) Get(sessionID string) (*CredentialRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.records[sessionID]
	if !ok || s.stale(entry) {
		return nil, false
	}
	return entry.rec.Clone(), true
}

// Put upserts the record for its session, overwriting any prior record.
func (s *InMemoryCredentialStore) Put(rec *CredentialRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.SessionID] = &storedCredential{rec: rec.Clone(), written: time.Now()}
}

// Delete removes the record for logout/revocation.
func (s *InMemoryCredentialStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionID)
}

// Update applies fn to the stored record under the store lock. Returns
// false without calling fn when no live record exists, so a write-back
// after a concurrent logout does not resurrect credentials.
func (s *InMemoryCredentialStore) Update(sessionID string, fn func(*CredentialRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[sessionID]
	if !ok || s.stale(entry) {
		return false
	}
	fn(entry.rec)
	entry.written = time.Now()
	return true
}

// Stop halts the background eviction goroutine.
func (s *InMemoryCredentialStore) Stop() {
	close(s.stop)
}

func (s *InMemoryCredentialStore) stale(entry *storedCredential) bool {
	return s.ttl > 0 && time.Since(entry.written) > s.ttl
}

func (s *InMemoryCredentialStore) cleanupLoop() {
	ticker := time.NewTicker(storeCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stop:
			return
		}
	}
}

func (s *InMemoryCredentialStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, entry := range s.records {
		if s.stale(entry) {
			delete(s.records, id)
			count++
		}
	}
	if count > 0 {
		s.logger.Debug("evicted credential records", "count", count)
	}
}
