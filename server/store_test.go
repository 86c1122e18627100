package server

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T, ttl time.Duration) *InMemoryCredentialStore {
	t.Helper()
	store := NewInMemoryCredentialStore(ttl, testLogger())
	t.Cleanup(store.Stop)
	return store
}

func TestStorePutGetSnapshot(t *testing.T) {
	store := newTestStore(t, time.Hour)

	store.Put(&CredentialRecord{
		SessionID:   "s1",
		AccessToken: "at-1",
		Scopes:      NewScopeSet("a"),
		Expiry:      time.Now().Add(time.Hour),
	})

	rec, ok := store.Get("s1")
	if !ok {
		t.Fatalf("expected record for s1")
	}

	// Mutating the snapshot must not leak into the store.
	rec.AccessToken = "tampered"
	rec.Scopes["extra"] = struct{}{}

	again, _ := store.Get("s1")
	if again.AccessToken != "at-1" {
		t.Fatalf("snapshot mutation leaked into store: %q", again.AccessToken)
	}
	if again.Scopes.Contains("extra") {
		t.Fatalf("scope mutation leaked into store")
	}
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t, time.Hour)
	store.Put(&CredentialRecord{SessionID: "s1", AccessToken: "at"})

	store.Delete("s1")
	if _, ok := store.Get("s1"); ok {
		t.Fatalf("record should be gone after delete")
	}
	// Deleting an absent record is a no-op.
	store.Delete("s1")
}

func TestStoreUpdateSkipsAbsentRecord(t *testing.T) {
	store := newTestStore(t, time.Hour)

	if ok := store.Update("gone", func(rec *CredentialRecord) {
		rec.AccessToken = "should-not-happen"
	}); ok {
		t.Fatalf("Update must report false for an absent record")
	}
	if _, ok := store.Get("gone"); ok {
		t.Fatalf("Update must not resurrect a deleted record")
	}
}

func TestStoreUpdateInPlace(t *testing.T) {
	store := newTestStore(t, time.Hour)
	store.Put(&CredentialRecord{SessionID: "s1", AccessToken: "old", RefreshToken: "rt"})

	if ok := store.Update("s1", func(rec *CredentialRecord) {
		rec.AccessToken = "new"
	}); !ok {
		t.Fatalf("Update should succeed for an existing record")
	}

	rec, _ := store.Get("s1")
	if rec.AccessToken != "new" || rec.RefreshToken != "rt" {
		t.Fatalf("unexpected record after update: %+v", rec)
	}
}

func TestStoreEvictsLapsedSessions(t *testing.T) {
	store := newTestStore(t, 10*time.Millisecond)
	store.Put(&CredentialRecord{SessionID: "s1", AccessToken: "at", RefreshToken: "rt"})

	time.Sleep(25 * time.Millisecond)

	if _, ok := store.Get("s1"); ok {
		t.Fatalf("record for a lapsed session must read as absent")
	}
	if ok := store.Update("s1", func(rec *CredentialRecord) {
		rec.AccessToken = "should-not-happen"
	}); ok {
		t.Fatalf("Update must not touch a lapsed record")
	}

	// The sweep reclaims the entry itself.
	store.cleanup()
	store.mu.RLock()
	remaining := len(store.records)
	store.mu.RUnlock()
	if remaining != 0 {
		t.Fatalf("expected the sweep to drop the record, %d left", remaining)
	}
}

func TestStoreWriteExtendsSessionRecord(t *testing.T) {
	store := newTestStore(t, 40*time.Millisecond)
	store.Put(&CredentialRecord{SessionID: "s1", AccessToken: "at"})

	// A refresh write-back inside the TTL keeps the record alive.
	time.Sleep(25 * time.Millisecond)
	if ok := store.Update("s1", func(rec *CredentialRecord) {
		rec.AccessToken = "new"
	}); !ok {
		t.Fatalf("record should still be live before the TTL")
	}

	time.Sleep(25 * time.Millisecond)
	rec, ok := store.Get("s1")
	if !ok {
		t.Fatalf("update must reset the eviction clock")
	}
	if rec.AccessToken != "new" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestCredentialRecordExpired(t *testing.T) {
	skew := 60 * time.Second

	live := CredentialRecord{Expiry: time.Now().Add(time.Hour)}
	if live.Expired(skew) {
		t.Fatalf("token an hour out should not count as expired")
	}

	nearEdge := CredentialRecord{Expiry: time.Now().Add(30 * time.Second)}
	if !nearEdge.Expired(skew) {
		t.Fatalf("token inside the skew window should count as expired")
	}

	// A zero expiry means the provider did not bound the token.
	unbounded := CredentialRecord{}
	if unbounded.Expired(skew) {
		t.Fatalf("zero expiry should never count as expired")
	}
}
