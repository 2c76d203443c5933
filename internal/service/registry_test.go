package service

import (
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"pairsync/internal/model"
)

var codePattern = regexp.MustCompile(`^[ABCDEFGHJKLMNPQRSTUVWXYZ23456789]{6}$`)

func testParticipant(connID, identityID string) model.Participant {
	return model.Participant{
		ConnectionID: connID,
		IdentityID:   identityID,
		PublicKey:    "pk-" + identityID,
		JoinedAt:     time.Now().UTC(),
	}
}

func TestGenerateCodeFormat(t *testing.T) {
	r := NewSessionRegistry()

	for i := 0; i < 50; i++ {
		code, err := r.GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if !codePattern.MatchString(code) {
			t.Fatalf("code %q does not match %s", code, codePattern)
		}
	}
}

func TestGenerateCodeConcurrentUnique(t *testing.T) {
	r := NewSessionRegistry()

	const n = 200
	codes := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := r.GenerateCode()
			if err != nil {
				t.Errorf("GenerateCode: %v", err)
				return
			}
			codes <- code
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool)
	for code := range codes {
		if seen[code] {
			t.Fatalf("code %q returned to two callers", code)
		}
		seen[code] = true
	}
}

func TestCreateInsertsSession(t *testing.T) {
	r := NewSessionRegistry()

	snap, err := r.Create(model.ModeDatabase)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !codePattern.MatchString(snap.Code) {
		t.Fatalf("code %q does not match %s", snap.Code, codePattern)
	}
	if snap.Mode != model.ModeDatabase {
		t.Fatalf("mode = %q, want %q", snap.Mode, model.ModeDatabase)
	}
	if snap.CurrentEpoch != 0 {
		t.Fatalf("epoch = %d, want 0", snap.CurrentEpoch)
	}

	got, ok := r.Get(snap.Code)
	if !ok {
		t.Fatal("created session not found")
	}
	if len(got.Participants) != 0 {
		t.Fatalf("new session has %d participants", len(got.Participants))
	}
}

func TestGetOrCreateIgnoresModeWhenPresent(t *testing.T) {
	r := NewSessionRegistry()

	first := r.GetOrCreate("ab23cd", model.ModeP2P)
	if first.Code != "AB23CD" {
		t.Fatalf("code not canonicalized: %q", first.Code)
	}

	second := r.GetOrCreate("AB23CD", model.ModeDatabase)
	if second.Mode != model.ModeP2P {
		t.Fatalf("mode changed to %q on re-create", second.Mode)
	}
	if r.SessionCount() != 1 {
		t.Fatalf("session count = %d, want 1", r.SessionCount())
	}
}

func TestGetOrCreateRefreshesActivity(t *testing.T) {
	r := NewSessionRegistry()
	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.GetOrCreate("AB23CD", model.ModeP2P)

	later := base.Add(10 * time.Minute)
	r.now = func() time.Time { return later }
	snap := r.GetOrCreate("AB23CD", model.ModeP2P)

	if !snap.LastActivityAt.Equal(later) {
		t.Fatalf("lastActivityAt = %v, want %v", snap.LastActivityAt, later)
	}
	if !snap.CreatedAt.Equal(base) {
		t.Fatalf("createdAt = %v, want %v", snap.CreatedAt, base)
	}
}

func TestGetMissIsNotAnError(t *testing.T) {
	r := NewSessionRegistry()
	if _, ok := r.Get("ZZZZZZ"); ok {
		t.Fatal("expected miss")
	}
	if _, ok := r.GetByConnection("conn-x"); ok {
		t.Fatal("expected miss")
	}
}

func TestJoinRejectsTakenIdentity(t *testing.T) {
	r := NewSessionRegistry()

	if _, err := r.Join("AB23CD", model.ModeP2P, testParticipant("c1", "alice")); err != nil {
		t.Fatalf("first join: %v", err)
	}
	_, err := r.Join("AB23CD", model.ModeP2P, testParticipant("c2", "alice"))
	if err != ErrIdentityTaken {
		t.Fatalf("err = %v, want ErrIdentityTaken", err)
	}

	snap, _ := r.Get("AB23CD")
	if len(snap.Participants) != 1 {
		t.Fatalf("participant count = %d after rejected join, want 1", len(snap.Participants))
	}
}

func TestJoinSameConnectionReplacesEntry(t *testing.T) {
	r := NewSessionRegistry()

	r.Join("AB23CD", model.ModeP2P, testParticipant("c1", "alice"))

	rejoined := testParticipant("c1", "alice")
	rejoined.PublicKey = "pk-rotated"
	snap, err := r.Join("AB23CD", model.ModeP2P, rejoined)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(snap.Participants) != 1 {
		t.Fatalf("participant count = %d after rejoin, want 1", len(snap.Participants))
	}
	p, _ := snap.ParticipantByConnection("c1")
	if p.PublicKey != "pk-rotated" {
		t.Fatalf("publicKey = %q, want replacement", p.PublicKey)
	}
}

func TestJoinNewSessionDropsOldMembership(t *testing.T) {
	r := NewSessionRegistry()

	r.Join("AB23CD", model.ModeP2P, testParticipant("c1", "alice"))
	r.Join("EF45GH", model.ModeP2P, testParticipant("c1", "alice"))

	// c1 was the old session's only participant, so it is gone.
	if _, ok := r.Get("AB23CD"); ok {
		t.Fatal("old session survived its only participant switching away")
	}
	snap, ok := r.GetByConnection("c1")
	if !ok || snap.Code != "EF45GH" {
		t.Fatalf("reverse index maps c1 to %q, want EF45GH", snap.Code)
	}
}

func TestConcurrentJoinSameIdentity(t *testing.T) {
	r := NewSessionRegistry()

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Join("AB23CD", model.ModeP2P, testParticipant(fmt.Sprintf("c%d", i), "alice"))
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("%d joins accepted for one identity, want 1", accepted)
	}
}

func TestRemoveParticipantDeletesEmptySession(t *testing.T) {
	r := NewSessionRegistry()

	r.Join("AB23CD", model.ModeP2P, testParticipant("c1", "alice"))
	r.Join("AB23CD", model.ModeP2P, testParticipant("c2", "bob"))

	p, ok := r.RemoveParticipant("AB23CD", "c2")
	if !ok || p.IdentityID != "bob" {
		t.Fatalf("removed %+v ok=%v, want bob", p, ok)
	}
	if _, ok := r.Get("AB23CD"); !ok {
		t.Fatal("session deleted while a participant remains")
	}
	if _, ok := r.GetByConnection("c2"); ok {
		t.Fatal("reverse index still maps removed connection")
	}

	r.RemoveParticipant("AB23CD", "c1")
	if _, ok := r.Get("AB23CD"); ok {
		t.Fatal("empty session persisted")
	}
	if _, ok := r.GetByConnection("c1"); ok {
		t.Fatal("reverse index survived session deletion")
	}

	// Removing again is a benign no-op.
	if _, ok := r.RemoveParticipant("AB23CD", "c1"); ok {
		t.Fatal("second remove reported success")
	}
}

func TestConcurrentJoinLeaveConverges(t *testing.T) {
	r := NewSessionRegistry()

	const n = 80
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("c%d", i)
			if _, err := r.Join("AB23CD", model.ModeP2P, testParticipant(connID, connID)); err != nil {
				return
			}
			r.RemoveParticipant("AB23CD", connID)
		}(i)
	}
	wg.Wait()

	if got := r.SessionCount(); got != 0 {
		t.Fatalf("session count = %d after all participants left, want 0", got)
	}
	for i := 0; i < n; i++ {
		if _, ok := r.GetByConnection(fmt.Sprintf("c%d", i)); ok {
			t.Fatalf("reverse index entry for c%d survived", i)
		}
	}
}

func TestSubmitStateEpochRule(t *testing.T) {
	r := NewSessionRegistry()
	r.Join("AB23CD", model.ModeDatabase, testParticipant("c1", "alice"))

	if _, err := r.SubmitState("AB23CD", "s1", 1); err != nil {
		t.Fatalf("epoch 1 on fresh session: %v", err)
	}

	// Equal epoch is a conflict too.
	if _, err := r.SubmitState("AB23CD", "s2", 1); err != ErrEpochConflict {
		t.Fatalf("equal epoch: err = %v, want ErrEpochConflict", err)
	}
	if _, err := r.SubmitState("AB23CD", "s2", 0); err != ErrEpochConflict {
		t.Fatalf("stale epoch: err = %v, want ErrEpochConflict", err)
	}

	snap, _ := r.Get("AB23CD")
	if snap.EncryptedState != "s1" || snap.CurrentEpoch != 1 {
		t.Fatalf("state changed by rejected submission: %q epoch %d", snap.EncryptedState, snap.CurrentEpoch)
	}

	updated, err := r.SubmitState("AB23CD", "s2", 2)
	if err != nil {
		t.Fatalf("epoch 2: %v", err)
	}
	if updated.EncryptedState != "s2" || updated.CurrentEpoch != 2 {
		t.Fatalf("accepted submission not applied: %q epoch %d", updated.EncryptedState, updated.CurrentEpoch)
	}
}

func TestSubmitStateMissingSession(t *testing.T) {
	r := NewSessionRegistry()

	// An absent session is not an epoch conflict; the session may have
	// been swept out from under the submitter.
	if _, err := r.SubmitState("GH45JK", "s1", 1); err != ErrSessionNotFound {
		t.Fatalf("missing session: err = %v, want ErrSessionNotFound", err)
	}
}

func TestConcurrentSubmitSameEpoch(t *testing.T) {
	r := NewSessionRegistry()
	r.Join("AB23CD", model.ModeDatabase, testParticipant("c1", "alice"))

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.SubmitState("AB23CD", fmt.Sprintf("s%d", i), 1); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("%d submissions accepted for epoch 1, want 1", accepted)
	}
}

func TestUpdateStateIsUnconditional(t *testing.T) {
	r := NewSessionRegistry()
	r.Join("AB23CD", model.ModeDatabase, testParticipant("c1", "alice"))
	r.SubmitState("AB23CD", "s5", 5)

	if !r.UpdateState("AB23CD", "s1", 1) {
		t.Fatal("UpdateState on live session failed")
	}
	snap, _ := r.Get("AB23CD")
	if snap.EncryptedState != "s1" || snap.CurrentEpoch != 1 {
		t.Fatalf("overwrite not applied: %q epoch %d", snap.EncryptedState, snap.CurrentEpoch)
	}

	if r.UpdateState("ZZZZZZ", "s1", 1) {
		t.Fatal("UpdateState on absent session reported success")
	}
}

func TestSweepRemovesOnlyIdleSessions(t *testing.T) {
	r := NewSessionRegistry()
	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	r.now = func() time.Time { return base }
	r.Join("STALE2", model.ModeP2P, testParticipant("c1", "alice"))

	r.now = func() time.Time { return base.Add(3 * time.Hour) }
	r.Join("FRESH2", model.ModeP2P, testParticipant("c2", "bob"))

	r.now = func() time.Time { return base.Add(4*time.Hour + time.Minute) }
	removed := r.Sweep(4 * time.Hour)

	if len(removed) != 1 || removed[0] != "STALE2" {
		t.Fatalf("removed = %v, want [STALE2]", removed)
	}
	if _, ok := r.Get("STALE2"); ok {
		t.Fatal("idle session survived sweep")
	}
	if _, ok := r.GetByConnection("c1"); ok {
		t.Fatal("reverse index entry survived sweep")
	}
	if _, ok := r.Get("FRESH2"); !ok {
		t.Fatal("fresh session swept")
	}
	if _, ok := r.GetByConnection("c2"); !ok {
		t.Fatal("fresh session's reverse index entry swept")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	r := NewSessionRegistry()
	r.Join("AB23CD", model.ModeP2P, testParticipant("c1", "alice"))

	snap, _ := r.Get("AB23CD")
	snap.Participants[0].IdentityID = "mallory"

	fresh, _ := r.Get("AB23CD")
	if fresh.Participants[0].IdentityID != "alice" {
		t.Fatal("mutating a snapshot leaked into the registry")
	}
}
