package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*MemoryStore, *time.Time) {
	t.Helper()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	return store, &now
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	s, err := store.Create(ctx, PurposeVoterAuth, "STU008", "election-1", 10*time.Minute)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if s.ID == "" {
		t.Error("expected a session id")
	}
	if s.Status != StatusPending {
		t.Errorf("new session should be pending, got %s", s.Status)
	}
	if !s.ExpiresAt.Equal(s.CreatedAt.Add(10 * time.Minute)) {
		t.Errorf("expected TTL of 10m, got expiry %v", s.ExpiresAt)
	}

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.SubjectID != "STU008" || got.ElectionID != "election-1" {
		t.Errorf("session fields lost: %+v", got)
	}
}

func TestGetNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionHappyPath(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	s, _ := store.Create(ctx, PurposeVoterAuth, "STU008", "", 10*time.Minute)

	if _, err := store.Transition(ctx, s.ID, StatusImageReceived, nil); err != nil {
		t.Fatalf("pending -> image_received failed: %v", err)
	}

	conf := 0.93
	got, err := store.Transition(ctx, s.ID, StatusMatched, func(s *Session) {
		s.Confidence = &conf
	})
	if err != nil {
		t.Fatalf("image_received -> matched failed: %v", err)
	}
	if got.Confidence == nil || *got.Confidence != 0.93 {
		t.Errorf("apply func not honored: %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("terminal transition should stamp FinishedAt")
	}
}

func TestTransitionIllegal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	s, _ := store.Create(ctx, PurposeVoterAuth, "STU008", "", 10*time.Minute)

	if _, err := store.Transition(ctx, s.ID, StatusMatched, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending -> matched should be invalid, got %v", err)
	}

	store.Transition(ctx, s.ID, StatusImageReceived, nil)
	store.Transition(ctx, s.ID, StatusRejected, nil)

	// Terminal states absorb.
	for _, to := range []Status{StatusPending, StatusImageReceived, StatusMatched, StatusExpired} {
		if _, err := store.Transition(ctx, s.ID, to, nil); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("rejected -> %s should be invalid, got %v", to, err)
		}
	}
}

func TestLazyExpiryOnAccess(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()
	s, _ := store.Create(ctx, PurposeVoterAuth, "STU008", "", 10*time.Minute)

	// Time passes beyond the TTL with no sweep running.
	*now = now.Add(11 * time.Minute)

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("overdue session should read as expired, got %s", got.Status)
	}

	if _, err := store.Transition(ctx, s.ID, StatusImageReceived, nil); !errors.Is(err, ErrExpired) {
		t.Errorf("transition on expired session should fail with ErrExpired, got %v", err)
	}
}

func TestExpireOverdueSweep(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	overdue, _ := store.Create(ctx, PurposeVoterAuth, "a", "", 5*time.Minute)
	store.Create(ctx, PurposeVoterAuth, "b", "", 30*time.Minute)
	done, _ := store.Create(ctx, PurposeVoterAuth, "c", "", 5*time.Minute)
	store.Transition(ctx, done.ID, StatusImageReceived, nil)
	store.Transition(ctx, done.ID, StatusMatched, nil)

	*now = now.Add(10 * time.Minute)

	swept, err := store.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdue() error: %v", err)
	}
	// Only the pending overdue session; terminal ones are untouched.
	if len(swept) != 1 || swept[0] != overdue.ID {
		t.Errorf("expected [%s] swept, got %v", overdue.ID, swept)
	}
}

func TestPurgeTerminal(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	s, _ := store.Create(ctx, PurposeVoterAuth, "a", "", 5*time.Minute)
	store.Transition(ctx, s.ID, StatusImageReceived, nil)
	store.Transition(ctx, s.ID, StatusRejected, nil)
	live, _ := store.Create(ctx, PurposeVoterAuth, "b", "", 30*time.Minute)

	*now = now.Add(2 * time.Hour)

	purged, err := store.PurgeTerminal(ctx, time.Hour)
	if err != nil {
		t.Fatalf("PurgeTerminal() error: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged session, got %d", purged)
	}
	if _, err := store.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("purged session should be gone, got %v", err)
	}
	// The live session expired meanwhile but was not purged.
	if got, err := store.Get(ctx, live.ID); err != nil || got.Status != StatusExpired {
		t.Errorf("live session should remain (expired), got %v %v", got, err)
	}
}

func TestConsumeOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	s, _ := store.Create(ctx, PurposeVoterAuth, "STU008", "election-1", 10*time.Minute)

	if _, err := store.Consume(ctx, s.ID); !errors.Is(err, ErrNotConsumable) {
		t.Errorf("pending session should not be consumable, got %v", err)
	}

	store.Transition(ctx, s.ID, StatusImageReceived, nil)
	store.Transition(ctx, s.ID, StatusMatched, nil)

	got, err := store.Consume(ctx, s.ID)
	if err != nil {
		t.Fatalf("Consume() error: %v", err)
	}
	if got.ConsumedAt == nil {
		t.Error("expected ConsumedAt to be stamped")
	}

	if _, err := store.Consume(ctx, s.ID); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("second consume should fail, got %v", err)
	}
}

func TestReleaseReturnsAuthorization(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	s, _ := store.Create(ctx, PurposeVoterAuth, "STU008", "election-1", 10*time.Minute)
	store.Transition(ctx, s.ID, StatusImageReceived, nil)
	store.Transition(ctx, s.ID, StatusMatched, nil)

	if _, err := store.Consume(ctx, s.ID); err != nil {
		t.Fatalf("Consume() error: %v", err)
	}

	got, err := store.Release(ctx, s.ID)
	if err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if got.ConsumedAt != nil {
		t.Error("released authorization should clear ConsumedAt")
	}

	// The voter may retry without re-verifying.
	if _, err := store.Consume(ctx, s.ID); err != nil {
		t.Errorf("consume after release should succeed, got %v", err)
	}

	if _, err := store.Release(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentTransitions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s, _ := store.Create(ctx, PurposeVoterAuth, "STU008", "", 10*time.Minute)
	store.Transition(ctx, s.ID, StatusImageReceived, nil)

	// Many writers race to finish the session; exactly one must win.
	var wg sync.WaitGroup
	wins := make(chan Status, 20)
	for i := 0; i < 10; i++ {
		for _, to := range []Status{StatusMatched, StatusRejected} {
			wg.Add(1)
			go func(to Status) {
				defer wg.Done()
				if _, err := store.Transition(ctx, s.ID, to, nil); err == nil {
					wins <- to
				}
			}(to)
		}
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly one winning transition, got %d", count)
	}
}
