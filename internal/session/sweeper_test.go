package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSweeperReportsExpiredSessions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	short, _ := store.Create(ctx, PurposeVoterAuth, "a", "", 5*time.Millisecond)
	long, _ := store.Create(ctx, PurposeVoterAuth, "b", "", time.Hour)

	var mu sync.Mutex
	expired := make(map[string]int)
	sweeper := NewSweeper(store, 10*time.Millisecond, time.Hour, func(id string) {
		mu.Lock()
		expired[id]++
		mu.Unlock()
	})
	sweeper.Start()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := expired[short.ID]
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sweeper never reported the overdue session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sweeper.Stop()

	mu.Lock()
	defer mu.Unlock()
	if expired[short.ID] != 1 {
		t.Errorf("expected exactly one expiry report, got %d", expired[short.ID])
	}
	if expired[long.ID] != 0 {
		t.Errorf("session within TTL must not be reported, got %d", expired[long.ID])
	}

	if got, err := store.Get(ctx, short.ID); err != nil || got.Status != StatusExpired {
		t.Errorf("swept session should read as expired, got %v %v", got, err)
	}
}
