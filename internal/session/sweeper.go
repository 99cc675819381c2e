package session

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically expires overdue sessions and purges terminal ones
// past retention. Lazy expiry on access is the correctness mechanism; the
// sweeper keeps the store from accumulating dead records and tells listeners
// about sessions that expired with nobody touching them.
type Sweeper struct {
	store     Store
	interval  time.Duration
	retention time.Duration
	onExpire  func(sessionID string)
	stop      chan struct{}
	done      chan struct{}
}

// NewSweeper creates a sweeper for the given store. onExpire is invoked for
// every session the sweep expires, so live stream subscribers hear about the
// expiry; it may be nil.
func NewSweeper(store Store, interval, retention time.Duration, onExpire func(sessionID string)) *Sweeper {
	return &Sweeper{
		store:     store,
		interval:  interval,
		retention: retention,
		onExpire:  onExpire,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

func (s *Sweeper) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			swept, err := s.store.ExpireOverdue(ctx)
			if err != nil {
				log.Printf("session sweep: expire overdue: %v", err)
			}
			purged, err := s.store.PurgeTerminal(ctx, s.retention)
			if err != nil {
				log.Printf("session sweep: purge terminal: %v", err)
			}
			cancel()
			if s.onExpire != nil {
				for _, id := range swept {
					s.onExpire(id)
				}
			}
			if len(swept) > 0 || purged > 0 {
				log.Printf("session sweep: expired %d, purged %d", len(swept), purged)
			}
		}
	}
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}
