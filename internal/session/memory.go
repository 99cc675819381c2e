package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions in process memory. A single mutex serializes all
// writers, which trivially satisfies the per-session ordering requirement.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// SetClock replaces the store's time source. Test hook.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Create registers a new pending session.
func (m *MemoryStore) Create(ctx context.Context, purpose Purpose, subjectID, electionID string, ttl time.Duration) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := &Session{
		ID:         uuid.NewString(),
		Purpose:    purpose,
		SubjectID:  subjectID,
		ElectionID: electionID,
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	m.sessions[s.ID] = s
	return s.Clone(), nil
}

// expireLocked lazily expires an overdue non-terminal session. Caller holds
// the write lock.
func (m *MemoryStore) expireLocked(s *Session) {
	if !s.Status.Terminal() && s.Overdue(m.now()) {
		now := m.now()
		s.Status = StatusExpired
		s.FinishedAt = &now
	}
}

// Get returns a copy of the session, lazily expiring it when overdue.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	m.expireLocked(s)
	return s.Clone(), nil
}

// Transition applies a status change under the store lock.
func (m *MemoryStore) Transition(ctx context.Context, id string, to Status, apply func(*Session)) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	m.expireLocked(s)
	if s.Status == StatusExpired && to != StatusExpired {
		return nil, ErrExpired
	}
	if !CanTransition(s.Status, to) {
		return nil, ErrInvalidTransition
	}

	s.Status = to
	if to.Terminal() {
		now := m.now()
		s.FinishedAt = &now
	}
	if apply != nil {
		apply(s)
	}
	return s.Clone(), nil
}

// Consume spends a matched session's vote authorization exactly once.
func (m *MemoryStore) Consume(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusMatched {
		return nil, ErrNotConsumable
	}
	if s.ConsumedAt != nil {
		return nil, ErrAlreadyConsumed
	}
	now := m.now()
	s.ConsumedAt = &now
	return s.Clone(), nil
}

// Release hands back a consumed authorization after a failed cast.
func (m *MemoryStore) Release(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.ConsumedAt = nil
	return s.Clone(), nil
}

// ExpireOverdue sweeps all overdue non-terminal sessions.
func (m *MemoryStore) ExpireOverdue(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var swept []string
	for id, s := range m.sessions {
		if !s.Status.Terminal() && s.Overdue(m.now()) {
			m.expireLocked(s)
			swept = append(swept, id)
		}
	}
	return swept, nil
}

// PurgeTerminal drops terminal sessions older than the retention window.
func (m *MemoryStore) PurgeTerminal(ctx context.Context, retention time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-retention)
	purged := 0
	for id, s := range m.sessions {
		if s.Status.Terminal() && s.FinishedAt != nil && s.FinishedAt.Before(cutoff) {
			delete(m.sessions, id)
			purged++
		}
	}
	return purged, nil
}
