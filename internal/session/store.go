package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means no session exists for the given id.
	ErrNotFound = errors.New("session not found")

	// ErrExpired means the session outlived its TTL and stopped accepting input.
	ErrExpired = errors.New("session expired")

	// ErrInvalidTransition means the requested status change violates the
	// state machine.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrNotConsumable means the session is not a matched session whose
	// authorization can be spent.
	ErrNotConsumable = errors.New("session authorization not consumable")

	// ErrAlreadyConsumed means the vote authorization was already spent.
	ErrAlreadyConsumed = errors.New("session authorization already consumed")
)

// Store is durable, queryable state for verification sessions.
//
// Implementations must serialize transitions per session id: two concurrent
// writers may not both apply a transition to the same session. Expiry is
// enforced lazily on Get and Transition, so an overdue session rejects input
// even if the background sweep never ran.
type Store interface {
	// Create registers a new pending session and returns it.
	Create(ctx context.Context, purpose Purpose, subjectID, electionID string, ttl time.Duration) (*Session, error)

	// Get returns the session, lazily marking it expired when overdue.
	Get(ctx context.Context, id string) (*Session, error)

	// Transition moves the session to a new status, applying extra field
	// mutations under the same per-session critical section. It fails with
	// ErrInvalidTransition on an illegal edge and ErrExpired when the
	// session lapsed before the transition could apply.
	Transition(ctx context.Context, id string, to Status, apply func(*Session)) (*Session, error)

	// Consume spends the vote authorization of a matched session exactly
	// once. Fails with ErrNotConsumable unless the session is matched, and
	// with ErrAlreadyConsumed on a second call.
	Consume(ctx context.Context, id string) (*Session, error)

	// Release returns a consumed authorization when the cast failed
	// downstream and no ballot was recorded, so the voter can retry
	// without re-verifying.
	Release(ctx context.Context, id string) (*Session, error)

	// ExpireOverdue sweeps sessions past their TTL that are still
	// non-terminal into the expired status. Returns the ids of the
	// sessions it expired.
	ExpireOverdue(ctx context.Context) ([]string, error)

	// PurgeTerminal drops terminal sessions older than the retention
	// window. Returns how many were removed.
	PurgeTerminal(ctx context.Context, retention time.Duration) (int, error)
}
