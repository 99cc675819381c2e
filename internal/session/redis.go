package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "votegate:session:"

// transitionRetries bounds optimistic concurrency retries on WATCH conflicts.
const transitionRetries = 5

// RedisStore keeps sessions in Redis. Per-session serialization comes from
// WATCH-based optimistic transactions on the session key; stale writers lose
// the race and retry against fresh state.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, now: time.Now}, nil
}

// Close releases the Redis connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// write stores the session JSON with a key TTL generous enough to cover the
// session TTL plus retention; PurgeTerminal and Redis expiry both clean up.
func (r *RedisStore) write(ctx context.Context, pipe redis.Cmdable, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	keyTTL := time.Until(s.ExpiresAt) + 24*time.Hour
	pipe.Set(ctx, redisKey(s.ID), data, keyTTL)
	return nil
}

func (r *RedisStore) read(ctx context.Context, c redis.Cmdable, id string) (*Session, error) {
	data, err := c.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	return &s, nil
}

// Create registers a new pending session.
func (r *RedisStore) Create(ctx context.Context, purpose Purpose, subjectID, electionID string, ttl time.Duration) (*Session, error) {
	now := r.now()
	s := &Session{
		ID:         uuid.NewString(),
		Purpose:    purpose,
		SubjectID:  subjectID,
		ElectionID: electionID,
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := r.write(ctx, r.client, s); err != nil {
		return nil, err
	}
	return s, nil
}

// mutate runs a read-check-write cycle under WATCH so concurrent transitions
// on the same session serialize. fn mutates the session in place or returns
// an error to abort.
func (r *RedisStore) mutate(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	var result *Session

	for attempt := 0; attempt < transitionRetries; attempt++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			s, err := r.read(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := fn(s); err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return r.write(ctx, pipe, s)
			})
			if err != nil {
				return err
			}
			result = s
			return nil
		}, redisKey(id))

		if errors.Is(err, redis.TxFailedErr) {
			continue // lost the race, retry against fresh state
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("session %s: too many concurrent writers", id)
}

// lazyExpire marks an overdue non-terminal session expired in place.
func (r *RedisStore) lazyExpire(s *Session) {
	if !s.Status.Terminal() && s.Overdue(r.now()) {
		now := r.now()
		s.Status = StatusExpired
		s.FinishedAt = &now
	}
}

// Get returns the session, lazily expiring it when overdue.
func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	s, err := r.read(ctx, r.client, id)
	if err != nil {
		return nil, err
	}
	if !s.Status.Terminal() && s.Overdue(r.now()) {
		return r.mutate(ctx, id, func(s *Session) error {
			r.lazyExpire(s)
			return nil
		})
	}
	return s, nil
}

// Transition applies a status change under optimistic per-key locking.
func (r *RedisStore) Transition(ctx context.Context, id string, to Status, apply func(*Session)) (*Session, error) {
	return r.mutate(ctx, id, func(s *Session) error {
		r.lazyExpire(s)
		if s.Status == StatusExpired && to != StatusExpired {
			return ErrExpired
		}
		if !CanTransition(s.Status, to) {
			return ErrInvalidTransition
		}
		s.Status = to
		if to.Terminal() {
			now := r.now()
			s.FinishedAt = &now
		}
		if apply != nil {
			apply(s)
		}
		return nil
	})
}

// Consume spends a matched session's vote authorization exactly once.
func (r *RedisStore) Consume(ctx context.Context, id string) (*Session, error) {
	return r.mutate(ctx, id, func(s *Session) error {
		if s.Status != StatusMatched {
			return ErrNotConsumable
		}
		if s.ConsumedAt != nil {
			return ErrAlreadyConsumed
		}
		now := r.now()
		s.ConsumedAt = &now
		return nil
	})
}

// Release hands back a consumed authorization after a failed cast.
func (r *RedisStore) Release(ctx context.Context, id string) (*Session, error) {
	return r.mutate(ctx, id, func(s *Session) error {
		s.ConsumedAt = nil
		return nil
	})
}

// ExpireOverdue walks all session keys and expires overdue ones.
func (r *RedisStore) ExpireOverdue(ctx context.Context) ([]string, error) {
	var swept []string
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(redisKeyPrefix):]
		s, err := r.read(ctx, r.client, id)
		if err != nil {
			continue
		}
		if !s.Status.Terminal() && s.Overdue(r.now()) {
			if _, err := r.Get(ctx, id); err == nil {
				swept = append(swept, id)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return swept, fmt.Errorf("scanning sessions: %w", err)
	}
	return swept, nil
}

// PurgeTerminal deletes terminal sessions finished before the retention
// cutoff. Redis key expiry acts as the backstop for anything missed here.
func (r *RedisStore) PurgeTerminal(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := r.now().Add(-retention)
	purged := 0
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		s, err := r.read(ctx, r.client, key[len(redisKeyPrefix):])
		if err != nil {
			continue
		}
		if s.Status.Terminal() && s.FinishedAt != nil && s.FinishedAt.Before(cutoff) {
			if err := r.client.Del(ctx, key).Err(); err == nil {
				purged++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return purged, fmt.Errorf("scanning sessions: %w", err)
	}
	return purged, nil
}
