package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTTL = 30 * time.Minute

// RedisStore keeps each session as one JSON value whose key expires after
// the idle TTL. Every commit refreshes the expiry; reads do not.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store. Keys are "{prefix}:session:{id}".
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	if prefix == "" {
		prefix = "leadflow"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + ":session:" + id
}

// Get returns the stored session.
func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	val, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %q: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("decode session %q: %w", id, err)
	}
	if s.ExtractedData == nil {
		s.ExtractedData = make(map[string]FieldValue)
	}
	return &s, nil
}

// Put commits s using WATCH/MULTI/EXEC for the version check.
func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidID)
	}
	key := r.key(s.ID)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return err
		}

		switch {
		case s.Version == 0 && exists:
			return ErrAlreadyExists
		case s.Version != 0 && !exists:
			return ErrNotFound
		case s.Version != 0:
			var stored struct {
				Version int64 `json:"version"`
			}
			if err := json.Unmarshal(val, &stored); err != nil {
				return fmt.Errorf("decode stored version: %w", err)
			}
			if stored.Version != s.Version {
				return fmt.Errorf("%w: stored %d, have %d", ErrVersionConflict, stored.Version, s.Version)
			}
		}

		next := s.Clone()
		next.Version++
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: concurrent commit", ErrVersionConflict)
	case err != nil:
		return err
	}
	s.Version++
	return nil
}

// Delete removes the session.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session %q: %w", id, err)
	}
	return nil
}

// Sweep is a no-op: key expiry evicts idle sessions.
func (r *RedisStore) Sweep(context.Context, time.Time) ([]*Session, error) {
	return nil, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
