package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/creastat/console"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis with optimistic locking. The
// client is owned by the caller.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-based preference store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, rec *Record) error {
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 1

	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, rec.Key, val, s.ttl).Err()
}

// Get implements Store. Refreshes TTL on every read.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, err
	}

	_ = s.client.Expire(ctx, key, s.ttl).Err()
	return &rec, nil
}

// Update implements Store using WATCH/MULTI/EXEC.
func (s *RedisStore) Update(ctx context.Context, rec *Record) error {
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, rec.Key).Result()
		if errors.Is(err, redis.Nil) {
			return console.ErrNotFound
		}
		if err != nil {
			return err
		}

		var stored Record
		if err := json.Unmarshal([]byte(val), &stored); err != nil {
			return err
		}
		if stored.Version != rec.Version {
			return console.ErrVersionConflict
		}

		next := *rec
		next.Version++
		next.UpdatedAt = time.Now()
		newVal, err := json.Marshal(&next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rec.Key, newVal, s.ttl)
			return nil
		})
		if errors.Is(err, redis.TxFailedErr) {
			return console.ErrVersionConflict
		}
		if err == nil {
			*rec = next
		}
		return err
	}, rec.Key)
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return nil
}

var _ Store = (*RedisStore)(nil)
