package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/KanavDutta/bitflip/limit"
)

const (
	keyPrefix = "bitflip:ratelimit:"

	// maxUpdateAttempts bounds WATCH retries when another writer races on a key
	maxUpdateAttempts = 20
)

// ErrUpdateConflict is returned when Update keeps losing WATCH races
var ErrUpdateConflict = errors.New("rate limit state changed concurrently")

// RedisStore provides Redis-backed storage for bucket states, so several
// server instances can share one rate limit budget per client.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration // How long idle bucket state is kept
}

// Ensure RedisStore implements Store interface
var _ Store = (*RedisStore)(nil)

// RedisConfig for creating a Redis store
type RedisConfig struct {
	Addr     string        // Redis address (e.g., "localhost:6379")
	Password string        // Redis password (empty for no auth)
	DB       int           // Redis database number
	TTL      time.Duration // TTL for bucket states (default: 1 hour)
}

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(config RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ttl := config.TTL
	if ttl == 0 {
		ttl = time.Hour
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves the bucket state for a given key
func (s *RedisStore) Get(ctx context.Context, key string) (*limit.BucketState, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrStoreFailed, key, err)
	}

	var state limit.BucketState
	if err := json.Unmarshal(val, &state); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStoreFailed, key, err)
	}
	return &state, nil
}

// Set stores the bucket state for a given key
func (s *RedisStore) Set(ctx context.Context, key string, state *limit.BucketState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStoreFailed, key, err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrStoreFailed, key, err)
	}
	return nil
}

// Update applies fn inside a WATCH/MULTI transaction on key and retries
// when another client modified the key before EXEC.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	fullKey := keyPrefix + key

	txf := func(tx *redis.Tx) error {
		var current *limit.BucketState
		val, err := tx.Get(ctx, fullKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			current = &limit.BucketState{}
			if err := json.Unmarshal(val, current); err != nil {
				return fmt.Errorf("decode: %w", err)
			}
		}

		next := fn(current)
		var data []byte
		if next != nil {
			if data, err = json.Marshal(next); err != nil {
				return fmt.Errorf("encode: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, fullKey)
				return nil
			}
			pipe.Set(ctx, fullKey, data, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, fullKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: update %s: %v", ErrStoreFailed, key, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: update %s: %v", ErrStoreFailed, key, ctx.Err())
		}
	}
	return fmt.Errorf("%w: %w: %s", ErrStoreFailed, ErrUpdateConflict, key)
}

// Delete removes the bucket state for a given key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStoreFailed, key, err)
	}
	return nil
}

// Clear removes all rate limit keys from Redis
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("%w: clear: %v", ErrStoreFailed, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: scan: %v", ErrStoreFailed, err)
	}
	return nil
}

// Ping checks if Redis connection is alive
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
