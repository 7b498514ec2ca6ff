package store

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/KanavDutta/bitflip/limit"
)

const lockStripes = 64

// MemoryStore provides thread-safe in-memory storage for bucket states.
// The zero value is ready to use.
type MemoryStore struct {
	buckets sync.Map // map[string]*limit.BucketState

	// locks serializes Update per key; keys share a stripe by hash
	locks [lockStripes]sync.Mutex
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get retrieves a copy of the bucket state for a given key
func (s *MemoryStore) Get(_ context.Context, key string) (*limit.BucketState, error) {
	val, ok := s.buckets.Load(key)
	if !ok {
		return nil, nil
	}
	state := *val.(*limit.BucketState)
	return &state, nil
}

// Set stores the bucket state for a given key
func (s *MemoryStore) Set(_ context.Context, key string, state *limit.BucketState) error {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	stored := *state
	s.buckets.Store(key, &stored)
	return nil
}

// Update applies fn to the state of key while holding the key's stripe lock
func (s *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	var current *limit.BucketState
	if val, ok := s.buckets.Load(key); ok {
		state := *val.(*limit.BucketState)
		current = &state
	}

	next := fn(current)
	if next == nil {
		s.buckets.Delete(key)
		return nil
	}
	stored := *next
	s.buckets.Store(key, &stored)
	return nil
}

func (s *MemoryStore) lockFor(key string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(key)%lockStripes]
}

// Delete removes the bucket state for a given key
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.buckets.Delete(key)
	return nil
}

// Clear removes all bucket states
func (s *MemoryStore) Clear(_ context.Context) error {
	s.buckets.Clear()
	return nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	n := 0
	s.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Cleanup removes buckets last refilled before cutoff and returns how many
// were removed. Dropping a bucket resets it to full, so cutoff must be at
// least the full refill time in the past.
func (s *MemoryStore) Cleanup(cutoff time.Time) int {
	removed := 0
	s.buckets.Range(func(key, val any) bool {
		if val.(*limit.BucketState).LastRefillAt.Before(cutoff) && s.buckets.CompareAndDelete(key, val) {
			removed++
		}
		return true
	})
	return removed
}

// StartBackgroundCleanup runs Cleanup every interval for buckets idle longer
// than maxIdle. Call the returned function to stop it.
func (s *MemoryStore) StartBackgroundCleanup(interval, maxIdle time.Duration) func() {
	if interval <= 0 || maxIdle <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case now := <-ticker.C:
				s.Cleanup(now.Add(-maxIdle))
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
