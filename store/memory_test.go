package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KanavDutta/bitflip/limit"
)

func TestMemoryStore_GetSetDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	got, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	state := &limit.BucketState{Tokens: 3, LastRefillAt: time.Now()}
	require.NoError(t, s.Set(ctx, "a", state))

	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3.0, got.Tokens)

	// Returned states are copies
	got.Tokens = 0
	again, _ := s.Get(ctx, "a")
	assert.Equal(t, 3.0, again.Tokens)

	require.NoError(t, s.Delete(ctx, "a"))
	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_Clear(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), &limit.BucketState{Tokens: 1}))
	}
	assert.Equal(t, 5, s.Len())

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("client-%d", id%10)
			for j := 0; j < 100; j++ {
				_ = s.Set(ctx, key, &limit.BucketState{Tokens: float64(j)})
				_, _ = s.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, s.Len())
}

func TestMemoryStore_Cleanup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Set(ctx, "idle", &limit.BucketState{Tokens: 5, LastRefillAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, s.Set(ctx, "active", &limit.BucketState{Tokens: 1, LastRefillAt: now}))

	assert.Equal(t, 1, s.Cleanup(now.Add(-time.Hour)))
	assert.Equal(t, 1, s.Len())

	got, err := s.Get(ctx, "idle")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_BackgroundCleanup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "old", &limit.BucketState{LastRefillAt: time.Now().Add(-time.Hour)}))

	stop := s.StartBackgroundCleanup(10*time.Millisecond, time.Minute)
	defer stop()

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond)
	stop()

	noop := s.StartBackgroundCleanup(0, time.Minute)
	noop()
}

func TestMemoryStore_Update(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, "a", func(state *limit.BucketState) *limit.BucketState {
		assert.Nil(t, state)
		return &limit.BucketState{Tokens: 2}
	}))
	require.NoError(t, s.Update(ctx, "a", func(state *limit.BucketState) *limit.BucketState {
		require.NotNil(t, state)
		state.Tokens--
		return state
	}))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Tokens)

	require.NoError(t, s.Update(ctx, "a", func(*limit.BucketState) *limit.BucketState { return nil }))
	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_ConcurrentUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, "counter", func(state *limit.BucketState) *limit.BucketState {
				if state == nil {
					state = &limit.BucketState{}
				}
				tokens := state.Tokens
				time.Sleep(time.Millisecond)
				return &limit.BucketState{Tokens: tokens + 1}
			}))
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Tokens)
}

func TestMemoryStore_CleanupCountsOnlyRemoved(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), &limit.BucketState{LastRefillAt: old}))
	}

	var wg sync.WaitGroup
	counts := make([]int, 4)
	for i := range counts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			counts[i] = s.Cleanup(time.Now())
		}()
	}
	wg.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, 10, total)
	assert.Zero(t, s.Len())
}
