package core

import (
	"runtime"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSize is the bit-vector length used when none is configured
	DefaultSize = 1_000_000

	// DefaultParallelThreshold is the batch length at which toggles are fanned out
	DefaultParallelThreshold = 4096

	wordBits = 64
)

// BitStore is a fixed-length bit vector safe for concurrent use.
// Reads share the lock; Flip and FlipMany hold it exclusively for validate-then-mutate.
type BitStore struct {
	mu   sync.RWMutex
	bits *bitset.BitSet
	size uint

	parallelism       int
	parallelThreshold int
}

// Option configures a BitStore.
type Option func(*BitStore)

// WithParallelism caps the goroutines used to toggle one large batch.
// Values below 1 fall back to GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(s *BitStore) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithParallelThreshold sets the minimum batch length that is toggled in parallel.
// Values below 1 keep the default.
func WithParallelThreshold(n int) Option {
	return func(s *BitStore) {
		if n > 0 {
			s.parallelThreshold = n
		}
	}
}

// New creates a store of size bits, all cleared.
func New(size uint, opts ...Option) (*BitStore, error) {
	if size == 0 {
		return nil, ErrInvalidSize
	}

	s := &BitStore{
		bits:              bitset.New(size),
		size:              size,
		parallelism:       runtime.GOMAXPROCS(0),
		parallelThreshold: DefaultParallelThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Len returns the number of bits. It never changes after New.
func (s *BitStore) Len() uint {
	return s.size
}

// Flip toggles the bit at index.
func (s *BitStore) Flip(index uint) error {
	if index >= s.size {
		return &OutOfBoundsError{Index: index, Len: s.size}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.bits.Flip(index)
	return nil
}

// FlipMany toggles every listed bit, once per occurrence.
// If any index is out of range nothing is changed and the first offending
// index is reported.
func (s *BitStore) FlipMany(indices []uint) error {
	for _, index := range indices {
		if index >= s.size {
			return &OutOfBoundsError{Index: index, Len: s.size}
		}
	}
	if len(indices) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	workers := s.batchWorkers(len(indices))
	if workers <= 1 {
		for _, index := range indices {
			s.bits.Flip(index)
		}
		return nil
	}

	s.flipParallel(indices, workers)
	return nil
}

// batchWorkers decides how many goroutines toggle a batch of n indices.
func (s *BitStore) batchWorkers(n int) int {
	if n < s.parallelThreshold {
		return 1
	}
	words := int((s.size + wordBits - 1) / wordBits)
	workers := s.parallelism
	if workers > words {
		workers = words
	}
	return workers
}

// flipParallel shards indices by 64-bit word so each goroutine writes a
// disjoint set of words. Must be called with s.mu held for writing.
func (s *BitStore) flipParallel(indices []uint, workers int) {
	shards := make([][]uint, workers)
	for _, index := range indices {
		shard := int(index/wordBits) % workers
		shards[shard] = append(shards[shard], index)
	}

	var g errgroup.Group
	for _, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		g.Go(func() error {
			for _, index := range shard {
				s.bits.Flip(index)
			}
			return nil
		})
	}
	// wait for all shards
	_ = g.Wait()
}

// Test reports whether the bit at index is set.
func (s *BitStore) Test(index uint) (bool, error) {
	if index >= s.size {
		return false, &OutOfBoundsError{Index: index, Len: s.size}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.bits.Test(index), nil
}

// Count returns the number of set bits.
func (s *BitStore) Count() uint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.bits.Count()
}

// Snapshot returns a point-in-time copy of all bits.
// The copy never observes a partially applied FlipMany.
func (s *BitStore) Snapshot() *Snapshot {
	s.mu.RLock()
	words := make([]uint64, len(s.bits.Words()))
	copy(words, s.bits.Words())
	s.mu.RUnlock()

	return &Snapshot{words: words, size: s.size}
}
