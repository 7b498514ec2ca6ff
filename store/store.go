package store

import (
	"context"
	"errors"

	"github.com/KanavDutta/bitflip/limit"
)

// ErrStoreFailed is returned when the backing store cannot be reached or decoded
var ErrStoreFailed = errors.New("rate limit store operation failed")

// UpdateFunc maps the current state of a key, nil if unknown, to the state to
// store. It may run more than once per Update and must not keep its argument.
type UpdateFunc func(state *limit.BucketState) *limit.BucketState

// Store defines the interface for token bucket state storage.
// Get returns a nil state without error for unknown keys.
// Update reads, applies fn and writes as one step: concurrent Updates of the
// same key never both observe the same state.
type Store interface {
	Get(ctx context.Context, key string) (*limit.BucketState, error)
	Set(ctx context.Context, key string, state *limit.BucketState) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
