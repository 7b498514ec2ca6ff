package core

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds is returned when an index is not below the store length
	ErrOutOfBounds = errors.New("index out of bounds")

	// ErrInvalidSize is returned when a store is created with zero bits
	ErrInvalidSize = errors.New("bit store size must be positive")

	// ErrInvalidSnapshot is returned when encoded snapshot data does not match its length
	ErrInvalidSnapshot = errors.New("invalid snapshot data")
)

// OutOfBoundsError reports the offending index and the store length.
type OutOfBoundsError struct {
	Index uint
	Len   uint
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("index %d out of bounds for length %d", e.Index, e.Len)
}

// Is lets errors.Is(err, ErrOutOfBounds) match.
func (e *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}
