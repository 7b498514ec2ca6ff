package limit

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCapacity is returned when bucket capacity is not positive
	ErrInvalidCapacity = errors.New("bucket capacity must be positive")

	// ErrInvalidRefillRate is returned when refill rate is not positive
	ErrInvalidRefillRate = errors.New("refill rate must be positive")
)

// Config defines the rate limiting policy
type Config struct {
	Capacity     float64 // Maximum tokens (burst size)
	RefillPerSec float64 // Tokens added per second
}

// Validate checks that both capacity and refill rate are positive.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if c.RefillPerSec <= 0 {
		return ErrInvalidRefillRate
	}
	return nil
}

// BucketState represents the current state of a token bucket
type BucketState struct {
	Tokens       float64   `json:"tokens"`
	LastRefillAt time.Time `json:"last_refill_at"`
}

// CheckResult contains the result of a rate limit check
type CheckResult struct {
	Allowed      bool    // Whether the request is allowed
	Remaining    float64 // Tokens remaining after this request
	RetryAfterMs int64   // Milliseconds until retry (if blocked)
	Limit        float64 // Total capacity
}

// RetryAfter returns the blocked wait as a duration.
func (r CheckResult) RetryAfter() time.Duration {
	return time.Duration(r.RetryAfterMs) * time.Millisecond
}
