package limit

import (
	"math"
	"time"
)

// TokenBucket implements the token bucket algorithm over externally stored state.
// It holds no state itself, so one TokenBucket can serve every client key.
type TokenBucket struct {
	config Config
}

// NewTokenBucket creates a new token bucket with the given configuration
func NewTokenBucket(config Config) (*TokenBucket, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &TokenBucket{config: config}, nil
}

// Limit returns the bucket capacity.
func (tb *TokenBucket) Limit() float64 {
	return tb.config.Capacity
}

// Check determines if a request should be allowed based on the current bucket state.
// A nil state starts a full bucket. It returns the updated state and check result.
func (tb *TokenBucket) Check(state *BucketState, now time.Time) (*BucketState, CheckResult) {
	if state == nil {
		state = &BucketState{
			Tokens:       tb.config.Capacity,
			LastRefillAt: now,
		}
	}

	// Clock skew between instances sharing Redis can put LastRefillAt in the future
	elapsed := math.Max(now.Sub(state.LastRefillAt).Seconds(), 0)
	tokens := math.Min(state.Tokens+elapsed*tb.config.RefillPerSec, tb.config.Capacity)

	newState := &BucketState{
		Tokens:       tokens,
		LastRefillAt: now,
	}

	if newState.Tokens >= 1.0 {
		newState.Tokens -= 1.0
		return newState, CheckResult{
			Allowed:   true,
			Remaining: newState.Tokens,
			Limit:     tb.config.Capacity,
		}
	}

	tokensNeeded := 1.0 - newState.Tokens
	retryAfterMs := int64(math.Ceil(tokensNeeded / tb.config.RefillPerSec * 1000))

	return newState, CheckResult{
		Allowed:      false,
		Remaining:    0,
		RetryAfterMs: retryAfterMs,
		Limit:        tb.config.Capacity,
	}
}
