package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/KanavDutta/bitflip/limit"
	"github.com/KanavDutta/bitflip/store"
)

// RateLimiter provides HTTP middleware for per-client token bucket limiting
type RateLimiter struct {
	bucket     *limit.TokenBucket
	store      store.Store
	keyFunc    KeyFunc
	logger     *slog.Logger
	onDecision func(key string, allowed bool)
	now        func() time.Time
}

// RateLimitConfig for creating a rate limiter
type RateLimitConfig struct {
	Capacity     float64     // Maximum tokens (burst size)
	RefillPerSec float64     // Tokens added per second
	KeyFunc      KeyFunc     // Optional: defaults to ExtractIP
	Store        store.Store // Optional: defaults to in-memory
	Logger       *slog.Logger

	// OnDecision is called after every check, e.g. to record metrics
	OnDecision func(key string, allowed bool)
}

// NewRateLimiter creates a new rate limiting middleware
func NewRateLimiter(config RateLimitConfig) (*RateLimiter, error) {
	bucket, err := limit.NewTokenBucket(limit.Config{
		Capacity:     config.Capacity,
		RefillPerSec: config.RefillPerSec,
	})
	if err != nil {
		return nil, err
	}

	if config.KeyFunc == nil {
		config.KeyFunc = ExtractIP()
	}
	if config.Store == nil {
		config.Store = store.NewMemoryStore()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &RateLimiter{
		bucket:     bucket,
		store:      config.Store,
		keyFunc:    config.KeyFunc,
		logger:     config.Logger,
		onDecision: config.OnDecision,
		now:        time.Now,
	}, nil
}

// Check runs one token bucket check for key as a single store update.
// Store errors before the bucket is evaluated fail open.
func (rl *RateLimiter) Check(r *http.Request, key string) limit.CheckResult {
	ctx := r.Context()
	now := rl.now()

	var (
		result    limit.CheckResult
		evaluated bool
	)
	err := rl.store.Update(ctx, key, func(state *limit.BucketState) *limit.BucketState {
		var next *limit.BucketState
		next, result = rl.bucket.Check(state, now)
		evaluated = true
		return next
	})
	if err == nil {
		return result
	}

	if !evaluated {
		rl.logger.WarnContext(ctx, "rate limit store read failed, allowing request", "key", key, "error", err)
		return limit.CheckResult{Allowed: true, Remaining: rl.bucket.Limit(), Limit: rl.bucket.Limit()}
	}
	rl.logger.WarnContext(ctx, "rate limit store write failed", "key", key, "error", err)
	return result
}

// Middleware wraps an http.Handler with rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := rl.keyFunc(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_client_key", err.Error())
			return
		}

		result := rl.Check(r, key)
		if rl.onDecision != nil {
			rl.onDecision(key, result.Allowed)
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", result.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", result.Remaining))

		if !result.Allowed {
			retryAfterSec := (result.RetryAfterMs + 999) / 1000
			if retryAfterSec == 0 {
				retryAfterSec = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSec))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", rl.now().Add(result.RetryAfter()).Unix()))
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}
