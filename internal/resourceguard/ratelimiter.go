package resourceguard

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces external fingerprint-tool invocations, defaulting to one
// call per second per spec.md §4.3.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter allowing callsPerSecond calls/second with
// a burst of 1 (no call queue-jumping).
func NewRateLimiter(callsPerSecond float64) *RateLimiter {
	if callsPerSecond <= 0 {
		callsPerSecond = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(callsPerSecond), 1)}
}

// Wait blocks until a call token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a call may proceed immediately without blocking.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// SetLimit adjusts the rate at runtime, used when configuration is reloaded.
func (r *RateLimiter) SetLimit(callsPerSecond float64) {
	r.limiter.SetLimit(rate.Limit(callsPerSecond))
}

// DefaultFingerprintInterval is the spacing implied by the default 1 call/sec limit.
const DefaultFingerprintInterval = time.Second
