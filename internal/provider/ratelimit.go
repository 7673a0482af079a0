package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles every call to one provider endpoint.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows maxBurst immediate calls, then ratePerMinute.
// Non-positive values fall back to 10 and 30.
func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerMinute/60), maxBurst)}
}

// Wait blocks until a call is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}
