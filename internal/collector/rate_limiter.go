package collector

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces calls to the metrics backend
type RateLimiter interface {
	Wait(ctx context.Context) error
	// Backoff blocks every caller until d has elapsed, typically after the
	// backend answered 429 with a Retry-After hint.
	Backoff(d time.Duration)
}

type backendRateLimiter struct {
	mu            sync.Mutex
	limiter       *rate.Limiter
	cooldownUntil time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerSecond with a small burst.
func NewRateLimiter(requestsPerSecond float64) RateLimiter {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &backendRateLimiter{
		limiter: rate.NewLimiter(limit, 2),
	}
}

// Wait waits until it's safe to make another API call
func (r *backendRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	wait := time.Until(r.cooldownUntil)
	r.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return r.limiter.Wait(ctx)
}

func (r *backendRateLimiter) Backoff(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(r.cooldownUntil) {
		r.cooldownUntil = until
	}
}
