// Package ratelimit wraps golang.org/x/time/rate behind the small
// surface the fetcher needs: one shared limiter gating every REST call.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter paces API requests. All quote and expiry calls share one
// limiter so the process-wide rate never exceeds the broker cap.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter builds a limiter allowing requestsPerSecond sustained with
// the given burst. Burst values below 1 are raised to 1 so Acquire can
// ever succeed.
func NewLimiter(requestsPerSecond, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Acquire blocks until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether a token is available right now without waiting.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}
