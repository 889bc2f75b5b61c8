// Package ratelimit implements the token bucket that governs calls to the scraping proxy.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/competitor-price-intel/internal/metrics"
	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

// Limiter is a token bucket shared by every concurrent fetch. Token accounting
// lives entirely inside the wrapped rate.Limiter, which refills lazily from
// elapsed time under its own mutex.
type Limiter struct {
	limiter  *rate.Limiter
	capacity int
}

// Config holds rate limiter configuration.
type Config struct {
	RatePerSecond float64
	Burst         int
}

// New creates a Limiter. A non-positive rate disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter:  rate.NewLimiter(r, burst),
		capacity: burst,
	}
}

// Capacity returns the burst allowance of the bucket.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Acquire consumes n tokens, blocking until they are available. The wait is
// computed up front as (n - available) / rate; if the context deadline falls
// before that instant the reservation is returned and ErrRateLimitTimeout is
// reported without sleeping.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("acquire %d tokens: count must be > 0", n)
	}
	if n > l.capacity {
		return fmt.Errorf("acquire %d tokens: exceeds capacity %d", n, l.capacity)
	}
	if err := ctx.Err(); err != nil {
		return waitError(err)
	}

	now := time.Now()
	reservation := l.limiter.ReserveN(now, n)
	if !reservation.OK() {
		return fmt.Errorf("acquire %d tokens: reservation refused", n)
	}
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(now.Add(delay)) {
		reservation.CancelAt(now)
		return fmt.Errorf("need %s for %d tokens: %w", delay, n, pricing.ErrRateLimitTimeout)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		if waited := time.Since(now); waited > time.Millisecond {
			metrics.ObserveRateLimitDelay(waited)
		}
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return waitError(ctx.Err())
	}
}

func waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("rate limit wait: %w", pricing.ErrRateLimitTimeout)
	}
	return fmt.Errorf("rate limit wait: %w", err)
}
