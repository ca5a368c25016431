package marketdata

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the token bucket in front of the market-data endpoint
// Refill rate is requestsPerMinute/60 per second, capacity is requestsPerMinute.
type Limiter struct {
	perMinute int
	lim       atomic.Pointer[rate.Limiter]
}

// NewLimiter creates a limiter; startFull=false begins with an empty bucket
func NewLimiter(requestsPerMinute int, startFull bool) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	l := &Limiter{perMinute: requestsPerMinute}
	l.Reset(startFull)
	return l
}

func (l *Limiter) build(startFull bool) *rate.Limiter {
	lim := rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)
	if !startFull {
		lim.AllowN(time.Now(), l.perMinute)
	}
	return lim
}

// Acquire blocks until one token is available or ctx is done
// rate.Limiter reserves first and sleeps outside its lock, so waiters never serialize.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.lim.Load().Wait(ctx); err != nil {
		return fmt.Errorf("acquire market data token: %w", err)
	}
	return nil
}

// Wait implements httputil.Waiter
func (l *Limiter) Wait(ctx context.Context) error {
	return l.Acquire(ctx)
}

// TryAcquire takes a token without blocking
func (l *Limiter) TryAcquire() bool {
	return l.lim.Load().Allow()
}

// Available returns the current token count
func (l *Limiter) Available() float64 {
	return l.lim.Load().Tokens()
}

// Capacity returns the bucket size
func (l *Limiter) Capacity() int {
	return l.perMinute
}

// Reset restores the bucket to empty or full
func (l *Limiter) Reset(startFull bool) {
	l.lim.Store(l.build(startFull))
}
