// Package retry holds the single backoff policy applied to broker and
// market-data calls. Only errors classified as network errors are retried.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// Policy is an exponential backoff policy
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	logger *logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Default returns the policy shared by the data and order paths
// 3 retries, 1s initial delay, doubled each attempt, capped at 10s.
func Default(log *logger.Logger) *Policy {
	return &Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		logger:       log,
	}
}

// None returns a policy that never retries
func None() *Policy {
	return &Policy{}
}

// WithLogger attaches a logger for retry events
func (p *Policy) WithLogger(log *logger.Logger) *Policy {
	p.logger = log
	return p
}

// Do runs fn until it succeeds, fails with a non-retryable error,
// exhausts the retry budget or ctx is done.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := p.InitialDelay
	var err error

	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !apperr.Retryable(err) || attempt >= p.MaxRetries {
			break
		}

		if p.logger != nil {
			p.logger.WithFields(map[string]interface{}{
				"op":      op,
				"attempt": attempt + 1,
				"delay":   delay.String(),
			}).WithError(err).Warn("Retrying after network error")
		}

		if serr := p.wait(ctx, delay); serr != nil {
			return fmt.Errorf("%s: retry aborted: %w", op, err)
		}
		delay = p.next(delay)
	}

	if apperr.Retryable(err) && p.MaxRetries > 0 {
		return fmt.Errorf("%s: giving up after %d retries: %w", op, p.MaxRetries, err)
	}
	return err
}

func (p *Policy) next(d time.Duration) time.Duration {
	m := p.Multiplier
	if m <= 1 {
		m = 2
	}
	n := time.Duration(float64(d) * m)
	if p.MaxDelay > 0 && n > p.MaxDelay {
		n = p.MaxDelay
	}
	return n
}

func (p *Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
