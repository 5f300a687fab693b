package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	apperrors "datavault/backend/internal/errors"
)

// RetryPolicy controls retry behavior for transient failures using
// exponential backoff with jitter.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps the delay between retries.
	MaxInterval time.Duration

	// Multiplier grows the delay after each retry.
	Multiplier float64

	// RandomFactor adds jitter: each delay is scaled by a random value
	// in [1-RandomFactor, 1+RandomFactor].
	RandomFactor float64
}

// DefaultRetryPolicy returns the retry settings used by the enrichment
// and indexing workers.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		RandomFactor:    0.2,
	}
}

// Do runs op until it succeeds, returns a permanent error, exhausts
// MaxAttempts, or the context ends. The last error is returned on
// exhaustion, wrapped with the attempt count.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	interval := p.InitialInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if apperrors.IsPermanent(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(p.jitter(interval)):
		case <-ctx.Done():
			return ctx.Err()
		}

		interval = time.Duration(float64(interval) * p.multiplier())
		if p.MaxInterval > 0 && interval > p.MaxInterval {
			interval = p.MaxInterval
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

func (p RetryPolicy) multiplier() float64 {
	if p.Multiplier <= 1 {
		return 2.0
	}
	return p.Multiplier
}

func (p RetryPolicy) jitter(d time.Duration) time.Duration {
	if p.RandomFactor <= 0 {
		return d
	}
	delta := p.RandomFactor * float64(d)
	low := float64(d) - delta
	return time.Duration(low + rand.Float64()*2*delta)
}
