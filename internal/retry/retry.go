// Package retry centralizes the backoff helper shared by the worker and
// the result handlers instead of each caller rolling its own sleep loop.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures an exponential backoff with jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy is three attempts with a 1s base delay capped at 30s.
// The webhook handler and the worker build their own policies instead.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    30 * time.Second,
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(1<<uint(attempt))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) + 1))
	return d/2 + jitter/2
}

// Do calls fn until it succeeds, the policy's attempt budget is spent, or
// ctx is cancelled. shouldRetry decides whether a given error is worth
// retrying at all; a nil shouldRetry retries every non-nil error.
func Do(ctx context.Context, p Policy, shouldRetry func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.delay(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
	}
	return lastErr
}
