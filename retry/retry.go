package retry

import (
	"context"
	"errors"
	"time"

	"github.com/spetersoncode/weave"
)

// Attempt is the immutable record of one finished attempt. A fresh value is
// produced per attempt; nothing mutates across concurrent retriers.
type Attempt struct {
	// Number is 1-indexed.
	Number int

	// Err is the attempt's failure, nil on success.
	Err error

	// Delay is the backoff scheduled before the next attempt, zero when no
	// retry follows.
	Delay time.Duration
}

// Observer receives a record after every attempt. Used for event emission.
type Observer func(Attempt)

// Do runs fn under the policy's attempt loop. The backoff sleep respects
// context cancellation; a cancelled context ends the loop with ctx.Err().
// On exhaustion the last error is returned.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	return DoWithObserver(ctx, p, nil, fn)
}

// DoWithObserver is Do with a per-attempt callback.
func DoWithObserver[T any](ctx context.Context, p Policy, obs Observer, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			if obs != nil {
				obs(Attempt{Number: attempt})
			}
			return result, nil
		}
		lastErr = err

		retrying := ShouldRetry(p, attempt, err)
		var delay time.Duration
		if retrying {
			delay = NextDelay(p, attempt)
		}
		if obs != nil {
			obs(Attempt{Number: attempt, Err: err, Delay: delay})
		}
		if !retrying {
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

// IsTransient reports whether err is worth retrying. Explicit categorization
// through weave.Transient/weave.Permanent wins; context cancellation never
// retries; uncategorized errors default to transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return weave.IsTransient(err)
}
