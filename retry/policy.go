// Package retry decides whether and when a failed unit of work runs again.
//
// A Policy describes the attempt budget and the backoff curve; ShouldRetry and
// NextDelay are the pure decision functions, and Do wraps a function with the
// full attempt loop. Attempts are 1-indexed: the initial call is attempt 1.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff selects the delay curve between attempts.
type Backoff string

const (
	// BackoffFixed waits InitialDelay between every attempt.
	BackoffFixed Backoff = "fixed"

	// BackoffLinear waits InitialDelay * attempt, capped at MaxDelay.
	BackoffLinear Backoff = "linear"

	// BackoffExponential waits InitialDelay * Multiplier^(attempt-1), capped
	// at MaxDelay.
	BackoffExponential Backoff = "exponential"
)

// Policy holds retry configuration for one step or one workflow default.
type Policy struct {
	// MaxAttempts is the total attempt budget, including the initial call.
	// Must be at least 1.
	MaxAttempts int

	// Backoff selects the delay curve. Empty means BackoffExponential.
	Backoff Backoff

	// InitialDelay is the base delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay for linear and exponential curves.
	// Zero means no cap.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor. Values below 1 are treated
	// as 2.
	Multiplier float64

	// Jitter randomizes the delay by up to the given fraction in either
	// direction. Zero keeps delays strictly deterministic and monotone;
	// enable it only when thundering-herd protection matters more than the
	// monotonicity guarantee.
	Jitter float64
}

// Default returns the policy applied when a definition specifies none:
// 3 attempts with exponential backoff from 500ms, capped at 10s.
func Default() Policy {
	return Policy{
		MaxAttempts:  3,
		Backoff:      BackoffExponential,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Disabled returns a single-attempt policy.
func Disabled() Policy {
	return Policy{MaxAttempts: 1}
}

// ShouldRetry reports whether another attempt is allowed after attempt
// (1-indexed) failed with err. It is false once the attempt budget is spent
// or the error is categorized as permanent.
func ShouldRetry(p Policy, attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return IsTransient(err)
}

// NextDelay computes the backoff delay applied after attempt (1-indexed)
// fails. For linear and exponential curves the result is non-decreasing in
// attempt and capped at MaxDelay; jitter, when configured, is applied last.
func NextDelay(p Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay float64
	switch p.Backoff {
	case BackoffFixed:
		delay = float64(p.InitialDelay)
	case BackoffLinear:
		delay = float64(p.InitialDelay) * float64(attempt)
	default:
		mult := p.Multiplier
		if mult < 1 {
			mult = 2.0
		}
		delay = float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter > 0 {
		delay *= 1 + (rand.Float64()*2-1)*p.Jitter
	}

	return time.Duration(delay)
}
