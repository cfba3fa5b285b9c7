package weave

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrPipelineTimeout indicates the whole-run deadline elapsed before all
// steps reached a terminal state.
var ErrPipelineTimeout = errors.New("weave: pipeline timeout exceeded")

// ErrAborted indicates the run was cancelled via Abort.
var ErrAborted = errors.New("weave: run aborted")

// ErrEmptyQuery indicates an analysis request with no query text.
var ErrEmptyQuery = errors.New("weave: empty query")

// GraphError reports an invalid workflow definition. It is returned at
// registration time; a definition that produces a GraphError never begins
// execution.
type GraphError struct {
	WorkflowID string
	StepID     string // offending step, if attributable
	Reason     string
}

func (e *GraphError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("weave: invalid workflow %q: step %q: %s", e.WorkflowID, e.StepID, e.Reason)
	}
	return fmt.Sprintf("weave: invalid workflow %q: %s", e.WorkflowID, e.Reason)
}

// StepErrorKind distinguishes how a step failed.
type StepErrorKind string

const (
	// StepTimedOut means the step exceeded its timeout. The underlying call
	// may still be running; its result is discarded.
	StepTimedOut StepErrorKind = "timeout"

	// StepExecution means the agent, webhook, or transform failed.
	StepExecution StepErrorKind = "execution"

	// StepRetriesExhausted is the terminal form of an execution failure after
	// the retry policy's maximum attempts.
	StepRetriesExhausted StepErrorKind = "retries_exhausted"
)

// StepError is the terminal error recorded against a failed step.
type StepError struct {
	StepID   string
	Kind     StepErrorKind
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	switch e.Kind {
	case StepTimedOut:
		return fmt.Sprintf("weave: step %q timed out: %v", e.StepID, e.Err)
	case StepRetriesExhausted:
		return fmt.Sprintf("weave: step %q failed after %d attempts: %v", e.StepID, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("weave: step %q failed: %v", e.StepID, e.Err)
	}
}

func (e *StepError) Unwrap() error { return e.Err }

// AggregationError means the result aggregator itself failed. It is fatal to
// the run; no partial result is produced.
type AggregationError struct {
	Err error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("weave: result aggregation failed: %v", e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// CategorizedError is implemented by errors that carry an explicit retry
// verdict. Wrapping with Transient or Permanent is the usual way to produce
// one.
type CategorizedError interface {
	error
	Retryable() bool
}

// categorized wraps an error with an explicit retryability verdict.
type categorized struct {
	err       error
	retryable bool
}

func (c *categorized) Error() string   { return c.err.Error() }
func (c *categorized) Unwrap() error   { return c.err }
func (c *categorized) Retryable() bool { return c.retryable }

// Transient marks an error as retryable regardless of its type.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &categorized{err: err, retryable: true}
}

// Permanent marks an error as not worth retrying. The step executor wraps
// transform logic errors this way so deterministic failures are not re-run.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &categorized{err: err, retryable: false}
}

// IsCategorized reports whether err carries an explicit retryability
// verdict, from Transient, Permanent, or any type exposing Retryable.
func IsCategorized(err error) bool {
	var cat CategorizedError
	return errors.As(err, &cat)
}

// IsTransient reports whether err should be retried.
//
// Explicit categorization (Transient/Permanent, or any error exposing
// Retryable() bool) wins. Context cancellation and deadline expiry are never
// retried. Everything else defaults to transient: agent and webhook failures
// are retryable per policy unless the producer says otherwise.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var cat CategorizedError
	if errors.As(err, &cat) {
		return cat.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}
