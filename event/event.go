// Package event provides the observable event stream emitted while a
// workflow run is scheduled and executed. Callers attach a channel via the
// orchestrator or pipeline options; emission is non-blocking, so a slow
// consumer drops events rather than stalling the scheduler.
package event

import "time"

// Type identifies the kind of event.
type Type string

// Run lifecycle events
const (
	// RunStart fires when the orchestrator begins scheduling a run.
	RunStart Type = "run_start"

	// RunEnd fires when the run's result is final.
	RunEnd Type = "run_end"

	// RunError fires on a pipeline-level failure (timeout, abort, critical
	// step failure, aggregation error).
	RunError Type = "run_error"
)

// Step lifecycle events
const (
	// StepStart fires when a step's first attempt is dispatched.
	StepStart Type = "step_start"

	// StepEnd fires when a step succeeds.
	StepEnd Type = "step_end"

	// StepFailed fires when a step fails terminally.
	StepFailed Type = "step_failed"

	// StepSkipped fires when a step is skipped: a false condition, or a
	// failed or skipped dependency.
	StepSkipped Type = "step_skipped"
)

// Retry events
const (
	// RetryScheduled fires when a failed attempt will be retried after a
	// backoff delay.
	RetryScheduled Type = "retry_scheduled"
)

// Parallel block events
const (
	// ParallelStart fires when a parallel block begins its nested sub-graph.
	ParallelStart Type = "parallel_start"

	// ParallelEnd fires when all nested steps of a parallel block are
	// terminal.
	ParallelEnd Type = "parallel_end"
)

// Event records one observable occurrence during a run.
type Event struct {
	// Type identifies the kind of event.
	Type Type

	// StepID identifies the step for step-scoped events.
	StepID string

	// Attempt is the 1-indexed attempt number for step and retry events.
	Attempt int

	// Delay is the scheduled backoff for RetryScheduled events.
	Delay time.Duration

	// Err carries the failure for StepFailed, RetryScheduled, and RunError.
	Err error

	// Message holds additional context, such as a skip reason.
	Message string

	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Emit sends an event with a timestamp to ch without blocking; a full or nil
// channel drops the event.
func Emit(ch chan<- Event, e Event) {
	if ch == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case ch <- e:
	default:
	}
}

// NewChannel creates a buffered event channel with standard capacity.
func NewChannel() chan Event {
	return make(chan Event, 100)
}
