package workflow

import (
	"time"

	"github.com/spetersoncode/weave"
)

// StepState is the scheduling state of one step within a run.
type StepState string

const (
	StatePending   StepState = "pending"
	StateReady     StepState = "ready"
	StateRunning   StepState = "running"
	StateSucceeded StepState = "succeeded"
	StateFailed    StepState = "failed"
	StateSkipped   StepState = "skipped"
)

// Terminal reports whether the state is final.
func (s StepState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// RunState is the overall outcome of a run.
type RunState string

const (
	// RunRunning is the transient state reported by status queries.
	RunRunning RunState = "running"

	// RunCompleted means scheduling finished; contained, non-critical step
	// failures do not demote it.
	RunCompleted RunState = "completed"

	// RunFailed means a critical step or the aggregator failed.
	RunFailed RunState = "failed"

	// RunAborted means the pipeline timeout elapsed or Abort was called.
	RunAborted RunState = "aborted"
)

// StepResult is the terminal outcome of one step.
type StepResult struct {
	StepID string
	Status StepState

	// Output is the step's payload: a *weave.AgentResult for agent calls,
	// the transform's return value, the webhook response, or the nested
	// output map for parallel blocks. Nil for skipped steps.
	Output any

	// Err is set when Status is StateFailed. Its reason is also carried for
	// skipped steps via Reason.
	Err error

	// Reason explains a skip in one human-readable clause.
	Reason string

	// Attempts counts executed attempts, 1-indexed. Zero for skipped steps.
	Attempts int

	Started time.Time
	Ended   time.Time
}

// PipelineResult is the aggregated, user-facing outcome of one run.
type PipelineResult struct {
	WorkflowID string
	SessionID  string
	Status     RunState

	// Steps maps every step id (nested included) to its terminal result.
	Steps map[string]*StepResult

	// Content is the aggregated narrative from succeeded agent steps, in
	// dependency order.
	Content string

	// Confidence is the minimum confidence reported by any succeeded step
	// that contributed to Content. The weakest link bounds trust in the
	// composite answer.
	Confidence float64

	Visualizations []weave.Visualization
	References     []weave.Reference

	// DataPoints totals the processed data points reported across steps.
	DataPoints int

	// FailureSummary lists skipped and failed steps with their reasons,
	// without exposing the internal topology. Empty when everything ran.
	FailureSummary string

	// Errors accumulates the terminal step errors and any pipeline-level
	// error, in no particular order.
	Errors []error

	Elapsed time.Duration
}

// RunStatus is a point-in-time snapshot for the status query.
type RunStatus struct {
	RunID string

	// Stage is "idle", "scheduling", "aggregating", or "done".
	Stage string

	State RunState
	Steps map[string]StepState
}
