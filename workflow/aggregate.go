package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spetersoncode/weave"
)

// buildResult assembles the PipelineResult for a finished run: final status,
// the per-step result map, the aggregated narrative, and a failure summary.
func (r *run) buildResult(schedErr error) *PipelineResult {
	r.mu.Lock()
	steps := make(map[string]*StepResult, len(r.results))
	for id, res := range r.results {
		steps[id] = res
	}
	critical := r.criticalErr
	r.mu.Unlock()

	result := &PipelineResult{
		WorkflowID: r.c.def.ID,
		SessionID:  r.ec.SessionID,
		Status:     RunCompleted,
		Steps:      steps,
	}

	switch {
	case critical != nil:
		result.Status = RunFailed
	case errors.Is(schedErr, weave.ErrAborted) || errors.Is(schedErr, weave.ErrPipelineTimeout) || errors.Is(schedErr, context.Canceled):
		result.Status = RunAborted
	case schedErr != nil:
		result.Status = RunFailed
	}

	for _, res := range steps {
		if res.Err != nil {
			result.Errors = append(result.Errors, res.Err)
		}
	}
	if schedErr != nil && critical == nil {
		result.Errors = append(result.Errors, schedErr)
	}

	result.FailureSummary = failureSummary(r.c.order, steps)

	if err := r.aggregate(result); err != nil {
		// Aggregation failure is fatal per contract: demote the run.
		result.Status = RunFailed
		result.Errors = append(result.Errors, err)
		result.Content = ""
		result.Confidence = 0
	}
	return result
}

// aggregate walks the compiled topological order and merges the agent
// contributions of succeeded steps into the result. Confidence is the
// minimum across contributing steps; an empty run keeps zero.
func (r *run) aggregate(result *PipelineResult) error {
	var parts []string
	confidence := -1.0

	for _, id := range r.c.order {
		res := result.Steps[id]
		if res == nil || res.Status != StateSucceeded {
			continue
		}
		ar, ok := res.Output.(*weave.AgentResult)
		if !ok {
			continue
		}
		if ar == nil {
			return &weave.AggregationError{Err: fmt.Errorf("step %s: succeeded agent step carries a nil result", id)}
		}
		if ar.Confidence < 0 || ar.Confidence > 1 {
			return &weave.AggregationError{Err: fmt.Errorf("step %s: confidence %v outside [0,1]", id, ar.Confidence)}
		}

		if ar.Content != "" {
			parts = append(parts, ar.Content)
		}
		if confidence < 0 || ar.Confidence < confidence {
			confidence = ar.Confidence
		}
		result.Visualizations = append(result.Visualizations, ar.Visualizations...)
		result.References = append(result.References, ar.References...)
		result.DataPoints += ar.DataPoints
	}

	result.Content = strings.Join(parts, "\n\n")
	if confidence >= 0 {
		result.Confidence = confidence
	}
	return nil
}

// failureSummary renders the skipped and failed steps in topological order
// as one readable line per step.
func failureSummary(order []string, steps map[string]*StepResult) string {
	var b strings.Builder
	for _, id := range order {
		res := steps[id]
		if res == nil {
			continue
		}
		switch res.Status {
		case StateFailed:
			fmt.Fprintf(&b, "step %s failed: %v\n", id, res.Err)
		case StateSkipped:
			fmt.Fprintf(&b, "step %s skipped: %s\n", id, res.Reason)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}
