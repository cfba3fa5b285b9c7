package weave

import (
	"sync"

	"github.com/spetersoncode/weave/bus"
)

// ExecutionContext is the per-run state handed to every step and agent.
//
// It is created once per invocation, before scheduling starts, and discarded
// when the run's result is returned. The identifying fields are immutable
// after creation. The step-output map is the one accumulating part: the
// orchestrator commits a step's output exactly once, after the step reaches a
// terminal state, so readers only ever observe complete entries.
type ExecutionContext struct {
	SessionID    string
	UserID       string
	TenantID     string
	Query        string
	TimeRange    TimeRange
	AnalysisType AnalysisType

	// Preferences carries caller-supplied knobs that agents may consult.
	Preferences map[string]any

	// Bus is the run-scoped communication channel between concurrently
	// executing steps and agents. It is passed explicitly, never ambient.
	Bus *bus.Bus

	mu   sync.RWMutex
	data map[string]any
}

// NewExecutionContext creates a run context with an attached communication
// bus and an empty output map.
func NewExecutionContext(sessionID, query string) *ExecutionContext {
	return &ExecutionContext{
		SessionID: sessionID,
		Query:     query,
		Bus:       bus.New(),
		data:      make(map[string]any),
	}
}

// Output returns the committed output of a terminal step.
func (ec *ExecutionContext) Output(stepID string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.data[stepID]
	return v, ok
}

// Outputs returns a snapshot of all committed step outputs, keyed by step id.
// The returned map is a copy; mutating it does not affect the run.
func (ec *ExecutionContext) Outputs() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]any, len(ec.data))
	for k, v := range ec.data {
		out[k] = v
	}
	return out
}

// Commit records a terminal step's output. It is called by the orchestrator
// only, immediately after the step's state transition; concurrent writers for
// the same run do not exist.
func (ec *ExecutionContext) Commit(stepID string, output any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.data[stepID] = output
}
