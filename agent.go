package weave

import "context"

// Agent is the contract an external analysis unit satisfies to be invoked by
// an agent-call step.
//
// Execute receives the run's ExecutionContext and a snapshot of the outputs
// committed by the steps this call depends on, keyed by step id. It returns
// the analysis result or an error; implementations must not panic, and should
// surface internal, non-fatal problems through AgentResult.Errors rather than
// failing the call.
//
// The orchestrator applies the step's timeout through ctx; long-running
// implementations should honor cancellation.
type Agent interface {
	Execute(ctx context.Context, ec *ExecutionContext, upstream map[string]any) (*AgentResult, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, ec *ExecutionContext, upstream map[string]any) (*AgentResult, error)

// Execute calls f.
func (f AgentFunc) Execute(ctx context.Context, ec *ExecutionContext, upstream map[string]any) (*AgentResult, error) {
	return f(ctx, ec, upstream)
}
