// Package workflow provides the definition model, load-time validation, and
// the orchestrator that executes dependency-graph pipelines.
//
// A Definition is an immutable template: a list of Steps whose DependsOn
// edges form a directed acyclic graph. Each step is one of five kinds:
//   - AgentCall: invokes a registered analysis agent with the run context
//   - Parallel: runs a nested sub-graph of steps concurrently as one node
//   - Transform: applies a pure data-reshaping function to upstream outputs
//   - Webhook: delivers a payload to an external HTTP endpoint
//   - Delay: waits a fixed duration, always succeeding
//
// # Validation
//
// Definitions are compiled once, at registration, never at run time. Compile
// rejects duplicate or empty step ids, dangling dependencies, cyclic graphs
// (nested parallel sub-graphs included), missing or ambiguous kind configs,
// unparsable conditions, and attempt budgets below one, each as a
// *weave.GraphError.
//
//	workflows := workflow.NewRegistry()
//	err := workflows.Register(&workflow.Definition{
//	    ID: "production",
//	    Steps: []workflow.Step{
//	        {ID: "stats", Kind: workflow.KindAgentCall,
//	            Agent: &workflow.AgentCallConfig{AgentName: "production-stats"}},
//	        {ID: "narrate", Kind: workflow.KindAgentCall,
//	            DependsOn: []string{"stats"},
//	            Condition: "stats.confidence > 0.5",
//	            Agent:     &workflow.AgentCallConfig{AgentName: "narrative"}},
//	    },
//	})
//
// # Execution
//
// The Orchestrator dispatches every step whose dependencies are terminal,
// running independent branches concurrently. A failed or skipped dependency
// skips its dependents; a false condition skips the step itself; a critical
// step failure fails the whole run; the definition's Timeout aborts it. Step
// attempts are wrapped by the retry package's policies, and outputs commit
// to the ExecutionContext only after the step reaches a terminal state.
//
//	o := workflow.New(agents, workflow.WithMaxConcurrency(8))
//	result, err := o.Execute(ctx, workflows.Get("production"), ec)
//
// The returned PipelineResult carries the per-step outcomes plus the
// aggregated narrative, with confidence bounded by the weakest contributing
// step.
package workflow
