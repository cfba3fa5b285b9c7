// Package weave provides dependency-graph workflow orchestration for
// multi-agent analysis pipelines.
//
// A workflow is a directed acyclic graph of heterogeneous steps: agent calls,
// parallel blocks, data transforms, outbound webhooks, and delays. The
// orchestrator in the [github.com/spetersoncode/weave/workflow] package computes
// a valid execution order, runs independent branches concurrently, applies
// per-step retry policies and timeouts, and reduces the surviving step outputs
// into a single aggregated result.
//
// This root package holds the types shared across subpackages: the Agent
// contract, the per-run ExecutionContext, analysis result types, and the error
// taxonomy.
//
// # Core Interfaces
//
//   - [Agent]: the contract an external analysis unit satisfies to be invoked
//     by an agent-call step
//   - [ExecutionContext]: per-run state, including the accumulated map of
//     committed step outputs
//
// # Basic Usage
//
// Register agents and a workflow definition, then run a query through the
// pipeline facade:
//
//	agents := agent.NewRegistry()
//	agents.Register("quality", "Analyzes quality metrics", qualityAgent)
//
//	workflows := workflow.NewRegistry()
//	if err := workflows.Register(def); err != nil {
//	    log.Fatal(err) // invalid graphs are rejected at load time
//	}
//
//	p := pipeline.New(workflows, agents, pipeline.WithDefaultWorkflow(def.ID))
//	resp, err := p.Run(ctx, pipeline.Request{Query: "Why did quality drop?"})
//
// See the workflow and pipeline package documentation for the orchestration
// details.
package weave
