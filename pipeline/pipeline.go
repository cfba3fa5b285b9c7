// Package pipeline is the entry point for callers: it turns an "analyze this
// query" request into a workflow run and a user-facing response.
//
// The facade builds the per-run ExecutionContext, classifies the query into
// an analysis type, selects a registered workflow, and executes it through
// the orchestrator. A hard orchestration failure falls back to a single
// legacy agent when one is configured; contained step failures do not.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/spetersoncode/weave"
	"github.com/spetersoncode/weave/agent"
	"github.com/spetersoncode/weave/event"
	"github.com/spetersoncode/weave/workflow"
)

// Request is one analysis invocation. Only Query is required.
type Request struct {
	Query     string
	UserID    string
	TenantID  string
	SessionID string

	// TimeRange defaults to the trailing 24 hours when nil.
	TimeRange *weave.TimeRange

	// AnalysisType overrides keyword classification when non-empty.
	AnalysisType weave.AnalysisType

	// WorkflowID overrides workflow selection when non-empty.
	WorkflowID string

	// Preferences is passed through to agents untouched.
	Preferences map[string]any
}

// Response is the user-facing outcome of one run.
type Response struct {
	SessionID      string
	Content        string
	Confidence     float64
	Visualizations []weave.Visualization
	References     []weave.Reference
	AnalysisType   weave.AnalysisType
	ExecutionTime  time.Duration
	DataPoints     int

	// Fallback reports that the legacy single-agent path produced this
	// response after the orchestrated run failed outright.
	Fallback bool
}

// Status is a point-in-time observability snapshot of the current run.
type Status struct {
	Stage string
	Steps map[string]workflow.StepState
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFallback installs the legacy single-agent path used when the
// orchestrated run fails outright.
func WithFallback(a weave.Agent) Option {
	return func(p *Pipeline) { p.fallback = a }
}

// WithDefaultWorkflow sets the workflow used when neither the request nor
// the analysis type selects one.
func WithDefaultWorkflow(id string) Option {
	return func(p *Pipeline) { p.defaultWorkflow = id }
}

// WithClock replaces the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithEvents forwards orchestration events to ch.
func WithEvents(ch chan<- event.Event) Option {
	return func(p *Pipeline) { p.events = ch }
}

// WithMaxConcurrency caps concurrently executing leaf steps per run.
func WithMaxConcurrency(n int) Option {
	return func(p *Pipeline) { p.maxConcurrency = n }
}

// Pipeline is the facade over the workflow and agent registries. Safe for
// concurrent use; Status reports the most recently started run.
type Pipeline struct {
	workflows *workflow.Registry
	agents    *agent.Registry

	fallback        weave.Agent
	defaultWorkflow string
	now             func() time.Time
	events          chan<- event.Event
	maxConcurrency  int

	orch *workflow.Orchestrator
}

// New creates a pipeline over registered workflows and agents.
func New(workflows *workflow.Registry, agents *agent.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		workflows: workflows,
		agents:    agents,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	var orchOpts []workflow.Option
	if p.maxConcurrency > 0 {
		orchOpts = append(orchOpts, workflow.WithMaxConcurrency(p.maxConcurrency))
	}
	if p.events != nil {
		orchOpts = append(orchOpts, workflow.WithEvents(p.events))
	}
	p.orch = workflow.New(agents, orchOpts...)
	return p
}

// Run executes one analysis request end to end.
//
// The returned error is reserved for invalid requests; orchestration
// failures are absorbed into the fallback path or the zero-confidence
// response, so operators see a degraded answer rather than an opaque error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	if req.Query == "" {
		return nil, weave.ErrEmptyQuery
	}
	start := p.now()

	ec := p.buildContext(req)

	c := p.selectWorkflow(req, ec.AnalysisType)
	if c == nil {
		return p.recover(ctx, ec, start), nil
	}

	result, err := p.orch.Execute(ctx, c, ec)
	if err != nil {
		return p.recover(ctx, ec, start), nil
	}

	return &Response{
		SessionID:      ec.SessionID,
		Content:        result.Content,
		Confidence:     result.Confidence,
		Visualizations: result.Visualizations,
		References:     result.References,
		AnalysisType:   ec.AnalysisType,
		ExecutionTime:  time.Since(start),
		DataPoints:     result.DataPoints,
	}, nil
}

// Status reports the facade view of the current run.
func (p *Pipeline) Status() Status {
	rs := p.orch.Status()
	return Status{Stage: rs.Stage, Steps: rs.Steps}
}

// Abort cooperatively cancels the current run.
func (p *Pipeline) Abort() {
	p.orch.Abort()
}

// buildContext assembles the per-run ExecutionContext: generated session id,
// default trailing-24h time range, classified analysis type.
func (p *Pipeline) buildContext(req Request) *weave.ExecutionContext {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	ec := weave.NewExecutionContext(sessionID, req.Query)
	ec.UserID = req.UserID
	ec.TenantID = req.TenantID
	ec.Preferences = req.Preferences

	if req.TimeRange != nil && !req.TimeRange.IsZero() {
		ec.TimeRange = *req.TimeRange
	} else {
		ec.TimeRange = weave.DefaultTimeRange(p.now())
	}

	if req.AnalysisType != "" {
		ec.AnalysisType = req.AnalysisType
	} else {
		ec.AnalysisType = Classify(req.Query)
	}
	return ec
}

// selectWorkflow resolves the compiled workflow for a request: explicit id,
// then a workflow registered under the analysis type, then the configured
// default. Nil means no workflow can serve the request.
func (p *Pipeline) selectWorkflow(req Request, atype weave.AnalysisType) *workflow.Compiled {
	if req.WorkflowID != "" {
		return p.workflows.Get(req.WorkflowID)
	}
	if c := p.workflows.Get(string(atype)); c != nil {
		return c
	}
	if p.defaultWorkflow != "" {
		return p.workflows.Get(p.defaultWorkflow)
	}
	return nil
}

// recover produces the degraded response after a hard orchestration failure:
// the legacy fallback agent when configured, otherwise a fixed
// zero-confidence message.
func (p *Pipeline) recover(ctx context.Context, ec *weave.ExecutionContext, start time.Time) *Response {
	resp := &Response{
		SessionID:    ec.SessionID,
		AnalysisType: ec.AnalysisType,
		Fallback:     true,
	}
	defer func() { resp.ExecutionTime = time.Since(start) }()

	if p.fallback != nil {
		ar, err := p.fallback.Execute(ctx, ec, ec.Outputs())
		if err == nil && ar != nil {
			resp.Content = ar.Content
			resp.Confidence = ar.Confidence
			resp.Visualizations = ar.Visualizations
			resp.References = ar.References
			resp.DataPoints = ar.DataPoints
			return resp
		}
	}

	resp.Content = "The analysis could not be completed. Please try again or narrow the question."
	resp.Confidence = 0
	return resp
}
