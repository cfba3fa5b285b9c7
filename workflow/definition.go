package workflow

import (
	"net/http"
	"time"

	"github.com/spetersoncode/weave"
	"github.com/spetersoncode/weave/retry"
)

// Definition is the immutable, reusable template for a pipeline: triggers,
// steps, and policies. A definition is validated once at registration and
// shared across runs; nothing mutates it afterwards.
type Definition struct {
	ID       string
	Name     string
	Version  string
	Priority int

	// Triggers describe when a run should start. Delivery (cron daemon,
	// event bus, HTTP endpoint) lives outside this module; the orchestrator
	// only consumes resolved "run now" invocations.
	Triggers []Trigger

	Steps []Step

	// RetryPolicy is the default for steps that do not override it. Nil
	// means single attempts.
	RetryPolicy *retry.Policy

	// Timeout bounds the whole run. Zero means unbounded.
	Timeout time.Duration

	Metadata map[string]any
}

// TriggerType identifies how a run is initiated.
type TriggerType string

const (
	TriggerSchedule TriggerType = "schedule"
	TriggerEvent    TriggerType = "event"
	TriggerHTTP     TriggerType = "http"
)

// Trigger is one way a workflow run can be initiated. It is declarative data
// only.
type Trigger struct {
	Type TriggerType

	// Schedule is a cron expression, for TriggerSchedule.
	Schedule string

	// EventType and Filter select events, for TriggerEvent.
	EventType string
	Filter    map[string]any

	// Endpoint is the HTTP path, for TriggerHTTP.
	Endpoint string
}

// StepKind is the closed set of step variants. The executor dispatches on it
// exhaustively; adding a kind is a compile-visible change.
type StepKind string

const (
	KindAgentCall StepKind = "agent_call"
	KindParallel  StepKind = "parallel"
	KindTransform StepKind = "transform"
	KindWebhook   StepKind = "webhook"
	KindDelay     StepKind = "delay"
)

// Step is one node in the workflow graph. Exactly one kind config must be
// set, matching Kind.
type Step struct {
	ID   string
	Name string
	Kind StepKind

	// DependsOn lists the step ids that must reach a terminal state before
	// this step is considered. A failed or skipped dependency skips this
	// step in turn.
	DependsOn []string

	// Condition, when non-empty, gates execution: it is parsed at
	// registration time and evaluated against the committed step-output map
	// when the step becomes ready. False skips the step without executing it.
	Condition string

	// Critical marks a step whose terminal failure aborts the entire run
	// instead of being contained to its dependents.
	Critical bool

	// Retry overrides the definition's default policy for this step.
	Retry *retry.Policy

	// Timeout is the per-attempt deadline. Zero falls back to the
	// orchestrator's default step timeout, if any.
	Timeout time.Duration

	Agent     *AgentCallConfig
	Parallel  *ParallelConfig
	Transform *TransformConfig
	Webhook   *WebhookConfig
	Delay     *DelayConfig
}

// AgentCallConfig names the registered agent an agent-call step invokes.
type AgentCallConfig struct {
	AgentName string
}

// ParallelConfig nests a list of steps executed concurrently as an
// independent sub-graph. The enclosing step is a single node in the outer
// graph: its dependents wait for every nested step to finish.
type ParallelConfig struct {
	Steps []Step

	// AllOrNothing fails the block when any nested step fails. The default
	// tolerates partial failure: the block succeeds with the outputs that
	// survived.
	AllOrNothing bool
}

// TransformFunc is a pure, synchronous data-reshaping function. Logical
// errors are not retried; wrap an error with weave.Transient to opt a
// resource-exhaustion failure back into the retry policy.
type TransformFunc func(ec *weave.ExecutionContext, upstream map[string]any) (any, error)

// TransformConfig holds the function a transform step applies.
type TransformConfig struct {
	Func TransformFunc
}

// WebhookConfig describes the outbound call a webhook step performs. Any
// placeholder resolution in URL or headers happens before the definition is
// registered. A non-2xx response or a network error is a failed attempt,
// eligible for retry.
type WebhookConfig struct {
	URL     string
	Method  string
	Headers map[string]string

	// Body, when non-nil, is JSON-encoded into the request.
	Body any

	// Client overrides the default HTTP client, mainly for tests.
	Client *http.Client
}

// DelayConfig suspends the step for a fixed duration. Delay steps always
// succeed; they exist to let eventual consistency settle before a
// verification step.
type DelayConfig struct {
	Duration time.Duration
}
