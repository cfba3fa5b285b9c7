// Package anthropic provides a weave.Agent backed by the Anthropic API.
//
// The agent builds an analysis prompt from the run's execution context and
// the upstream step outputs, asks the model for a narrative, and returns it
// with a fixed confidence. It serves both as an AgentCall target in a
// workflow and as the legacy single-agent fallback on the pipeline facade.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/spetersoncode/weave"
)

const DefaultModel = "claude-sonnet-4-20250514"

// DefaultConfidence is reported on every successful call. A language model
// narrating pre-computed statistics adds no statistical certainty of its
// own, so the value is fixed rather than model-derived.
const DefaultConfidence = 0.75

// Agent implements weave.Agent via the Anthropic SDK.
type Agent struct {
	client     *anthropic.Client
	model      string
	maxTokens  int64
	confidence float64
	system     string
}

// Option configures the agent.
type Option func(*Agent)

// WithAPIKey sets the API key explicitly instead of using the
// ANTHROPIC_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(a *Agent) {
		client := anthropic.NewClient(option.WithAPIKey(key))
		a.client = &client
	}
}

// WithModel sets the model for requests.
func WithModel(model string) Option {
	return func(a *Agent) { a.model = model }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int64) Option {
	return func(a *Agent) { a.maxTokens = n }
}

// WithConfidence overrides the fixed confidence reported on success.
func WithConfidence(c float64) Option {
	return func(a *Agent) { a.confidence = c }
}

// WithSystemPrompt replaces the default analyst system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.system = prompt }
}

// New creates an Anthropic-backed analysis agent. It reads the API key from
// the ANTHROPIC_API_KEY environment variable unless WithAPIKey is given.
func New(opts ...Option) *Agent {
	a := &Agent{
		model:      DefaultModel,
		maxTokens:  4096,
		confidence: DefaultConfidence,
		system:     defaultSystem,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		client := anthropic.NewClient()
		a.client = &client
	}
	return a
}

const defaultSystem = "You are a manufacturing analysis assistant. Answer " +
	"concisely from the provided data; when the data is insufficient, say so " +
	"instead of guessing."

// Execute asks the model to answer the run's query from the upstream step
// outputs. API errors are returned as-is: the SDK's errors carry status
// information and the retry layer treats them as transient by default.
func (a *Agent) Execute(ctx context.Context, ec *weave.ExecutionContext, upstream map[string]any) (*weave.AgentResult, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: a.system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(ec, upstream))),
		},
	})
	if err != nil {
		return nil, err
	}

	content := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	if content == "" {
		return nil, weave.Permanent(fmt.Errorf("anthropic: empty response from %s", a.model))
	}

	return &weave.AgentResult{
		Content:    content,
		Confidence: a.confidence,
		Metadata: map[string]any{
			"model":         a.model,
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		},
	}, nil
}

// buildPrompt renders the query, the analysis window, and the upstream step
// outputs into one user message.
func buildPrompt(ec *weave.ExecutionContext, upstream map[string]any) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Query: %s\n", ec.Query)
	if ec.AnalysisType != "" {
		fmt.Fprintf(&b, "Analysis type: %s\n", ec.AnalysisType)
	}
	if !ec.TimeRange.IsZero() {
		fmt.Fprintf(&b, "Time range: %s to %s\n",
			ec.TimeRange.Start.Format("2006-01-02 15:04"),
			ec.TimeRange.End.Format("2006-01-02 15:04"))
	}

	if len(upstream) > 0 {
		b.WriteString("\nUpstream results:\n")
		for id, out := range upstream {
			switch v := out.(type) {
			case *weave.AgentResult:
				fmt.Fprintf(&b, "- %s: %s\n", id, v.Content)
			default:
				fmt.Fprintf(&b, "- %s: %v\n", id, v)
			}
		}
	}
	return b.String()
}
