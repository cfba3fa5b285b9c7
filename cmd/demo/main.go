package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spetersoncode/weave"
	"github.com/spetersoncode/weave/agent"
	"github.com/spetersoncode/weave/agents/anthropic"
	"github.com/spetersoncode/weave/event"
	"github.com/spetersoncode/weave/pipeline"
	"github.com/spetersoncode/weave/workflow"
)

func main() {
	godotenv.Load()

	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║     weave - Workflow Engine Demo       ║")
	fmt.Println("╚════════════════════════════════════════╝")
	fmt.Println()

	agents := agent.NewRegistry().
		Register("downtime-stats", "Aggregates downtime events per machine", statsAgent("downtime", map[string]float64{
			"press-1": 42, "press-2": 7, "lathe-4": 104,
		})).
		Register("production-stats", "Counts produced units per shift", statsAgent("production", map[string]float64{
			"shift-a": 1180, "shift-b": 1034, "shift-c": 897,
		})).
		Register("quality-stats", "Computes scrap and rework rates", statsAgent("quality", map[string]float64{
			"scrap_pct": 2.1, "rework_pct": 0.8,
		}))

	var fallback weave.Agent
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		fmt.Println("Narrative agent: Anthropic (Claude)")
		narrative := anthropic.New()
		agents.Register("narrative", "Turns statistics into an answer", narrative)
		fallback = narrative
	} else {
		fmt.Println("Narrative agent: offline stub (set ANTHROPIC_API_KEY for real narration)")
		agents.Register("narrative", "Turns statistics into an answer", stubNarrative())
	}
	fmt.Println()

	workflows := workflow.NewRegistry()
	if err := workflows.Register(sampleWorkflow()); err != nil {
		fmt.Fprintf(os.Stderr, "invalid workflow: %v\n", err)
		os.Exit(1)
	}

	events := event.NewChannel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			printEvent(e)
		}
	}()

	p := pipeline.New(workflows, agents,
		pipeline.WithDefaultWorkflow("general"),
		pipeline.WithEvents(events),
		pipeline.WithFallback(fallback),
	)

	query := "What drove downtime and quality losses in the last 24 hours?"
	if len(os.Args) > 1 {
		query = strings.Join(os.Args[1:], " ")
	}
	fmt.Printf("Query: %s\n\n", query)

	resp, err := p.Run(context.Background(), pipeline.Request{Query: query})
	close(events)
	<-done
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("─── Result ─────────────────────────────")
	fmt.Println(resp.Content)
	fmt.Println("────────────────────────────────────────")
	fmt.Printf("analysis=%s confidence=%.2f data_points=%d elapsed=%s fallback=%v\n",
		resp.AnalysisType, resp.Confidence, resp.DataPoints, resp.ExecutionTime.Round(time.Millisecond), resp.Fallback)
}

// sampleWorkflow fans out over the statistics agents, lets the stores settle,
// and narrates the combined picture. The narration step is gated on the
// downtime numbers actually arriving.
func sampleWorkflow() *workflow.Definition {
	return &workflow.Definition{
		ID:      "general",
		Name:    "Production analysis",
		Version: "1",
		Timeout: 2 * time.Minute,
		Steps: []workflow.Step{
			{
				ID:   "collect",
				Kind: workflow.KindParallel,
				Parallel: &workflow.ParallelConfig{
					Steps: []workflow.Step{
						{ID: "downtime", Kind: workflow.KindAgentCall, Agent: &workflow.AgentCallConfig{AgentName: "downtime-stats"}},
						{ID: "production", Kind: workflow.KindAgentCall, Agent: &workflow.AgentCallConfig{AgentName: "production-stats"}},
						{ID: "quality", Kind: workflow.KindAgentCall, Agent: &workflow.AgentCallConfig{AgentName: "quality-stats"}},
					},
				},
			},
			{
				ID:        "settle",
				Kind:      workflow.KindDelay,
				DependsOn: []string{"collect"},
				Delay:     &workflow.DelayConfig{Duration: 200 * time.Millisecond},
			},
			{
				ID:        "narrate",
				Kind:      workflow.KindAgentCall,
				DependsOn: []string{"settle"},
				Condition: "downtime.confidence > 0.5",
				Agent:     &workflow.AgentCallConfig{AgentName: "narrative"},
			},
		},
	}
}

// statsAgent fabricates plausible numbers for the demo, publishing each
// metric on the bus as it would stream in from a real store.
func statsAgent(kind string, metrics map[string]float64) weave.Agent {
	return weave.AgentFunc(func(ctx context.Context, ec *weave.ExecutionContext, _ map[string]any) (*weave.AgentResult, error) {
		var lines []string
		points := 0
		for name, base := range metrics {
			v := base * (0.9 + 0.2*rand.Float64())
			lines = append(lines, fmt.Sprintf("%s=%.1f", name, v))
			points += 10 + rand.Intn(40)
			ec.Bus.Publish("metrics."+kind, map[string]any{"name": name, "value": v})
		}
		return &weave.AgentResult{
			Content:    fmt.Sprintf("%s: %s", kind, strings.Join(lines, ", ")),
			Confidence: 0.9,
			DataPoints: points,
		}, nil
	})
}

func stubNarrative() weave.Agent {
	return weave.AgentFunc(func(ctx context.Context, ec *weave.ExecutionContext, upstream map[string]any) (*weave.AgentResult, error) {
		var parts []string
		for id, out := range upstream {
			if ar, ok := out.(*weave.AgentResult); ok {
				parts = append(parts, fmt.Sprintf("%s reported %s", id, ar.Content))
			}
		}
		return &weave.AgentResult{
			Content:    "Offline summary. " + strings.Join(parts, "; ") + ".",
			Confidence: 0.6,
		}, nil
	})
}

func printEvent(e event.Event) {
	switch e.Type {
	case event.StepStart:
		fmt.Printf("  ▸ %s started\n", e.StepID)
	case event.StepEnd:
		fmt.Printf("  ✓ %s done (attempt %d)\n", e.StepID, e.Attempt)
	case event.StepFailed:
		fmt.Printf("  ✗ %s failed: %v\n", e.StepID, e.Err)
	case event.StepSkipped:
		fmt.Printf("  - %s skipped: %s\n", e.StepID, e.Message)
	case event.RetryScheduled:
		fmt.Printf("  ↻ %s retry in %s after: %v\n", e.StepID, e.Delay, e.Err)
	}
}
