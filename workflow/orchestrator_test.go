package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetersoncode/weave"
	"github.com/spetersoncode/weave/agent"
	"github.com/spetersoncode/weave/retry"
)

// okAgent returns a fixed result.
func okAgent(content string, confidence float64) weave.Agent {
	return weave.AgentFunc(func(context.Context, *weave.ExecutionContext, map[string]any) (*weave.AgentResult, error) {
		return &weave.AgentResult{Content: content, Confidence: confidence, DataPoints: 1}, nil
	})
}

// errAgent always fails with an uncategorized (transient by default) error.
func errAgent(msg string) weave.Agent {
	return weave.AgentFunc(func(context.Context, *weave.ExecutionContext, map[string]any) (*weave.AgentResult, error) {
		return nil, errors.New(msg)
	})
}

// blockingAgent waits for ctx cancellation.
func blockingAgent() weave.Agent {
	return weave.AgentFunc(func(ctx context.Context, _ *weave.ExecutionContext, _ map[string]any) (*weave.AgentResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func execute(t *testing.T, reg *agent.Registry, def *Definition, opts ...Option) (*PipelineResult, error) {
	t.Helper()
	c, err := Compile(def)
	require.NoError(t, err)
	ec := weave.NewExecutionContext("session-1", "test query")
	return New(reg, opts...).Execute(context.Background(), c, ec)
}

func TestExecuteLinearChain(t *testing.T) {
	reg := agent.NewRegistry().
		Register("a", "", okAgent("first", 0.9)).
		Register("b", "", okAgent("second", 0.7)).
		Register("c", "", okAgent("third", 0.8))

	def := &Definition{
		ID:    "chain",
		Steps: []Step{agentStep("a"), agentStep("b", "a"), agentStep("c", "b")},
	}

	result, err := execute(t, reg, def)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, result.Status)
	assert.Equal(t, "first\n\nsecond\n\nthird", result.Content)
	assert.Equal(t, 0.7, result.Confidence)
	assert.Equal(t, 3, result.DataPoints)
	assert.Empty(t, result.FailureSummary)
	assert.Equal(t, "session-1", result.SessionID)
	for _, id := range []string{"a", "b", "c"} {
		require.Contains(t, result.Steps, id)
		assert.Equal(t, StateSucceeded, result.Steps[id].Status)
	}
}

func TestJoinWaitsForAllDependencies(t *testing.T) {
	var aDone, bDone atomic.Bool
	reg := agent.NewRegistry().
		Register("fast", "", weave.AgentFunc(func(context.Context, *weave.ExecutionContext, map[string]any) (*weave.AgentResult, error) {
			aDone.Store(true)
			return &weave.AgentResult{Content: "fast", Confidence: 1}, nil
		})).
		Register("slow", "", weave.AgentFunc(func(context.Context, *weave.ExecutionContext, map[string]any) (*weave.AgentResult, error) {
			time.Sleep(50 * time.Millisecond)
			bDone.Store(true)
			return &weave.AgentResult{Content: "slow", Confidence: 1}, nil
		})).
		Register("join", "", weave.AgentFunc(func(_ context.Context, _ *weave.ExecutionContext, upstream map[string]any) (*weave.AgentResult, error) {
			if !aDone.Load() || !bDone.Load() {
				return nil, weave.Permanent(errors.New("join started before both dependencies finished"))
			}
			if _, ok := upstream["fast"]; !ok {
				return nil, weave.Permanent(errors.New("fast output missing from upstream"))
			}
			if _, ok := upstream["slow"]; !ok {
				return nil, weave.Permanent(errors.New("slow output missing from upstream"))
			}
			return &weave.AgentResult{Content: "joined", Confidence: 1}, nil
		}))

	def := &Definition{
		ID:    "join",
		Steps: []Step{agentStep("fast"), agentStep("slow"), agentStep("join", "fast", "slow")},
	}

	result, err := execute(t, reg, def)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, result.Status)
	assert.Equal(t, StateSucceeded, result.Steps["join"].Status)
}

func TestRetryExhaustionSkipsDependentsOnly(t *testing.T) {
	var attempts atomic.Int32
	reg := agent.NewRegistry().
		Register("flaky", "", weave.AgentFunc(func(context.Context, *weave.ExecutionContext, map[string]any) (*weave.AgentResult, error) {
			attempts.Add(1)
			return nil, errors.New("upstream unavailable")
		})).
		Register("dependent", "", okAgent("never runs", 1)).
		Register("independent", "", okAgent("fine", 0.95))

	flaky := agentStep("flaky")
	flaky.Retry = &retry.Policy{MaxAttempts: 3, Backoff: retry.BackoffFixed, InitialDelay: time.Millisecond}

	def := &Definition{
		ID:    "contain",
		Steps: []Step{flaky, agentStep("dependent", "flaky"), agentStep("independent")},
	}

	result, err := execute(t, reg, def)
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, result.Status)
	assert.EqualValues(t, 3, attempts.Load())

	var se *weave.StepError
	require.ErrorAs(t, result.Steps["flaky"].Err, &se)
	assert.Equal(t, weave.StepRetriesExhausted, se.Kind)
	assert.Equal(t, 3, se.Attempts)

	dep := result.Steps["dependent"]
	assert.Equal(t, StateSkipped, dep.Status)
	assert.Contains(t, dep.Reason, "flaky")

	assert.Equal(t, StateSucceeded, result.Steps["independent"].Status)
	assert.Equal(t, "fine", result.Content)
	assert.Contains(t, result.FailureSummary, "flaky")
	assert.Contains(t, result.FailureSummary, "dependent")
}

func TestParallelBlockPartialFailure(t *testing.T) {
	newReg := func() *agent.Registry {
		return agent.NewRegistry().
			Register("p1", "", okAgent("one", 0.9)).
			Register("p2", "", errAgent("boom")).
			Register("p3", "", okAgent("three", 0.8))
	}
	block := func(allOrNothing bool) *Definition {
		return &Definition{
			ID: "par",
			Steps: []Step{{
				ID:   "block",
				Kind: KindParallel,
				Parallel: &ParallelConfig{
					AllOrNothing: allOrNothing,
					Steps:        []Step{agentStep("p1"), agentStep("p2"), agentStep("p3")},
				},
			}},
		}
	}

	t.Run("tolerant by default", func(t *testing.T) {
		result, err := execute(t, newReg(), block(false))
		require.NoError(t, err)
		assert.Equal(t, RunCompleted, result.Status)
		assert.Equal(t, StateSucceeded, result.Steps["block"].Status)
		assert.Equal(t, StateFailed, result.Steps["p2"].Status)

		outputs, ok := result.Steps["block"].Output.(map[string]any)
		require.True(t, ok)
		assert.Len(t, outputs, 2)
		assert.Contains(t, outputs, "p1")
		assert.Contains(t, outputs, "p3")
	})

	t.Run("all or nothing", func(t *testing.T) {
		result, err := execute(t, newReg(), block(true))
		require.NoError(t, err)
		assert.Equal(t, RunCompleted, result.Status)
		assert.Equal(t, StateFailed, result.Steps["block"].Status)
		assert.Contains(t, result.Steps["block"].Err.Error(), "p2")
	})
}

func TestPipelineTimeoutAbortsRun(t *testing.T) {
	reg := agent.NewRegistry().Register("stuck", "", blockingAgent())

	def := &Definition{
		ID:      "slow",
		Timeout: 50 * time.Millisecond,
		Steps:   []Step{agentStep("stuck")},
	}

	start := time.Now()
	result, err := execute(t, reg, def)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, weave.ErrPipelineTimeout)
	assert.Equal(t, RunAborted, result.Status)
	assert.Less(t, elapsed, time.Second)

	stuck := result.Steps["stuck"]
	require.NotNil(t, stuck)
	assert.Equal(t, StateFailed, stuck.Status)
	var se *weave.StepError
	require.ErrorAs(t, stuck.Err, &se)
	assert.Equal(t, weave.StepTimedOut, se.Kind)
}

func TestAbsentConditionSkipsWithoutError(t *testing.T) {
	reg := agent.NewRegistry().
		Register("produce", "", weave.AgentFunc(func(context.Context, *weave.ExecutionContext, map[string]any) (*weave.AgentResult, error) {
			// No Confidence field in the committed output map sense: the
			// condition below references a key the output never defines.
			return &weave.AgentResult{Content: "data", Confidence: 0.9}, nil
		})).
		Register("gated", "", okAgent("gated", 1))

	gated := agentStep("gated", "produce")
	gated.Condition = "produce.missing_field > 0.5"

	def := &Definition{ID: "gate", Steps: []Step{agentStep("produce"), gated}}

	result, err := execute(t, reg, def)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, result.Status)

	g := result.Steps["gated"]
	assert.Equal(t, StateSkipped, g.Status)
	assert.Nil(t, g.Err)
	assert.Contains(t, g.Reason, "condition")
}

func TestConditionTrueRuns(t *testing.T) {
	reg := agent.NewRegistry().
		Register("produce", "", okAgent("data", 0.9)).
		Register("gated", "", okAgent("ran", 1))

	gated := agentStep("gated", "produce")
	gated.Condition = "produce.confidence >= 0.5"

	def := &Definition{ID: "gate", Steps: []Step{agentStep("produce"), gated}}

	result, err := execute(t, reg, def)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, result.Steps["gated"].Status)
}

func TestCriticalFailureFailsRun(t *testing.T) {
	reg := agent.NewRegistry().
		Register("vital", "", errAgent("fatal")).
		Register("other", "", blockingAgent())

	vital := agentStep("vital")
	vital.Critical = true

	def := &Definition{ID: "crit", Steps: []Step{vital, agentStep("other")}}

	result, err := execute(t, reg, def)
	require.Error(t, err)
	assert.Equal(t, RunFailed, result.Status)

	var se *weave.StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "vital", se.StepID)
}

func TestAbort(t *testing.T) {
	reg := agent.NewRegistry().Register("stuck", "", blockingAgent())
	c, err := Compile(&Definition{ID: "ab", Steps: []Step{agentStep("stuck")}})
	require.NoError(t, err)

	o := New(reg)
	go func() {
		time.Sleep(30 * time.Millisecond)
		o.Abort()
	}()

	ec := weave.NewExecutionContext("s", "q")
	result, err := o.Execute(context.Background(), c, ec)
	require.ErrorIs(t, err, weave.ErrAborted)
	assert.Equal(t, RunAborted, result.Status)
}

func TestSkipCascade(t *testing.T) {
	reg := agent.NewRegistry().
		Register("root", "", errAgent("dead")).
		Register("mid", "", okAgent("mid", 1)).
		Register("leaf", "", okAgent("leaf", 1))

	def := &Definition{
		ID:    "cascade",
		Steps: []Step{agentStep("root"), agentStep("mid", "root"), agentStep("leaf", "mid")},
	}

	result, err := execute(t, reg, def)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, result.Status)
	assert.Equal(t, StateFailed, result.Steps["root"].Status)
	assert.Equal(t, StateSkipped, result.Steps["mid"].Status)
	assert.Equal(t, StateSkipped, result.Steps["leaf"].Status)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Empty(t, result.Content)
}

func TestIndependentBranchesRunConcurrently(t *testing.T) {
	var inflight, peak atomic.Int32
	mk := func() weave.Agent {
		return weave.AgentFunc(func(context.Context, *weave.ExecutionContext, map[string]any) (*weave.AgentResult, error) {
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			inflight.Add(-1)
			return &weave.AgentResult{Content: "x", Confidence: 1}, nil
		})
	}

	reg := agent.NewRegistry()
	var steps []Step
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("s%d", i)
		reg.Register(name, "", mk())
		steps = append(steps, agentStep(name))
	}

	_, err := execute(t, reg, &Definition{ID: "conc", Steps: steps})
	require.NoError(t, err)
	assert.Greater(t, peak.Load(), int32(1))
}

func TestMaxConcurrencyCapsParallelism(t *testing.T) {
	var inflight, peak atomic.Int32
	mk := func() weave.Agent {
		return weave.AgentFunc(func(context.Context, *weave.ExecutionContext, map[string]any) (*weave.AgentResult, error) {
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inflight.Add(-1)
			return &weave.AgentResult{Content: "x", Confidence: 1}, nil
		})
	}

	reg := agent.NewRegistry()
	var steps []Step
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("s%d", i)
		reg.Register(name, "", mk())
		steps = append(steps, agentStep(name))
	}

	_, err := execute(t, reg, &Definition{ID: "cap", Steps: steps}, WithMaxConcurrency(1))
	require.NoError(t, err)
	assert.Equal(t, int32(1), peak.Load())
}

func TestDependenciesCommittedBeforeDependentsRun(t *testing.T) {
	// A diamond where every agent verifies its dependencies' outputs are
	// already visible in the upstream snapshot.
	deps := map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	}

	reg := agent.NewRegistry()
	var steps []Step
	for name, dd := range deps {
		name, dd := name, dd
		reg.Register(name, "", weave.AgentFunc(func(_ context.Context, _ *weave.ExecutionContext, upstream map[string]any) (*weave.AgentResult, error) {
			for _, dep := range dd {
				if _, ok := upstream[dep]; !ok {
					return nil, weave.Permanent(fmt.Errorf("%s ran before %s committed", name, dep))
				}
			}
			return &weave.AgentResult{Content: name, Confidence: 1}, nil
		}))
		steps = append(steps, agentStep(name, dd...))
	}

	result, err := execute(t, reg, &Definition{ID: "diamond", Steps: steps})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, result.Status)
	for name := range deps {
		assert.Equal(t, StateSucceeded, result.Steps[name].Status, name)
	}
}

func TestStatusReflectsRunLifecycle(t *testing.T) {
	release := make(chan struct{})
	reg := agent.NewRegistry().
		Register("held", "", weave.AgentFunc(func(ctx context.Context, _ *weave.ExecutionContext, _ map[string]any) (*weave.AgentResult, error) {
			select {
			case <-release:
				return &weave.AgentResult{Content: "ok", Confidence: 1}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}))

	c, err := Compile(&Definition{ID: "st", Steps: []Step{agentStep("held")}})
	require.NoError(t, err)

	o := New(reg)
	assert.Equal(t, "idle", o.Status().Stage)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ec := weave.NewExecutionContext("s", "q")
		_, _ = o.Execute(context.Background(), c, ec)
	}()

	assert.Eventually(t, func() bool {
		st := o.Status()
		return st.RunID != "" && st.Steps["held"] == StateRunning
	}, time.Second, 5*time.Millisecond)

	close(release)
	<-done

	st := o.Status()
	assert.Equal(t, "done", st.Stage)
	assert.Equal(t, RunCompleted, st.State)
	assert.Equal(t, StateSucceeded, st.Steps["held"])
}

func TestStepTimeoutIsRetryable(t *testing.T) {
	var attempts atomic.Int32
	reg := agent.NewRegistry().
		Register("slowthenfast", "", weave.AgentFunc(func(ctx context.Context, _ *weave.ExecutionContext, _ map[string]any) (*weave.AgentResult, error) {
			if attempts.Add(1) == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return &weave.AgentResult{Content: "recovered", Confidence: 1}, nil
		}))

	s := agentStep("slowthenfast")
	s.Timeout = 20 * time.Millisecond
	s.Retry = &retry.Policy{MaxAttempts: 2, Backoff: retry.BackoffFixed, InitialDelay: time.Millisecond}

	result, err := execute(t, reg, &Definition{ID: "tr", Steps: []Step{s}})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, result.Status)
	assert.EqualValues(t, 2, attempts.Load())
	assert.Equal(t, 2, result.Steps["slowthenfast"].Attempts)
	assert.Equal(t, "recovered", result.Content)
}

func TestStepTimeoutCutsOffUnresponsiveCall(t *testing.T) {
	reg := agent.NewRegistry().
		Register("stubborn", "", weave.AgentFunc(func(context.Context, *weave.ExecutionContext, map[string]any) (*weave.AgentResult, error) {
			// Ignores cancellation entirely.
			time.Sleep(300 * time.Millisecond)
			return &weave.AgentResult{Content: "too late", Confidence: 1}, nil
		}))

	s := agentStep("stubborn")
	s.Timeout = 20 * time.Millisecond

	start := time.Now()
	result, err := execute(t, reg, &Definition{ID: "hard-deadline", Steps: []Step{s}})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	res := result.Steps["stubborn"]
	require.NotNil(t, res)
	assert.Equal(t, StateFailed, res.Status)
	assert.Nil(t, res.Output)
	assert.Empty(t, result.Content)

	var se *weave.StepError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, weave.StepTimedOut, se.Kind)
}

func TestCallerCancellationEndsRunAsCancelled(t *testing.T) {
	reg := agent.NewRegistry().Register("stuck", "", blockingAgent())

	c, err := Compile(&Definition{ID: "caller-cancel", Steps: []Step{agentStep("stuck")}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	ec := weave.NewExecutionContext("session-1", "test query")
	result, execErr := New(reg).Execute(ctx, c, ec)
	require.Error(t, execErr)
	assert.ErrorIs(t, execErr, context.Canceled)
	assert.NotErrorIs(t, execErr, weave.ErrPipelineTimeout)
	assert.NotErrorIs(t, execErr, weave.ErrAborted)
	assert.Equal(t, RunAborted, result.Status)
}

func TestPermanentErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	reg := agent.NewRegistry().
		Register("p", "", weave.AgentFunc(func(context.Context, *weave.ExecutionContext, map[string]any) (*weave.AgentResult, error) {
			attempts.Add(1)
			return nil, weave.Permanent(errors.New("bad request"))
		}))

	s := agentStep("p")
	s.Retry = &retry.Policy{MaxAttempts: 5, Backoff: retry.BackoffFixed, InitialDelay: time.Millisecond}

	result, err := execute(t, reg, &Definition{ID: "perm", Steps: []Step{s}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, attempts.Load())
	assert.Equal(t, StateFailed, result.Steps["p"].Status)

	var se *weave.StepError
	require.ErrorAs(t, result.Steps["p"].Err, &se)
	assert.Equal(t, weave.StepExecution, se.Kind)
}
