package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spetersoncode/weave"
	"github.com/spetersoncode/weave/agent"
	"github.com/spetersoncode/weave/event"
)

// Orchestrator schedules and executes compiled workflow definitions. It is
// constructed explicitly and passed where needed; there is no package-level
// instance.
//
// One orchestrator drives one run at a time per Execute call; the instance
// itself only carries configuration and the agent registry, so concurrent
// Execute calls are safe. Abort and Status address the most recent run.
type Orchestrator struct {
	agents *agent.Registry
	opts   *Options

	mu      sync.RWMutex
	current *run
}

// New creates an orchestrator resolving agent-call steps through agents.
func New(agents *agent.Registry, opts ...Option) *Orchestrator {
	return &Orchestrator{
		agents: agents,
		opts:   ApplyOptions(opts...),
	}
}

// run is the mutable state of one execution. It is created per invocation
// and discarded with the PipelineResult.
type run struct {
	o     *Orchestrator
	c     *Compiled
	ec    *weave.ExecutionContext
	runID string

	cancel  context.CancelFunc
	aborted atomic.Bool
	sem     chan struct{}
	events  chan<- event.Event

	mu          sync.Mutex
	stage       string
	final       RunState
	states      map[string]StepState
	results     map[string]*StepResult
	criticalErr error
}

// Execute runs one compiled workflow against a per-run execution context and
// returns the aggregated result.
//
// The returned error is pipeline-level only: nil for a completed run even
// when non-critical steps failed, non-nil when the run aborted (timeout,
// Abort) or failed outright (critical step, aggregation error).
func (o *Orchestrator) Execute(ctx context.Context, c *Compiled, ec *weave.ExecutionContext) (*PipelineResult, error) {
	start := time.Now()

	var runCtx context.Context
	var cancel context.CancelFunc
	if c.def.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.def.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	r := &run{
		o:       o,
		c:       c,
		ec:      ec,
		runID:   uuid.New().String(),
		cancel:  cancel,
		events:  o.opts.Events,
		stage:   "scheduling",
		states:  make(map[string]StepState, len(c.order)),
		results: make(map[string]*StepResult, len(c.order)),
	}
	if o.opts.MaxConcurrency > 0 {
		r.sem = make(chan struct{}, o.opts.MaxConcurrency)
	}
	for _, id := range c.order {
		r.states[id] = StatePending
	}

	o.mu.Lock()
	o.current = r
	o.mu.Unlock()

	event.Emit(r.events, event.Event{Type: event.RunStart})

	schedErr := r.schedule(runCtx, c.def.Steps)
	ec.Bus.Close()

	r.setStage("aggregating")
	result := r.buildResult(schedErr)
	result.Elapsed = time.Since(start)
	r.mu.Lock()
	r.final = result.Status
	r.stage = "done"
	r.mu.Unlock()

	if schedErr != nil {
		event.Emit(r.events, event.Event{Type: event.RunError, Err: schedErr})
		return result, schedErr
	}
	if result.Status == RunFailed {
		err := r.criticalFailure()
		if err == nil && len(result.Errors) > 0 {
			err = result.Errors[len(result.Errors)-1]
		}
		event.Emit(r.events, event.Event{Type: event.RunError, Err: err})
		return result, err
	}
	event.Emit(r.events, event.Event{Type: event.RunEnd})
	return result, nil
}

// Abort cooperatively cancels the most recent run: no new attempts start,
// and dispatched steps fail at their next attempt boundary.
func (o *Orchestrator) Abort() {
	o.mu.RLock()
	r := o.current
	o.mu.RUnlock()
	if r == nil {
		return
	}
	r.aborted.Store(true)
	r.cancel()
}

// Status returns a snapshot of the most recent run, or an idle status when
// nothing has executed yet.
func (o *Orchestrator) Status() RunStatus {
	o.mu.RLock()
	r := o.current
	o.mu.RUnlock()
	if r == nil {
		return RunStatus{Stage: "idle"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	steps := make(map[string]StepState, len(r.states))
	for id, st := range r.states {
		steps[id] = st
	}
	state := RunRunning
	if r.stage == "done" {
		state = r.final
	}
	return RunStatus{RunID: r.runID, Stage: r.stage, State: state, Steps: steps}
}

// schedule drives one dependency scope to completion: the top-level steps,
// or, recursively, the nested steps of a parallel block. It returns only a
// pipeline-level error; step failures are contained in the run state.
func (r *run) schedule(ctx context.Context, steps []Step) error {
	scope := make(map[string]*Step, len(steps))
	for i := range steps {
		scope[steps[i].ID] = &steps[i]
	}

	// Buffered so a late completion after timeout never blocks its
	// goroutine; the result is simply never read.
	resultCh := make(chan *StepResult, len(steps))
	running := 0

	for {
		if err := ctx.Err(); err != nil {
			return r.drain(ctx, steps)
		}

		// Dispatch every step whose dependencies are terminal. Skips are
		// terminal transitions themselves, so loop until a full pass makes
		// no progress.
		progressed := true
		for progressed {
			progressed = false
			for i := range steps {
				s := &steps[i]
				if r.state(s.ID) != StatePending {
					continue
				}
				allTerminal, blockedDep, depSt := r.depState(s)
				if !allTerminal {
					continue
				}
				if blockedDep != "" {
					verb := "failed"
					if depSt == StateSkipped {
						verb = "was skipped"
					}
					r.skip(s, "dependency "+blockedDep+" "+verb)
					progressed = true
					continue
				}
				if expr := r.c.cond(s.ID); expr != nil && !expr.Eval(r.ec.Outputs()) {
					r.skip(s, "condition evaluated false")
					progressed = true
					continue
				}
				r.setState(s.ID, StateReady)
				running++
				go r.executeStep(ctx, s, resultCh)
			}
		}

		if running == 0 {
			if r.scopeDone(steps) {
				return nil
			}
			// A validated graph always progresses; reaching here means every
			// remaining step waits on a terminal state, which the next pass
			// resolves.
			continue
		}

		select {
		case res := <-resultCh:
			running--
			r.finalize(scope[res.StepID], res)
		case <-ctx.Done():
			return r.drain(ctx, steps)
		}
	}
}

// depState reports whether all dependencies of s are terminal, and the first
// dependency that blocks execution: a failed or skipped dependency skips the
// dependent, cascading through the graph.
func (r *run) depState(s *Step) (allTerminal bool, blockedDep string, depSt StepState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range s.DependsOn {
		st := r.states[dep]
		if !st.Terminal() {
			return false, "", ""
		}
		if (st == StateFailed || st == StateSkipped) && blockedDep == "" {
			blockedDep, depSt = dep, st
		}
	}
	return true, blockedDep, depSt
}

// skip transitions a step directly to Skipped without executing it.
func (r *run) skip(s *Step, reason string) {
	res := &StepResult{StepID: s.ID, Status: StateSkipped, Reason: reason}
	r.mu.Lock()
	r.states[s.ID] = StateSkipped
	r.results[s.ID] = res
	r.mu.Unlock()
	event.Emit(r.events, event.Event{Type: event.StepSkipped, StepID: s.ID, Message: reason})
}

// finalize commits a terminal attempt outcome: state transition, output
// commit, critical-failure escalation.
func (r *run) finalize(s *Step, res *StepResult) {
	r.mu.Lock()
	r.states[res.StepID] = res.Status
	r.results[res.StepID] = res
	r.mu.Unlock()

	switch res.Status {
	case StateSucceeded:
		// Outputs become visible to conditions and dependents only now,
		// after the terminal transition: readers never observe a torn write.
		r.ec.Commit(res.StepID, res.Output)
		event.Emit(r.events, event.Event{Type: event.StepEnd, StepID: res.StepID, Attempt: res.Attempts})
	case StateFailed:
		event.Emit(r.events, event.Event{Type: event.StepFailed, StepID: res.StepID, Attempt: res.Attempts, Err: res.Err})
		if s != nil && s.Critical {
			r.mu.Lock()
			if r.criticalErr == nil {
				r.criticalErr = res.Err
			}
			r.mu.Unlock()
			r.cancel()
		}
	}
}

// drain marks this scope's non-terminal steps after cancellation: running
// steps fail with a timeout error, undispatched steps are skipped. Late
// attempt results are discarded.
func (r *run) drain(ctx context.Context, steps []Step) error {
	cause := r.cancelCause(ctx)

	r.mu.Lock()
	for i := range steps {
		id := steps[i].ID
		switch r.states[id] {
		case StateReady, StateRunning:
			err := &weave.StepError{StepID: id, Kind: weave.StepTimedOut, Err: cause}
			r.states[id] = StateFailed
			r.results[id] = &StepResult{StepID: id, Status: StateFailed, Err: err, Ended: time.Now()}
		case StatePending:
			r.states[id] = StateSkipped
			r.results[id] = &StepResult{StepID: id, Status: StateSkipped, Reason: cause.Error()}
		}
	}
	r.mu.Unlock()
	return cause
}

// cancelCause resolves why the run context ended, in escalation order:
// critical failure, explicit abort, pipeline timeout, then whatever the
// caller's own cancellation reports.
func (r *run) cancelCause(ctx context.Context) error {
	r.mu.Lock()
	critical := r.criticalErr
	r.mu.Unlock()
	if critical != nil {
		return critical
	}
	if r.aborted.Load() {
		return weave.ErrAborted
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return weave.ErrPipelineTimeout
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return weave.ErrPipelineTimeout
}

func (r *run) criticalFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.criticalErr
}

func (r *run) scopeDone(steps []Step) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range steps {
		if !r.states[steps[i].ID].Terminal() {
			return false
		}
	}
	return true
}

func (r *run) state(id string) StepState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[id]
}

func (r *run) setState(id string, st StepState) {
	r.mu.Lock()
	r.states[id] = st
	r.mu.Unlock()
}

func (r *run) setStage(stage string) {
	r.mu.Lock()
	r.stage = stage
	r.mu.Unlock()
}
