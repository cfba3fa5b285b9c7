package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spetersoncode/weave"
	"github.com/spetersoncode/weave/event"
	"github.com/spetersoncode/weave/retry"
)

// executeStep runs a single step to a terminal outcome and delivers it on
// out. Leaf kinds go through the retry loop; parallel blocks recurse into
// the scheduler and never retry as a unit.
func (r *run) executeStep(ctx context.Context, s *Step, out chan<- *StepResult) {
	res := &StepResult{StepID: s.ID, Started: time.Now()}

	// Parallel blocks spend their life waiting on nested steps, so they do
	// not hold a concurrency slot; only leaf kinds count against the cap.
	if r.sem != nil && s.Kind != KindParallel {
		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		case <-ctx.Done():
			res.Status = StateFailed
			res.Err = &weave.StepError{StepID: s.ID, Kind: weave.StepTimedOut, Err: ctx.Err()}
			res.Ended = time.Now()
			out <- res
			return
		}
	}
	r.setState(s.ID, StateRunning)

	var output any
	var err error
	if s.Kind == KindParallel {
		event.Emit(r.events, event.Event{Type: event.ParallelStart, StepID: s.ID})
		output, err = r.runParallel(ctx, s)
		event.Emit(r.events, event.Event{Type: event.ParallelEnd, StepID: s.ID})
		res.Attempts = 1
	} else {
		output, err = r.runLeaf(ctx, s, res)
	}

	res.Ended = time.Now()
	if err != nil {
		res.Status = StateFailed
		res.Err = err
	} else {
		res.Status = StateSucceeded
		res.Output = output
	}
	out <- res
}

// runLeaf executes a non-parallel step under the step's retry policy,
// recording the attempt count on res.
func (r *run) runLeaf(ctx context.Context, s *Step, res *StepResult) (any, error) {
	pol := r.policyFor(s)

	obs := func(a retry.Attempt) {
		if a.Err != nil && a.Delay > 0 {
			event.Emit(r.events, event.Event{
				Type:    event.RetryScheduled,
				StepID:  s.ID,
				Attempt: a.Number,
				Delay:   a.Delay,
				Err:     a.Err,
			})
		}
	}

	out, err := retry.DoWithObserver(ctx, pol, obs, func(ctx context.Context, attempt int) (any, error) {
		res.Attempts = attempt
		if r.aborted.Load() {
			return nil, weave.Permanent(weave.ErrAborted)
		}
		if attempt == 1 {
			event.Emit(r.events, event.Event{Type: event.StepStart, StepID: s.ID, Attempt: attempt})
		}
		return r.attempt(ctx, s)
	})
	if err != nil {
		return nil, r.terminalError(s, pol, res.Attempts, err)
	}
	return out, nil
}

// attempt runs one attempt of a leaf step under its per-attempt timeout.
// The timeout is a hard deadline: the dispatch races against it in its own
// goroutine, and a result arriving after the deadline is discarded even
// when the call itself never honors cancellation. An attempt that exceeds
// its own deadline while the run is still live comes back transient, so
// the retry policy gets to reschedule it.
func (r *run) attempt(ctx context.Context, s *Step) (any, error) {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = r.o.opts.DefaultStepTimeout
	}
	if timeout <= 0 {
		return r.dispatch(ctx, s)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	// Buffered so a dispatch that ignores cancellation can still finish
	// after the deadline without leaking its goroutine forever.
	done := make(chan outcome, 1)
	go func() {
		out, err := r.dispatch(attemptCtx, s)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			cause := o.err
			if cause == nil {
				cause = attemptCtx.Err()
			}
			return nil, weave.Transient(&weave.StepError{StepID: s.ID, Kind: weave.StepTimedOut, Err: cause})
		}
		return o.out, o.err
	case <-attemptCtx.Done():
		err := attemptCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, weave.Transient(&weave.StepError{StepID: s.ID, Kind: weave.StepTimedOut, Err: err})
		}
		return nil, err
	}
}

// dispatch selects the execution path for the step's kind.
func (r *run) dispatch(ctx context.Context, s *Step) (any, error) {
	switch s.Kind {
	case KindAgentCall:
		return r.runAgent(ctx, s)
	case KindTransform:
		return r.runTransform(s)
	case KindWebhook:
		return runWebhook(ctx, s.Webhook)
	case KindDelay:
		return runDelay(ctx, s.Delay)
	default:
		return nil, weave.Permanent(fmt.Errorf("step %s: unknown kind %q", s.ID, s.Kind))
	}
}

func (r *run) runAgent(ctx context.Context, s *Step) (any, error) {
	ag := r.o.agents.Agent(s.Agent.AgentName)
	if ag == nil {
		return nil, weave.Permanent(fmt.Errorf("agent %q not registered", s.Agent.AgentName))
	}
	result, err := ag.Execute(ctx, r.ec, r.ec.Outputs())
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, weave.Permanent(fmt.Errorf("agent %q returned no result", s.Agent.AgentName))
	}
	return result, nil
}

// runTransform applies the step's pure function. Transform failures are
// deterministic, so an uncategorized error is permanent here rather than
// falling back to the transient default.
func (r *run) runTransform(s *Step) (any, error) {
	out, err := s.Transform.Func(r.ec, r.ec.Outputs())
	if err != nil && !weave.IsCategorized(err) {
		return nil, weave.Permanent(err)
	}
	return out, err
}

// runWebhook posts the step's payload to an external endpoint. Any non-2xx
// status is an error; transport failures and 5xx responses stay retryable,
// 4xx responses are permanent.
func runWebhook(ctx context.Context, cfg *WebhookConfig) (any, error) {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if cfg.Body != nil {
		data, err := json.Marshal(cfg.Body)
		if err != nil {
			return nil, weave.Permanent(err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return nil, weave.Permanent(err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("webhook %s: status %d", cfg.URL, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, weave.Permanent(err)
		}
		return nil, weave.Transient(err)
	}
	return string(data), nil
}

func runDelay(ctx context.Context, cfg *DelayConfig) (any, error) {
	select {
	case <-time.After(cfg.Duration):
		return cfg.Duration, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runParallel executes the block's nested scope with the same scheduler and
// collects the nested outputs. The block fails when the scope itself was cut
// short, or, under AllOrNothing, when any nested step failed.
func (r *run) runParallel(ctx context.Context, s *Step) (any, error) {
	if err := r.schedule(ctx, s.Parallel.Steps); err != nil {
		return nil, weave.Permanent(err)
	}

	outputs := make(map[string]any, len(s.Parallel.Steps))
	var failed []string
	r.mu.Lock()
	for i := range s.Parallel.Steps {
		id := s.Parallel.Steps[i].ID
		res := r.results[id]
		if res == nil {
			continue
		}
		switch res.Status {
		case StateSucceeded:
			outputs[id] = res.Output
		case StateFailed:
			failed = append(failed, id)
		}
	}
	r.mu.Unlock()

	if s.Parallel.AllOrNothing && len(failed) > 0 {
		return nil, weave.Permanent(fmt.Errorf("parallel block %s: %d nested step(s) failed: %v", s.ID, len(failed), failed))
	}
	return outputs, nil
}

// policyFor resolves the effective retry policy: step override, then the
// workflow default, then no retries.
func (r *run) policyFor(s *Step) retry.Policy {
	if s.Retry != nil {
		return *s.Retry
	}
	if r.c.def.RetryPolicy != nil {
		return *r.c.def.RetryPolicy
	}
	return retry.Disabled()
}

// terminalError wraps the final attempt error with step identity and a kind
// describing how the step reached failure.
func (r *run) terminalError(s *Step, pol retry.Policy, attempts int, err error) error {
	var se *weave.StepError
	if errors.As(err, &se) && se.StepID == s.ID && attempts == 1 && pol.MaxAttempts <= 1 {
		return se
	}
	kind := weave.StepExecution
	if attempts >= pol.MaxAttempts && pol.MaxAttempts > 1 {
		kind = weave.StepRetriesExhausted
	}
	return &weave.StepError{StepID: s.ID, Kind: kind, Attempts: attempts, Err: err}
}
