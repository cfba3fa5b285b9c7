package workflow

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spetersoncode/weave"
	"github.com/spetersoncode/weave/condition"
)

// Compiled is a validated definition plus the artifacts built once at load
// time: parsed condition expressions and a dependency-ordered step list.
type Compiled struct {
	def   *Definition
	conds map[string]*condition.Expr

	// order is a topological order over all step ids, nested parallel steps
	// included (a block's nested steps precede the block itself). Used by
	// the aggregator.
	order []string
}

// Definition returns the underlying definition.
func (c *Compiled) Definition() *Definition { return c.def }

// Order returns the compile-time topological step order.
func (c *Compiled) Order() []string { return c.order }

func (c *Compiled) cond(stepID string) *condition.Expr { return c.conds[stepID] }

// Compile validates def and builds its load-time artifacts. Any structural
// problem (duplicate or empty step ids, dangling dependencies, a cyclic
// graph, a missing or mismatched kind config, an unparsable condition, a
// nonsensical retry policy) yields a *weave.GraphError. A definition that
// fails to compile never begins execution.
func Compile(def *Definition) (*Compiled, error) {
	if def.ID == "" {
		return nil, &weave.GraphError{WorkflowID: def.ID, Reason: "empty workflow id"}
	}
	if len(def.Steps) == 0 {
		return nil, &weave.GraphError{WorkflowID: def.ID, Reason: "no steps"}
	}
	if def.RetryPolicy != nil && def.RetryPolicy.MaxAttempts < 1 {
		return nil, &weave.GraphError{WorkflowID: def.ID, Reason: "default retry policy: maxAttempts must be at least 1"}
	}
	for _, trig := range def.Triggers {
		switch trig.Type {
		case TriggerSchedule, TriggerEvent, TriggerHTTP:
		default:
			return nil, &weave.GraphError{WorkflowID: def.ID, Reason: fmt.Sprintf("unknown trigger type %q", trig.Type)}
		}
	}

	c := &Compiled{def: def, conds: make(map[string]*condition.Expr)}
	seen := make(map[string]bool)
	if err := c.compileScope(def.ID, def.Steps, seen); err != nil {
		return nil, err
	}
	return c, nil
}

// compileScope validates one dependency scope (the top-level steps, or the
// nested steps of one parallel block) and recurses into nested blocks.
// Step ids must be unique across the entire definition; dependencies resolve
// within their own scope.
func (c *Compiled) compileScope(wfID string, steps []Step, seen map[string]bool) error {
	inScope := make(map[string]*Step, len(steps))
	for i := range steps {
		s := &steps[i]
		if s.ID == "" {
			return &weave.GraphError{WorkflowID: wfID, Reason: "step with empty id"}
		}
		if seen[s.ID] {
			return &weave.GraphError{WorkflowID: wfID, StepID: s.ID, Reason: "duplicate step id"}
		}
		seen[s.ID] = true
		inScope[s.ID] = s

		if err := validateKind(wfID, s); err != nil {
			return err
		}
		if s.Retry != nil && s.Retry.MaxAttempts < 1 {
			return &weave.GraphError{WorkflowID: wfID, StepID: s.ID, Reason: "retry policy: maxAttempts must be at least 1"}
		}
		if s.Condition != "" {
			expr, err := condition.Parse(s.Condition)
			if err != nil {
				return &weave.GraphError{WorkflowID: wfID, StepID: s.ID, Reason: fmt.Sprintf("invalid condition: %v", err)}
			}
			c.conds[s.ID] = expr
		}
	}

	for i := range steps {
		for _, dep := range steps[i].DependsOn {
			if _, ok := inScope[dep]; !ok {
				return &weave.GraphError{WorkflowID: wfID, StepID: steps[i].ID, Reason: fmt.Sprintf("depends on unknown step %q", dep)}
			}
			if dep == steps[i].ID {
				return &weave.GraphError{WorkflowID: wfID, StepID: steps[i].ID, Reason: "depends on itself"}
			}
		}
	}

	order, err := topoSort(wfID, steps, inScope)
	if err != nil {
		return err
	}

	// Recurse into nested blocks; nested steps precede their block in the
	// flattened order so the aggregator sees committed outputs deps-first.
	for _, id := range order {
		s := inScope[id]
		if s.Kind == KindParallel {
			if err := c.compileScope(wfID, s.Parallel.Steps, seen); err != nil {
				return err
			}
		}
		c.order = append(c.order, id)
	}
	return nil
}

func validateKind(wfID string, s *Step) error {
	configs := 0
	for _, set := range []bool{s.Agent != nil, s.Parallel != nil, s.Transform != nil, s.Webhook != nil, s.Delay != nil} {
		if set {
			configs++
		}
	}
	if configs != 1 {
		return &weave.GraphError{WorkflowID: wfID, StepID: s.ID, Reason: "exactly one kind config must be set"}
	}

	switch s.Kind {
	case KindAgentCall:
		if s.Agent == nil || s.Agent.AgentName == "" {
			return &weave.GraphError{WorkflowID: wfID, StepID: s.ID, Reason: "agent_call step requires an agent name"}
		}
	case KindParallel:
		if s.Parallel == nil || len(s.Parallel.Steps) == 0 {
			return &weave.GraphError{WorkflowID: wfID, StepID: s.ID, Reason: "parallel step requires nested steps"}
		}
	case KindTransform:
		if s.Transform == nil || s.Transform.Func == nil {
			return &weave.GraphError{WorkflowID: wfID, StepID: s.ID, Reason: "transform step requires a function"}
		}
	case KindWebhook:
		if s.Webhook == nil || s.Webhook.URL == "" {
			return &weave.GraphError{WorkflowID: wfID, StepID: s.ID, Reason: "webhook step requires a URL"}
		}
	case KindDelay:
		if s.Delay == nil || s.Delay.Duration <= 0 {
			return &weave.GraphError{WorkflowID: wfID, StepID: s.ID, Reason: "delay step requires a positive duration"}
		}
	default:
		return &weave.GraphError{WorkflowID: wfID, StepID: s.ID, Reason: fmt.Sprintf("unknown step kind %q", s.Kind)}
	}
	return nil
}

// topoSort orders one scope's steps dependencies-first, detecting cycles with
// a three-color depth-first traversal.
func topoSort(wfID string, steps []Step, inScope map[string]*Step) ([]string, error) {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // done
	)
	color := make(map[string]int, len(steps))
	var order []string

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return &weave.GraphError{WorkflowID: wfID, StepID: id, Reason: "dependency cycle"}
		case black:
			return nil
		}
		color[id] = gray
		deps := append([]string(nil), inScope[id].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		order = append(order, id)
		return nil
	}

	for i := range steps {
		if err := visit(steps[i].ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Registry holds compiled workflow definitions for reuse across runs.
// Registration is the validation boundary: invalid graphs are rejected here,
// never at run time.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*Compiled
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]*Compiled)}
}

// Register compiles def and stores it under its id, replacing any previous
// version. A *weave.GraphError reports validation failure.
func (r *Registry) Register(def *Definition) error {
	c, err := Compile(def)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[def.ID] = c
	return nil
}

// Get retrieves a compiled workflow by id. Returns nil if not registered.
func (r *Registry) Get(id string) *Compiled {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workflows[id]
}

// Has reports whether a workflow with the given id is registered.
func (r *Registry) Has(id string) bool {
	return r.Get(id) != nil
}

// IDs returns all registered workflow ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workflows))
	for id := range r.workflows {
		ids = append(ids, id)
	}
	return ids
}
