// Package agent provides the named registry agent-call steps resolve
// through.
//
// Agents are registered once at startup with a name, a description, and
// optional capability tags; the orchestrator looks them up by name, and the
// pipeline facade can pick a fallback by capability. The registry itself
// never invokes anything.
package agent

import (
	"sync"

	"github.com/spetersoncode/weave"
)

// Registration is one named agent with its metadata.
type Registration struct {
	Name         string
	Description  string
	Agent        weave.Agent
	Capabilities []string
}

// Option configures a Registration.
type Option func(*Registration)

// WithCapabilities tags the agent with capability names used for
// capability-based lookup.
func WithCapabilities(caps ...string) Option {
	return func(r *Registration) {
		r.Capabilities = caps
	}
}

// Registry manages a collection of analysis agents. It is safe for concurrent
// use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Registration)}
}

// Register adds an agent under name, replacing any previous registration with
// the same name. It returns the registry for chaining.
func (r *Registry) Register(name, description string, a weave.Agent, opts ...Option) *Registry {
	reg := &Registration{Name: name, Description: description, Agent: a}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = reg
	return r
}

// Unregister removes an agent. It is a no-op if the name is unknown.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, name)
}

// Get retrieves a registration by name. Returns nil if not found.
func (r *Registry) Get(name string) *Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[name]
}

// Agent retrieves the agent registered under name. Returns nil if not found.
func (r *Registry) Agent(name string) weave.Agent {
	reg := r.Get(name)
	if reg == nil {
		return nil
	}
	return reg.Agent
}

// Has reports whether an agent with the given name exists.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

// Names returns all registered agent names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

// FindByCapability returns all registrations tagged with the capability.
func (r *Registry) FindByCapability(capability string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Registration
	for _, reg := range r.agents {
		for _, c := range reg.Capabilities {
			if c == capability {
				out = append(out, reg)
				break
			}
		}
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
