package workflow

import (
	"time"

	"github.com/spetersoncode/weave/event"
)

// Options configures an Orchestrator.
type Options struct {
	// MaxConcurrency caps the number of step attempts in flight at once
	// across the run, nested blocks included. Zero means unlimited.
	MaxConcurrency int

	// DefaultStepTimeout applies to steps that set no timeout of their own.
	// Zero leaves them bounded only by the pipeline timeout.
	DefaultStepTimeout time.Duration

	// Events, when non-nil, receives the run's event stream. Emission never
	// blocks the scheduler.
	Events chan<- event.Event
}

// Option is a functional option for orchestrator configuration.
type Option func(*Options)

// WithMaxConcurrency caps concurrently executing steps. A value of 0 means
// unlimited.
func WithMaxConcurrency(n int) Option {
	return func(o *Options) {
		o.MaxConcurrency = n
	}
}

// WithDefaultStepTimeout sets the fallback per-attempt deadline for steps
// without an explicit timeout.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.DefaultStepTimeout = d
	}
}

// WithEvents attaches an event channel to the orchestrator's runs.
func WithEvents(ch chan<- event.Event) Option {
	return func(o *Options) {
		o.Events = ch
	}
}

// ApplyOptions applies functional options over defaults.
func ApplyOptions(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
