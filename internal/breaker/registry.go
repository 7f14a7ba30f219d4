package breaker

import (
	"log/slog"
	"sync"
)

// Registry holds the long-lived named breakers of a process so every
// caller guarding the same dependency shares one state machine.
type Registry struct {
	cfg    Config
	logger *slog.Logger
	opts   []Option

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers share cfg and opts.
func NewRegistry(cfg Config, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.cfg, r.logger, r.opts...)
		r.breakers[name] = b
	}
	return b
}

// States reports the current state of every registered breaker.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}
