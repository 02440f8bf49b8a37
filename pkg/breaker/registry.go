package breaker

import (
	"sort"
	"sync"
)

// Registry holds exactly one breaker per dependency name. Breakers are
// created lazily on first Get and live for the lifetime of the registry.
type Registry struct {
	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	defaults  Config
	overrides map[string]Config
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithConfig sets the configuration used for breaker name instead of the
// registry default.
func WithConfig(name string, config Config) RegistryOption {
	return func(r *Registry) {
		r.overrides[name] = config
	}
}

// NewRegistry creates a registry whose breakers use defaults unless a
// per-name configuration was supplied.
func NewRegistry(defaults Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		defaults:  defaults,
		overrides: make(map[string]Config),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config, ok := r.overrides[name]
	if !ok {
		config = r.defaults
	}
	cb = New(name, config)
	r.breakers[name] = cb
	return cb
}

// Names returns the registered breaker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Stats returns snapshots of every breaker sorted by name.
func (r *Registry) Stats() []Record {
	names := r.Names()
	records := make([]Record, 0, len(names))
	for _, name := range names {
		if cb := r.lookup(name); cb != nil {
			records = append(records, cb.Stats())
		}
	}
	return records
}

// StatsFor returns the snapshot of one breaker.
func (r *Registry) StatsFor(name string) (Record, bool) {
	cb := r.lookup(name)
	if cb == nil {
		return Record{}, false
	}
	return cb.Stats(), true
}

// Reset resets one breaker. It reports false when no breaker named name
// exists.
func (r *Registry) Reset(name string) bool {
	cb := r.lookup(name)
	if cb == nil {
		return false
	}
	cb.Reset()
	return true
}

// ResetAll resets every breaker.
func (r *Registry) ResetAll() {
	for _, name := range r.Names() {
		r.Reset(name)
	}
}

// AnyOpen reports whether any breaker is not closed.
func (r *Registry) AnyOpen() bool {
	for _, name := range r.Names() {
		if cb := r.lookup(name); cb != nil && cb.State() != StateClosed {
			return true
		}
	}
	return false
}

func (r *Registry) lookup(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}
