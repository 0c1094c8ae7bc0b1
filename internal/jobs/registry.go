package jobs

import (
	"slices"
	"sync"

	"jobdemo/internal/shared"
)

// Registry maps handler names to functions.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds fn under name. Names must be non-empty and unique.
func (r *Registry) Register(name string, fn HandlerFunc) error {
	if name == "" {
		return shared.Validationf("handler name is empty")
	}
	if fn == nil {
		return shared.Validationf("handler %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[name]; ok {
		return shared.Conflictf("handler %q already registered", name)
	}
	r.handlers[name] = fn
	return nil
}

// MustRegister is Register that panics on error. Intended for wiring at startup.
func (r *Registry) MustRegister(name string, fn HandlerFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.handlers[name]
	return fn, ok
}

// Names returns registered handler names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}
