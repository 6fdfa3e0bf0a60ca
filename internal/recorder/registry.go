package recorder

import (
	"fmt"
	"sync"
)

// Registry manages recording backends and selects the active one by name.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Recorder
	active   string
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Recorder),
	}
}

// Register adds a backend to the registry. The first registered backend
// becomes the active one by default.
func (r *Registry) Register(name string, rec Recorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = rec
	if r.active == "" {
		r.active = name
	}
}

// SetActive selects the active backend by name.
func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; !ok {
		return fmt.Errorf("unknown recorder backend %q (registered: %v)", name, r.names())
	}
	r.active = name
	return nil
}

// Get returns a backend by name, or false if not found.
func (r *Registry) Get(name string) (Recorder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Active returns the active backend, or nil if none registered.
func (r *Registry) Active() Recorder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[r.active]
}

// ActiveName returns the name of the active backend.
func (r *Registry) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Backends returns the names of all registered backends.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}
