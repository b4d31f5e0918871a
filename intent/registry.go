package intent

import (
	"fmt"
	"sync"

	"github.com/sitewright/automation"
)

// Registry maps intent names to handler functions. It is sealed by the
// engine after startup validation: an unbound name at execution time is
// a structured UNKNOWN_INTENT result, never a silent miss.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty intent registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Bind registers a handler for an intent name. Binding an empty name or
// rebinding an existing name is a configuration error.
func (r *Registry) Bind(name string, h HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("intent: bind: empty intent name")
	}
	if h == nil {
		return fmt.Errorf("intent: bind %q: nil handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("intent: bind %q: %w", name, automation.ErrDuplicateIntent)
	}
	r.handlers[name] = h

	return nil
}

// MustBind is like Bind but panics on error. Use during static setup
// where a binding failure is a programming error.
func (r *Registry) MustBind(name string, h HandlerFunc) {
	if err := r.Bind(name, h); err != nil {
		panic(err)
	}
}

// Get returns the handler bound to the given intent name.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all bound intent names. Ordering is unspecified.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Len returns the number of bound intents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
