package workflow

import (
	"fmt"
	"sync"
)

// Registry holds workflow definitions keyed by id, with a secondary
// index by trigger event. Definitions are validated on registration so
// an unmapped or malformed table is a startup failure. Safe for
// concurrent use; fan-out order follows registration order.
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]*Definition
	byTrigger map[string][]*Definition
}

// NewRegistry creates an empty definition registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:      make(map[string]*Definition),
		byTrigger: make(map[string][]*Definition),
	}
}

// Register validates and adds a definition. Registering a duplicate id
// is an error.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("workflow: definition %q already registered", def.ID)
	}
	r.defs[def.ID] = def
	r.byTrigger[def.TriggerEvent] = append(r.byTrigger[def.TriggerEvent], def)

	return nil
}

// MustRegister is like Register but panics on error. Use for static
// definition tables built at process start.
func (r *Registry) MustRegister(defs ...*Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// Get returns the definition with the given id.
func (r *Registry) Get(defID string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[defID]
	return def, ok
}

// ByTrigger returns all definitions bound to a trigger event, in
// registration order. An empty slice means the trigger starts nothing.
func (r *Registry) ByTrigger(event string) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := r.byTrigger[event]
	out := make([]*Definition, len(defs))
	copy(out, defs)
	return out
}

// Definitions returns every registered definition. Ordering is
// unspecified.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	return out
}

// Triggers returns the set of trigger events with at least one bound
// definition. Used by the engine to cross-check bridge rules at startup.
func (r *Registry) Triggers() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.byTrigger))
	for event, defs := range r.byTrigger {
		out[event] = len(defs)
	}
	return out
}
