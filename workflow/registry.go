package workflow

import (
	"fmt"
	"sync"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
)

// Registry maps workflow identifiers to definitions. It is safe for
// concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]*Definition),
	}
}

// Register validates and stores a definition. A definition with an ID
// already set keeps it; otherwise a fresh ID is assigned. Registering
// an identifier twice replaces the earlier definition.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.ID.IsNil() {
		def.ID = id.NewWorkflowID()
	}
	if def.Name == "" {
		def.Name = def.Identifier
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Identifier] = def
	return nil
}

// Get returns the definition registered under the identifier, or
// ErrWorkflowNotFound.
func (r *Registry) Get(identifier string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[identifier]
	if !ok {
		return nil, fmt.Errorf("herald/workflow: %q: %w", identifier, herald.ErrWorkflowNotFound)
	}
	return def, nil
}

// List returns all registered definitions in unspecified order.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	return out
}
