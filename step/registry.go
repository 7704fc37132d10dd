package step

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/medocr/docflow"
)

// Entry is a registered step type.
type Entry struct {
	Type       string
	Capability Capability

	// External marks steps that call systems outside the process. Only
	// external steps are retried.
	External bool

	// Timeout caps one attempt. Zero means the executor default.
	Timeout time.Duration

	Description string
}

// RegisterOption configures an Entry.
type RegisterOption func(*Entry)

// External marks the step type as externally-facing.
func External() RegisterOption {
	return func(e *Entry) { e.External = true }
}

// Timeout sets the per-attempt timeout of the step type.
func Timeout(d time.Duration) RegisterOption {
	return func(e *Entry) { e.Timeout = d }
}

// Describe sets a one-line description shown in step listings.
func Describe(text string) RegisterOption {
	return func(e *Entry) { e.Description = text }
}

// Registry maps step types to capabilities. It is safe for concurrent
// use. Once frozen it is read-only.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	frozen  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a step type. Registering an existing type replaces it.
// Register panics if the registry is frozen, the type is empty or the
// capability is nil: all three are wiring mistakes.
func (r *Registry) Register(stepType string, c Capability, opts ...RegisterOption) {
	if stepType == "" {
		panic("step: register with empty step type")
	}
	if c == nil {
		panic(fmt.Sprintf("step: register %q with nil capability", stepType))
	}
	e := Entry{Type: stepType, Capability: c}
	for _, opt := range opts {
		opt(&e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("%v: register %q", docflow.ErrRegistryFrozen, stepType))
	}
	r.entries[stepType] = e
}

// Alias registers alias as another name for an existing step type.
func (r *Registry) Alias(alias, stepType string) {
	r.mu.RLock()
	e, ok := r.entries[stepType]
	r.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("step: alias %q for unregistered type %q", alias, stepType))
	}
	r.Register(alias, e.Capability, func(n *Entry) {
		n.External = e.External
		n.Timeout = e.Timeout
		n.Description = e.Description
	})
}

// Resolve returns the entry for stepType. An unknown type is reported
// with an error wrapping docflow.ErrUnknownStepType.
func (r *Registry) Resolve(stepType string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[stepType]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", docflow.ErrUnknownStepType, stepType)
	}
	return e, nil
}

// Has reports whether stepType is registered.
func (r *Registry) Has(stepType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[stepType]
	return ok
}

// Types returns the registered step types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Entries returns every entry sorted by type.
func (r *Registry) Entries() []Entry {
	types := r.Types()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(types))
	for _, t := range types {
		out = append(out, r.entries[t])
	}
	return out
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
