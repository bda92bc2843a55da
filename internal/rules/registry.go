package rules

import (
	"context"
	"fmt"
	"sync"
)

// VariableFunc computes the value behind a named predicate. The trusted
// flag alters evaluation of certain predicates for pre-vetted sources.
type VariableFunc func(ctx context.Context, trusted bool) (any, error)

// ActionFunc performs a named side effect with its declared parameters.
type ActionFunc func(ctx context.Context, params map[string]any) error

// VariableProvider resolves named values for leaf conditions.
type VariableProvider interface {
	Resolve(ctx context.Context, name string) (any, error)
	Has(name string) bool
}

// ActionExecutor runs named actions in declared order.
type ActionExecutor interface {
	Execute(ctx context.Context, name string, params map[string]any) error
	Has(name string) bool
}

// VariableRegistry is a VariableProvider backed by an explicit name map.
// Resolved values are cached for the registry's lifetime, so one registry
// instance should serve one evaluation context (a ticket or report).
type VariableRegistry struct {
	trusted bool

	mu    sync.Mutex
	funcs map[string]VariableFunc
	cache map[string]any
}

// NewVariableRegistry builds an empty registry.
func NewVariableRegistry(trusted bool) *VariableRegistry {
	return &VariableRegistry{
		trusted: trusted,
		funcs:   make(map[string]VariableFunc),
		cache:   make(map[string]any),
	}
}

// Register binds a name to a variable function. Registering a duplicate
// name is a programming error.
func (r *VariableRegistry) Register(name string, fn VariableFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("variable %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Has reports whether the name is registered.
func (r *VariableRegistry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.funcs[name]
	return ok
}

// Resolve computes or returns the cached value for a name.
func (r *VariableRegistry) Resolve(ctx context.Context, name string) (any, error) {
	r.mu.Lock()
	if value, ok := r.cache[name]; ok {
		r.mu.Unlock()
		return value, nil
	}
	fn, ok := r.funcs[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("variable %q not registered", name)
	}
	value, err := fn(ctx, r.trusted)
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", name, err)
	}
	r.mu.Lock()
	r.cache[name] = value
	r.mu.Unlock()
	return value, nil
}

// ActionRegistry is an ActionExecutor backed by an explicit name map.
type ActionRegistry struct {
	mu    sync.Mutex
	funcs map[string]ActionFunc
}

// NewActionRegistry builds an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{funcs: make(map[string]ActionFunc)}
}

// Register binds a name to an action function.
func (r *ActionRegistry) Register(name string, fn ActionFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("action %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Has reports whether the name is registered.
func (r *ActionRegistry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.funcs[name]
	return ok
}

// Execute runs the named action.
func (r *ActionRegistry) Execute(ctx context.Context, name string, params map[string]any) error {
	r.mu.Lock()
	fn, ok := r.funcs[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("action %q not registered", name)
	}
	return fn(ctx, params)
}
