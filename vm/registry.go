// Package vm dispatches transactions to the module handlers that implement them.
package vm

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tolelom/freedaplay/core"
)

// Handler executes one request. Returning an error aborts the whole request
// (and the group it belongs to).
type Handler func(ctx *Context, payload json.RawMessage) error

// Registry maps TxTypes to Handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.TxType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[core.TxType]Handler)}
}

// Register associates typ with h. Panics on duplicate registration.
func (r *Registry) Register(typ core.TxType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		panic(fmt.Sprintf("vm: handler already registered for TxType %q", typ))
	}
	r.handlers[typ] = h
}

// Execute dispatches payload to the handler for typ.
func (r *Registry) Execute(typ core.TxType, ctx *Context, payload json.RawMessage) error {
	r.mu.RLock()
	h, ok := r.handlers[typ]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("vm: no handler registered for TxType %q", typ)
	}
	return h(ctx, payload)
}

var globalRegistry = NewRegistry()

// Register adds a handler to the global registry. Modules call it from init().
func Register(typ core.TxType, h Handler) {
	globalRegistry.Register(typ, h)
}

// Registered reports whether a handler exists for typ in the global registry.
func Registered(typ core.TxType) bool {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	_, ok := globalRegistry.handlers[typ]
	return ok
}
