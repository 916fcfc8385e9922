package model

import (
	"context"
	"sync"
)

// Context is the protocol engine the node model publishes into. It owns
// the address space and all live variable storage.
//
// Lifecycle: configure → addNamespace → publish* → start → iterate* →
// stop → destroy. After Destroy every method returns ErrContextDestroyed.
type Context interface {
	// ConfigureDefaults installs the standard namespace nodes (Root and
	// Objects folders).
	ConfigureDefaults() error

	// AddNamespace registers a namespace URI and returns its index.
	AddNamespace(uri string) (uint16, error)

	PublishObject(attrs ObjectAttributes) error
	PublishVariable(attrs VariableAttributes) error

	// WriteValue copies a value into the variable's storage. It is the
	// server path and ignores access flags.
	WriteValue(id NodeID, value Variant) error

	// ReadValue returns the value currently stored for the variable.
	ReadValue(id NodeID) (Variant, error)

	// DeleteNode removes a node, its subtree and the reference from its
	// parent.
	DeleteNode(id NodeID) error

	StartService(ctx context.Context) error

	// IterateOnce serves pending client requests and returns how many
	// were served. With waitIndefinitely false it never blocks.
	IterateOnce(waitIndefinitely bool) int

	StopService()
	Destroy()
}

// ContextHandle is the registry token for a context.
type ContextHandle uint64

// ContextRegistry maps handles to live contexts. The lifecycle
// controller owns the registry; nodes hold ContextRefs into it.
type ContextRegistry struct {
	mu      sync.RWMutex
	next    ContextHandle
	entries map[ContextHandle]Context
}

// NewContextRegistry creates an empty registry.
func NewContextRegistry() *ContextRegistry {
	return &ContextRegistry{entries: make(map[ContextHandle]Context)}
}

// Add registers a context and returns a weak reference to it.
func (r *ContextRegistry) Add(c Context) ContextRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.entries[r.next] = c
	return ContextRef{registry: r, handle: r.next}
}

// Release forgets the context behind the handle. Every ContextRef with
// that handle resolves to ErrContextGone afterwards.
func (r *ContextRegistry) Release(h ContextHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, h)
}

// Len returns the number of live contexts.
func (r *ContextRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *ContextRegistry) lookup(h ContextHandle) (Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[h]
	return c, ok
}

// ContextRef is a weak reference to a registered context. The zero value
// refers to nothing.
type ContextRef struct {
	registry *ContextRegistry
	handle   ContextHandle
}

// Handle returns the registry token.
func (r ContextRef) Handle() ContextHandle { return r.handle }

// Resolve returns the referenced context, or ErrContextGone once the
// context has been released.
func (r ContextRef) Resolve() (Context, error) {
	if r.registry == nil {
		return nil, ErrContextGone
	}
	c, ok := r.registry.lookup(r.handle)
	if !ok {
		return nil, ErrContextGone
	}
	return c, nil
}

// Release removes the referenced context from its registry.
func (r ContextRef) Release() {
	if r.registry != nil {
		r.registry.Release(r.handle)
	}
}
