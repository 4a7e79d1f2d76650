// Package registry maps request type IDs to the handler descriptors that
// serve them (spec.md §4.8), so the RPC Instance's dispatch loop can look up
// "how do I run req_type N" without threading handler tables through every
// call site.
//
// This is the same RWMutex-guarded, register-once/lookup-many discipline
// DittoFS used for its multi-map resource registry, narrowed down to a
// single map keyed by request type.
package registry

import (
	"fmt"
	"sync"
)

// Dispatch controls whether a handler runs inline on the event-loop
// goroutine or is deferred to the Background Worker Pool (spec.md §4.6).
type Dispatch int

const (
	// Inline runs the handler synchronously on the event loop. Handlers
	// registered Inline must not block.
	Inline Dispatch = iota
	// Background submits the handler to the worker pool and resumes the
	// slot once the pool delivers a completion.
	Background
)

// Handler is the application-supplied RPC handler body. req is the fully
// reassembled request payload; the returned bytes become the response
// payload.
type Handler func(req []byte) ([]byte, error)

// Descriptor is everything the dispatch loop needs to know about one
// request type.
type Descriptor struct {
	ReqType  uint8
	Dispatch Dispatch
	Handler  Handler
}

// Registry maps request type IDs to their Descriptor.
type Registry struct {
	mu         sync.RWMutex
	descriptors map[uint8]*Descriptor
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{descriptors: make(map[uint8]*Descriptor)}
}

// Register adds a handler for reqType. It returns an error if reqType is
// already registered.
func (r *Registry) Register(reqType uint8, dispatch Dispatch, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("registry: nil handler for req type %d", reqType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[reqType]; exists {
		return fmt.Errorf("registry: req type %d already registered", reqType)
	}
	r.descriptors[reqType] = &Descriptor{ReqType: reqType, Dispatch: dispatch, Handler: handler}
	return nil
}

// Deregister removes a handler for reqType, if present.
func (r *Registry) Deregister(reqType uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.descriptors, reqType)
}

// Lookup returns the Descriptor registered for reqType, or false if none
// exists.
func (r *Registry) Lookup(reqType uint8) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[reqType]
	return d, ok
}

// ReqTypes returns every currently registered request type, in no
// particular order.
func (r *Registry) ReqTypes() []uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]uint8, 0, len(r.descriptors))
	for t := range r.descriptors {
		types = append(types, t)
	}
	return types
}

// Count returns the number of registered request types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}
