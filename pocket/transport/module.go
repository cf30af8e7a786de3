package transport

import (
	"fmt"
	"reflect"
	"sync"
)

// Module is the contract every protocol module (trades, deals,
// subscriptions, historical candles, and the lightweight updaters)
// satisfies so the Runner can drive it without knowing its concrete type.
type Module interface {
	// Run consumes frames from its Mailbox until the mailbox is closed,
	// updating shared state and replying on any command channel it owns.
	// Implementations return when the Mailbox closes (Runner shutdown).
	Run()

	// OnReconnect is called by the Runner immediately after a fresh
	// connection replaces a dead one, before any frames flow on it again
	// (spec §9's per-module optional reconnect hook — e.g. subscriptions
	// resubscribing, deals resetting its two-step pairing). Modules with
	// nothing to do on reconnect still implement it as a no-op.
	OnReconnect()
}

// Registry is a type-keyed lookup of module Handles, so the Client facade
// can fetch "the trades handle" or "the subscriptions handle" without the
// Runner needing a named field per module (spec §9's design note: this
// replaces the original's dynamic downcasting with Go's static typing via
// reflect.TypeOf as the map key).
type Registry struct {
	mu      sync.RWMutex
	handles map[reflect.Type]interface{}
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[reflect.Type]interface{})}
}

// RegisterHandle stores handle under the type key of its own static type.
// Registering two handles of the same concrete type is a programming error
// and panics immediately rather than silently overwriting one.
func RegisterHandle[T any](r *Registry, handle T) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[t]; exists {
		panic(fmt.Sprintf("transport: duplicate handle registered for type %s", t))
	}
	r.handles[t] = handle
}

// Handle retrieves the registered handle of type T, or reports ok=false if
// no module of that type was registered.
func Handle[T any](r *Registry) (T, bool) {
	var zero T
	t := reflect.TypeOf((*T)(nil)).Elem()
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.handles[t]
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// MustHandle is Handle but panics if the handle was never registered; used
// by the facade methods where a missing handle means the wiring itself
// is broken, not a runtime condition callers should handle.
func MustHandle[T any](r *Registry) T {
	h, ok := Handle[T](r)
	if !ok {
		var zero T
		panic(fmt.Sprintf("transport: no handle registered for type %T", zero))
	}
	return h
}
