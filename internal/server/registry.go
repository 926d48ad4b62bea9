package server

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the set of connections currently admitted to a hub. Callers
// never see the underlying map; every mutation and iteration goes through the
// methods below, which hold the lock only for bookkeeping.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[uuid.UUID]*Connection)}
}

// Add inserts c and reports whether it was not already present.
func (r *Registry) Add(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.id]; ok {
		return false
	}
	r.conns[c.id] = c
	return true
}

// Remove deletes c and reports whether it was present. Removing a connection
// that is not registered is a no-op.
func (r *Registry) Remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.id]; !ok {
		return false
	}
	delete(r.conns, c.id)
	return true
}

// Contains reports whether c is registered.
func (r *Registry) Contains(c *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[c.id]
	return ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ForEachOpen calls fn for every registered connection that is open. The
// membership is copied under the read lock and fn runs after the lock is
// released, so fn may call Add or Remove.
func (r *Registry) ForEachOpen(fn func(*Connection)) {
	for _, c := range r.snapshot() {
		if c.State() == StateOpen {
			fn(c)
		}
	}
}

func (r *Registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// drain removes and returns every registered connection.
func (r *Registry) drain() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Connection, 0, len(r.conns))
	for id, c := range r.conns {
		conns = append(conns, c)
		delete(r.conns, id)
	}
	return conns
}
