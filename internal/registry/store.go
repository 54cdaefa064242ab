package registry

import (
	"context"
	"sync/atomic"
)

// Store holds the currently published Registry. There is one writer, the
// reconciliation engine; readers load a consistent value without locking.
type Store struct {
	current atomic.Pointer[Registry]
	caps    Capabilities
}

// NewStore returns a store publishing an empty registry.
func NewStore(caps Capabilities) *Store {
	s := &Store{caps: caps}
	s.current.Store(Empty())
	return s
}

// Load returns the published registry.
func (s *Store) Load() *Registry {
	return s.current.Load()
}

// Publish atomically replaces the registry and returns the previous one.
func (s *Store) Publish(r *Registry) *Registry {
	if r == nil {
		r = Empty()
	}
	return s.current.Swap(r)
}

// Capabilities returns the process capability flags.
func (s *Store) Capabilities() Capabilities {
	return s.caps
}

// Close publishes an empty registry and tears down every unit of the previous
// one.
func (s *Store) Close(ctx context.Context) {
	s.Publish(Empty()).Close(ctx)
}
