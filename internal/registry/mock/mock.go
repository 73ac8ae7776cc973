// Package mock provides in-memory implementations of storage interfaces
// for testing.
package mock

import (
	"context"
	"sync"

	"github.com/pavelmac/faceshare/internal/identity"
)

// Store is an in-memory registry store.
type Store struct {
	mu    sync.RWMutex
	faces []identity.Known

	// Error injection
	LoadError error
	SaveError error

	SaveCalls int
}

// NewStore creates an empty mock store.
func NewStore() *Store {
	return &Store{}
}

// Load returns the stored identity set.
func (s *Store) Load(ctx context.Context) ([]identity.Known, error) {
	if s.LoadError != nil {
		return nil, s.LoadError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]identity.Known, len(s.faces))
	copy(out, s.faces)
	return out, nil
}

// Save replaces the stored identity set.
func (s *Store) Save(ctx context.Context, faces []identity.Known) error {
	if s.SaveError != nil {
		return s.SaveError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faces = make([]identity.Known, len(faces))
	copy(s.faces, faces)
	s.SaveCalls++
	return nil
}

// Stored returns the current stored set without copying, for assertions.
func (s *Store) Stored() []identity.Known {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.faces
}
