// Package registry keeps the in-memory known-identity set and coordinates
// its persistence.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelmac/faceshare/internal/config"
	"github.com/pavelmac/faceshare/internal/identity"
)

// Store persists the full identity set. Save replaces the stored set
// atomically; Load returns identities ordered oldest first.
type Store interface {
	Load(ctx context.Context) ([]identity.Known, error)
	Save(ctx context.Context, faces []identity.Known) error
}

// Resolver picks the best identity for a probe embedding.
type Resolver interface {
	Resolve(probe []float32, candidates []identity.Known) *identity.MatchResult
}

// ChangeKind tags a registry change event.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeCleared
)

// Change describes a single mutation of the registry.
type Change struct {
	Kind ChangeKind
	ID   uuid.UUID
}

// Registry is the mutable identity set. All methods are safe for
// concurrent use; reads take snapshots so long-running match work never
// holds the lock.
type Registry struct {
	mu       sync.RWMutex
	faces    []identity.Known
	store    Store
	resolver Resolver
	trust    config.TrustCalibration

	watchMu  sync.Mutex
	watchers []chan Change
}

// NewRegistry builds an empty registry. Store may be nil when persistence
// is not required.
func NewRegistry(store Store, resolver Resolver, trust config.TrustCalibration) *Registry {
	return &Registry{
		store:    store,
		resolver: resolver,
		trust:    trust,
	}
}

// AddFaceParams carries everything needed to register one identity.
type AddFaceParams struct {
	Embedding      []float32
	DisplayName    string
	Tier           identity.TrustTier
	ExternalRef    string
	FamilyRelation bool
}

// AddFace registers an identity and returns its id. A SelfProfile entry
// with the same name and tier replaces the previous one, so a re-enrolled
// profile never leaves a stale embedding behind. All other tiers append.
func (r *Registry) AddFace(p AddFaceParams) uuid.UUID {
	face := identity.Known{
		ID:             uuid.New(),
		Embedding:      p.Embedding,
		DisplayName:    p.DisplayName,
		Tier:           p.Tier,
		TrustScore:     p.Tier.TrustScore(r.trust, p.FamilyRelation),
		ExternalRef:    p.ExternalRef,
		FamilyRelation: p.FamilyRelation,
		CreatedAt:      time.Now().UTC(),
	}

	r.mu.Lock()
	if p.Tier == identity.SelfProfile {
		kept := r.faces[:0]
		for _, f := range r.faces {
			if f.Tier == identity.SelfProfile && f.DisplayName == p.DisplayName {
				continue
			}
			kept = append(kept, f)
		}
		r.faces = kept
	}
	r.faces = append(r.faces, face)
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeAdded, ID: face.ID})
	return face.ID
}

// KnownFaces returns a snapshot of the identity set, oldest first.
func (r *Registry) KnownFaces() []identity.Known {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]identity.Known, len(r.faces))
	copy(out, r.faces)
	return out
}

// Len reports the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.faces)
}

// Clear drops every identity. Persisted state is untouched until the next
// Persist call.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.faces = nil
	r.mu.Unlock()
	r.notify(Change{Kind: ChangeCleared})
}

// FindMatch resolves the probe against the current identity set.
// Returns nil when no identity clears the confidence threshold.
func (r *Registry) FindMatch(probe []float32) *identity.MatchResult {
	return r.resolver.Resolve(probe, r.KnownFaces())
}

// Persist writes the current identity set to the store.
func (r *Registry) Persist(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Save(ctx, r.KnownFaces()); err != nil {
		return fmt.Errorf("could not persist known faces: %w", err)
	}
	return nil
}

// Load replaces the identity set with the stored one.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	faces, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("could not load known faces: %w", err)
	}
	r.mu.Lock()
	r.faces = faces
	r.mu.Unlock()
	return nil
}

// Watch returns a channel receiving registry change events. Slow receivers
// drop events rather than blocking mutations.
func (r *Registry) Watch() <-chan Change {
	ch := make(chan Change, 16)
	r.watchMu.Lock()
	r.watchers = append(r.watchers, ch)
	r.watchMu.Unlock()
	return ch
}

func (r *Registry) notify(c Change) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	for _, ch := range r.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}
