package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRepository keeps the participant directory in process memory.
// Default backend for the sandbox profile and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	actors map[string]Actor
}

// NewMemoryRepository creates an empty in-memory directory.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{actors: make(map[string]Actor)}
}

// Create inserts a new actor.
func (r *MemoryRepository) Create(_ context.Context, actor Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actors[actor.ID] = actor
	return nil
}

// Get returns the actor under the id.
func (r *MemoryRepository) Get(_ context.Context, id string) (Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actor, ok := r.actors[id]
	if !ok {
		return Actor{}, ErrActorNotFound
	}
	return actor, nil
}

// GetByBIC returns the active actor registered under the BIC. When two
// actors share a BIC the most recently registered wins.
func (r *MemoryRepository) GetByBIC(_ context.Context, bic string) (Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		found Actor
		ok    bool
	)
	for _, actor := range r.actors {
		if !actor.Active || !strings.EqualFold(actor.BICFI, bic) {
			continue
		}
		if !ok || actor.CreatedAt.After(found.CreatedAt) {
			found = actor
			ok = true
		}
	}
	if !ok {
		return Actor{}, ErrActorNotFound
	}
	return found, nil
}

// List returns actors matching the filter, newest first.
func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Actor, 0, len(r.actors))
	for _, actor := range r.actors {
		if filter.Kind != "" && actor.Kind != filter.Kind {
			continue
		}
		out = append(out, actor)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Update replaces a stored actor.
func (r *MemoryRepository) Update(_ context.Context, actor Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actors[actor.ID]; !ok {
		return ErrActorNotFound
	}
	r.actors[actor.ID] = actor
	return nil
}

// Close is a no-op for the in-memory directory.
func (r *MemoryRepository) Close() error { return nil }
