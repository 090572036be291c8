package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/NexusGateway/server/internal/cacheutil"
)

// CachedRepository wraps a Repository with a read-through TTL cache for
// id and BIC lookups. The callback path resolves the sending PSP on
// every delivery; caching keeps that off the database.
type CachedRepository struct {
	underlying Repository
	cacheTTL   time.Duration

	mu    sync.RWMutex
	byID  map[string]cacheutil.CachedValue[Actor]
	byBIC map[string]cacheutil.CachedValue[Actor]
}

// NewCachedRepository wraps a repository with a caching layer. A zero
// TTL disables caching entirely.
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{
		underlying: underlying,
		cacheTTL:   cacheTTL,
		byID:       make(map[string]cacheutil.CachedValue[Actor]),
		byBIC:      make(map[string]cacheutil.CachedValue[Actor]),
	}
}

// Get returns the actor under the id, served from cache within the TTL.
func (r *CachedRepository) Get(ctx context.Context, id string) (Actor, error) {
	if r.cacheTTL == 0 {
		return r.underlying.Get(ctx, id)
	}
	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) (Actor, bool) {
			if entry, ok := r.byID[id]; ok && now.Sub(entry.FetchedAt) < r.cacheTTL {
				return entry.Value, true
			}
			return Actor{}, false
		},
		func(now time.Time) (Actor, error) {
			actor, err := r.underlying.Get(ctx, id)
			if err != nil {
				return Actor{}, err
			}
			r.byID[id] = cacheutil.CachedValue[Actor]{Value: actor, FetchedAt: now}
			return actor, nil
		},
	)
}

// GetByBIC returns the active actor under the BIC, served from cache
// within the TTL.
func (r *CachedRepository) GetByBIC(ctx context.Context, bic string) (Actor, error) {
	if r.cacheTTL == 0 {
		return r.underlying.GetByBIC(ctx, bic)
	}
	key := strings.ToUpper(bic)
	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) (Actor, bool) {
			if entry, ok := r.byBIC[key]; ok && now.Sub(entry.FetchedAt) < r.cacheTTL {
				return entry.Value, true
			}
			return Actor{}, false
		},
		func(now time.Time) (Actor, error) {
			actor, err := r.underlying.GetByBIC(ctx, bic)
			if err != nil {
				return Actor{}, err
			}
			r.byBIC[key] = cacheutil.CachedValue[Actor]{Value: actor, FetchedAt: now}
			return actor, nil
		},
	)
}

// List always hits the underlying repository; the admin surface is low
// traffic and must see fresh rows.
func (r *CachedRepository) List(ctx context.Context, filter ListFilter) ([]Actor, error) {
	return r.underlying.List(ctx, filter)
}

// Create inserts a new actor and invalidates the cache.
func (r *CachedRepository) Create(ctx context.Context, actor Actor) error {
	return cacheutil.WriteThrough(r.invalidate, func() error {
		return r.underlying.Create(ctx, actor)
	})
}

// Update replaces a stored actor and invalidates the cache. Secret
// rotation must never serve a stale secret to the signing path.
func (r *CachedRepository) Update(ctx context.Context, actor Actor) error {
	return cacheutil.WriteThrough(r.invalidate, func() error {
		return r.underlying.Update(ctx, actor)
	})
}

// Close closes the underlying repository.
func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}

func (r *CachedRepository) invalidate() {
	r.mu.Lock()
	r.byID = make(map[string]cacheutil.CachedValue[Actor])
	r.byBIC = make(map[string]cacheutil.CachedValue[Actor])
	r.mu.Unlock()
}
