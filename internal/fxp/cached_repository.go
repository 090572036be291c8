package fxp

import (
	"context"
	"sync"
	"time"

	"github.com/NexusGateway/server/internal/cacheutil"
)

// corridorKey identifies one currency pair in the corridor cache.
type corridorKey struct {
	source      string
	destination string
}

// CachedRepository wraps any Repository with a TTL-based cache. Rate
// books change rarely; a short TTL keeps the quote path off the database
// without letting stale rates linger.
type CachedRepository struct {
	underlying Repository
	cacheTTL   time.Duration

	mu              sync.RWMutex
	cachedBook      cacheutil.CachedValue[[]Corridor]
	cachedCorridors map[corridorKey]cacheutil.CachedValue[[]Corridor]
	cachedTiers     cacheutil.CachedValue[[]Tier]
	cachedPSP       map[string]cacheutil.CachedValue[int]
}

// NewCachedRepository wraps a repository with caching.
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{
		underlying:      underlying,
		cacheTTL:        cacheTTL,
		cachedCorridors: make(map[corridorKey]cacheutil.CachedValue[[]Corridor]),
		cachedPSP:       make(map[string]cacheutil.CachedValue[int]),
	}
}

// Corridors returns the full rate book with caching.
func (r *CachedRepository) Corridors(ctx context.Context) ([]Corridor, error) {
	if r.cacheTTL == 0 {
		return r.underlying.Corridors(ctx)
	}

	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) ([]Corridor, bool) {
			if r.cachedBook.Value != nil && now.Sub(r.cachedBook.FetchedAt) < r.cacheTTL {
				return r.cachedBook.Value, true
			}
			return nil, false
		},
		func(now time.Time) ([]Corridor, error) {
			book, err := r.underlying.Corridors(ctx)
			if err != nil {
				return nil, err
			}
			r.cachedBook = cacheutil.CachedValue[[]Corridor]{Value: book, FetchedAt: now}
			return book, nil
		},
	)
}

// CorridorsFor returns the providers for one pair with caching.
func (r *CachedRepository) CorridorsFor(ctx context.Context, sourceCurrency, destinationCurrency string) ([]Corridor, error) {
	if r.cacheTTL == 0 {
		return r.underlying.CorridorsFor(ctx, sourceCurrency, destinationCurrency)
	}

	key := corridorKey{source: sourceCurrency, destination: destinationCurrency}
	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) ([]Corridor, bool) {
			if entry, ok := r.cachedCorridors[key]; ok && now.Sub(entry.FetchedAt) < r.cacheTTL {
				return entry.Value, true
			}
			return nil, false
		},
		func(now time.Time) ([]Corridor, error) {
			corridors, err := r.underlying.CorridorsFor(ctx, sourceCurrency, destinationCurrency)
			if err != nil {
				return nil, err
			}
			r.cachedCorridors[key] = cacheutil.CachedValue[[]Corridor]{Value: corridors, FetchedAt: now}
			return corridors, nil
		},
	)
}

// Tiers returns the improvement ladder with caching.
func (r *CachedRepository) Tiers(ctx context.Context) ([]Tier, error) {
	if r.cacheTTL == 0 {
		return r.underlying.Tiers(ctx)
	}

	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) ([]Tier, bool) {
			if r.cachedTiers.Value != nil && now.Sub(r.cachedTiers.FetchedAt) < r.cacheTTL {
				return r.cachedTiers.Value, true
			}
			return nil, false
		},
		func(now time.Time) ([]Tier, error) {
			tiers, err := r.underlying.Tiers(ctx)
			if err != nil {
				return nil, err
			}
			r.cachedTiers = cacheutil.CachedValue[[]Tier]{Value: tiers, FetchedAt: now}
			return tiers, nil
		},
	)
}

// PSPImprovementBps returns the PSP improvement with caching.
func (r *CachedRepository) PSPImprovementBps(ctx context.Context, bic string) (int, error) {
	if r.cacheTTL == 0 {
		return r.underlying.PSPImprovementBps(ctx, bic)
	}

	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) (int, bool) {
			if entry, ok := r.cachedPSP[bic]; ok && now.Sub(entry.FetchedAt) < r.cacheTTL {
				return entry.Value, true
			}
			return 0, false
		},
		func(now time.Time) (int, error) {
			bps, err := r.underlying.PSPImprovementBps(ctx, bic)
			if err != nil {
				return 0, err
			}
			r.cachedPSP[bic] = cacheutil.CachedValue[int]{Value: bps, FetchedAt: now}
			return bps, nil
		},
	)
}

// SAPsFor delegates to the underlying repository (no caching; only hit
// on the quote path after a corridor is already resolved).
func (r *CachedRepository) SAPsFor(ctx context.Context, fxpID, currency string) ([]SAP, error) {
	return r.underlying.SAPsFor(ctx, fxpID, currency)
}

// Close closes the underlying repository.
func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}

var _ Repository = (*CachedRepository)(nil)
