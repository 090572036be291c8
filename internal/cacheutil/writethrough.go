// Package cacheutil holds the locking patterns shared by the cached
// repository decorators in fxp and registry.
package cacheutil

import (
	"sync"
	"time"
)

// WriteThrough runs the write and invalidates the cache only after it
// succeeded. A failed write leaves the cache untouched.
func WriteThrough(invalidate func(), operation func() error) error {
	if err := operation(); err != nil {
		return err
	}
	invalidate()
	return nil
}

// CachedValue pairs a value with the time it was fetched.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// ReadThrough serves from the cache under the read lock and falls back
// to fetchAndCache under the write lock. The cache is re-checked after
// the lock upgrade, with a fresh timestamp so a value another goroutine
// cached during the gap is not mistaken for expired.
func ReadThrough[T any](
	mu *sync.RWMutex,
	checkCache func(now time.Time) (T, bool),
	fetchAndCache func(now time.Time) (T, error),
) (T, error) {
	now := time.Now()
	mu.RLock()
	if value, ok := checkCache(now); ok {
		mu.RUnlock()
		return value, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	nowAfterLock := time.Now()
	if value, ok := checkCache(nowAfterLock); ok {
		return value, nil
	}
	return fetchAndCache(nowAfterLock)
}
