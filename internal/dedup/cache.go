// Package dedup caches acknowledgements for already-processed payment
// instructions. A resubmission with the same identity and an identical
// payload digest is answered from here without touching the pipeline,
// the store, or the callback path.
package dedup

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTTL bounds how long an ack stays replayable from memory.
// Resubmissions older than this fall back to store idempotency.
const DefaultTTL = time.Hour

// CachedAck is the acknowledgement replayed to a duplicate submission.
type CachedAck struct {
	UETR              string
	TransactionStatus string
	Body              []byte // ack JSON, returned verbatim
	CachedAt          time.Time
}

// Key builds the cache key from the instruction identity and its payload
// digest. Two submissions with the same UETR and creation time but
// different digests produce different keys and are not duplicates of
// each other.
func Key(uetr string, initiatedAt time.Time, payloadDigest string) string {
	return uetr + "|" + initiatedAt.UTC().Format(time.RFC3339Nano) + "|" + payloadDigest
}

// Cache is an in-memory ack cache with LRU eviction and TTL expiry.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*cacheEntry
	expires     map[string]time.Time
	lru         *list.List
	maxSize     int
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type cacheEntry struct {
	key     string
	ack     *CachedAck
	element *list.Element
}

// New creates a cache holding up to 10,000 acks.
func New() *Cache {
	return NewWithSize(10000)
}

// NewWithSize creates a cache with a custom capacity.
func NewWithSize(maxSize int) *Cache {
	c := &Cache{
		entries:     make(map[string]*cacheEntry),
		expires:     make(map[string]time.Time),
		lru:         list.New(),
		maxSize:     maxSize,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the cached ack for the key, refreshing its LRU position.
func (c *Cache) Get(key string) (*CachedAck, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, exists := c.expires[key]
	if !exists || now.After(expiry) {
		return nil, false
	}
	entry, found := c.entries[key]
	if !found {
		return nil, false
	}
	c.lru.MoveToFront(entry.element)
	return entry.ack, true
}

// Set stores an ack under the key. A zero ttl uses DefaultTTL.
func (c *Cache) Set(key string, ack *CachedAck, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		entry.ack = ack
		c.expires[key] = now.Add(ttl)
		c.lru.MoveToFront(entry.element)
		return
	}

	// Evict before inserting so the table never exceeds maxSize.
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{key: key, ack: ack}
	entry.element = c.lru.PushFront(entry)
	c.entries[key] = entry
	c.expires[key] = now.Add(ttl)
}

// evictOldest drops the least recently used entry. Caller holds the lock.
func (c *Cache) evictOldest() {
	element := c.lru.Back()
	if element == nil {
		return
	}
	entry := element.Value.(*cacheEntry)
	c.lru.Remove(element)
	delete(c.entries, entry.key)
	delete(c.expires, entry.key)
}

// Len returns the number of cached acks, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cleanup drops expired entries every five minutes until Stop.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	defer close(c.cleanupDone)

	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			var stale []string
			for key, expiry := range c.expires {
				if now.After(expiry) {
					stale = append(stale, key)
				}
			}
			for _, key := range stale {
				if entry, exists := c.entries[key]; exists {
					c.lru.Remove(entry.element)
					delete(c.entries, key)
					delete(c.expires, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Stop terminates the cleanup goroutine and waits for it to exit.
func (c *Cache) Stop() {
	close(c.stopCleanup)
	<-c.cleanupDone
}
