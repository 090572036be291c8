package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// successRetention bounds how long delivered entries stay visible to
// the admin surface before the cleanup loop drops them.
const successRetention = time.Hour

// MemoryCallbackQueue is the in-memory CallbackQueueStore used by the
// sandbox profile. Completed entries are cleaned up periodically;
// failed entries stay until an operator requeues or deletes them.
type MemoryCallbackQueue struct {
	mu      sync.RWMutex
	entries map[string]QueuedCallback

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewMemoryCallbackQueue constructs the queue and starts its cleanup loop.
func NewMemoryCallbackQueue() *MemoryCallbackQueue {
	q := &MemoryCallbackQueue{
		entries:     make(map[string]QueuedCallback),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go q.cleanupLoop()
	return q
}

func (q *MemoryCallbackQueue) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	defer close(q.cleanupDone)

	for {
		select {
		case <-q.stopCleanup:
			return
		case <-ticker.C:
			q.removeCompleted()
		}
	}
}

func (q *MemoryCallbackQueue) removeCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-successRetention)
	for id, cb := range q.entries {
		if cb.Status == CallbackStatusSuccess && cb.CompletedAt != nil && cb.CompletedAt.Before(cutoff) {
			delete(q.entries, id)
		}
	}
}

// Enqueue parks a delivery and returns its queue id.
func (q *MemoryCallbackQueue) Enqueue(_ context.Context, cb QueuedCallback) (string, error) {
	if cb.ID == "" {
		cb.ID = newCallbackID()
	}
	if cb.Status == "" {
		cb.Status = CallbackStatusPending
	}
	if cb.CreatedAt.IsZero() {
		cb.CreatedAt = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[cb.ID] = cb
	return cb.ID, nil
}

// Claim moves up to limit due pending entries to processing.
func (q *MemoryCallbackQueue) Claim(_ context.Context, limit int) ([]QueuedCallback, error) {
	now := time.Now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()

	var due []QueuedCallback
	for _, cb := range q.entries {
		if cb.ReadyAt(now) {
			due = append(due, cb)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	for i := range due {
		cb := due[i]
		cb.Status = CallbackStatusProcessing
		cb.Attempts++
		cb.LastAttemptAt = now
		q.entries[cb.ID] = cb
		due[i] = cb
	}
	return due, nil
}

// MarkSuccess finalizes a delivered entry.
func (q *MemoryCallbackQueue) MarkSuccess(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cb, ok := q.entries[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	cb.Status = CallbackStatusSuccess
	cb.CompletedAt = &now
	q.entries[id] = cb
	return nil
}

// MarkFailed schedules a retry or parks the entry as failed.
func (q *MemoryCallbackQueue) MarkFailed(_ context.Context, id, errMsg string, nextAttemptAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cb, ok := q.entries[id]
	if !ok {
		return ErrNotFound
	}
	cb.LastError = errMsg
	if nextAttemptAt.IsZero() {
		now := time.Now().UTC()
		cb.Status = CallbackStatusFailed
		cb.CompletedAt = &now
	} else {
		cb.Status = CallbackStatusPending
		cb.NextAttemptAt = nextAttemptAt
	}
	q.entries[id] = cb
	return nil
}

// Get retrieves one entry.
func (q *MemoryCallbackQueue) Get(_ context.Context, id string) (QueuedCallback, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	cb, ok := q.entries[id]
	if !ok {
		return QueuedCallback{}, ErrNotFound
	}
	return cb, nil
}

// List returns entries with an optional status filter, newest first.
func (q *MemoryCallbackQueue) List(_ context.Context, status CallbackStatus, limit int) ([]QueuedCallback, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var out []QueuedCallback
	for _, cb := range q.entries {
		if status != "" && cb.Status != status {
			continue
		}
		out = append(out, cb)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Requeue resets a parked entry to pending for immediate redelivery.
func (q *MemoryCallbackQueue) Requeue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cb, ok := q.entries[id]
	if !ok {
		return ErrNotFound
	}
	cb.Status = CallbackStatusPending
	cb.Attempts = 0
	cb.LastError = ""
	cb.NextAttemptAt = time.Now().UTC()
	cb.CompletedAt = nil
	q.entries[id] = cb
	return nil
}

// Delete removes an entry outright.
func (q *MemoryCallbackQueue) Delete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[id]; !ok {
		return ErrNotFound
	}
	delete(q.entries, id)
	return nil
}

// Close stops the cleanup loop.
func (q *MemoryCallbackQueue) Close() error {
	close(q.stopCleanup)
	<-q.cleanupDone
	return nil
}

var _ CallbackQueueStore = (*MemoryCallbackQueue)(nil)
