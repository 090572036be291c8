package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for the sandbox profile and tests.
// Payments, events, and quotes are audit data and are never evicted, so
// there is no cleanup goroutine; the process lifetime bounds growth.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]Payment // uetr -> payment
	quotes   map[string]Quote   // quoteID -> quote
	events   []PaymentEvent     // insertion order
	eventSeq int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]Payment),
		quotes:   make(map[string]Quote),
	}
}

// RecordMessage upserts payment state and appends the event under one lock,
// giving the same atomicity the SQL backends get from a transaction.
func (m *MemoryStore) RecordMessage(_ context.Context, rec MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	if rec.Payment != nil {
		p := *rec.Payment
		if existing, ok := m.payments[p.UETR]; ok {
			p.CreatedAt = existing.CreatedAt
		} else if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		m.payments[p.UETR] = p
	}

	ev := rec.Event
	m.eventSeq++
	ev.ID = m.eventSeq
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	m.events = append(m.events, ev)
	return nil
}

// SaveQuote persists a quote. Quotes are immutable; a second save with
// the same ID overwrites silently (used only by tests).
func (m *MemoryStore) SaveQuote(_ context.Context, quote Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[quote.ID] = quote
	return nil
}

// GetQuote returns the stored quote, expired or not.
func (m *MemoryStore) GetQuote(_ context.Context, quoteID string) (Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[quoteID]
	if !ok {
		return Quote{}, ErrNotFound
	}
	return q, nil
}

// GetPayment retrieves the canonical payment record for a UETR.
func (m *MemoryStore) GetPayment(_ context.Context, uetr string) (Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[uetr]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

// ListPayments returns payments matching the filter, newest first.
func (m *MemoryStore) ListPayments(_ context.Context, filter PaymentFilter) ([]Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	out := make([]Payment, 0, len(m.payments))
	for _, p := range m.payments {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].UETR < out[j].UETR
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EventsByUETR returns the event log for one UETR in commit order.
func (m *MemoryStore) EventsByUETR(_ context.Context, uetr string) ([]PaymentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []PaymentEvent
	for _, ev := range m.events {
		if ev.UETR == uetr {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

// EventsByCorrelationID returns the proxy-resolution conversation for a
// correlation identifier in commit order.
func (m *MemoryStore) EventsByCorrelationID(_ context.Context, correlationID string) ([]PaymentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []PaymentEvent
	for _, ev := range m.events {
		if ev.CorrelationID == correlationID && correlationID != "" {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

// MessagesByUETR returns the raw stored envelopes for one UETR in
// arrival order, skipping events without an attached document.
func (m *MemoryStore) MessagesByUETR(_ context.Context, uetr string) ([]MessageEnvelope, error) {
	events, _ := m.EventsByUETR(context.Background(), uetr)
	return envelopesOf(events), nil
}

// LatestStatus reports the current state of a payment.
func (m *MemoryStore) LatestStatus(_ context.Context, uetr string) (StatusSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[uetr]
	if !ok {
		return StatusSnapshot{}, ErrNotFound
	}
	return StatusSnapshot{
		UETR:       p.UETR,
		Status:     p.Status,
		ReasonCode: p.ReasonCode,
		UpdatedAt:  p.UpdatedAt,
	}, nil
}

// Ping always succeeds for the in-memory backend.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op; MemoryStore owns no external resources.
func (m *MemoryStore) Close() error { return nil }

// sortEvents orders by event timestamp ascending with the insertion id
// as tiebreak, the contract every audit reader relies on.
func sortEvents(events []PaymentEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return events[i].ID < events[j].ID
	})
}

var _ Store = (*MemoryStore)(nil)

// envelopesOf projects events that carry raw documents.
func envelopesOf(events []PaymentEvent) []MessageEnvelope {
	var out []MessageEnvelope
	for _, ev := range events {
		if ev.Slot == "" || len(ev.RawMessage) == 0 {
			continue
		}
		out = append(out, MessageEnvelope{
			EventID:     ev.ID,
			Slot:        ev.Slot,
			MessageType: ev.MessageType,
			ReceivedAt:  ev.CreatedAt,
			Raw:         ev.RawMessage,
		})
	}
	return out
}
