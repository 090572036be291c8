package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/NexusGateway/server/internal/config"
)

// CallbackStatus represents the state of a parked callback delivery.
type CallbackStatus string

const (
	CallbackStatusPending    CallbackStatus = "pending"    // waiting for (re)delivery
	CallbackStatusProcessing CallbackStatus = "processing" // claimed by the queue worker
	CallbackStatusFailed     CallbackStatus = "failed"     // parked after exhausting retries
	CallbackStatusSuccess    CallbackStatus = "success"    // delivered
)

// QueuedCallback is a status-report delivery parked in the dead-letter
// queue. The signing secret is stored opaque so requeued entries can be
// re-signed with a fresh timestamp.
type QueuedCallback struct {
	ID                string         `json:"id"`
	UETR              string         `json:"uetr"`
	URL               string         `json:"url"`
	MessageType       string         `json:"messageType,omitempty"` // empty means pacs.002
	TransactionStatus string         `json:"transactionStatus"`     // ACCC or RJCT
	Payload           []byte         `json:"-"`                     // ISO 20022 XML
	Secret            string         `json:"-"`
	Status            CallbackStatus `json:"status"`
	Attempts          int            `json:"attempts"`
	MaxAttempts       int            `json:"maxAttempts"`
	LastError         string         `json:"lastError,omitempty"`
	LastAttemptAt     time.Time      `json:"lastAttemptAt,omitempty"`
	NextAttemptAt     time.Time      `json:"nextAttemptAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
}

// ReadyAt reports whether the entry is due for delivery at t.
func (c QueuedCallback) ReadyAt(t time.Time) bool {
	return c.Status == CallbackStatusPending &&
		(c.NextAttemptAt.IsZero() || !t.Before(c.NextAttemptAt))
}

// CallbackQueueStore persists parked callback deliveries across
// restarts and hands them to the queue worker one claim at a time.
type CallbackQueueStore interface {
	// Enqueue parks a delivery and returns its queue id.
	Enqueue(ctx context.Context, cb QueuedCallback) (string, error)

	// Claim atomically moves up to limit due pending entries to
	// processing, incrementing their attempt counters. Two workers
	// never claim the same entry.
	Claim(ctx context.Context, limit int) ([]QueuedCallback, error)

	// MarkSuccess finalizes a delivered entry.
	MarkSuccess(ctx context.Context, id string) error

	// MarkFailed records a failed attempt. A zero nextAttemptAt parks
	// the entry as failed; otherwise it returns to pending for the
	// scheduled time.
	MarkFailed(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error

	// Get and List serve the admin surface.
	Get(ctx context.Context, id string) (QueuedCallback, error)
	List(ctx context.Context, status CallbackStatus, limit int) ([]QueuedCallback, error)

	// Requeue resets a parked entry to pending with a cleared attempt
	// counter (operator redelivery).
	Requeue(ctx context.Context, id string) error

	// Delete removes an entry outright.
	Delete(ctx context.Context, id string) error

	Close() error
}

// NewCallbackQueueStore selects a queue backend matching the main
// store: Postgres deployments get a durable queue on the same pool,
// everything else an in-memory one.
func NewCallbackQueueStore(cfg config.StorageConfig, sharedDB *sql.DB) (CallbackQueueStore, error) {
	usePostgres := cfg.Backend == "postgres" || (cfg.Backend == "" && cfg.PostgresURL != "")
	if !usePostgres {
		return NewMemoryCallbackQueue(), nil
	}
	if sharedDB != nil {
		return NewPostgresCallbackQueueWithDB(sharedDB)
	}
	return NewPostgresCallbackQueue(cfg.PostgresURL, cfg.PostgresPool)
}

// newCallbackID mints a queue identifier, "cb_" + 16 hex chars.
func newCallbackID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("cb_%d", time.Now().UnixNano())
	}
	return "cb_" + hex.EncodeToString(b)
}
