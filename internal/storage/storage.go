// Package storage persists the gateway's canonical payment records,
// the append-only event log with attached raw ISO 20022 messages, FX
// quotes, and the callback dead-letter queue. Memory, PostgreSQL, and
// MongoDB backends share one interface; selection is config-driven.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/NexusGateway/server/internal/config"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicateEvent is returned when an idempotent re-submission is
// detected inside the write transaction; callers serve the original ack.
var ErrDuplicateEvent = errors.New("storage: duplicate event")

// Store captures the persistence requirements of the gateway.
//
// RecordMessage is the single write path: one call per accepted inbound
// message, wrapping the payment upsert (when the record carries one) and
// the event append in a single transaction. Everything else is reads,
// plus quote persistence for the quote engine.
type Store interface {
	// RecordMessage upserts payment state (if rec.Payment != nil) and
	// appends the event row atomically. Handlers call it exactly once
	// per accepted message; validation failures also land here so the
	// audit log stays complete.
	RecordMessage(ctx context.Context, rec MessageRecord) error

	// Quote persistence. Quotes are immutable and never deleted;
	// GetQuote returns expired records so callers can distinguish
	// QUOTE_EXPIRED from QUOTE_NOT_FOUND.
	SaveQuote(ctx context.Context, quote Quote) error
	GetQuote(ctx context.Context, quoteID string) (Quote, error)

	// Audit views.
	GetPayment(ctx context.Context, uetr string) (Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)
	EventsByUETR(ctx context.Context, uetr string) ([]PaymentEvent, error)
	EventsByCorrelationID(ctx context.Context, correlationID string) ([]PaymentEvent, error)
	MessagesByUETR(ctx context.Context, uetr string) ([]MessageEnvelope, error)
	LatestStatus(ctx context.Context, uetr string) (StatusSnapshot, error)

	// Ping verifies the backend is reachable; the health monitor calls
	// it on a timer so request paths never block on it.
	Ping(ctx context.Context) error

	Close() error
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg config.StorageConfig) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a Store with an optional shared database pool.
// If sharedDB is non-nil for postgres backends it is used instead of
// opening a new connection; pass nil to create a dedicated pool.
func NewStoreWithDB(cfg config.StorageConfig, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "memory":
		// Loses the audit log on restart. Sandbox only.
		return NewMemoryStore(), nil
	case "":
		// Auto-detect from provided connection strings, postgres first.
		if cfg.PostgresURL != "" {
			return newPostgres(cfg, sharedDB)
		}
		if cfg.MongoDBURL != "" {
			db := cfg.MongoDBDatabase
			if db == "" {
				db = "nexus_gateway"
			}
			return NewMongoStore(cfg.MongoDBURL, db)
		}
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		return newPostgres(cfg, sharedDB)
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_database")
		}
		return NewMongoStore(cfg.MongoDBURL, cfg.MongoDBDatabase)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func newPostgres(cfg config.StorageConfig, sharedDB *sql.DB) (Store, error) {
	if sharedDB != nil {
		return NewPostgresStoreWithDB(sharedDB)
	}
	return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
}
