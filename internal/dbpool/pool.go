// Package dbpool owns the shared PostgreSQL connection pool. The
// payment store, the callback queue, and the FXP and actor repositories
// all read and write the same database, so they share one *sql.DB
// instead of each opening their own.
package dbpool

import (
	"database/sql"
	"fmt"

	"github.com/NexusGateway/server/internal/config"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// SharedPool wraps the process-wide PostgreSQL pool.
type SharedPool struct {
	db *sql.DB
}

// NewSharedPool opens the pool, verifies connectivity, and applies the
// configured pool limits.
func NewSharedPool(connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	return &SharedPool{db: db}, nil
}

// DB returns the underlying *sql.DB for stores and repositories.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the pool. Callers register this once with the lifecycle
// manager; sql.DB.Close is safe to call more than once.
func (p *SharedPool) Close() error {
	return p.db.Close()
}
