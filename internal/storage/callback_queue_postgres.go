package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/NexusGateway/server/internal/config"
)

// PostgresCallbackQueue is the durable CallbackQueueStore. Claiming
// uses FOR UPDATE SKIP LOCKED so concurrent workers on different
// gateway instances never double-deliver the same entry.
type PostgresCallbackQueue struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresCallbackQueue opens a dedicated pool.
func NewPostgresCallbackQueue(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresCallbackQueue, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, poolConfig)

	q := &PostgresCallbackQueue{db: db, ownsDB: true}
	if err := q.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init callback queue schema: %w", err)
	}
	return q, nil
}

// NewPostgresCallbackQueueWithDB reuses an existing pool.
func NewPostgresCallbackQueueWithDB(db *sql.DB) (*PostgresCallbackQueue, error) {
	q := &PostgresCallbackQueue{db: db, ownsDB: false}
	if err := q.initSchema(); err != nil {
		return nil, fmt.Errorf("init callback queue schema: %w", err)
	}
	return q, nil
}

func (q *PostgresCallbackQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS callback_queue (
			id TEXT PRIMARY KEY,
			uetr TEXT NOT NULL,
			url TEXT NOT NULL,
			message_type TEXT NOT NULL DEFAULT '',
			transaction_status TEXT NOT NULL,
			payload TEXT NOT NULL,
			secret TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 3,
			last_error TEXT NOT NULL DEFAULT '',
			last_attempt_at TIMESTAMPTZ,
			next_attempt_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_callback_queue_claim
			ON callback_queue (status, next_attempt_at)
	`)
	return err
}

// Enqueue parks a delivery and returns its queue id.
func (q *PostgresCallbackQueue) Enqueue(ctx context.Context, cb QueuedCallback) (string, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if cb.ID == "" {
		cb.ID = newCallbackID()
	}
	if cb.Status == "" {
		cb.Status = CallbackStatusPending
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO callback_queue (
			id, uetr, url, message_type, transaction_status, payload, secret, status,
			attempts, max_attempts, last_error, last_attempt_at, next_attempt_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
	`,
		cb.ID, cb.UETR, cb.URL, cb.MessageType, cb.TransactionStatus, string(cb.Payload), cb.Secret,
		string(cb.Status), cb.Attempts, cb.MaxAttempts, cb.LastError,
		nullTime(cb.LastAttemptAt), nullTime(cb.NextAttemptAt),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue callback: %w", err)
	}
	return cb.ID, nil
}

const callbackColumns = `id, uetr, url, message_type, transaction_status, payload, secret, status,
	attempts, max_attempts, last_error, last_attempt_at, next_attempt_at, created_at, completed_at`

func scanCallback(row interface{ Scan(...interface{}) error }) (QueuedCallback, error) {
	var cb QueuedCallback
	var payload, status string
	var lastAttempt, nextAttempt, completed sql.NullTime
	err := row.Scan(
		&cb.ID, &cb.UETR, &cb.URL, &cb.MessageType, &cb.TransactionStatus, &payload, &cb.Secret, &status,
		&cb.Attempts, &cb.MaxAttempts, &cb.LastError, &lastAttempt, &nextAttempt,
		&cb.CreatedAt, &completed,
	)
	if err != nil {
		return QueuedCallback{}, err
	}
	cb.Payload = []byte(payload)
	cb.Status = CallbackStatus(status)
	if lastAttempt.Valid {
		cb.LastAttemptAt = lastAttempt.Time
	}
	if nextAttempt.Valid {
		cb.NextAttemptAt = nextAttempt.Time
	}
	if completed.Valid {
		t := completed.Time
		cb.CompletedAt = &t
	}
	return cb, nil
}

// Claim flips due pending rows to processing under SKIP LOCKED and
// returns them with incremented attempt counters.
func (q *PostgresCallbackQueue) Claim(ctx context.Context, limit int) ([]QueuedCallback, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	rows, err := q.db.QueryContext(ctx, fmt.Sprintf(`
		UPDATE callback_queue SET
			status = $1,
			attempts = attempts + 1,
			last_attempt_at = NOW()
		WHERE id IN (
			SELECT id FROM callback_queue
			WHERE status = $2 AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
			ORDER BY next_attempt_at ASC NULLS FIRST
			LIMIT %d
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, limit, callbackColumns),
		string(CallbackStatusProcessing), string(CallbackStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("claim callbacks: %w", err)
	}
	defer rows.Close()

	var out []QueuedCallback
	for rows.Next() {
		cb, err := scanCallback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan callback: %w", err)
		}
		out = append(out, cb)
	}
	return out, rows.Err()
}

// MarkSuccess finalizes a delivered entry.
func (q *PostgresCallbackQueue) MarkSuccess(ctx context.Context, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	return q.execOne(ctx, `
		UPDATE callback_queue SET status = $1, completed_at = NOW() WHERE id = $2
	`, string(CallbackStatusSuccess), id)
}

// MarkFailed schedules a retry or parks the entry as failed.
func (q *PostgresCallbackQueue) MarkFailed(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if nextAttemptAt.IsZero() {
		return q.execOne(ctx, `
			UPDATE callback_queue
			SET status = $1, last_error = $2, completed_at = NOW()
			WHERE id = $3
		`, string(CallbackStatusFailed), errMsg, id)
	}
	return q.execOne(ctx, `
		UPDATE callback_queue
		SET status = $1, last_error = $2, next_attempt_at = $3
		WHERE id = $4
	`, string(CallbackStatusPending), errMsg, nextAttemptAt.UTC(), id)
}

// Get retrieves one entry.
func (q *PostgresCallbackQueue) Get(ctx context.Context, id string) (QueuedCallback, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	row := q.db.QueryRowContext(ctx,
		`SELECT `+callbackColumns+` FROM callback_queue WHERE id = $1`, id)
	cb, err := scanCallback(row)
	if err == sql.ErrNoRows {
		return QueuedCallback{}, ErrNotFound
	}
	if err != nil {
		return QueuedCallback{}, fmt.Errorf("query callback: %w", err)
	}
	return cb, nil
}

// List returns entries with an optional status filter, newest first.
func (q *PostgresCallbackQueue) List(ctx context.Context, status CallbackStatus, limit int) ([]QueuedCallback, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + callbackColumns + ` FROM callback_queue`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query callbacks: %w", err)
	}
	defer rows.Close()

	var out []QueuedCallback
	for rows.Next() {
		cb, err := scanCallback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan callback: %w", err)
		}
		out = append(out, cb)
	}
	return out, rows.Err()
}

// Requeue resets a parked entry to pending for immediate redelivery.
func (q *PostgresCallbackQueue) Requeue(ctx context.Context, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	return q.execOne(ctx, `
		UPDATE callback_queue
		SET status = $1, attempts = 0, last_error = '', next_attempt_at = NOW(), completed_at = NULL
		WHERE id = $2
	`, string(CallbackStatusPending), id)
}

// Delete removes an entry outright.
func (q *PostgresCallbackQueue) Delete(ctx context.Context, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	return q.execOne(ctx, `DELETE FROM callback_queue WHERE id = $1`, id)
}

func (q *PostgresCallbackQueue) execOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update callback: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the pool when this queue owns it.
func (q *PostgresCallbackQueue) Close() error {
	if q.ownsDB {
		return q.db.Close()
	}
	return nil
}

var _ CallbackQueueStore = (*PostgresCallbackQueue)(nil)
