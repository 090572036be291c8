package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/NexusGateway/server/internal/config"
)

// messageSlots whitelists the per-family raw-message columns of
// payment_events. Slot names reach SQL identifiers, so anything outside
// this set is rejected before query assembly.
var messageSlots = map[string]bool{
	"payment_instruction":      true,
	"status_report":            true,
	"proxy_request":            true,
	"proxy_response":           true,
	"notification":             true,
	"reservation":              true,
	"customer_initiation":      true,
	"payment_return":           true,
	"status_query":             true,
	"cancellation_request":     true,
	"investigation_resolution": true,
}

// slotColumns is the stable column order used when reading envelopes.
var slotColumns = []string{
	"payment_instruction", "status_report", "proxy_request",
	"proxy_response", "notification", "reservation",
	"customer_initiation", "payment_return", "status_query",
	"cancellation_request", "investigation_resolution",
}

// PostgresStore is the production Store backed by PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresStore opens a connection pool and ensures the schema exists.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := &PostgresStore{db: db, ownsDB: true}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// NewPostgresStoreWithDB reuses an existing pool (shared across repos).
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// DB exposes the underlying pool so sibling repositories can share it.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			uetr TEXT NOT NULL,
			initiated_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			reason_code TEXT NOT NULL DEFAULT '',
			quote_id TEXT NOT NULL DEFAULT '',
			source_currency TEXT NOT NULL DEFAULT '',
			destination_currency TEXT NOT NULL DEFAULT '',
			source_amount NUMERIC(28, 8) NOT NULL DEFAULT 0,
			destination_amount NUMERIC(28, 8) NOT NULL DEFAULT 0,
			exchange_rate NUMERIC(28, 8) NOT NULL DEFAULT 0,
			debtor_name TEXT NOT NULL DEFAULT '',
			debtor_account TEXT NOT NULL DEFAULT '',
			creditor_name TEXT NOT NULL DEFAULT '',
			creditor_account TEXT NOT NULL DEFAULT '',
			source_psp_bic TEXT NOT NULL DEFAULT '',
			destination_psp_bic TEXT NOT NULL DEFAULT '',
			original_uetr TEXT NOT NULL DEFAULT '',
			returned_by TEXT NOT NULL DEFAULT '',
			payload_digest TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (uetr, initiated_at)
		)`,
		`CREATE TABLE IF NOT EXISTS payment_events (
			id BIGSERIAL PRIMARY KEY,
			uetr TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			data JSONB,
			message_type TEXT NOT NULL DEFAULT '',
			payment_instruction TEXT,
			status_report TEXT,
			proxy_request TEXT,
			proxy_response TEXT,
			notification TEXT,
			reservation TEXT,
			customer_initiation TEXT,
			payment_return TEXT,
			status_query TEXT,
			cancellation_request TEXT,
			investigation_resolution TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_events_uetr
			ON payment_events (uetr, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_events_correlation
			ON payment_events (correlation_id) WHERE correlation_id <> ''`,
		`CREATE TABLE IF NOT EXISTS quotes (
			quote_id TEXT PRIMARY KEY,
			fxp_id TEXT NOT NULL,
			source_currency TEXT NOT NULL,
			destination_currency TEXT NOT NULL,
			requested_amount NUMERIC(28, 8) NOT NULL,
			amount_type TEXT NOT NULL,
			base_rate NUMERIC(28, 8) NOT NULL,
			final_rate NUMERIC(28, 8) NOT NULL,
			base_spread_bps INT NOT NULL,
			tier_improvement_bps INT NOT NULL DEFAULT 0,
			psp_improvement_bps INT NOT NULL DEFAULT 0,
			applied_spread_bps INT NOT NULL,
			source_interbank NUMERIC(28, 8) NOT NULL,
			destination_interbank NUMERIC(28, 8) NOT NULL,
			destination_psp_fee NUMERIC(28, 8) NOT NULL,
			creditor_amount NUMERIC(28, 8) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status
			ON payments (status, created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordMessage runs the payment upsert and event append in one
// transaction. The row lock on (uetr, initiated_at) serializes
// concurrent writers for the same payment.
func (s *PostgresStore) RecordMessage(ctx context.Context, rec MessageRecord) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if rec.Payment != nil {
		if err := upsertPayment(ctx, tx, rec.Payment); err != nil {
			return err
		}
	}
	if err := insertEvent(ctx, tx, rec.Event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func upsertPayment(ctx context.Context, tx *sql.Tx, p *Payment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payments (
			uetr, initiated_at, status, reason_code, quote_id,
			source_currency, destination_currency,
			source_amount, destination_amount, exchange_rate,
			debtor_name, debtor_account, creditor_name, creditor_account,
			source_psp_bic, destination_psp_bic,
			original_uetr, returned_by, payload_digest,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, NOW(), NOW()
		)
		ON CONFLICT (uetr, initiated_at) DO UPDATE SET
			status = EXCLUDED.status,
			reason_code = EXCLUDED.reason_code,
			original_uetr = EXCLUDED.original_uetr,
			returned_by = EXCLUDED.returned_by,
			updated_at = NOW()
	`,
		p.UETR, p.InitiatedAt.UTC(), string(p.Status), p.ReasonCode, p.QuoteID,
		p.SourceCurrency, p.DestinationCurrency,
		p.SourceAmount, p.DestinationAmount, p.ExchangeRate,
		p.DebtorName, p.DebtorAccount, p.CreditorName, p.CreditorAccount,
		p.SourcePspBIC, p.DestinationBIC,
		p.OriginalUETR, p.ReturnedBy, p.PayloadDigest,
	)
	if err != nil {
		return fmt.Errorf("upsert payment: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev PaymentEvent) error {
	var dataJSON []byte
	if len(ev.Data) > 0 {
		var err error
		dataJSON, err = json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
	}

	columns := "uetr, correlation_id, event_type, actor, data, message_type, created_at"
	placeholders := "$1, $2, $3, $4, $5, $6, COALESCE($7, NOW())"
	args := []interface{}{
		ev.UETR, ev.CorrelationID, ev.EventType, ev.Actor,
		nullBytes(dataJSON), ev.MessageType, nullTime(ev.CreatedAt),
	}

	if ev.Slot != "" {
		if !messageSlots[ev.Slot] {
			return fmt.Errorf("unknown message slot %q", ev.Slot)
		}
		columns += ", " + ev.Slot
		placeholders += ", $8"
		args = append(args, string(ev.RawMessage))
	}

	query := fmt.Sprintf("INSERT INTO payment_events (%s) VALUES (%s)", columns, placeholders)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// SaveQuote persists an immutable quote record.
func (s *PostgresStore) SaveQuote(ctx context.Context, q Quote) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotes (
			quote_id, fxp_id, source_currency, destination_currency,
			requested_amount, amount_type,
			base_rate, final_rate,
			base_spread_bps, tier_improvement_bps, psp_improvement_bps, applied_spread_bps,
			source_interbank, destination_interbank, destination_psp_fee, creditor_amount,
			created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (quote_id) DO NOTHING
	`,
		q.ID, q.FXPID, q.SourceCurrency, q.DestinationCurrency,
		q.RequestedAmount, q.AmountType,
		q.BaseRate, q.FinalRate,
		q.BaseSpreadBps, q.TierImprovement, q.PSPImprovement, q.AppliedSpreadBps,
		q.SourceInterbank, q.DestinationAmount, q.DestinationPspFee, q.CreditorAmount,
		q.CreatedAt.UTC(), q.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save quote: %w", err)
	}
	return nil
}

// GetQuote returns the stored quote, expired or not.
func (s *PostgresStore) GetQuote(ctx context.Context, quoteID string) (Quote, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var q Quote
	err := s.db.QueryRowContext(ctx, `
		SELECT quote_id, fxp_id, source_currency, destination_currency,
		       requested_amount, amount_type,
		       base_rate, final_rate,
		       base_spread_bps, tier_improvement_bps, psp_improvement_bps, applied_spread_bps,
		       source_interbank, destination_interbank, destination_psp_fee, creditor_amount,
		       created_at, expires_at
		FROM quotes WHERE quote_id = $1
	`, quoteID).Scan(
		&q.ID, &q.FXPID, &q.SourceCurrency, &q.DestinationCurrency,
		&q.RequestedAmount, &q.AmountType,
		&q.BaseRate, &q.FinalRate,
		&q.BaseSpreadBps, &q.TierImprovement, &q.PSPImprovement, &q.AppliedSpreadBps,
		&q.SourceInterbank, &q.DestinationAmount, &q.DestinationPspFee, &q.CreditorAmount,
		&q.CreatedAt, &q.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return Quote{}, ErrNotFound
	}
	if err != nil {
		return Quote{}, fmt.Errorf("query quote: %w", err)
	}
	return q, nil
}

const paymentColumns = `uetr, initiated_at, status, reason_code, quote_id,
	source_currency, destination_currency,
	source_amount, destination_amount, exchange_rate,
	debtor_name, debtor_account, creditor_name, creditor_account,
	source_psp_bic, destination_psp_bic,
	original_uetr, returned_by, payload_digest,
	created_at, updated_at`

func scanPayment(row interface{ Scan(...interface{}) error }) (Payment, error) {
	var p Payment
	var status string
	err := row.Scan(
		&p.UETR, &p.InitiatedAt, &status, &p.ReasonCode, &p.QuoteID,
		&p.SourceCurrency, &p.DestinationCurrency,
		&p.SourceAmount, &p.DestinationAmount, &p.ExchangeRate,
		&p.DebtorName, &p.DebtorAccount, &p.CreditorName, &p.CreditorAccount,
		&p.SourcePspBIC, &p.DestinationBIC,
		&p.OriginalUETR, &p.ReturnedBy, &p.PayloadDigest,
		&p.CreatedAt, &p.UpdatedAt,
	)
	p.Status = Status(status)
	return p, err
}

// GetPayment retrieves the payment record for a UETR. UETRs are unique
// in practice; the newest initiation wins if a pair ever collides.
func (s *PostgresStore) GetPayment(ctx context.Context, uetr string) (Payment, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE uetr = $1 ORDER BY initiated_at DESC LIMIT 1`,
		uetr,
	)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, fmt.Errorf("query payment: %w", err)
	}
	return p, nil
}

// ListPayments returns payments matching the filter, newest first.
func (s *PostgresStore) ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	args := []interface{}{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EventsByUETR returns the event log for one UETR in commit order.
func (s *PostgresStore) EventsByUETR(ctx context.Context, uetr string) ([]PaymentEvent, error) {
	return s.queryEvents(ctx, `uetr = $1`, uetr)
}

// EventsByCorrelationID returns the proxy-resolution conversation.
func (s *PostgresStore) EventsByCorrelationID(ctx context.Context, correlationID string) ([]PaymentEvent, error) {
	return s.queryEvents(ctx, `correlation_id = $1 AND correlation_id <> ''`, correlationID)
}

func (s *PostgresStore) queryEvents(ctx context.Context, where string, arg interface{}) ([]PaymentEvent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, uetr, correlation_id, event_type, actor, data, message_type, %s, created_at
		FROM payment_events
		WHERE %s
		ORDER BY created_at ASC, id ASC
	`, joinColumns(slotColumns), where)

	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []PaymentEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func joinColumns(cols []string) string {
	s := ""
	for i, c := range cols {
		if i > 0 {
			s += ", "
		}
		s += c
	}
	return s
}

func scanEvent(rows *sql.Rows) (PaymentEvent, error) {
	var ev PaymentEvent
	var dataJSON []byte
	slots := make([]sql.NullString, len(slotColumns))

	dest := []interface{}{
		&ev.ID, &ev.UETR, &ev.CorrelationID, &ev.EventType, &ev.Actor,
		&dataJSON, &ev.MessageType,
	}
	for i := range slots {
		dest = append(dest, &slots[i])
	}
	dest = append(dest, &ev.CreatedAt)

	if err := rows.Scan(dest...); err != nil {
		return PaymentEvent{}, fmt.Errorf("scan event: %w", err)
	}

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &ev.Data); err != nil {
			return PaymentEvent{}, fmt.Errorf("parse event data: %w", err)
		}
	}
	for i, slot := range slots {
		if slot.Valid && slot.String != "" {
			ev.Slot = slotColumns[i]
			ev.RawMessage = []byte(slot.String)
			break
		}
	}
	return ev, nil
}

// MessagesByUETR returns stored raw envelopes for one UETR in order.
func (s *PostgresStore) MessagesByUETR(ctx context.Context, uetr string) ([]MessageEnvelope, error) {
	events, err := s.EventsByUETR(ctx, uetr)
	if err != nil {
		return nil, err
	}
	return envelopesOf(events), nil
}

// LatestStatus reports the current state of a payment.
func (s *PostgresStore) LatestStatus(ctx context.Context, uetr string) (StatusSnapshot, error) {
	p, err := s.GetPayment(ctx, uetr)
	if err != nil {
		return StatusSnapshot{}, err
	}
	return StatusSnapshot{
		UETR:       p.UETR,
		Status:     p.Status,
		ReasonCode: p.ReasonCode,
		UpdatedAt:  p.UpdatedAt,
	}, nil
}

// Ping verifies connectivity for the health monitor.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the pool when this store owns it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
