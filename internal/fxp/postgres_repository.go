package fxp

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/metrics"
)

// PostgresRepository serves the rate book from PostgreSQL, letting
// operators adjust corridors and improvements without redeploying.
type PostgresRepository struct {
	db      *sql.DB
	ownsDB  bool
	metrics *metrics.Metrics
}

// NewPostgresRepository opens a connection pool and ensures the schema.
func NewPostgresRepository(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	repo := &PostgresRepository{db: db, ownsDB: true}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return repo, nil
}

// NewPostgresRepositoryWithDB reuses an existing pool.
func NewPostgresRepositoryWithDB(db *sql.DB) (*PostgresRepository, error) {
	repo := &PostgresRepository{db: db, ownsDB: false}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return repo, nil
}

// WithMetrics records query timings on the collector. Safe to skip; a
// nil collector disables instrumentation.
func (r *PostgresRepository) WithMetrics(m *metrics.Metrics) *PostgresRepository {
	r.metrics = m
	return r
}

func (r *PostgresRepository) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS fxp_corridors (
			fxp_id TEXT NOT NULL,
			fxp_name TEXT NOT NULL DEFAULT '',
			source_currency TEXT NOT NULL,
			destination_currency TEXT NOT NULL,
			base_rate NUMERIC(28, 8) NOT NULL,
			base_spread_bps INT NOT NULL DEFAULT 0,
			PRIMARY KEY (fxp_id, source_currency, destination_currency)
		)`,
		`CREATE TABLE IF NOT EXISTS fxp_tiers (
			minimum_amount NUMERIC(28, 8) PRIMARY KEY,
			improvement_bps INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fxp_psp_improvements (
			psp_bic TEXT PRIMARY KEY,
			improvement_bps INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fxp_saps (
			fxp_id TEXT NOT NULL,
			bic TEXT NOT NULL,
			account TEXT NOT NULL,
			currency TEXT NOT NULL,
			country TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (fxp_id, currency, bic)
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const corridorColumns = `fxp_id, fxp_name, source_currency, destination_currency, base_rate, base_spread_bps`

func scanCorridor(row interface{ Scan(...interface{}) error }) (Corridor, error) {
	var c Corridor
	err := row.Scan(
		&c.FXPID, &c.FXPName, &c.SourceCurrency, &c.DestinationCurrency,
		&c.BaseRate, &c.BaseSpreadBps,
	)
	return c, err
}

// Corridors returns the full published rate book.
func (r *PostgresRepository) Corridors(ctx context.Context) ([]Corridor, error) {
	defer metrics.MeasureDBQuery(r.metrics, "list_corridors", "postgres")()
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+corridorColumns+` FROM fxp_corridors ORDER BY source_currency, destination_currency, fxp_id`)
	if err != nil {
		return nil, fmt.Errorf("query corridors: %w", err)
	}
	defer rows.Close()

	var out []Corridor
	for rows.Next() {
		c, err := scanCorridor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan corridor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CorridorsFor returns every provider quoting the pair.
func (r *PostgresRepository) CorridorsFor(ctx context.Context, sourceCurrency, destinationCurrency string) ([]Corridor, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_corridors_for_pair", "postgres")()
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+corridorColumns+` FROM fxp_corridors
		 WHERE source_currency = $1 AND destination_currency = $2
		 ORDER BY fxp_id`,
		strings.ToUpper(sourceCurrency), strings.ToUpper(destinationCurrency))
	if err != nil {
		return nil, fmt.Errorf("query corridors: %w", err)
	}
	defer rows.Close()

	var out []Corridor
	for rows.Next() {
		c, err := scanCorridor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan corridor: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrCorridorNotFound
	}
	return out, nil
}

// Tiers returns the improvement ladder sorted by ascending threshold.
func (r *PostgresRepository) Tiers(ctx context.Context) ([]Tier, error) {
	defer metrics.MeasureDBQuery(r.metrics, "list_tiers", "postgres")()
	rows, err := r.db.QueryContext(ctx,
		`SELECT minimum_amount, improvement_bps FROM fxp_tiers ORDER BY minimum_amount ASC`)
	if err != nil {
		return nil, fmt.Errorf("query tiers: %w", err)
	}
	defer rows.Close()

	var out []Tier
	for rows.Next() {
		var t Tier
		if err := rows.Scan(&t.MinimumAmount, &t.ImprovementBps); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PSPImprovementBps returns the relationship improvement for a PSP.
func (r *PostgresRepository) PSPImprovementBps(ctx context.Context, bic string) (int, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_psp_improvement", "postgres")()
	var bps int
	err := r.db.QueryRowContext(ctx,
		`SELECT improvement_bps FROM fxp_psp_improvements WHERE psp_bic = $1`,
		strings.ToUpper(bic)).Scan(&bps)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query psp improvement: %w", err)
	}
	return bps, nil
}

// SAPsFor lists the settlement accounts an FXP holds in a currency.
func (r *PostgresRepository) SAPsFor(ctx context.Context, fxpID, currency string) ([]SAP, error) {
	defer metrics.MeasureDBQuery(r.metrics, "list_saps", "postgres")()
	rows, err := r.db.QueryContext(ctx,
		`SELECT fxp_id, bic, account, currency, country FROM fxp_saps
		 WHERE fxp_id = $1 AND currency = $2 ORDER BY bic`,
		fxpID, strings.ToUpper(currency))
	if err != nil {
		return nil, fmt.Errorf("query saps: %w", err)
	}
	defer rows.Close()

	var out []SAP
	for rows.Next() {
		var s SAP
		if err := rows.Scan(&s.FXPID, &s.BIC, &s.Account, &s.Currency, &s.Country); err != nil {
			return nil, fmt.Errorf("scan sap: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close releases the pool when this repository owns it.
func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}

var _ Repository = (*PostgresRepository)(nil)
