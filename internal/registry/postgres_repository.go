package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/metrics"
)

// PostgresRepository stores the participant directory in PostgreSQL.
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
		`CREATE TABLE IF NOT EXISTS actors (
			actor_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			legal_name TEXT NOT NULL,
			bicfi TEXT NOT NULL DEFAULT '',
			callback_url TEXT NOT NULL DEFAULT '',
			callback_secret TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actors_bicfi ON actors (bicfi) WHERE active`,
		`CREATE INDEX IF NOT EXISTS idx_actors_kind ON actors (kind)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const actorColumns = `actor_id, kind, legal_name, bicfi, callback_url, callback_secret, active, created_at, updated_at`

func scanActor(row interface{ Scan(...interface{}) error }) (Actor, error) {
	var a Actor
	err := row.Scan(
		&a.ID, &a.Kind, &a.LegalName, &a.BICFI, &a.CallbackURL,
		&a.CallbackSecret, &a.Active, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

// Create inserts a new actor.
func (r *PostgresRepository) Create(ctx context.Context, actor Actor) error {
	defer metrics.MeasureDBQuery(r.metrics, "create_actor", "postgres")()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO actors (`+actorColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		actor.ID, string(actor.Kind), actor.LegalName, actor.BICFI, actor.CallbackURL,
		actor.CallbackSecret, actor.Active, actor.CreatedAt, actor.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert actor: %w", err)
	}
	return nil
}

// Get returns the actor under the id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Actor, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_actor", "postgres")()
	row := r.db.QueryRowContext(ctx,
		`SELECT `+actorColumns+` FROM actors WHERE actor_id = $1`, id)
	actor, err := scanActor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Actor{}, ErrActorNotFound
	}
	if err != nil {
		return Actor{}, fmt.Errorf("query actor: %w", err)
	}
	return actor, nil
}

// GetByBIC returns the most recently registered active actor under the
// BIC.
func (r *PostgresRepository) GetByBIC(ctx context.Context, bic string) (Actor, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_actor_by_bic", "postgres")()
	row := r.db.QueryRowContext(ctx,
		`SELECT `+actorColumns+` FROM actors
		 WHERE upper(bicfi) = $1 AND active
		 ORDER BY created_at DESC
		 LIMIT 1`,
		strings.ToUpper(bic))
	actor, err := scanActor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Actor{}, ErrActorNotFound
	}
	if err != nil {
		return Actor{}, fmt.Errorf("query actor by bic: %w", err)
	}
	return actor, nil
}

// List returns actors matching the filter, newest first.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Actor, error) {
	defer metrics.MeasureDBQuery(r.metrics, "list_actors", "postgres")()
	query := `SELECT ` + actorColumns + ` FROM actors`
	args := []interface{}{}
	if filter.Kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY created_at DESC, actor_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actors: %w", err)
	}
	defer rows.Close()

	var out []Actor
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan actor: %w", err)
		}
		out = append(out, actor)
	}
	return out, rows.Err()
}

// Update replaces a stored actor's mutable fields.
func (r *PostgresRepository) Update(ctx context.Context, actor Actor) error {
	defer metrics.MeasureDBQuery(r.metrics, "update_actor", "postgres")()
	res, err := r.db.ExecContext(ctx,
		`UPDATE actors
		 SET legal_name = $2, bicfi = $3, callback_url = $4,
		     callback_secret = $5, active = $6, updated_at = $7
		 WHERE actor_id = $1`,
		actor.ID, actor.LegalName, actor.BICFI, actor.CallbackURL,
		actor.CallbackSecret, actor.Active, actor.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update actor: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update actor: %w", err)
	}
	if affected == 0 {
		return ErrActorNotFound
	}
	return nil
}

// Close closes the pool if this repository opened it.
func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}
