// Package registry holds the participant directory for the gateway:
// FX providers, scheme operators, PSPs, settlement access providers and
// proxy directory operators, each with an optional signed-callback
// endpoint. Callback secrets live here and nowhere else.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/metrics"
)

// ErrActorNotFound is returned when no actor exists under the id or BIC.
var ErrActorNotFound = errors.New("actor not found")

// ActorKind classifies a scheme participant.
type ActorKind string

// Participant kinds.
const (
	KindFXP  ActorKind = "FXP"  // foreign exchange provider
	KindIPSO ActorKind = "IPSO" // instant payment system operator
	KindPSP  ActorKind = "PSP"  // payment service provider
	KindSAP  ActorKind = "SAP"  // settlement access provider
	KindPDO  ActorKind = "PDO"  // proxy directory operator
)

// IsValid reports whether the kind is one of the scheme's five roles.
func (k ActorKind) IsValid() bool {
	switch k {
	case KindFXP, KindIPSO, KindPSP, KindSAP, KindPDO:
		return true
	}
	return false
}

// Actor is one registered participant. CallbackSecret is excluded from
// JSON; it is surfaced exactly once, on registration or rotation.
type Actor struct {
	ID          string    `json:"actorId"`
	Kind        ActorKind `json:"kind"`
	LegalName   string    `json:"legalName"`
	BICFI       string    `json:"bicfi,omitempty"`
	CallbackURL string    `json:"callbackUrl,omitempty"`

	CallbackSecret string `json:"-"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListFilter narrows List. Zero values mean no constraint.
type ListFilter struct {
	Kind ActorKind
}

// Repository stores the participant directory.
type Repository interface {
	// Create inserts a new actor.
	Create(ctx context.Context, actor Actor) error

	// Get returns the actor under the id, or ErrActorNotFound.
	Get(ctx context.Context, id string) (Actor, error)

	// GetByBIC returns the active actor registered under the BIC, or
	// ErrActorNotFound. Used on the callback path to resolve a sending
	// PSP's endpoint and secret.
	GetByBIC(ctx context.Context, bic string) (Actor, error)

	// List returns actors matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]Actor, error)

	// Update replaces a stored actor's mutable fields.
	Update(ctx context.Context, actor Actor) error

	// Close closes any open connections.
	Close() error
}

// NewRepository creates a participant repository based on config.
func NewRepository(cfg config.RegistryConfig) (Repository, error) {
	return NewRepositoryWithDB(cfg, nil, nil)
}

// NewRepositoryWithDB creates a participant repository with an optional
// shared database pool for postgres sources. Postgres repositories
// record query timings on m when it is non-nil.
func NewRepositoryWithDB(cfg config.RegistryConfig, sharedDB *sql.DB, m *metrics.Metrics) (Repository, error) {
	var underlying Repository

	switch cfg.Source {
	case "", "memory":
		underlying = NewMemoryRepository()
	case "postgres":
		if cfg.PostgresURL == "" && sharedDB == nil {
			return nil, errors.New("postgres_url required when registry source is 'postgres'")
		}
		var pgRepo *PostgresRepository
		var err error
		if sharedDB != nil {
			pgRepo, err = NewPostgresRepositoryWithDB(sharedDB)
		} else {
			pgRepo, err = NewPostgresRepository(cfg.PostgresURL, cfg.PostgresPool)
		}
		if err != nil {
			return nil, err
		}
		underlying = pgRepo.WithMetrics(m)
	default:
		return nil, errors.New("invalid registry source: must be 'memory' or 'postgres'")
	}

	if cfg.CacheTTL.Duration > 0 {
		return NewCachedRepository(underlying, cfg.CacheTTL.Duration), nil
	}
	return underlying, nil
}
