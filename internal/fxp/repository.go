package fxp

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/metrics"
)

// ErrCorridorNotFound is returned when no provider quotes a currency pair.
var ErrCorridorNotFound = errors.New("corridor not found")

// Corridor is one provider's published rate for a currency pair. BaseRate
// is the mid-market rate in destination units per source unit, before the
// provider's spread.
type Corridor struct {
	FXPID               string
	FXPName             string
	SourceCurrency      string
	DestinationCurrency string
	BaseRate            decimal.Decimal
	BaseSpreadBps       int
}

// Tier grants a spread improvement once the source amount reaches the
// threshold. Tiers do not stack; the highest qualifying tier applies.
type Tier struct {
	MinimumAmount  decimal.Decimal // source currency units
	ImprovementBps int
}

// SAP is a settlement access provider account an FXP holds in one
// currency, surfaced as the intermediary agent on quoted payments.
type SAP struct {
	FXPID    string
	BIC      string
	Account  string
	Currency string
	Country  string
}

// Repository serves the FX provider rate book.
type Repository interface {
	// Corridors returns the full published rate book.
	Corridors(ctx context.Context) ([]Corridor, error)

	// CorridorsFor returns every provider quoting the pair, or
	// ErrCorridorNotFound when none does.
	CorridorsFor(ctx context.Context, sourceCurrency, destinationCurrency string) ([]Corridor, error)

	// Tiers returns the size improvement ladder sorted by ascending
	// threshold.
	Tiers(ctx context.Context) ([]Tier, error)

	// PSPImprovementBps returns the relationship improvement for an
	// instructing PSP, zero when none is configured.
	PSPImprovementBps(ctx context.Context, bic string) (int, error)

	// SAPsFor lists the settlement accounts an FXP holds in a currency.
	SAPsFor(ctx context.Context, fxpID, currency string) ([]SAP, error)

	// Close closes any open connections.
	Close() error
}

// NewRepository creates a rate book repository based on config.
func NewRepository(cfg config.FXPConfig) (Repository, error) {
	return NewRepositoryWithDB(cfg, nil, nil)
}

// NewRepositoryWithDB creates a rate book repository with an optional
// shared database pool. If sharedDB is non-nil for postgres sources it is
// used instead of opening a new connection. Postgres repositories record
// query timings on m when it is non-nil.
func NewRepositoryWithDB(cfg config.FXPConfig, sharedDB *sql.DB, m *metrics.Metrics) (Repository, error) {
	var underlying Repository

	switch cfg.Source {
	case "", "yaml":
		underlying = NewYAMLRepository(cfg)
	case "postgres":
		if cfg.PostgresURL == "" && sharedDB == nil {
			return nil, errors.New("postgres_url required when fxp source is 'postgres'")
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
		return nil, errors.New("invalid fxp source: must be 'yaml' or 'postgres'")
	}

	// Wrap with caching layer if TTL is configured
	if cfg.CacheTTL.Duration > 0 {
		return NewCachedRepository(underlying, cfg.CacheTTL.Duration), nil
	}

	return underlying, nil
}

// BestCorridor picks the provider offering the highest effective rate at
// the base spread. Deterministic: rate first, then provider id.
func BestCorridor(corridors []Corridor) (Corridor, bool) {
	if len(corridors) == 0 {
		return Corridor{}, false
	}

	sorted := make([]Corridor, len(corridors))
	copy(sorted, corridors)
	sort.Slice(sorted, func(i, j int) bool {
		ri := sorted[i].effectiveBaseRate()
		rj := sorted[j].effectiveBaseRate()
		if !ri.Equal(rj) {
			return ri.GreaterThan(rj)
		}
		return sorted[i].FXPID < sorted[j].FXPID
	})
	return sorted[0], true
}

// effectiveBaseRate is the rate net of the provider's own spread, used
// only to rank providers; the quoted rate also folds in improvements.
func (c Corridor) effectiveBaseRate() decimal.Decimal {
	spread := decimal.NewFromInt(int64(c.BaseSpreadBps)).Div(decimal.NewFromInt(10000))
	return c.BaseRate.Mul(decimal.NewFromInt(1).Sub(spread))
}
