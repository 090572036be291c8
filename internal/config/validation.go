package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Environment == "" {
		c.Environment = EnvSandbox
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Schemas.Dir == "" {
		c.Schemas.Dir = "./schemas"
	}
	if c.Storage.QueryTimeout.Duration <= 0 {
		c.Storage.QueryTimeout = Duration{Duration: 5 * time.Second}
	}

	// Auto-configure fxp and registry sources from storage.backend so users
	// only choose a backend once. Explicit settings win.
	if c.FXP.Source == "" {
		if c.Storage.Backend == "postgres" {
			c.FXP.Source = "postgres"
		} else {
			c.FXP.Source = "yaml"
		}
	}
	if c.Registry.Source == "" {
		if c.Storage.Backend == "postgres" {
			c.Registry.Source = "postgres"
		} else {
			c.Registry.Source = "memory"
		}
	}

	// Auto-copy database connection URLs from storage config
	if c.FXP.Source == "postgres" && c.FXP.PostgresURL == "" {
		c.FXP.PostgresURL = c.Storage.PostgresURL
	}
	if c.Registry.Source == "postgres" && c.Registry.PostgresURL == "" {
		c.Registry.PostgresURL = c.Storage.PostgresURL
	}

	if c.Callbacks.Secret == "" {
		c.Callbacks.Secret = DefaultCallbackSecret
	}
	if c.Callbacks.MaxRetries <= 0 {
		c.Callbacks.MaxRetries = 3
	}
	if c.Callbacks.AttemptTimeout.Duration <= 0 {
		c.Callbacks.AttemptTimeout = Duration{Duration: 10 * time.Second}
	}
	if c.Callbacks.QueuePollInterval.Duration <= 0 {
		c.Callbacks.QueuePollInterval = Duration{Duration: 30 * time.Second}
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 120
	}
	if c.RateLimit.Burst < 0 {
		c.RateLimit.Burst = 20
	}
	if c.RateLimit.QuotesPerMinute <= 0 {
		c.RateLimit.QuotesPerMinute = 60
	}
	if c.RateLimit.HealthPerMinute <= 0 {
		c.RateLimit.HealthPerMinute = 300
	}

	if c.Monitoring.CheckInterval.Duration <= 0 {
		c.Monitoring.CheckInterval = Duration{Duration: 30 * time.Second}
	}
	if c.Monitoring.Timeout.Duration <= 0 {
		c.Monitoring.Timeout = Duration{Duration: 5 * time.Second}
	}
	if c.Money.ScaleOverrides == nil {
		c.Money.ScaleOverrides = map[string]int{}
	}
	if c.Money.TransactionLimits == nil {
		c.Money.TransactionLimits = map[string]string{}
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	switch c.Environment {
	case EnvSandbox, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("environment must be %q or %q, got %q", EnvSandbox, EnvProduction, c.Environment))
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required when storage.backend is 'postgres'")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required when storage.backend is 'mongodb'")
		}
		if c.Storage.MongoDBDatabase == "" {
			errs = append(errs, "storage.mongodb_database is required when storage.backend is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be 'memory', 'postgres', or 'mongodb', got %q", c.Storage.Backend))
	}

	switch c.FXP.Source {
	case "yaml":
		if len(c.FXP.Providers) == 0 {
			errs = append(errs, "fxp.providers must define at least one provider when fxp.source is 'yaml'")
		}
	case "postgres":
		if c.FXP.PostgresURL == "" {
			errs = append(errs, "fxp.postgres_url is required when fxp.source is 'postgres'")
		}
	default:
		errs = append(errs, fmt.Sprintf("fxp.source must be 'yaml' or 'postgres', got %q", c.FXP.Source))
	}

	for i, p := range c.FXP.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Sprintf("fxp.providers[%d] is missing an id", i))
		}
		for j, cr := range p.Corridors {
			if cr.SourceCurrency == "" || cr.DestinationCurrency == "" || cr.BaseRate == "" {
				errs = append(errs, fmt.Sprintf("fxp.providers[%d].corridors[%d] must set source_currency, destination_currency, and base_rate", i, j))
			}
			if cr.BaseSpreadBps < 0 {
				errs = append(errs, fmt.Sprintf("fxp.providers[%d].corridors[%d] base_spread_bps must be non-negative", i, j))
			}
		}
	}

	switch c.Registry.Source {
	case "memory":
	case "postgres":
		if c.Registry.PostgresURL == "" {
			errs = append(errs, "registry.postgres_url is required when registry.source is 'postgres'")
		}
	default:
		errs = append(errs, fmt.Sprintf("registry.source must be 'memory' or 'postgres', got %q", c.Registry.Source))
	}

	if c.IsProduction() && c.UsingDefaultCallbackSecret() {
		errs = append(errs, "callbacks.secret (NEXUS_CALLBACK_SECRET) must be set in production")
	}

	if r := c.Callbacks.CircuitBreaker.FailureRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Sprintf("callbacks.circuit_breaker.failure_ratio must be between 0 and 1, got %v", r))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25 // default
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5 // default
	}

	// maxIdle cannot exceed maxOpen
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute // default
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
