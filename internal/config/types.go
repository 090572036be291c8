package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Environment names a deployment mode. Sandbox relaxes the callback URL
// scheme policy and permits the built-in development callback secret.
const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

// DefaultCallbackSecret is the development fallback used to sign outbound
// status reports when NEXUS_CALLBACK_SECRET is unset. Startup logs a warning
// whenever this value is in effect.
const DefaultCallbackSecret = "nexus-sandbox-callback-secret-0000"

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Environment string           `yaml:"environment"`
	Server      ServerConfig     `yaml:"server"`
	Logging     LoggingConfig    `yaml:"logging"`
	Schemas     SchemasConfig    `yaml:"schemas"`
	Storage     StorageConfig    `yaml:"storage"`
	FXP         FXPConfig        `yaml:"fxp"`
	Registry    RegistryConfig   `yaml:"registry"`
	Callbacks   CallbacksConfig  `yaml:"callbacks"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	Admin       AdminConfig      `yaml:"admin"`
	Monitoring  MonitoringConfig `yaml:"monitoring"`
	Money       MoneyConfig      `yaml:"money"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"` // Optional prefix for all routes (e.g., "/gateway")
	MaxBodyBytes       int64    `yaml:"max_body_bytes"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // json, console (default: json)
}

// SchemasConfig holds the ISO 20022 schema directory configuration.
// A missing or unreadable directory is fatal at startup.
type SchemasConfig struct {
	Dir string `yaml:"dir"`
}

// StorageConfig holds the payment/event store backend configuration.
type StorageConfig struct {
	Backend         string             `yaml:"backend"`          // "memory", "postgres", or "mongodb"
	PostgresURL     string             `yaml:"postgres_url"`     // PostgreSQL connection string
	MongoDBURL      string             `yaml:"mongodb_url"`      // MongoDB connection string
	MongoDBDatabase string             `yaml:"mongodb_database"` // MongoDB database name
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`    // PostgreSQL connection pool settings
	QueryTimeout    Duration           `yaml:"query_timeout"`    // Per-query timeout (default: 5s)
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// FXPConfig holds the FX provider rate book configuration.
// Corridors, tiers and improvements are inline when Source = "yaml".
type FXPConfig struct {
	Source          string             `yaml:"source"` // "yaml" or "postgres"
	PostgresURL     string             `yaml:"postgres_url"`
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
	CacheTTL        Duration           `yaml:"cache_ttl"` // Read-through cache TTL (0 = no cache)
	Providers       []FXPProvider      `yaml:"providers"`
	Tiers           []ImprovementTier  `yaml:"tiers"`
	PSPImprovements map[string]int     `yaml:"psp_improvements"` // BIC -> basis points
}

// FXPProvider defines one FX provider and its corridors in YAML configuration.
type FXPProvider struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Corridors []CorridorRate `yaml:"corridors"`
	SAPs      []SAPAccount   `yaml:"saps"`
}

// CorridorRate defines the mid-market rate and base spread for one currency pair.
type CorridorRate struct {
	SourceCurrency      string `yaml:"source_currency"`
	DestinationCurrency string `yaml:"destination_currency"`
	BaseRate            string `yaml:"base_rate"` // decimal string, destination per source
	BaseSpreadBps       int    `yaml:"base_spread_bps"`
}

// SAPAccount names a settlement access provider account held for an FXP.
type SAPAccount struct {
	BIC      string `yaml:"bic"`
	Account  string `yaml:"account"`
	Currency string `yaml:"currency"`
	Country  string `yaml:"country"`
}

// ImprovementTier grants a spread improvement above a source-amount threshold.
type ImprovementTier struct {
	MinimumAmount  string `yaml:"minimum_amount"` // decimal string, source currency
	ImprovementBps int    `yaml:"improvement_bps"`
}

// RegistryConfig holds the participant registry backend configuration.
type RegistryConfig struct {
	Source       string             `yaml:"source"` // "memory" or "postgres"
	PostgresURL  string             `yaml:"postgres_url"`
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"`
	CacheTTL     Duration           `yaml:"cache_ttl"` // Actor lookup cache TTL (0 = no cache)
}

// CallbacksConfig holds status-report delivery configuration.
type CallbacksConfig struct {
	Secret            string        `yaml:"secret"`         // Fallback signing secret; actor secrets take precedence
	MaxRetries        int           `yaml:"max_retries"`    // Attempts per delivery (default: 3)
	AttemptTimeout    Duration      `yaml:"attempt_timeout"` // Per-attempt timeout (default: 10s)
	QueueEnabled      bool          `yaml:"queue_enabled"`   // Park exhausted deliveries for requeue
	QueuePollInterval Duration      `yaml:"queue_poll_interval"`
	CircuitBreaker    BreakerConfig `yaml:"circuit_breaker"`
}

// BreakerConfig configures the per-endpoint delivery circuit breakers.
type BreakerConfig struct {
	Enabled             bool     `yaml:"enabled"`
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}

// RateLimitConfig holds ingress rate limiting configuration.
// The window is one minute; per-route overrides cover the quote and health
// endpoints, and health/docs/discovery paths are exempt entirely.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"` // Default per-key limit (default: 120)
	Burst             int  `yaml:"burst"`               // Additional burst allowance (default: 20)
	QuotesPerMinute   int  `yaml:"quotes_per_minute"`   // Override for /quotes (default: 60)
	HealthPerMinute   int  `yaml:"health_per_minute"`   // Override for /health (default: 300)
}

// AdminConfig guards the administrative surface. When APIKey is empty the
// admin routes are open (sandbox behaviour).
type AdminConfig struct {
	APIKey string `yaml:"api_key"`
}

// MonitoringConfig holds the store health monitor configuration.
type MonitoringConfig struct {
	CheckInterval Duration `yaml:"check_interval"` // How often to ping the store (default: 30s)
	Timeout       Duration `yaml:"timeout"`        // Per-ping timeout (default: 5s)
}

// MoneyConfig carries per-deployment currency overrides.
type MoneyConfig struct {
	ScaleOverrides    map[string]int    `yaml:"scale_overrides"`    // e.g. IDR: 2
	TransactionLimits map[string]string `yaml:"transaction_limits"` // per-currency instructed amount cap, e.g. SGD: "200000"
}

// IsProduction reports whether the gateway runs with production policy.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// UsingDefaultCallbackSecret reports whether the development fallback secret
// is in effect, which warrants a startup warning.
func (c *Config) UsingDefaultCallbackSecret() bool {
	return c.Callbacks.Secret == DefaultCallbackSecret
}
