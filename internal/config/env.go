package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the NEXUS_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Environment, "NEXUS_ENVIRONMENT")

	// Server config
	setIfEnv(&c.Server.Address, "NEXUS_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "NEXUS_ROUTE_PREFIX")

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "NEXUS_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "NEXUS_LOG_FORMAT")

	// Schema directory
	setIfEnv(&c.Schemas.Dir, "NEXUS_XSD_DIR")

	// Storage config
	setIfEnv(&c.Storage.Backend, "NEXUS_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "NEXUS_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "NEXUS_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "NEXUS_MONGODB_DATABASE")
	setDurationIfEnv(&c.Storage.QueryTimeout, "NEXUS_STORAGE_QUERY_TIMEOUT")

	// FXP rate book config
	setIfEnv(&c.FXP.Source, "NEXUS_FXP_SOURCE")
	setIfEnv(&c.FXP.PostgresURL, "NEXUS_FXP_POSTGRES_URL")
	setDurationIfEnv(&c.FXP.CacheTTL, "NEXUS_FXP_CACHE_TTL")

	// Registry config
	setIfEnv(&c.Registry.Source, "NEXUS_REGISTRY_SOURCE")
	setIfEnv(&c.Registry.PostgresURL, "NEXUS_REGISTRY_POSTGRES_URL")
	setDurationIfEnv(&c.Registry.CacheTTL, "NEXUS_REGISTRY_CACHE_TTL")

	// Callback config
	setIfEnv(&c.Callbacks.Secret, "NEXUS_CALLBACK_SECRET")
	setIntIfEnv(&c.Callbacks.MaxRetries, "NEXUS_CALLBACK_MAX_RETRIES")
	setDurationIfEnv(&c.Callbacks.AttemptTimeout, "NEXUS_CALLBACK_ATTEMPT_TIMEOUT")
	setBoolIfEnv(&c.Callbacks.QueueEnabled, "NEXUS_CALLBACK_QUEUE_ENABLED")
	setDurationIfEnv(&c.Callbacks.QueuePollInterval, "NEXUS_CALLBACK_QUEUE_POLL_INTERVAL")

	// Rate limit config
	setBoolIfEnv(&c.RateLimit.Enabled, "NEXUS_RATE_LIMIT_ENABLED")
	setIntIfEnv(&c.RateLimit.RequestsPerMinute, "NEXUS_RATE_LIMIT_REQUESTS_PER_MINUTE")
	setIntIfEnv(&c.RateLimit.Burst, "NEXUS_RATE_LIMIT_BURST")
	setIntIfEnv(&c.RateLimit.QuotesPerMinute, "NEXUS_RATE_LIMIT_QUOTES_PER_MINUTE")
	setIntIfEnv(&c.RateLimit.HealthPerMinute, "NEXUS_RATE_LIMIT_HEALTH_PER_MINUTE")

	// Admin surface
	setIfEnv(&c.Admin.APIKey, "NEXUS_ADMIN_API_KEY")

	// Monitoring config
	setDurationIfEnv(&c.Monitoring.CheckInterval, "NEXUS_MONITORING_CHECK_INTERVAL")
	setDurationIfEnv(&c.Monitoring.Timeout, "NEXUS_MONITORING_TIMEOUT")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "gateway" -> "/gateway", "/gateway/" -> "/gateway"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
