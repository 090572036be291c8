package config

import (
	"os"
	"testing"
	"time"
)

func TestEnvOverrides_ServerConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "NEXUS_SERVER_ADDRESS overrides default",
			envVars: map[string]string{
				"NEXUS_SERVER_ADDRESS": ":3000",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != ":3000" {
					t.Errorf("Expected :3000, got %s", cfg.Server.Address)
				}
			},
		},
		{
			name: "NEXUS_ROUTE_PREFIX override",
			envVars: map[string]string{
				"NEXUS_ROUTE_PREFIX": "/api",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.RoutePrefix != "/api" {
					t.Errorf("Expected /api, got %s", cfg.Server.RoutePrefix)
				}
			},
		},
		{
			name: "NEXUS_XSD_DIR override",
			envVars: map[string]string{
				"NEXUS_XSD_DIR": "/opt/nexus/schemas",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Schemas.Dir != "/opt/nexus/schemas" {
					t.Errorf("Expected /opt/nexus/schemas, got %s", cfg.Schemas.Dir)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_StorageConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "NEXUS_STORAGE_BACKEND override",
			envVars: map[string]string{
				"NEXUS_STORAGE_BACKEND": "postgres",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Storage.Backend != "postgres" {
					t.Errorf("Expected postgres, got %s", cfg.Storage.Backend)
				}
			},
		},
		{
			name: "NEXUS_POSTGRES_URL override",
			envVars: map[string]string{
				"NEXUS_POSTGRES_URL": "postgresql://user:pass@db:5432/nexus",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				expected := "postgresql://user:pass@db:5432/nexus"
				if cfg.Storage.PostgresURL != expected {
					t.Errorf("Expected %s, got %s", expected, cfg.Storage.PostgresURL)
				}
			},
		},
		{
			name: "NEXUS_STORAGE_QUERY_TIMEOUT duration override",
			envVars: map[string]string{
				"NEXUS_STORAGE_QUERY_TIMEOUT": "2s",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Storage.QueryTimeout.Duration != 2*time.Second {
					t.Errorf("Expected 2s, got %v", cfg.Storage.QueryTimeout.Duration)
				}
			},
		},
		{
			name: "NEXUS_MONGODB_URL and database override",
			envVars: map[string]string{
				"NEXUS_MONGODB_URL":      "mongodb://localhost:27017",
				"NEXUS_MONGODB_DATABASE": "nexus_test",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Storage.MongoDBURL != "mongodb://localhost:27017" {
					t.Errorf("Expected mongodb url, got %s", cfg.Storage.MongoDBURL)
				}
				if cfg.Storage.MongoDBDatabase != "nexus_test" {
					t.Errorf("Expected nexus_test, got %s", cfg.Storage.MongoDBDatabase)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_CallbacksConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "NEXUS_CALLBACK_SECRET override",
			envVars: map[string]string{
				"NEXUS_CALLBACK_SECRET": "live-hmac-secret-value-for-callbacks",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Callbacks.Secret != "live-hmac-secret-value-for-callbacks" {
					t.Errorf("Expected override, got %s", cfg.Callbacks.Secret)
				}
			},
		},
		{
			name: "NEXUS_CALLBACK_MAX_RETRIES integer override",
			envVars: map[string]string{
				"NEXUS_CALLBACK_MAX_RETRIES": "7",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Callbacks.MaxRetries != 7 {
					t.Errorf("Expected 7, got %d", cfg.Callbacks.MaxRetries)
				}
			},
		},
		{
			name: "NEXUS_CALLBACK_ATTEMPT_TIMEOUT duration override",
			envVars: map[string]string{
				"NEXUS_CALLBACK_ATTEMPT_TIMEOUT": "30s",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Callbacks.AttemptTimeout.Duration != 30*time.Second {
					t.Errorf("Expected 30s, got %v", cfg.Callbacks.AttemptTimeout.Duration)
				}
			},
		},
		{
			name: "NEXUS_CALLBACK_QUEUE_ENABLED boolean (false)",
			envVars: map[string]string{
				"NEXUS_CALLBACK_QUEUE_ENABLED": "false",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Callbacks.QueueEnabled {
					t.Error("Expected QueueEnabled to be false")
				}
			},
		},
		{
			name: "NEXUS_CALLBACK_QUEUE_ENABLED boolean (1)",
			envVars: map[string]string{
				"NEXUS_CALLBACK_QUEUE_ENABLED": "1",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if !cfg.Callbacks.QueueEnabled {
					t.Error("Expected QueueEnabled to be true with '1'")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_RateLimitConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "NEXUS_RATE_LIMIT_ENABLED boolean (false)",
			envVars: map[string]string{
				"NEXUS_RATE_LIMIT_ENABLED": "false",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.RateLimit.Enabled {
					t.Error("Expected rate limiting to be disabled")
				}
			},
		},
		{
			name: "NEXUS_RATE_LIMIT_REQUESTS_PER_MINUTE override",
			envVars: map[string]string{
				"NEXUS_RATE_LIMIT_REQUESTS_PER_MINUTE": "240",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.RateLimit.RequestsPerMinute != 240 {
					t.Errorf("Expected 240, got %d", cfg.RateLimit.RequestsPerMinute)
				}
			},
		},
		{
			name: "NEXUS_RATE_LIMIT_BURST override",
			envVars: map[string]string{
				"NEXUS_RATE_LIMIT_BURST": "50",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.RateLimit.Burst != 50 {
					t.Errorf("Expected 50, got %d", cfg.RateLimit.Burst)
				}
			},
		},
		{
			name: "invalid integer leaves default",
			envVars: map[string]string{
				"NEXUS_RATE_LIMIT_REQUESTS_PER_MINUTE": "lots",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.RateLimit.RequestsPerMinute != 120 {
					t.Errorf("Expected default 120, got %d", cfg.RateLimit.RequestsPerMinute)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_FXPAndRegistry(t *testing.T) {
	defer os.Clearenv()

	os.Clearenv()
	os.Setenv("NEXUS_FXP_SOURCE", "postgres")
	os.Setenv("NEXUS_FXP_POSTGRES_URL", "postgresql://fx:fx@db:5432/rates")
	os.Setenv("NEXUS_FXP_CACHE_TTL", "10s")
	os.Setenv("NEXUS_REGISTRY_SOURCE", "postgres")
	os.Setenv("NEXUS_REGISTRY_POSTGRES_URL", "postgresql://reg:reg@db:5432/actors")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.FXP.Source != "postgres" {
		t.Errorf("Expected postgres, got %s", cfg.FXP.Source)
	}
	if cfg.FXP.PostgresURL != "postgresql://fx:fx@db:5432/rates" {
		t.Errorf("Unexpected fxp url: %s", cfg.FXP.PostgresURL)
	}
	if cfg.FXP.CacheTTL.Duration != 10*time.Second {
		t.Errorf("Expected 10s cache TTL, got %v", cfg.FXP.CacheTTL.Duration)
	}
	if cfg.Registry.Source != "postgres" {
		t.Errorf("Expected postgres, got %s", cfg.Registry.Source)
	}
	if cfg.Registry.PostgresURL != "postgresql://reg:reg@db:5432/actors" {
		t.Errorf("Unexpected registry url: %s", cfg.Registry.PostgresURL)
	}
}
