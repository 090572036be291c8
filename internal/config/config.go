package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible sandbox defaults.
func defaultConfig() *Config {
	return &Config{
		Environment: EnvSandbox,
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
			MaxBodyBytes: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Schemas: SchemasConfig{
			Dir: "./schemas",
		},
		Storage: StorageConfig{
			Backend:      "memory",
			QueryTimeout: Duration{Duration: 5 * time.Second},
			PostgresPool: PostgresPoolConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
			},
		},
		FXP: FXPConfig{
			CacheTTL:  Duration{Duration: 30 * time.Second},
			Providers: defaultSandboxProviders(),
			Tiers: []ImprovementTier{
				{MinimumAmount: "10000", ImprovementBps: 5},
				{MinimumAmount: "50000", ImprovementBps: 10},
			},
			PSPImprovements: map[string]int{},
		},
		Registry: RegistryConfig{
			CacheTTL: Duration{Duration: 1 * time.Minute},
		},
		Callbacks: CallbacksConfig{
			Secret:            DefaultCallbackSecret,
			MaxRetries:        3,
			AttemptTimeout:    Duration{Duration: 10 * time.Second},
			QueueEnabled:      true,
			QueuePollInterval: Duration{Duration: 30 * time.Second},
			CircuitBreaker: BreakerConfig{
				Enabled:             true,
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
			Burst:             20,
			QuotesPerMinute:   60,
			HealthPerMinute:   300,
		},
		Monitoring: MonitoringConfig{
			CheckInterval: Duration{Duration: 30 * time.Second},
			Timeout:       Duration{Duration: 5 * time.Second},
		},
		Money: MoneyConfig{
			ScaleOverrides: map[string]int{},
			TransactionLimits: map[string]string{
				"SGD": "200000",
				"THB": "2000000",
				"IDR": "500000000",
				"MYR": "150000",
				"PHP": "1000000",
				"INR": "2000000",
			},
		},
	}
}

// defaultSandboxProviders returns the built-in sandbox rate book. Production
// deployments replace this with a config file or the postgres source.
func defaultSandboxProviders() []FXPProvider {
	return []FXPProvider{
		{
			ID:   "fxp-sandbox-01",
			Name: "Sandbox FX Provider",
			Corridors: []CorridorRate{
				{SourceCurrency: "SGD", DestinationCurrency: "THB", BaseRate: "25.85", BaseSpreadBps: 50},
				{SourceCurrency: "SGD", DestinationCurrency: "IDR", BaseRate: "12150", BaseSpreadBps: 65},
				{SourceCurrency: "SGD", DestinationCurrency: "PHP", BaseRate: "43.20", BaseSpreadBps: 55},
				{SourceCurrency: "SGD", DestinationCurrency: "MYR", BaseRate: "3.28", BaseSpreadBps: 45},
				{SourceCurrency: "SGD", DestinationCurrency: "INR", BaseRate: "64.10", BaseSpreadBps: 60},
				{SourceCurrency: "SGD", DestinationCurrency: "VND", BaseRate: "19450", BaseSpreadBps: 70},
				{SourceCurrency: "SGD", DestinationCurrency: "JPY", BaseRate: "115.40", BaseSpreadBps: 40},
				{SourceCurrency: "THB", DestinationCurrency: "SGD", BaseRate: "0.0385", BaseSpreadBps: 50},
				{SourceCurrency: "INR", DestinationCurrency: "SGD", BaseRate: "0.0156", BaseSpreadBps: 60},
			},
			SAPs: []SAPAccount{
				{BIC: "KASITHBKXXX", Account: "SAP-THB-001", Currency: "THB", Country: "TH"},
				{BIC: "CENAIDJAXXX", Account: "SAP-IDR-001", Currency: "IDR", Country: "ID"},
				{BIC: "BNORPHMMXXX", Account: "SAP-PHP-001", Currency: "PHP", Country: "PH"},
				{BIC: "MBBEMYKLXXX", Account: "SAP-MYR-001", Currency: "MYR", Country: "MY"},
				{BIC: "SBININBBXXX", Account: "SAP-INR-001", Currency: "INR", Country: "IN"},
				{BIC: "BFTVVNVXXXX", Account: "SAP-VND-001", Currency: "VND", Country: "VN"},
				{BIC: "BOJPJPJTXXX", Account: "SAP-JPY-001", Currency: "JPY", Country: "JP"},
				{BIC: "DBSSSGSGXXX", Account: "SAP-SGD-001", Currency: "SGD", Country: "SG"},
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
