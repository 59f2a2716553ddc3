package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from the optional YAML file at path, applies
// environment variable overrides, fills defaults, and validates the result.
// An empty path skips the file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := parseFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8402",
			ReadTimeout:  Duration{15 * time.Second},
			WriteTimeout: Duration{30 * time.Second},
			IdleTimeout:  Duration{60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "production",
		},
		Gate: GateConfig{
			Network:         "solana",
			ProofTTL:        Duration{60 * time.Second},
			AcceptedSchemes: []string{"exact"},
			Resources:       map[string]ResourcePolicy{},
		},
		Facilitator: FacilitatorConfig{
			Timeout:      Duration{10 * time.Second},
			MaxRetries:   1,
			RetryBackoff: Duration{250 * time.Millisecond},
		},
		Storage: StorageConfig{
			Backend:         "memory",
			CleanupInterval: Duration{5 * time.Minute},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   120,
			Window:  Duration{1 * time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:             true,
			MaxRequests:         3,
			Interval:            Duration{60 * time.Second},
			Timeout:             Duration{30 * time.Second},
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
	}
}
