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

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Gate           GateConfig           `yaml:"gate"`
	Facilitator    FacilitatorConfig    `yaml:"facilitator"`
	Storage        StorageConfig        `yaml:"storage"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics (empty disables protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// GateConfig holds the payment gate policy: what payment satisfies access to
// each protected resource. Read once at startup, immutable afterwards.
type GateConfig struct {
	Network         string                    `yaml:"network"`          // canonical settlement network for all resources
	Asset           string                    `yaml:"asset"`            // asset identifier (e.g., token mint address)
	PayTo           string                    `yaml:"pay_to"`           // default recipient address
	ProofTTL        Duration                  `yaml:"proof_ttl"`        // proof validity window (default: 60s)
	AcceptedSchemes []string                  `yaml:"accepted_schemes"` // payment schemes accepted (default: ["exact"])
	Resources       map[string]ResourcePolicy `yaml:"resources"`        // resourceID -> pricing policy
}

// ResourcePolicy defines a single protected resource with pricing.
// Monetary amounts use atomic units (int64) for precision.
type ResourcePolicy struct {
	Amount      int64  `yaml:"amount"`      // price in atomic units, must be positive
	Description string `yaml:"description"` // human-readable description included in challenges
	PayTo       string `yaml:"pay_to"`      // optional per-resource recipient override
	Asset       string `yaml:"asset"`       // optional per-resource asset override
}

// FacilitatorConfig holds the external settlement service configuration.
type FacilitatorConfig struct {
	URL          string   `yaml:"url"`           // base URL of the facilitator service
	Timeout      Duration `yaml:"timeout"`       // hard per-call deadline (default: 10s)
	MaxRetries   int      `yaml:"max_retries"`   // retries on transient failure (default: 1)
	RetryBackoff Duration `yaml:"retry_backoff"` // initial backoff between attempts (default: 250ms)
	AuthToken    string   `yaml:"auth_token"`    // optional bearer token for the facilitator
}

// StorageConfig holds nonce/settlement storage backend configuration.
type StorageConfig struct {
	Backend         string   `yaml:"backend"`          // "memory", "postgres", "mongodb", or "file"
	PostgresURL     string   `yaml:"postgres_url"`     // PostgreSQL connection string
	MongoDBURL      string   `yaml:"mongodb_url"`      // MongoDB connection string
	MongoDBDatabase string   `yaml:"mongodb_database"` // MongoDB database name
	FilePath        string   `yaml:"file_path"`        // Path to JSON file for file backend
	CleanupInterval Duration `yaml:"cleanup_interval"` // How often expired nonces are evicted (default: 5m)
}

// RateLimitConfig holds request rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool     `yaml:"enabled"` // Enable per-IP rate limiting
	Limit   int      `yaml:"limit"`   // Requests allowed per window
	Window  Duration `yaml:"window"`  // Time window for the limit
}

// CircuitBreakerConfig holds facilitator circuit breaker configuration.
type CircuitBreakerConfig struct {
	Enabled             bool     `yaml:"enabled"`              // Enable the breaker (default: true)
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
