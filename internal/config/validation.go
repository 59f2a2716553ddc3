package config

import (
	"fmt"
	"strings"
)

// finalize normalizes derived fields and rejects structurally invalid
// configuration. Policy level checks (pricing, schemes, networks) belong to
// the gate package, which owns the payment semantics.
func (c *Config) finalize() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if prefix := c.Server.RoutePrefix; prefix != "" {
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		c.Server.RoutePrefix = strings.TrimRight(prefix, "/")
	}

	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	switch c.Storage.Backend {
	case "memory", "postgres", "mongodb", "file":
	default:
		return fmt.Errorf("storage.backend must be one of memory, postgres, mongodb, file, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresURL == "" {
		return fmt.Errorf("storage.postgres_url is required for the postgres backend")
	}
	if c.Storage.Backend == "mongodb" && c.Storage.MongoDBURL == "" {
		return fmt.Errorf("storage.mongodb_url is required for the mongodb backend")
	}
	if c.Storage.CleanupInterval.Duration <= 0 {
		return fmt.Errorf("storage.cleanup_interval must be positive")
	}

	if len(c.Gate.Resources) > 0 && c.Facilitator.URL == "" {
		return fmt.Errorf("facilitator.url is required when gate.resources are configured")
	}
	if c.Facilitator.URL != "" {
		c.Facilitator.URL = strings.TrimRight(c.Facilitator.URL, "/")
		if c.Facilitator.Timeout.Duration <= 0 {
			return fmt.Errorf("facilitator.timeout must be positive")
		}
		if c.Facilitator.MaxRetries < 0 {
			return fmt.Errorf("facilitator.max_retries must not be negative")
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Limit <= 0 {
			return fmt.Errorf("rate_limit.limit must be positive when rate limiting is enabled")
		}
		if c.RateLimit.Window.Duration <= 0 {
			return fmt.Errorf("rate_limit.window must be positive when rate limiting is enabled")
		}
	}

	return nil
}
