package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides layers GATECHARGE_* environment variables on top of the
// file configuration. Environment always wins.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Address, "GATECHARGE_SERVER_ADDRESS")
	setDuration(&cfg.Server.ReadTimeout, "GATECHARGE_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "GATECHARGE_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.IdleTimeout, "GATECHARGE_SERVER_IDLE_TIMEOUT")
	setStringSlice(&cfg.Server.CORSAllowedOrigins, "GATECHARGE_CORS_ALLOWED_ORIGINS")
	setString(&cfg.Server.RoutePrefix, "GATECHARGE_ROUTE_PREFIX")
	setString(&cfg.Server.AdminMetricsAPIKey, "GATECHARGE_ADMIN_METRICS_API_KEY")

	setString(&cfg.Logging.Level, "GATECHARGE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "GATECHARGE_LOG_FORMAT")
	setString(&cfg.Logging.Environment, "GATECHARGE_ENVIRONMENT")

	setString(&cfg.Gate.Network, "GATECHARGE_NETWORK")
	setString(&cfg.Gate.Asset, "GATECHARGE_ASSET")
	setString(&cfg.Gate.PayTo, "GATECHARGE_PAY_TO")
	setDuration(&cfg.Gate.ProofTTL, "GATECHARGE_PROOF_TTL")
	setStringSlice(&cfg.Gate.AcceptedSchemes, "GATECHARGE_ACCEPTED_SCHEMES")

	setString(&cfg.Facilitator.URL, "GATECHARGE_FACILITATOR_URL")
	setDuration(&cfg.Facilitator.Timeout, "GATECHARGE_FACILITATOR_TIMEOUT")
	setInt(&cfg.Facilitator.MaxRetries, "GATECHARGE_FACILITATOR_MAX_RETRIES")
	setDuration(&cfg.Facilitator.RetryBackoff, "GATECHARGE_FACILITATOR_RETRY_BACKOFF")
	setString(&cfg.Facilitator.AuthToken, "GATECHARGE_FACILITATOR_AUTH_TOKEN")

	setString(&cfg.Storage.Backend, "GATECHARGE_STORAGE_BACKEND")
	setString(&cfg.Storage.PostgresURL, "GATECHARGE_POSTGRES_URL")
	setString(&cfg.Storage.MongoDBURL, "GATECHARGE_MONGODB_URL")
	setString(&cfg.Storage.MongoDBDatabase, "GATECHARGE_MONGODB_DATABASE")
	setString(&cfg.Storage.FilePath, "GATECHARGE_STORAGE_FILE_PATH")
	setDuration(&cfg.Storage.CleanupInterval, "GATECHARGE_STORAGE_CLEANUP_INTERVAL")

	setBool(&cfg.RateLimit.Enabled, "GATECHARGE_RATE_LIMIT_ENABLED")
	setInt(&cfg.RateLimit.Limit, "GATECHARGE_RATE_LIMIT")
	setDuration(&cfg.RateLimit.Window, "GATECHARGE_RATE_LIMIT_WINDOW")

	setBool(&cfg.CircuitBreaker.Enabled, "GATECHARGE_CIRCUIT_BREAKER_ENABLED")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setStringSlice(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
