package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNonceUsed is returned when a nonce is already reserved and unexpired.
var ErrNonceUsed = errors.New("storage: nonce already used")

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// NonceRecord tracks a consumed proof nonce until its validity window closes.
type NonceRecord struct {
	Nonce     string
	ExpiresAt time.Time
}

// SettlementRecord is the audit trail for a granted access decision.
type SettlementRecord struct {
	Nonce     string
	Payer     string
	Resource  string
	Amount    int64
	Reference string // opaque facilitator settlement reference
	Network   string
	SettledAt time.Time
}

// Store captures the persistence requirements for replay protection and
// settlement auditing.
//
// ReserveNonce is the single synchronization point of the whole gate: it must
// be atomic, so that concurrent requests carrying the same nonce have exactly
// one winner. A reservation whose expiry has passed may be taken over by a
// later caller; eviction of expired records is advisory and only bounds
// memory, never correctness.
type Store interface {
	// ReserveNonce atomically records the nonce as consumed until expiresAt.
	// Returns ErrNonceUsed if the nonce is present and unexpired.
	ReserveNonce(ctx context.Context, nonce string, expiresAt time.Time) error

	// ReleaseNonce frees a reservation whose settlement did not conclude in a
	// grant, so a legitimate resubmission is not blocked by an abandoned one.
	ReleaseNonce(ctx context.Context, nonce string) error

	// RecordSettlement persists the audit record for a granted decision.
	RecordSettlement(ctx context.Context, rec SettlementRecord) error

	// GetSettlement retrieves the settlement record for a nonce.
	GetSettlement(ctx context.Context, nonce string) (SettlementRecord, error)

	// CleanupExpiredNonces removes nonce records whose expiry has passed.
	// Must never remove a record before its expiry. Returns the count removed.
	CleanupExpiredNonces(ctx context.Context) (int64, error)

	Close() error
}

// Config holds storage backend configuration.
type Config struct {
	Backend         string // "memory", "postgres", "mongodb", or "file"
	PostgresURL     string
	MongoDBURL      string
	MongoDBDatabase string
	FilePath        string
	CleanupInterval time.Duration // how often expired nonce records are evicted
}

// New creates a Store instance based on the provided configuration.
func New(cfg Config) (Store, error) {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	switch cfg.Backend {
	case "memory":
		// Memory backend loses replay protection on restart.
		// Only suitable for development and tests.
		return NewMemoryStore(cfg.CleanupInterval), nil
	case "":
		// Auto-detect backend from provided configuration.
		// Priority order: postgres > mongodb > file (fallback)
		if cfg.PostgresURL != "" {
			return NewPostgresStore(cfg.PostgresURL)
		}
		if cfg.MongoDBURL != "" {
			if cfg.MongoDBDatabase == "" {
				cfg.MongoDBDatabase = "gatecharge"
			}
			return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase)
		}
		if cfg.FilePath == "" {
			cfg.FilePath = "./data/gatecharge.db"
		}
		return NewFileStore(cfg.FilePath, cfg.CleanupInterval)
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		return NewPostgresStore(cfg.PostgresURL)
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_database")
		}
		return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase)
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file backend requires file_path")
		}
		return NewFileStore(cfg.FilePath, cfg.CleanupInterval)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
