package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL. The nonce table's primary
// key makes ReserveNonce a single atomic statement; concurrent reservations
// of the same nonce resolve to exactly one winner inside the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		// Close() error during initialization cleanup is not actionable and
		// would only obscure the original connection failure.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &PostgresStore{db: db}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTables() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS consumed_nonces (
			nonce TEXT PRIMARY KEY,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS consumed_nonces_expires_at_idx
			ON consumed_nonces (expires_at);

		CREATE TABLE IF NOT EXISTS settlements (
			nonce TEXT PRIMARY KEY,
			payer TEXT NOT NULL,
			resource TEXT NOT NULL,
			amount BIGINT NOT NULL,
			reference TEXT NOT NULL,
			network TEXT NOT NULL,
			settled_at TIMESTAMPTZ NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// ReserveNonce inserts the nonce, taking over an expired reservation if one
// exists. The conditional upsert keeps check-and-insert a single atomic step.
func (s *PostgresStore) ReserveNonce(ctx context.Context, nonce string, expiresAt time.Time) error {
	const query = `
		INSERT INTO consumed_nonces (nonce, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (nonce) DO UPDATE
			SET expires_at = EXCLUDED.expires_at
			WHERE consumed_nonces.expires_at <= now()
	`
	res, err := s.db.ExecContext(ctx, query, nonce, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("reserve nonce: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve nonce rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNonceUsed
	}
	return nil
}

// ReleaseNonce frees an unsettled reservation.
func (s *PostgresStore) ReleaseNonce(ctx context.Context, nonce string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM consumed_nonces WHERE nonce = $1`, nonce); err != nil {
		return fmt.Errorf("release nonce: %w", err)
	}
	return nil
}

// RecordSettlement persists the audit record for a granted decision.
func (s *PostgresStore) RecordSettlement(ctx context.Context, rec SettlementRecord) error {
	const query = `
		INSERT INTO settlements (nonce, payer, resource, amount, reference, network, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (nonce) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.Nonce, rec.Payer, rec.Resource, rec.Amount, rec.Reference, rec.Network, rec.SettledAt.UTC())
	if err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	return nil
}

// GetSettlement retrieves the settlement record for a nonce.
func (s *PostgresStore) GetSettlement(ctx context.Context, nonce string) (SettlementRecord, error) {
	const query = `
		SELECT nonce, payer, resource, amount, reference, network, settled_at
		FROM settlements WHERE nonce = $1
	`
	var rec SettlementRecord
	err := s.db.QueryRowContext(ctx, query, nonce).Scan(
		&rec.Nonce, &rec.Payer, &rec.Resource, &rec.Amount, &rec.Reference, &rec.Network, &rec.SettledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SettlementRecord{}, ErrNotFound
	}
	if err != nil {
		return SettlementRecord{}, fmt.Errorf("get settlement: %w", err)
	}
	return rec, nil
}

// CleanupExpiredNonces deletes nonce records whose expiry has passed.
func (s *PostgresStore) CleanupExpiredNonces(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM consumed_nonces WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired nonces: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
