package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation suitable for tests and
// single-instance deployments.
type MemoryStore struct {
	mu          sync.Mutex
	nonces      map[string]NonceRecord      // nonce -> record (one-time use within window)
	settlements map[string]SettlementRecord // nonce -> settlement audit record
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewMemoryStore constructs a MemoryStore and starts background eviction.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	m := &MemoryStore{
		nonces:      make(map[string]NonceRecord),
		settlements: make(map[string]SettlementRecord),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go m.evictLoop(cleanupInterval)
	return m
}

// ReserveNonce atomically records the nonce as consumed. A record whose
// expiry has passed is treated as absent, so the nonce can be taken over.
func (m *MemoryStore) ReserveNonce(_ context.Context, nonce string, expiresAt time.Time) error {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.nonces[nonce]; ok && existing.ExpiresAt.After(now) {
		return ErrNonceUsed
	}
	m.nonces[nonce] = NonceRecord{Nonce: nonce, ExpiresAt: expiresAt}
	return nil
}

// ReleaseNonce frees an unsettled reservation.
func (m *MemoryStore) ReleaseNonce(_ context.Context, nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.nonces, nonce)
	return nil
}

// RecordSettlement persists the audit record for a granted decision.
func (m *MemoryStore) RecordSettlement(_ context.Context, rec SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settlements[rec.Nonce] = rec
	return nil
}

// GetSettlement retrieves the settlement record for a nonce.
func (m *MemoryStore) GetSettlement(_ context.Context, nonce string) (SettlementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.settlements[nonce]
	if !ok {
		return SettlementRecord{}, ErrNotFound
	}
	return rec, nil
}

// CleanupExpiredNonces removes nonce records whose expiry has passed.
func (m *MemoryStore) CleanupExpiredNonces(_ context.Context) (int64, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for nonce, rec := range m.nonces {
		// Strictly past expiry: a record at its boundary is still live.
		if !rec.ExpiresAt.After(now) {
			delete(m.nonces, nonce)
			count++
		}
	}
	return count, nil
}

// evictLoop runs periodically and removes expired nonce records.
func (m *MemoryStore) evictLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(m.cleanupDone)

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			_, _ = m.CleanupExpiredNonces(context.Background())
		}
	}
}

// Close stops the eviction goroutine.
func (m *MemoryStore) Close() error {
	close(m.stopCleanup)
	<-m.cleanupDone
	return nil
}
