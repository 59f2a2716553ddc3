package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore is a JSON-file-backed Store for single-instance deployments that
// must keep replay protection across restarts without a database.
type FileStore struct {
	mu          sync.Mutex
	path        string
	nonces      map[string]NonceRecord
	settlements map[string]SettlementRecord
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type fileState struct {
	Nonces      map[string]NonceRecord      `json:"nonces"`
	Settlements map[string]SettlementRecord `json:"settlements"`
}

// NewFileStore opens (or creates) a file-backed store and starts background eviction.
func NewFileStore(path string, cleanupInterval time.Duration) (*FileStore, error) {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s := &FileStore{
		path:        path,
		nonces:      make(map[string]NonceRecord),
		settlements: make(map[string]SettlementRecord),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	go s.evictLoop(cleanupInterval)
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse store file: %w", err)
	}
	if state.Nonces != nil {
		s.nonces = state.Nonces
	}
	if state.Settlements != nil {
		s.settlements = state.Settlements
	}
	return nil
}

// persist writes the full state atomically. Caller must hold the lock.
func (s *FileStore) persist() error {
	state := fileState{Nonces: s.nonces, Settlements: s.settlements}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

// ReserveNonce atomically records the nonce as consumed.
func (s *FileStore) ReserveNonce(_ context.Context, nonce string, expiresAt time.Time) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.nonces[nonce]; ok && existing.ExpiresAt.After(now) {
		return ErrNonceUsed
	}
	s.nonces[nonce] = NonceRecord{Nonce: nonce, ExpiresAt: expiresAt}
	return s.persist()
}

// ReleaseNonce frees an unsettled reservation.
func (s *FileStore) ReleaseNonce(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nonces, nonce)
	return s.persist()
}

// RecordSettlement persists the audit record for a granted decision.
func (s *FileStore) RecordSettlement(_ context.Context, rec SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settlements[rec.Nonce] = rec
	return s.persist()
}

// GetSettlement retrieves the settlement record for a nonce.
func (s *FileStore) GetSettlement(_ context.Context, nonce string) (SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.settlements[nonce]
	if !ok {
		return SettlementRecord{}, ErrNotFound
	}
	return rec, nil
}

// CleanupExpiredNonces removes nonce records whose expiry has passed.
func (s *FileStore) CleanupExpiredNonces(_ context.Context) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for nonce, rec := range s.nonces {
		if !rec.ExpiresAt.After(now) {
			delete(s.nonces, nonce)
			count++
		}
	}
	if count > 0 {
		if err := s.persist(); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (s *FileStore) evictLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			_, _ = s.CleanupExpiredNonces(context.Background())
		}
	}
}

// Close stops the eviction goroutine and flushes state.
func (s *FileStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}
