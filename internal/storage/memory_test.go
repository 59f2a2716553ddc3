package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestReserveNonceOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Minute)

	if err := store.ReserveNonce(ctx, "n1", expiresAt); err != nil {
		t.Fatalf("first reservation: %v", err)
	}
	if err := store.ReserveNonce(ctx, "n1", expiresAt); !errors.Is(err, ErrNonceUsed) {
		t.Errorf("second reservation error = %v, want ErrNonceUsed", err)
	}
	if err := store.ReserveNonce(ctx, "n2", expiresAt); err != nil {
		t.Errorf("different nonce rejected: %v", err)
	}
}

// Concurrent reservations of the same nonce must have exactly one winner.
func TestReserveNonceConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Minute)

	const attempts = 100
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.ReserveNonce(ctx, "contested", expiresAt)
		}()
	}
	wg.Wait()
	close(results)

	var wins, replays int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrNonceUsed):
			replays++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
	if replays != attempts-1 {
		t.Errorf("replays = %d, want %d", replays, attempts-1)
	}
}

func TestReserveNonceTakeoverAfterExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.ReserveNonce(ctx, "n1", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("reserve expired: %v", err)
	}
	// The old reservation is past expiry, so a new caller may take it over.
	if err := store.ReserveNonce(ctx, "n1", time.Now().Add(time.Minute)); err != nil {
		t.Errorf("takeover of expired nonce rejected: %v", err)
	}
	// The takeover reservation is live and blocks further use.
	if err := store.ReserveNonce(ctx, "n1", time.Now().Add(time.Minute)); !errors.Is(err, ErrNonceUsed) {
		t.Errorf("post-takeover reservation error = %v, want ErrNonceUsed", err)
	}
}

func TestReleaseNonceAllowsResubmission(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Minute)

	if err := store.ReserveNonce(ctx, "n1", expiresAt); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.ReleaseNonce(ctx, "n1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := store.ReserveNonce(ctx, "n1", expiresAt); err != nil {
		t.Errorf("reservation after release rejected: %v", err)
	}
}

func TestCleanupNeverRemovesLiveNonces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.ReserveNonce(ctx, "live", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("reserve live: %v", err)
	}
	if err := store.ReserveNonce(ctx, "dead", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("reserve dead: %v", err)
	}

	removed, err := store.CleanupExpiredNonces(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	// The live nonce must still block reuse after cleanup.
	if err := store.ReserveNonce(ctx, "live", time.Now().Add(time.Hour)); !errors.Is(err, ErrNonceUsed) {
		t.Errorf("live nonce reusable after cleanup: %v", err)
	}
}

func TestSettlementRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := SettlementRecord{
		Nonce:     "n1",
		Payer:     "payer",
		Resource:  "/premium/report",
		Amount:    1000,
		Reference: "tx-abc",
		Network:   "solana-devnet",
		SettledAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.RecordSettlement(ctx, want); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := store.GetSettlement(ctx, "n1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != want {
		t.Errorf("settlement mismatch:\n got %+v\nwant %+v", got, want)
	}

	if _, err := store.GetSettlement(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing settlement error = %v, want ErrNotFound", err)
	}
}
