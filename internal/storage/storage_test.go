package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testUsage(txID, contentID string) PaymentUsage {
	return PaymentUsage{
		TransactionID: txID,
		ContentID:     contentID,
		UserAddress:   "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		Amount:        "1000000",
		ConsumedAt:    time.Now().UTC(),
	}
}

func TestMemoryStore_RecordAndCheck(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	txID := "0xAbCdEf0000000000000000000000000000000000000000000000000000000001"

	used, err := store.HasBeenUsed(ctx, txID, "article-1")
	if err != nil {
		t.Fatalf("HasBeenUsed failed: %v", err)
	}
	if used {
		t.Error("fresh transaction reported as used")
	}

	if err := store.RecordUsage(ctx, testUsage(txID, "article-1")); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	used, err = store.HasBeenUsed(ctx, txID, "article-1")
	if err != nil {
		t.Fatalf("HasBeenUsed failed: %v", err)
	}
	if !used {
		t.Error("recorded transaction not reported as used")
	}

	// Checksummed and lowercase spellings share a usage record.
	used, err = store.HasBeenUsed(ctx, NormalizeTxID(txID), "article-1")
	if err != nil {
		t.Fatalf("HasBeenUsed failed: %v", err)
	}
	if !used {
		t.Error("lowercase spelling of recorded transaction not reported as used")
	}
}

func TestMemoryStore_DuplicateRecordReturnsErrAlreadyUsed(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	usage := testUsage("0xdeadbeef01", "article-1")
	if err := store.RecordUsage(ctx, usage); err != nil {
		t.Fatalf("first RecordUsage failed: %v", err)
	}

	err := store.RecordUsage(ctx, usage)
	if !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("second RecordUsage = %v, want ErrAlreadyUsed", err)
	}
}

func TestMemoryStore_SameTxDifferentContent(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	if err := store.RecordUsage(ctx, testUsage("0xdeadbeef01", "article-1")); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	// A different content resource is a distinct usage key.
	if err := store.RecordUsage(ctx, testUsage("0xdeadbeef01", "article-2")); err != nil {
		t.Fatalf("RecordUsage for second content failed: %v", err)
	}
}

func TestMemoryStore_ConcurrentRecordSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	const goroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	replays := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RecordUsage(ctx, testUsage("0xdeadbeef02", "article-1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyUsed):
				replays++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if replays != goroutines-1 {
		t.Errorf("replays = %d, want %d", replays, goroutines-1)
	}
}

func TestMemoryStore_GetUsage(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.GetUsage(ctx, "0xmissing", "article-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetUsage for missing record = %v, want ErrNotFound", err)
	}

	usage := testUsage("0xDEADBEEF03", "article-1")
	if err := store.RecordUsage(ctx, usage); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	got, err := store.GetUsage(ctx, "0xdeadbeef03", "article-1")
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if got.TransactionID != "0xdeadbeef03" {
		t.Errorf("TransactionID = %q, want normalized lowercase", got.TransactionID)
	}
	if got.Amount != "1000000" {
		t.Errorf("Amount = %q, want 1000000", got.Amount)
	}
}

func TestMemoryStore_ArchiveOldUsages(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	old := testUsage("0xold", "article-1")
	old.ConsumedAt = time.Now().Add(-100 * 24 * time.Hour)
	recent := testUsage("0xrecent", "article-1")

	if err := store.RecordUsage(ctx, old); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if err := store.RecordUsage(ctx, recent); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	deleted, err := store.ArchiveOldUsages(ctx, time.Now().Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("ArchiveOldUsages failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	used, _ := store.HasBeenUsed(ctx, "0xold", "article-1")
	if used {
		t.Error("archived usage still reported as used")
	}
	used, _ = store.HasBeenUsed(ctx, "0xrecent", "article-1")
	if !used {
		t.Error("recent usage was archived")
	}
}

func TestNewStore_BackendSelection(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StoreConfig
		wantErr bool
	}{
		{name: "explicit memory", cfg: StoreConfig{Backend: "memory"}},
		{name: "empty config falls back to memory", cfg: StoreConfig{}},
		{name: "postgres without url", cfg: StoreConfig{Backend: "postgres"}, wantErr: true},
		{name: "mongodb without url", cfg: StoreConfig{Backend: "mongodb"}, wantErr: true},
		{name: "unknown backend", cfg: StoreConfig{Backend: "redis"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStore(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStore failed: %v", err)
			}
			defer store.Close()
			if _, ok := store.(*MemoryStore); !ok {
				t.Errorf("expected *MemoryStore, got %T", store)
			}
		})
	}
}
