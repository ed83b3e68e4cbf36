package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/storage"
)

func testSwap(id string, ts time.Time) *domain.UniswapSwap {
	return &domain.UniswapSwap{
		ID:           id,
		TimestampUTC: ts,
		PoolID:       "0xpool5",
		FeeTierBps:   5,
		Amount0:      "-2000.0",
		Amount1:      "1.0",
		AmountUSD:    "2000.0",
	}
}

func TestSwapStore_InsertAndGetByPool(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Insert(ctx, testSwap("s1", ts)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	swaps, err := store.GetByPool(ctx, "0xpool5")
	if err != nil {
		t.Fatalf("GetByPool failed: %v", err)
	}
	if len(swaps) != 1 {
		t.Fatalf("Expected 1 swap, got %d", len(swaps))
	}
	if swaps[0].AmountUSD != "2000.0" {
		t.Errorf("AmountUSD: got %s", swaps[0].AmountUSD)
	}
}

func TestSwapStore_DuplicateKey(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Insert(ctx, testSwap("s1", ts)); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	if err := store.Insert(ctx, testSwap("s1", ts)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestSwapStore_InvalidInput(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()

	if err := store.Insert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil, got %v", err)
	}
	if err := store.Insert(ctx, &domain.UniswapSwap{PoolID: "p"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty id, got %v", err)
	}
}

func TestSwapStore_InsertBulkAtomicOnDuplicate(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	batch := []*domain.UniswapSwap{
		testSwap("s1", ts),
		testSwap("s2", ts.Add(time.Minute)),
		testSwap("s1", ts.Add(2*time.Minute)),
	}

	if err := store.InsertBulk(ctx, batch); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	swaps, err := store.GetByPool(ctx, "0xpool5")
	if err != nil {
		t.Fatalf("GetByPool failed: %v", err)
	}
	if len(swaps) != 0 {
		t.Errorf("Failed bulk insert must not persist anything, got %d swaps", len(swaps))
	}
}

func TestSwapStore_GetByTimeRangeInclusive(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	batch := []*domain.UniswapSwap{
		testSwap("s1", base),
		testSwap("s2", base.Add(time.Minute)),
		testSwap("s3", base.Add(2*time.Minute)),
	}
	if err := store.InsertBulk(ctx, batch); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	swaps, err := store.GetByTimeRange(ctx, "0xpool5", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(swaps) != 2 {
		t.Fatalf("Expected 2 swaps, got %d", len(swaps))
	}
	if swaps[0].ID != "s1" || swaps[1].ID != "s2" {
		t.Errorf("Expected timestamp order s1,s2: got %s,%s", swaps[0].ID, swaps[1].ID)
	}
}

func TestSwapStore_ReturnsCopies(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Insert(ctx, testSwap("s1", ts)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	swaps, _ := store.GetByPool(ctx, "0xpool5")
	swaps[0].AmountUSD = "mutated"

	again, _ := store.GetByPool(ctx, "0xpool5")
	if again[0].AmountUSD != "2000.0" {
		t.Error("Store must not expose internal state to callers")
	}
}
