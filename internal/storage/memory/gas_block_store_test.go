package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/storage"
)

func testBlock(number int64, ts time.Time) *domain.GasBlock {
	return &domain.GasBlock{
		BlockNumber:      number,
		TimestampUTC:     ts,
		BaseFeePerGasWei: 20_000_000_000,
		GasUsed:          15_000_000,
		GasLimit:         30_000_000,
	}
}

func TestGasBlockStore_InsertAndGetByBlockRange(t *testing.T) {
	store := NewGasBlockStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	batch := []*domain.GasBlock{
		testBlock(102, base.Add(24*time.Second)),
		testBlock(100, base),
		testBlock(101, base.Add(12*time.Second)),
	}
	if err := store.InsertBulk(ctx, batch); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	blocks, err := store.GetByBlockRange(ctx, 100, 101)
	if err != nil {
		t.Fatalf("GetByBlockRange failed: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("Expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].BlockNumber != 100 || blocks[1].BlockNumber != 101 {
		t.Errorf("Expected block order 100,101: got %d,%d", blocks[0].BlockNumber, blocks[1].BlockNumber)
	}
}

func TestGasBlockStore_GetByTimeRange(t *testing.T) {
	store := NewGasBlockStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	batch := []*domain.GasBlock{
		testBlock(100, base),
		testBlock(101, base.Add(time.Minute)),
		testBlock(102, base.Add(2*time.Minute)),
	}
	if err := store.InsertBulk(ctx, batch); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	blocks, err := store.GetByTimeRange(ctx, base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(blocks) != 2 {
		t.Errorf("Expected 2 blocks in inclusive range, got %d", len(blocks))
	}
}

func TestGasBlockStore_DuplicateBlockNumber(t *testing.T) {
	store := NewGasBlockStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Insert(ctx, testBlock(100, base)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, testBlock(100, base.Add(time.Minute))); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestGasBlockStore_InvalidBlockNumber(t *testing.T) {
	store := NewGasBlockStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testBlock(0, time.Now())); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
