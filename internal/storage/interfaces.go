package storage

import (
	"context"
	"time"

	"eth-basis-lab/internal/domain"
)

// SwapStore provides access to raw Uniswap swap storage.
type SwapStore interface {
	// Insert adds a new swap. Returns ErrDuplicateKey if (pool_id, swap_id) exists.
	Insert(ctx context.Context, swap *domain.UniswapSwap) error

	// InsertBulk adds multiple swaps atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, swaps []*domain.UniswapSwap) error

	// GetByPool retrieves all swaps for a pool, ordered by timestamp ASC.
	GetByPool(ctx context.Context, poolID string) ([]*domain.UniswapSwap, error)

	// GetByTimeRange retrieves swaps for a pool within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, poolID string, start, end time.Time) ([]*domain.UniswapSwap, error)
}

// CandleStore provides access to raw exchange candle storage.
type CandleStore interface {
	// Insert adds a new candle. Returns ErrDuplicateKey if (product_id, timestamp) exists.
	Insert(ctx context.Context, candle *domain.CoinbaseCandle) error

	// InsertBulk adds multiple candles atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, candles []*domain.CoinbaseCandle) error

	// GetByProduct retrieves all candles for a product, ordered by timestamp ASC.
	GetByProduct(ctx context.Context, productID string) ([]*domain.CoinbaseCandle, error)

	// GetByTimeRange retrieves candles for a product within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, productID string, start, end time.Time) ([]*domain.CoinbaseCandle, error)
}

// GasBlockStore provides access to raw block basefee storage.
type GasBlockStore interface {
	// Insert adds a new block observation. Returns ErrDuplicateKey if block_number exists.
	Insert(ctx context.Context, block *domain.GasBlock) error

	// InsertBulk adds multiple observations atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, blocks []*domain.GasBlock) error

	// GetByBlockRange retrieves observations within [startBlock, endBlock] (inclusive),
	// ordered by block number ASC.
	GetByBlockRange(ctx context.Context, startBlock, endBlock int64) ([]*domain.GasBlock, error)

	// GetByTimeRange retrieves observations within [start, end] (inclusive),
	// ordered by block number ASC.
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.GasBlock, error)
}

// DatasetStore provides access to processed minute dataset storage.
type DatasetStore interface {
	// InsertBulk adds multiple rows. Fails entire batch on duplicate minute_utc.
	InsertBulk(ctx context.Context, rows []*domain.MinuteDatasetRow) error

	// GetByTimeRange retrieves rows within [start, end] (inclusive), ordered by minute ASC.
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.MinuteDatasetRow, error)
}
