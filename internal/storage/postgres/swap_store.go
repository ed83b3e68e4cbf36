package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/storage"
)

// SwapStore implements storage.SwapStore using PostgreSQL.
type SwapStore struct {
	pool *Pool
}

// NewSwapStore creates a new SwapStore.
func NewSwapStore(pool *Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

const insertSwapQuery = `
	INSERT INTO uniswap_swaps (
		pool_id, swap_id, fee_tier_bps, timestamp_utc, amount0, amount1, amount_usd, sqrt_price_x96
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// Insert adds a new swap. Returns ErrDuplicateKey if (pool_id, swap_id) exists.
func (s *SwapStore) Insert(ctx context.Context, swap *domain.UniswapSwap) error {
	if swap == nil || swap.PoolID == "" || swap.ID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, insertSwapQuery,
		swap.PoolID,
		swap.ID,
		swap.FeeTierBps,
		swap.TimestampUTC,
		swap.Amount0,
		swap.Amount1,
		swap.AmountUSD,
		swap.SqrtPriceX96,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert swap: %w", err)
	}
	return nil
}

// InsertBulk adds multiple swaps atomically. Fails entire batch on any duplicate.
func (s *SwapStore) InsertBulk(ctx context.Context, swaps []*domain.UniswapSwap) error {
	if len(swaps) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, swap := range swaps {
		if swap == nil || swap.PoolID == "" || swap.ID == "" {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, insertSwapQuery,
			swap.PoolID,
			swap.ID,
			swap.FeeTierBps,
			swap.TimestampUTC,
			swap.Amount0,
			swap.Amount1,
			swap.AmountUSD,
			swap.SqrtPriceX96,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert swap in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const selectSwapColumns = `
	SELECT pool_id, swap_id, fee_tier_bps, timestamp_utc, amount0, amount1, amount_usd, sqrt_price_x96
	FROM uniswap_swaps
`

// GetByPool retrieves all swaps for a pool, ordered by timestamp ASC.
func (s *SwapStore) GetByPool(ctx context.Context, poolID string) ([]*domain.UniswapSwap, error) {
	query := selectSwapColumns + `
		WHERE pool_id = $1
		ORDER BY timestamp_utc ASC, swap_id ASC
	`
	rows, err := s.pool.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("query swaps: %w", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

// GetByTimeRange retrieves swaps for a pool within [start, end] (inclusive).
func (s *SwapStore) GetByTimeRange(ctx context.Context, poolID string, start, end time.Time) ([]*domain.UniswapSwap, error) {
	query := selectSwapColumns + `
		WHERE pool_id = $1 AND timestamp_utc >= $2 AND timestamp_utc <= $3
		ORDER BY timestamp_utc ASC, swap_id ASC
	`
	rows, err := s.pool.Query(ctx, query, poolID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query swaps by time range: %w", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

func scanSwaps(rows pgx.Rows) ([]*domain.UniswapSwap, error) {
	var result []*domain.UniswapSwap
	for rows.Next() {
		var swap domain.UniswapSwap
		err := rows.Scan(
			&swap.PoolID,
			&swap.ID,
			&swap.FeeTierBps,
			&swap.TimestampUTC,
			&swap.Amount0,
			&swap.Amount1,
			&swap.AmountUSD,
			&swap.SqrtPriceX96,
		)
		if err != nil {
			return nil, fmt.Errorf("scan swap: %w", err)
		}
		swap.TimestampUTC = swap.TimestampUTC.UTC()
		result = append(result, &swap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swaps: %w", err)
	}
	return result, nil
}
