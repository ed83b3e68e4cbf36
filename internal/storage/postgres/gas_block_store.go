package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/storage"
)

// GasBlockStore implements storage.GasBlockStore using PostgreSQL.
type GasBlockStore struct {
	pool *Pool
}

// NewGasBlockStore creates a new GasBlockStore.
func NewGasBlockStore(pool *Pool) *GasBlockStore {
	return &GasBlockStore{pool: pool}
}

// Compile-time interface check.
var _ storage.GasBlockStore = (*GasBlockStore)(nil)

const insertGasBlockQuery = `
	INSERT INTO gas_blocks (
		block_number, timestamp_utc, base_fee_per_gas_wei, gas_used, gas_limit
	) VALUES ($1, $2, $3, $4, $5)
`

// Insert adds a new block observation. Returns ErrDuplicateKey if block_number exists.
func (s *GasBlockStore) Insert(ctx context.Context, block *domain.GasBlock) error {
	if block == nil || block.BlockNumber <= 0 {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, insertGasBlockQuery,
		block.BlockNumber,
		block.TimestampUTC,
		block.BaseFeePerGasWei,
		block.GasUsed,
		block.GasLimit,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert gas block: %w", err)
	}
	return nil
}

// InsertBulk adds multiple observations atomically. Fails entire batch on any duplicate.
func (s *GasBlockStore) InsertBulk(ctx context.Context, blocks []*domain.GasBlock) error {
	if len(blocks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, block := range blocks {
		if block == nil || block.BlockNumber <= 0 {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, insertGasBlockQuery,
			block.BlockNumber,
			block.TimestampUTC,
			block.BaseFeePerGasWei,
			block.GasUsed,
			block.GasLimit,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert gas block in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const selectGasBlockColumns = `
	SELECT block_number, timestamp_utc, base_fee_per_gas_wei, gas_used, gas_limit
	FROM gas_blocks
`

// GetByBlockRange retrieves observations within [startBlock, endBlock] (inclusive).
func (s *GasBlockStore) GetByBlockRange(ctx context.Context, startBlock, endBlock int64) ([]*domain.GasBlock, error) {
	query := selectGasBlockColumns + `
		WHERE block_number >= $1 AND block_number <= $2
		ORDER BY block_number ASC
	`
	rows, err := s.pool.Query(ctx, query, startBlock, endBlock)
	if err != nil {
		return nil, fmt.Errorf("query gas blocks: %w", err)
	}
	defer rows.Close()

	return scanGasBlocks(rows)
}

// GetByTimeRange retrieves observations within [start, end] (inclusive).
func (s *GasBlockStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.GasBlock, error) {
	query := selectGasBlockColumns + `
		WHERE timestamp_utc >= $1 AND timestamp_utc <= $2
		ORDER BY block_number ASC
	`
	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query gas blocks by time range: %w", err)
	}
	defer rows.Close()

	return scanGasBlocks(rows)
}

func scanGasBlocks(rows pgx.Rows) ([]*domain.GasBlock, error) {
	var result []*domain.GasBlock
	for rows.Next() {
		var block domain.GasBlock
		err := rows.Scan(
			&block.BlockNumber,
			&block.TimestampUTC,
			&block.BaseFeePerGasWei,
			&block.GasUsed,
			&block.GasLimit,
		)
		if err != nil {
			return nil, fmt.Errorf("scan gas block: %w", err)
		}
		block.TimestampUTC = block.TimestampUTC.UTC()
		result = append(result, &block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gas blocks: %w", err)
	}
	return result, nil
}
