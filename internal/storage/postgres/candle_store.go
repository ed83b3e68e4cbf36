package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using PostgreSQL.
type CandleStore struct {
	pool *Pool
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(pool *Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

const insertCandleQuery = `
	INSERT INTO coinbase_candles (
		product_id, timestamp_utc, interval_seconds, open_price, high_price, low_price, close_price, volume
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// Insert adds a new candle. Returns ErrDuplicateKey if (product_id, timestamp) exists.
func (s *CandleStore) Insert(ctx context.Context, candle *domain.CoinbaseCandle) error {
	if candle == nil || candle.ProductID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, insertCandleQuery,
		candle.ProductID,
		candle.TimestampUTC,
		candle.IntervalSeconds,
		candle.OpenPrice,
		candle.HighPrice,
		candle.LowPrice,
		candle.ClosePrice,
		candle.Volume,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert candle: %w", err)
	}
	return nil
}

// InsertBulk adds multiple candles atomically. Fails entire batch on any duplicate.
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.CoinbaseCandle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, candle := range candles {
		if candle == nil || candle.ProductID == "" {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, insertCandleQuery,
			candle.ProductID,
			candle.TimestampUTC,
			candle.IntervalSeconds,
			candle.OpenPrice,
			candle.HighPrice,
			candle.LowPrice,
			candle.ClosePrice,
			candle.Volume,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert candle in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const selectCandleColumns = `
	SELECT product_id, timestamp_utc, interval_seconds, open_price, high_price, low_price, close_price, volume
	FROM coinbase_candles
`

// GetByProduct retrieves all candles for a product, ordered by timestamp ASC.
func (s *CandleStore) GetByProduct(ctx context.Context, productID string) ([]*domain.CoinbaseCandle, error) {
	query := selectCandleColumns + `
		WHERE product_id = $1
		ORDER BY timestamp_utc ASC
	`
	rows, err := s.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetByTimeRange retrieves candles for a product within [start, end] (inclusive).
func (s *CandleStore) GetByTimeRange(ctx context.Context, productID string, start, end time.Time) ([]*domain.CoinbaseCandle, error) {
	query := selectCandleColumns + `
		WHERE product_id = $1 AND timestamp_utc >= $2 AND timestamp_utc <= $3
		ORDER BY timestamp_utc ASC
	`
	rows, err := s.pool.Query(ctx, query, productID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query candles by time range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

func scanCandles(rows pgx.Rows) ([]*domain.CoinbaseCandle, error) {
	var result []*domain.CoinbaseCandle
	for rows.Next() {
		var candle domain.CoinbaseCandle
		err := rows.Scan(
			&candle.ProductID,
			&candle.TimestampUTC,
			&candle.IntervalSeconds,
			&candle.OpenPrice,
			&candle.HighPrice,
			&candle.LowPrice,
			&candle.ClosePrice,
			&candle.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		candle.TimestampUTC = candle.TimestampUTC.UTC()
		result = append(result, &candle)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return result, nil
}
