package clickhouse

import (
	"context"
	"fmt"
	"time"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/storage"
)

// DatasetStore implements storage.DatasetStore using ClickHouse.
type DatasetStore struct {
	conn *Conn
}

// NewDatasetStore creates a new DatasetStore.
func NewDatasetStore(conn *Conn) *DatasetStore {
	return &DatasetStore{conn: conn}
}

// Compile-time interface check.
var _ storage.DatasetStore = (*DatasetStore)(nil)

// InsertBulk adds multiple rows. Fails entire batch on duplicate minute_utc.
func (s *DatasetStore) InsertBulk(ctx context.Context, rows []*domain.MinuteDatasetRow) error {
	if len(rows) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[int64]struct{}, len(rows))
	for _, row := range rows {
		if row == nil || row.MinuteUTC.IsZero() {
			return storage.ErrInvalidInput
		}
		key := row.MinuteUTC.Unix()
		if _, exists := seen[key]; exists {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
	}

	// Check for duplicates against existing rows. MergeTree does not
	// enforce uniqueness at insert time.
	first, last := rows[0].MinuteUTC, rows[0].MinuteUTC
	for _, row := range rows[1:] {
		if row.MinuteUTC.Before(first) {
			first = row.MinuteUTC
		}
		if row.MinuteUTC.After(last) {
			last = row.MinuteUTC
		}
	}
	existing, err := s.existingMinutes(ctx, first, last)
	if err != nil {
		return fmt.Errorf("check existing minutes: %w", err)
	}
	for _, row := range rows {
		if _, exists := existing[row.MinuteUTC.Unix()]; exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO minute_dataset (
			minute_utc,
			coinbase_close, coinbase_volume,
			uniswap5_token0_price, uniswap5_age_min, uniswap5_outlier, uniswap5_spike_patch,
			uniswap30_token0_price, uniswap30_age_min, uniswap30_outlier, uniswap30_spike_patch,
			gas_base_fee_per_gas_wei, gas_base_fee_gwei, gas_usd, congestion_30d_pct,
			coinbase_log_price, coinbase_log_return,
			uniswap5_log_price, uniswap5_log_return,
			uniswap30_log_price, uniswap30_log_return,
			basis_5_bps, basis_30_bps,
			implied_band_5_bps, implied_band_30_bps,
			violation_5, violation_30, violation_5_mag_bps, violation_30_mag_bps,
			realized_vol_annualized
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, row := range rows {
		err = batch.Append(
			row.MinuteUTC,
			row.CoinbaseClose, row.CoinbaseVolume,
			row.Uniswap5Price, row.Uniswap5AgeMin, boolToUInt8(row.Uniswap5Outlier), boolToUInt8(row.Uniswap5SpikePatch),
			row.Uniswap30Price, row.Uniswap30AgeMin, boolToUInt8(row.Uniswap30Outlier), boolToUInt8(row.Uniswap30SpikePatch),
			row.GasBaseFeeWei, row.GasBaseFeeGwei, row.GasUSD, row.Congestion30d,
			row.CoinbaseLogPrice, row.CoinbaseLogReturn,
			row.Uniswap5LogPrice, row.Uniswap5LogReturn,
			row.Uniswap30LogPrice, row.Uniswap30LogReturn,
			row.Basis5Bps, row.Basis30Bps,
			row.ImpliedBand5Bps, row.ImpliedBand30Bps,
			boolToUInt8(row.Violation5), boolToUInt8(row.Violation30), row.Violation5Mag, row.Violation30Mag,
			row.RealizedVolAnnualized,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (s *DatasetStore) existingMinutes(ctx context.Context, first, last time.Time) (map[int64]struct{}, error) {
	query := `
		SELECT minute_utc FROM minute_dataset
		WHERE minute_utc >= ? AND minute_utc <= ?
	`
	rows, err := s.conn.Query(ctx, query, first, last)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	existing := make(map[int64]struct{})
	for rows.Next() {
		var minute time.Time
		if err := rows.Scan(&minute); err != nil {
			return nil, err
		}
		existing[minute.Unix()] = struct{}{}
	}
	return existing, rows.Err()
}

// GetByTimeRange retrieves rows within [start, end] (inclusive), ordered by minute ASC.
func (s *DatasetStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.MinuteDatasetRow, error) {
	query := `
		SELECT
			minute_utc,
			coinbase_close, coinbase_volume,
			uniswap5_token0_price, uniswap5_age_min, uniswap5_outlier, uniswap5_spike_patch,
			uniswap30_token0_price, uniswap30_age_min, uniswap30_outlier, uniswap30_spike_patch,
			gas_base_fee_per_gas_wei, gas_base_fee_gwei, gas_usd, congestion_30d_pct,
			coinbase_log_price, coinbase_log_return,
			uniswap5_log_price, uniswap5_log_return,
			uniswap30_log_price, uniswap30_log_return,
			basis_5_bps, basis_30_bps,
			implied_band_5_bps, implied_band_30_bps,
			violation_5, violation_30, violation_5_mag_bps, violation_30_mag_bps,
			realized_vol_annualized
		FROM minute_dataset
		WHERE minute_utc >= ? AND minute_utc <= ?
		ORDER BY minute_utc ASC
	`
	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query minute dataset: %w", err)
	}
	defer rows.Close()

	var result []*domain.MinuteDatasetRow
	for rows.Next() {
		var row domain.MinuteDatasetRow
		var uniswap5Outlier, uniswap5Spike, uniswap30Outlier, uniswap30Spike uint8
		var violation5, violation30 uint8
		err := rows.Scan(
			&row.MinuteUTC,
			&row.CoinbaseClose, &row.CoinbaseVolume,
			&row.Uniswap5Price, &row.Uniswap5AgeMin, &uniswap5Outlier, &uniswap5Spike,
			&row.Uniswap30Price, &row.Uniswap30AgeMin, &uniswap30Outlier, &uniswap30Spike,
			&row.GasBaseFeeWei, &row.GasBaseFeeGwei, &row.GasUSD, &row.Congestion30d,
			&row.CoinbaseLogPrice, &row.CoinbaseLogReturn,
			&row.Uniswap5LogPrice, &row.Uniswap5LogReturn,
			&row.Uniswap30LogPrice, &row.Uniswap30LogReturn,
			&row.Basis5Bps, &row.Basis30Bps,
			&row.ImpliedBand5Bps, &row.ImpliedBand30Bps,
			&violation5, &violation30, &row.Violation5Mag, &row.Violation30Mag,
			&row.RealizedVolAnnualized,
		)
		if err != nil {
			return nil, fmt.Errorf("scan minute dataset row: %w", err)
		}
		row.MinuteUTC = row.MinuteUTC.UTC()
		row.Uniswap5Outlier = uniswap5Outlier != 0
		row.Uniswap5SpikePatch = uniswap5Spike != 0
		row.Uniswap30Outlier = uniswap30Outlier != 0
		row.Uniswap30SpikePatch = uniswap30Spike != 0
		row.Violation5 = violation5 != 0
		row.Violation30 = violation30 != 0
		result = append(result, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate minute dataset rows: %w", err)
	}
	return result, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
