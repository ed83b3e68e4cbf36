package domain

import "time"

// MinuteDatasetRow is the typed storage shape of one exported dataset
// row. Nullable columns are pointers; nil maps to NULL.
// Corresponds to the minute_dataset table in ClickHouse.
type MinuteDatasetRow struct {
	MinuteUTC time.Time

	CoinbaseClose  *float64
	CoinbaseVolume *float64

	Uniswap5Price       *float64
	Uniswap5AgeMin      *int64
	Uniswap5Outlier     bool
	Uniswap5SpikePatch  bool
	Uniswap30Price      *float64
	Uniswap30AgeMin     *int64
	Uniswap30Outlier    bool
	Uniswap30SpikePatch bool

	GasBaseFeeWei  *float64
	GasBaseFeeGwei *float64
	GasUSD         *float64
	Congestion30d  *float64

	CoinbaseLogPrice   *float64
	CoinbaseLogReturn  *float64
	Uniswap5LogPrice   *float64
	Uniswap5LogReturn  *float64
	Uniswap30LogPrice  *float64
	Uniswap30LogReturn *float64

	Basis5Bps        *float64
	Basis30Bps       *float64
	ImpliedBand5Bps  *float64
	ImpliedBand30Bps *float64
	Violation5       bool
	Violation30      bool
	Violation5Mag    *float64
	Violation30Mag   *float64

	RealizedVolAnnualized *float64
}

func asBool(value any) bool {
	b, ok := value.(bool)
	return ok && b
}

func asIntPtr(value any) *int64 {
	f := AsFloat(value)
	if f == nil {
		return nil
	}
	n := int64(*f)
	return &n
}

// DatasetRowFromRecord extracts the typed storage columns from a flat
// dataset record. Unknown extra keys are ignored.
func DatasetRowFromRecord(record Record) (*MinuteDatasetRow, error) {
	minuteRaw, _ := record[KeyMinuteUTC].(string)
	minute, err := time.Parse(time.RFC3339, minuteRaw)
	if err != nil {
		return nil, err
	}

	return &MinuteDatasetRow{
		MinuteUTC: minute.UTC(),

		CoinbaseClose:  AsFloat(record[KeyCoinbaseClose]),
		CoinbaseVolume: AsFloat(record[KeyCoinbaseVolume]),

		Uniswap5Price:       AsFloat(record[KeyUniswap5Price]),
		Uniswap5AgeMin:      asIntPtr(record[KeyUniswap5Age]),
		Uniswap5Outlier:     asBool(record[KeyUniswap5OutlierFlag]),
		Uniswap5SpikePatch:  asBool(record[KeyUniswap5SpikeFlag]),
		Uniswap30Price:      AsFloat(record[KeyUniswap30Price]),
		Uniswap30AgeMin:     asIntPtr(record[KeyUniswap30Age]),
		Uniswap30Outlier:    asBool(record[KeyUniswap30OutlierFlag]),
		Uniswap30SpikePatch: asBool(record[KeyUniswap30SpikeFlag]),

		GasBaseFeeWei:  AsFloat(record[KeyGasBaseFeeWei]),
		GasBaseFeeGwei: AsFloat(record["gas_base_fee_gwei"]),
		GasUSD:         AsFloat(record["gas_usd"]),
		Congestion30d:  AsFloat(record["congestion_30d_pct"]),

		CoinbaseLogPrice:   AsFloat(record["coinbase_log_price"]),
		CoinbaseLogReturn:  AsFloat(record["coinbase_log_return"]),
		Uniswap5LogPrice:   AsFloat(record["uniswap5_log_price"]),
		Uniswap5LogReturn:  AsFloat(record["uniswap5_log_return"]),
		Uniswap30LogPrice:  AsFloat(record["uniswap30_log_price"]),
		Uniswap30LogReturn: AsFloat(record["uniswap30_log_return"]),

		Basis5Bps:        AsFloat(record["basis_5_bps"]),
		Basis30Bps:       AsFloat(record["basis_30_bps"]),
		ImpliedBand5Bps:  AsFloat(record["implied_band_5_bps"]),
		ImpliedBand30Bps: AsFloat(record["implied_band_30_bps"]),
		Violation5:       asBool(record["violation_5"]),
		Violation30:      asBool(record["violation_30"]),
		Violation5Mag:    AsFloat(record["violation_5_mag_bps"]),
		Violation30Mag:   AsFloat(record["violation_30_mag_bps"]),

		RealizedVolAnnualized: AsFloat(record["realized_vol_annualized"]),
	}, nil
}
