// Package features derives the analytical dataset columns from cleaned
// aligned minute rows: log prices and returns, cross-venue basis,
// implied cost bands and violations, realized volatility, and gas-cost
// proxies with a rolling congestion percentile.
package features

import (
	"math"

	"eth-basis-lab/internal/domain"
)

// Options configures dataset derivation.
type Options struct {
	CEXPriceKey             string
	GasBaseFeeWeiKey        string
	GasWeightBpsPerGwei     float64
	GasUnitsAssumption      int
	RealizedVolWindow       int
	AnnualizationMinutes    int
	CongestionWindowMinutes int
}

// DefaultOptions returns the production dataset configuration:
// 30-minute realized vol annualized to minutes-per-year, 0.02 bps of
// implied band per gwei of basefee, a 200k-gas swap cost assumption,
// and a 30-day congestion window.
func DefaultOptions() Options {
	return Options{
		CEXPriceKey:             domain.KeyCoinbaseClose,
		GasBaseFeeWeiKey:        domain.KeyGasBaseFeeWei,
		GasWeightBpsPerGwei:     0.02,
		GasUnitsAssumption:      200_000,
		RealizedVolWindow:       30,
		AnnualizationMinutes:    525_600,
		CongestionWindowMinutes: 30 * 24 * 60,
	}
}

func logPrice(price *float64) *float64 {
	if price == nil || *price <= 0 {
		return nil
	}
	v := math.Log(*price)
	return &v
}

func logReturn(curr, prev *float64) *float64 {
	if curr == nil || prev == nil || *curr <= 0 || *prev <= 0 {
		return nil
	}
	v := math.Log(*curr / *prev)
	return &v
}

// wedgePriceDiff is the raw DEX minus CEX price gap in quote units.
func wedgePriceDiff(dexPrice, cexPrice *float64) *float64 {
	if dexPrice == nil || cexPrice == nil {
		return nil
	}
	v := *dexPrice - *cexPrice
	return &v
}

// wedgeBpsFromLogs is the log-price gap in basis points. Unlike the
// arithmetic basis it is symmetric under price inversion.
func wedgeBpsFromLogs(dexPrice, cexPrice *float64) *float64 {
	dexLog := logPrice(dexPrice)
	cexLog := logPrice(cexPrice)
	if dexLog == nil || cexLog == nil {
		return nil
	}
	v := 10_000.0 * (*dexLog - *cexLog)
	return &v
}

// basisBps is the relative DEX/CEX price difference in basis points.
func basisBps(dexPrice, cexPrice *float64) *float64 {
	if dexPrice == nil || cexPrice == nil || *cexPrice <= 0 {
		return nil
	}
	v := (*dexPrice - *cexPrice) / *cexPrice * 10_000.0
	return &v
}

func gasGwei(baseFeeWei *float64) *float64 {
	if baseFeeWei == nil || *baseFeeWei < 0 {
		return nil
	}
	v := *baseFeeWei / 1e9
	return &v
}

// costBandProxyBps is the implied execution-cost band: the pool fee
// tier widened by a gas term. Falls back to the fee tier alone when
// gas data is absent.
func costBandProxyBps(feeTierBps float64, baseFeeWei *float64, weightBpsPerGwei float64) float64 {
	gwei := gasGwei(baseFeeWei)
	if gwei == nil {
		return feeTierBps
	}
	return feeTierBps + *gwei*weightBpsPerGwei
}

// violation reports whether |basis| exceeds the implied band, and by
// how many bps.
func violation(basis *float64, bandBps float64) (bool, float64) {
	if basis == nil {
		return false, 0.0
	}
	magnitude := math.Abs(*basis) - bandBps
	if magnitude < 0 {
		magnitude = 0
	}
	return magnitude > 0, magnitude
}

// realizedVolAnnualized is the population standard deviation of the
// trailing window of log returns, scaled by sqrt(annualizationMinutes).
// Nil until the window is fully populated or when any return in the
// window is undefined.
func realizedVolAnnualized(prices []*float64, index, window, annualizationMinutes int) *float64 {
	if window < 1 || index < window {
		return nil
	}

	returns := make([]float64, 0, window)
	for offset := index - window + 1; offset <= index; offset++ {
		r := logReturn(prices[offset], prices[offset-1])
		if r == nil {
			return nil
		}
		returns = append(returns, *r)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	v := math.Sqrt(variance) * math.Sqrt(float64(annualizationMinutes))
	return &v
}

// gasUSD is the cost of one swap-sized gas purchase in USD terms.
func gasUSD(baseFeeWei, ethUSDPrice *float64, gasUnits int) *float64 {
	if baseFeeWei == nil || ethUSDPrice == nil || *baseFeeWei < 0 || *ethUSDPrice <= 0 {
		return nil
	}
	gasPriceETH := *baseFeeWei / 1e18
	v := float64(gasUnits) * gasPriceETH * *ethUSDPrice
	return &v
}

func put(record domain.Record, key string, value *float64) {
	if value == nil {
		record[key] = nil
		return
	}
	record[key] = *value
}

// BuildDatasetRows derives the analytic columns for every cleaned
// aligned record, returning new records (inputs are not mutated).
// Rows leaving this builder are final; nothing updates them in place.
func BuildDatasetRows(alignedRecords []domain.Record, opts Options) []domain.Record {
	n := len(alignedRecords)
	cexPrices := make([]*float64, n)
	dex5Prices := make([]*float64, n)
	dex30Prices := make([]*float64, n)
	gasUSDSeries := make([]*float64, n)

	for i, record := range alignedRecords {
		cexPrices[i] = domain.AsFloat(record[opts.CEXPriceKey])
		dex5Prices[i] = domain.AsFloat(record[domain.KeyUniswap5Price])
		dex30Prices[i] = domain.AsFloat(record[domain.KeyUniswap30Price])
		gasUSDSeries[i] = gasUSD(
			domain.AsFloat(record[opts.GasBaseFeeWeiKey]),
			cexPrices[i],
			opts.GasUnitsAssumption,
		)
	}

	congestion := RollingPercentileRank(gasUSDSeries, opts.CongestionWindowMinutes)

	out := make([]domain.Record, 0, n)
	for i, record := range alignedRecords {
		enriched := make(domain.Record, len(record)+28)
		for k, v := range record {
			enriched[k] = v
		}

		cexPrice := cexPrices[i]
		dex5Price := dex5Prices[i]
		dex30Price := dex30Prices[i]
		baseFeeWei := domain.AsFloat(record[opts.GasBaseFeeWeiKey])

		var prevCEX, prevDex5, prevDex30 *float64
		if i > 0 {
			prevCEX = cexPrices[i-1]
			prevDex5 = dex5Prices[i-1]
			prevDex30 = dex30Prices[i-1]
		}

		put(enriched, "coinbase_log_price", logPrice(cexPrice))
		put(enriched, "uniswap5_log_price", logPrice(dex5Price))
		put(enriched, "uniswap30_log_price", logPrice(dex30Price))
		put(enriched, "coinbase_log_return", logReturn(cexPrice, prevCEX))
		put(enriched, "uniswap5_log_return", logReturn(dex5Price, prevDex5))
		put(enriched, "uniswap30_log_return", logReturn(dex30Price, prevDex30))

		put(enriched, "wedge_5_price_diff", wedgePriceDiff(dex5Price, cexPrice))
		put(enriched, "wedge_30_price_diff", wedgePriceDiff(dex30Price, cexPrice))
		put(enriched, "wedge_5_bps", wedgeBpsFromLogs(dex5Price, cexPrice))
		put(enriched, "wedge_30_bps", wedgeBpsFromLogs(dex30Price, cexPrice))

		basis5 := basisBps(dex5Price, cexPrice)
		basis30 := basisBps(dex30Price, cexPrice)
		put(enriched, "basis_5_bps", basis5)
		put(enriched, "basis_30_bps", basis30)
		if basis5 != nil && basis30 != nil {
			enriched["basis_spread_bps"] = *basis30 - *basis5
		} else {
			enriched["basis_spread_bps"] = nil
		}

		band5 := costBandProxyBps(float64(domain.FeeTier5Bps), baseFeeWei, opts.GasWeightBpsPerGwei)
		band30 := costBandProxyBps(float64(domain.FeeTier30Bps), baseFeeWei, opts.GasWeightBpsPerGwei)
		enriched["implied_band_5_bps"] = band5
		enriched["implied_band_30_bps"] = band30

		violated5, mag5 := violation(basis5, band5)
		violated30, mag30 := violation(basis30, band30)
		enriched["violation_5"] = violated5
		enriched["violation_30"] = violated30
		enriched["violation_5_mag_bps"] = mag5
		enriched["violation_30_mag_bps"] = mag30

		put(enriched, "gas_base_fee_gwei", gasGwei(baseFeeWei))
		put(enriched, "gas_usd", gasUSDSeries[i])
		put(enriched, "congestion_30d_pct", congestion[i])

		put(enriched, "realized_vol_annualized", realizedVolAnnualized(
			cexPrices, i, opts.RealizedVolWindow, opts.AnnualizationMinutes,
		))

		out = append(out, enriched)
	}

	return out
}
