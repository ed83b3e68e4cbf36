// Package normalize converts raw heterogeneous source rows (swap
// events, candles, blocks) into uniform timestamped records with a
// fixed per-source field vocabulary.
package normalize

import (
	"math/big"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"eth-basis-lab/internal/align"
	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/timeindex"
)

// twoPow192 is the Q96 squared fixed-point divisor: sqrtPriceX96 is a
// Q64.96 value, so price = sqrtPriceX96^2 / 2^192.
var twoPow192 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 192), 0)

// UniswapConfig controls pair-specific price orientation assumptions.
type UniswapConfig struct {
	// AssumeUSDQuote enables the USD-per-base-asset orientation
	// heuristics: the larger reciprocal swap-amount ratio wins, and a
	// sqrt-derived price below 1 is inverted. Both assume a USD-quoted
	// pair (e.g. ETH/USDC); disable for arbitrary token pairs.
	AssumeUSDQuote bool
}

// DefaultUniswapConfig matches the ETH-USD pools this dataset tracks.
func DefaultUniswapConfig() UniswapConfig {
	return UniswapConfig{AssumeUSDQuote: true}
}

func parseDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case string:
		if v == "" || v == "0" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		if v == 0 {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v), true
	default:
		f := domain.AsFloat(value)
		if f == nil || *f == 0 {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(*f), true
	}
}

// priceFromSwapAmounts derives a price from raw swap amount0/amount1.
// With the USD-quote assumption the larger of the two reciprocal
// ratios is taken, which orients arbitrary token ordering without
// token-decimals metadata.
func priceFromSwapAmounts(row domain.Record, cfg UniswapConfig) *float64 {
	amount0, ok0 := parseDecimal(row["amount0"])
	amount1, ok1 := parseDecimal(row["amount1"])
	if !ok0 || !ok1 || amount0.IsZero() || amount1.IsZero() {
		return nil
	}

	ratio1Over0 := amount1.Div(amount0).Abs()
	if !cfg.AssumeUSDQuote {
		f := ratio1Over0.InexactFloat64()
		if f <= 0 {
			return nil
		}
		return &f
	}

	ratio0Over1 := amount0.Div(amount1).Abs()
	chosen := ratio1Over0
	if ratio0Over1.GreaterThan(chosen) {
		chosen = ratio0Over1
	}
	f := chosen.InexactFloat64()
	if f <= 0 {
		return nil
	}
	return &f
}

// priceFromSqrtPriceX96 derives a price from the pool's fixed-point
// sqrt price. With the USD-quote assumption a result below 1 is
// inverted to select the conventional orientation.
func priceFromSqrtPriceX96(value any, cfg UniswapConfig) *float64 {
	sqrtPrice, ok := parseDecimal(value)
	if !ok || !sqrtPrice.IsPositive() {
		return nil
	}

	price := sqrtPrice.Mul(sqrtPrice).Div(twoPow192).InexactFloat64()
	if price <= 0 {
		return nil
	}
	if cfg.AssumeUSDQuote && price < 1 {
		price = 1.0 / price
	}
	return &price
}

func priceFromExplicitField(row domain.Record) *float64 {
	for _, key := range []string{"token1Price", "token1_price", "token0Price", "token0_price"} {
		if value, ok := row[key]; ok && value != nil {
			return domain.AsFloat(value)
		}
	}
	return nil
}

// UniswapRows normalizes raw swap rows into uniform records with keys
// timestamp_utc, token0_price, and amount_usd. Price derivation order:
// swap amount ratio, explicit token price field, sqrtPriceX96.
// Rows without a timestamp are skipped; malformed numeric fields
// degrade to nil.
func UniswapRows(rawRows []domain.Record, cfg UniswapConfig) []domain.Record {
	normalized := make([]domain.Record, 0, len(rawRows))
	for _, row := range rawRows {
		ts, ok := row[domain.KeyTimestampUTC]
		if !ok || ts == nil {
			ts, ok = row["timestamp"]
			if !ok || ts == nil {
				continue
			}
		}
		parsed, err := timeindex.ParseUTC(ts)
		if err != nil {
			continue
		}

		price := priceFromSwapAmounts(row, cfg)
		if price == nil {
			price = priceFromExplicitField(row)
		}
		if price == nil {
			price = priceFromSqrtPriceX96(row["sqrtPriceX96"], cfg)
		}

		amountUSD := row["amountUSD"]
		if amountUSD == nil {
			amountUSD = row["amount_usd"]
		}

		record := domain.Record{
			domain.KeyTimestampUTC: domain.FormatUTC(parsed),
			"token0_price":         nil,
			"amount_usd":           amountUSD,
		}
		if price != nil {
			record["token0_price"] = *price
		}
		normalized = append(normalized, record)
	}
	return normalized
}

// AggregateUniswapMinutes pre-aggregates normalized swap records to
// one record per minute: token0_price resolved by the duplicate
// policy, flow_usd accumulating absolute USD turnover, swap_count
// counting rows. Output is sorted by minute.
func AggregateUniswapMinutes(
	rows []domain.Record,
	policy align.DuplicatePolicy,
) ([]domain.Record, error) {
	if _, err := align.ParsePolicy(string(policy)); err != nil {
		return nil, err
	}

	aggregates := make(map[time.Time]domain.Record)
	var orderedMinutes []time.Time

	for _, row := range rows {
		ts, err := timeindex.ParseUTC(row[domain.KeyTimestampUTC])
		if err != nil {
			continue
		}
		minute := timeindex.FloorToMinute(ts)

		agg, ok := aggregates[minute]
		if !ok {
			agg = domain.Record{
				domain.KeyTimestampUTC: domain.FormatUTC(minute),
				"token0_price":         row["token0_price"],
				"flow_usd":             0.0,
				"swap_count":           0,
			}
			aggregates[minute] = agg
			orderedMinutes = append(orderedMinutes, minute)
		} else if policy == align.PolicyLast {
			agg["token0_price"] = row["token0_price"]
		}

		if flow := domain.AsFloat(row["amount_usd"]); flow != nil {
			if *flow < 0 {
				*flow = -*flow
			}
			agg["flow_usd"] = agg["flow_usd"].(float64) + *flow
		}
		agg["swap_count"] = agg["swap_count"].(int) + 1
	}

	sort.Slice(orderedMinutes, func(i, j int) bool {
		return orderedMinutes[i].Before(orderedMinutes[j])
	})

	out := make([]domain.Record, 0, len(orderedMinutes))
	for _, minute := range orderedMinutes {
		out = append(out, aggregates[minute])
	}
	return out, nil
}
