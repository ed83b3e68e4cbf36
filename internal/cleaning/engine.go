// Package cleaning implements the DEX price cleaning engine: a causal
// outlier screen plus forward-fill with staleness age, followed by a
// non-causal isolated-spike patch. The two passes are kept as separate
// functions so the causal logic (safe to emulate real-time
// availability) and the after-the-fact data repair stay auditable
// independently.
package cleaning

import (
	"fmt"
	"time"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/timeindex"
)

// Series names the record keys of one DEX price series to clean.
type Series struct {
	PriceKey      string
	AgeKey        string
	OutlierKey    string
	SpikePatchKey string
	FeeTierKey    string
	StalenessKey  string
	FeeTierBps    int
}

// DefaultSeries returns the two tracked Uniswap fee-tier series.
func DefaultSeries() []Series {
	return []Series{
		{
			PriceKey:      domain.KeyUniswap5Price,
			AgeKey:        domain.KeyUniswap5Age,
			OutlierKey:    domain.KeyUniswap5OutlierFlag,
			SpikePatchKey: domain.KeyUniswap5SpikeFlag,
			FeeTierKey:    domain.KeyUniswap5FeeTier,
			StalenessKey:  domain.KeyUniswap5Staleness,
			FeeTierBps:    domain.FeeTier5Bps,
		},
		{
			PriceKey:      domain.KeyUniswap30Price,
			AgeKey:        domain.KeyUniswap30Age,
			OutlierKey:    domain.KeyUniswap30OutlierFlag,
			SpikePatchKey: domain.KeyUniswap30SpikeFlag,
			FeeTierKey:    domain.KeyUniswap30FeeTier,
			StalenessKey:  domain.KeyUniswap30Staleness,
			FeeTierBps:    domain.FeeTier30Bps,
		},
	}
}

// Config holds the cleaning thresholds.
type Config struct {
	// ReferenceKey is the same-minute reference price (CEX close).
	ReferenceKey string

	// MinCEXRatio/MaxCEXRatio bound the observed/reference ratio.
	MinCEXRatio float64
	MaxCEXRatio float64

	// MaxJumpRatio bounds the jump against the last accepted price;
	// the lower bound is its reciprocal.
	MaxJumpRatio float64

	// SpikeJumpThreshold is the minimum jump-and-revert ratio against
	// both neighbors for the spike patch.
	SpikeJumpThreshold float64

	// NeighborStabilityThreshold is the maximum ratio between the two
	// neighbors for the spike patch to apply.
	NeighborStabilityThreshold float64
}

// DefaultConfig returns the thresholds tuned for ETH minute mids.
func DefaultConfig() Config {
	return Config{
		ReferenceKey:               domain.KeyCoinbaseClose,
		MinCEXRatio:                0.5,
		MaxCEXRatio:                1.5,
		MaxJumpRatio:               10.0,
		SpikeJumpThreshold:         1.20,
		NeighborStabilityThreshold: 1.03,
	}
}

// fillState is the fold accumulator threaded through the causal pass.
// Explicit state keeps the engine reentrant per series.
type fillState struct {
	lastPrice  float64
	lastMinute time.Time
	accepted   bool
}

func rowMinute(record domain.Record) (time.Time, error) {
	raw, ok := record[domain.KeyMinuteUTC]
	if !ok {
		return time.Time{}, fmt.Errorf("record missing %s", domain.KeyMinuteUTC)
	}
	return timeindex.ParseUTC(raw)
}

// ForwardFill runs the causal pass over the rows for one series:
// screen outliers against the reference price and the last accepted
// price, then carry the last accepted price forward with a whole-minute
// staleness age. Age is 0 exactly when this minute had a valid,
// non-outlier observation. Mutates rows in place.
func ForwardFill(records []domain.Record, series Series, cfg Config) error {
	var state fillState

	for _, row := range records {
		minute, err := rowMinute(row)
		if err != nil {
			return err
		}

		observed := domain.AsPositiveFloat(row[series.PriceKey])
		isOutlier := false

		if observed != nil {
			if reference := domain.AsPositiveFloat(row[cfg.ReferenceKey]); reference != nil {
				ratio := *observed / *reference
				if ratio < cfg.MinCEXRatio || ratio > cfg.MaxCEXRatio {
					isOutlier = true
				}
			}
			if !isOutlier && state.accepted {
				jump := *observed / state.lastPrice
				if jump < 1.0/cfg.MaxJumpRatio || jump > cfg.MaxJumpRatio {
					isOutlier = true
				}
			}
		}

		row[series.OutlierKey] = isOutlier
		if isOutlier {
			// Discard the print for fill/age bookkeeping; the flag
			// preserves that something was observed here.
			observed = nil
		}

		if observed != nil {
			state.lastPrice = *observed
			state.lastMinute = minute
			state.accepted = true
			row[series.PriceKey] = *observed
			row[series.AgeKey] = 0
			continue
		}

		if state.accepted {
			age := int(minute.Sub(state.lastMinute) / time.Minute)
			if age < 0 {
				age = 0
			}
			row[series.PriceKey] = state.lastPrice
			row[series.AgeKey] = age
		} else {
			row[series.AgeKey] = nil
		}
	}

	return nil
}

func ageIsZero(value any) bool {
	switch v := value.(type) {
	case int:
		return v == 0
	case int64:
		return v == 0
	case float64:
		return v == 0
	default:
		return false
	}
}

// PatchSpikes runs the second, non-causal pass for one series: an
// interior minute with a real observation (age 0) whose price jumps at
// least SpikeJumpThreshold away from both neighbors while the
// neighbors agree within NeighborStabilityThreshold is replaced by the
// neighbor mean, with both the outlier and spike-patch flags set.
// Endpoints are never patched. Mutates rows in place.
func PatchSpikes(records []domain.Record, series Series, cfg Config) {
	for _, row := range records {
		if _, ok := row[series.SpikePatchKey]; !ok {
			row[series.SpikePatchKey] = false
		}
	}

	for idx := 1; idx < len(records)-1; idx++ {
		row := records[idx]
		if !ageIsZero(row[series.AgeKey]) {
			continue
		}

		prevPrice := domain.AsPositiveFloat(records[idx-1][series.PriceKey])
		currPrice := domain.AsPositiveFloat(row[series.PriceKey])
		nextPrice := domain.AsPositiveFloat(records[idx+1][series.PriceKey])
		if prevPrice == nil || currPrice == nil || nextPrice == nil {
			continue
		}

		if symmetricRatio(*prevPrice, *nextPrice) > cfg.NeighborStabilityThreshold {
			continue
		}
		if symmetricRatio(*currPrice, *prevPrice) < cfg.SpikeJumpThreshold ||
			symmetricRatio(*currPrice, *nextPrice) < cfg.SpikeJumpThreshold {
			continue
		}

		row[series.PriceKey] = (*prevPrice + *nextPrice) / 2.0
		row[series.OutlierKey] = true
		row[series.SpikePatchKey] = true
	}
}

// symmetricRatio returns max(a,b)/min(a,b) for positive a, b.
func symmetricRatio(a, b float64) float64 {
	if a > b {
		return a / b
	}
	return b / a
}

// Clean runs both passes over every series in order, then attaches
// the fee-tier constants and staleness aliases for all rows regardless
// of whether any observation existed. Each series is processed
// independently; one series' fills are never visible to another's
// screening because series touch disjoint keys.
func Clean(records []domain.Record, seriesList []Series, cfg Config) error {
	for _, series := range seriesList {
		if err := ForwardFill(records, series, cfg); err != nil {
			return err
		}
		PatchSpikes(records, series, cfg)
	}

	for _, row := range records {
		for _, series := range seriesList {
			if _, ok := row[series.FeeTierKey]; !ok {
				row[series.FeeTierKey] = series.FeeTierBps
			}
			if _, ok := row[series.StalenessKey]; !ok {
				row[series.StalenessKey] = row[series.AgeKey]
			}
		}
	}

	return nil
}
