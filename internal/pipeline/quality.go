package pipeline

import (
	"fmt"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/validation"
)

// QualityThresholds bounds the coverage and staleness of the aligned
// DEX series before feature derivation is worth running.
type QualityThresholds struct {
	MinUniswap5Coverage       float64
	MinUniswap30Coverage      float64
	StalenessThresholdMinutes float64
	MaxUniswap5StaleShare     float64
	MaxUniswap30StaleShare    float64
}

// DefaultQualityThresholds reflects how the two pools trade: the 5 bps
// pool is liquid enough to demand dense coverage, the 30 bps pool is
// tracked on a best-effort basis.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		MinUniswap5Coverage:       0.9,
		MinUniswap30Coverage:      0.05,
		StalenessThresholdMinutes: 60,
		MaxUniswap5StaleShare:     0.5,
		MaxUniswap30StaleShare:    0.95,
	}
}

// CoverageMetrics reports the observed non-null share per pool next to
// the configured minimums.
type CoverageMetrics struct {
	Uniswap5  float64            `json:"uniswap5"`
	Uniswap30 float64            `json:"uniswap30"`
	Minimums  map[string]float64 `json:"minimums,omitempty"`
}

// StalenessMetrics reports the share of minutes whose last trade is
// older than the threshold.
type StalenessMetrics struct {
	ThresholdMinutes   float64            `json:"threshold_minutes"`
	ShareOverThreshold map[string]float64 `json:"share_over_threshold,omitempty"`
	Maximums           map[string]float64 `json:"maximums,omitempty"`
}

// QualityMetrics is the full quality snapshot written into run
// summaries.
type QualityMetrics struct {
	TotalMinutes int              `json:"total_minutes"`
	Coverage     CoverageMetrics  `json:"coverage"`
	Staleness    StalenessMetrics `json:"staleness"`
}

// staleAge treats missing and zero ages as fresh; only a real positive
// age can exceed the threshold.
func staleAge(value any) float64 {
	f := domain.AsFloat(value)
	if f == nil || *f == 0 {
		return -1
	}
	return *f
}

// EvaluateAlignmentQuality computes coverage and staleness metrics for
// the aligned records and reports every threshold breach as a warning
// issue. It never returns an error itself; the caller decides whether
// issues are fatal.
func EvaluateAlignmentQuality(records []domain.Record, thresholds QualityThresholds) (QualityMetrics, []validation.Issue) {
	total := len(records)
	if total == 0 {
		metrics := QualityMetrics{
			Coverage: CoverageMetrics{},
			Staleness: StalenessMetrics{
				ThresholdMinutes: thresholds.StalenessThresholdMinutes,
			},
		}
		issues := []validation.Issue{{
			Severity: "warning",
			Code:     "empty_aligned_records",
			Message:  "no rows",
		}}
		return metrics, issues
	}

	var uni5Present, uni30Present, uni5Stale, uni30Stale int
	for _, row := range records {
		if domain.AsFloat(row[domain.KeyUniswap5Price]) != nil {
			uni5Present++
		}
		if domain.AsFloat(row[domain.KeyUniswap30Price]) != nil {
			uni30Present++
		}
		if staleAge(row[domain.KeyUniswap5Age]) > thresholds.StalenessThresholdMinutes {
			uni5Stale++
		}
		if staleAge(row[domain.KeyUniswap30Age]) > thresholds.StalenessThresholdMinutes {
			uni30Stale++
		}
	}

	uni5Cov := float64(uni5Present) / float64(total)
	uni30Cov := float64(uni30Present) / float64(total)
	uni5StaleShare := float64(uni5Stale) / float64(total)
	uni30StaleShare := float64(uni30Stale) / float64(total)

	metrics := QualityMetrics{
		TotalMinutes: total,
		Coverage: CoverageMetrics{
			Uniswap5:  uni5Cov,
			Uniswap30: uni30Cov,
			Minimums: map[string]float64{
				"uniswap5":  thresholds.MinUniswap5Coverage,
				"uniswap30": thresholds.MinUniswap30Coverage,
			},
		},
		Staleness: StalenessMetrics{
			ThresholdMinutes: thresholds.StalenessThresholdMinutes,
			ShareOverThreshold: map[string]float64{
				"uniswap5":  uni5StaleShare,
				"uniswap30": uni30StaleShare,
			},
			Maximums: map[string]float64{
				"uniswap5":  thresholds.MaxUniswap5StaleShare,
				"uniswap30": thresholds.MaxUniswap30StaleShare,
			},
		},
	}

	var issues []validation.Issue
	if uni5Cov < thresholds.MinUniswap5Coverage {
		issues = append(issues, validation.Issue{
			Severity: "warning",
			Code:     "low_uniswap5_coverage",
			Message: fmt.Sprintf("uniswap5 coverage %.3f below minimum %.3f",
				uni5Cov, thresholds.MinUniswap5Coverage),
		})
	}
	if uni30Cov < thresholds.MinUniswap30Coverage {
		issues = append(issues, validation.Issue{
			Severity: "warning",
			Code:     "low_uniswap30_coverage",
			Message: fmt.Sprintf("uniswap30 coverage %.3f below minimum %.3f",
				uni30Cov, thresholds.MinUniswap30Coverage),
		})
	}
	if uni5StaleShare > thresholds.MaxUniswap5StaleShare {
		issues = append(issues, validation.Issue{
			Severity: "warning",
			Code:     "high_uniswap5_staleness",
			Message: fmt.Sprintf("uniswap5 stale share %.3f above max %.3f",
				uni5StaleShare, thresholds.MaxUniswap5StaleShare),
		})
	}
	if uni30StaleShare > thresholds.MaxUniswap30StaleShare {
		issues = append(issues, validation.Issue{
			Severity: "warning",
			Code:     "high_uniswap30_staleness",
			Message: fmt.Sprintf("uniswap30 stale share %.3f above max %.3f",
				uni30StaleShare, thresholds.MaxUniswap30StaleShare),
		})
	}

	return metrics, issues
}
