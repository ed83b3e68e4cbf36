// Package validation runs schema, monotonicity, and value-range checks
// over processed minute records. Validate only reports; Enforce decides
// whether reported issues are fatal.
package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/timeindex"
)

// Severity levels for validation issues.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ErrValidationFailed is returned by Enforce when a batch is rejected.
var ErrValidationFailed = errors.New("validation failed")

// Issue is one validation finding.
type Issue struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// Range bounds a numeric column. Nil bounds are unchecked.
type Range struct {
	Min *float64
	Max *float64
}

// Checks declares what Validate examines.
type Checks struct {
	TimestampKey string
	// RequiredColumns must be present (possibly null) in every row.
	RequiredColumns []string
	// NumericRanges are hard bounds; violations are errors.
	NumericRanges map[string]Range
	// WarningNumericRanges are soft bounds; violations are warnings.
	WarningNumericRanges map[string]Range
	// WarningMissingThresholds flag columns whose missing rate exceeds
	// the given fraction.
	WarningMissingThresholds map[string]float64
}

// Validate runs all declared checks and returns the issues found. It
// never fails: structural problems become error-severity issues and
// malformed values are reported, not raised.
func Validate(records []domain.Record, checks Checks) []Issue {
	var issues []Issue

	timestampKey := checks.TimestampKey
	if timestampKey == "" {
		timestampKey = domain.KeyMinuteUTC
	}

	required := append([]string(nil), checks.RequiredColumns...)
	sort.Strings(required)

	var previousTS *time.Time
	for index, row := range records {
		var missingRequired []string
		for _, column := range required {
			if _, ok := row[column]; !ok {
				missingRequired = append(missingRequired, column)
			}
		}
		if len(missingRequired) > 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Code:     "missing_required_columns",
				Message: fmt.Sprintf("row %d missing required columns: %s",
					index, strings.Join(missingRequired, ", ")),
			})
		}

		if raw, ok := row[timestampKey]; ok {
			ts, err := timeindex.ParseUTC(raw)
			if err != nil {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Code:     "invalid_timestamp",
					Message:  fmt.Sprintf("row %d has invalid timestamp: %v", index, err),
				})
			} else {
				if previousTS != nil && !ts.After(*previousTS) {
					issues = append(issues, Issue{
						Severity: SeverityError,
						Code:     "non_monotonic_timestamp",
						Message: fmt.Sprintf("row %d timestamp %s is not strictly later than previous row",
							index, domain.FormatUTC(ts)),
					})
				}
				previousTS = &ts
			}
		}

		issues = append(issues, rangeIssues(row, index, checks.NumericRanges, SeverityError)...)
		issues = append(issues, rangeIssues(row, index, checks.WarningNumericRanges, SeverityWarning)...)
	}

	if len(records) > 0 {
		columns := make([]string, 0, len(checks.WarningMissingThresholds))
		for column := range checks.WarningMissingThresholds {
			columns = append(columns, column)
		}
		sort.Strings(columns)

		for _, column := range columns {
			threshold := checks.WarningMissingThresholds[column]
			missing := 0
			for _, row := range records {
				if value, ok := row[column]; !ok || value == nil {
					missing++
				}
			}
			missingRate := float64(missing) / float64(len(records))
			if missingRate > threshold {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Code:     "high_missingness",
					Message: fmt.Sprintf("column %s missing rate %.3f exceeds threshold %.3f",
						column, missingRate, threshold),
				})
			}
		}
	}

	return issues
}

func rangeIssues(row domain.Record, index int, ranges map[string]Range, severity string) []Issue {
	if len(ranges) == 0 {
		return nil
	}

	columns := make([]string, 0, len(ranges))
	for column := range ranges {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	var issues []Issue
	for _, column := range columns {
		bounds := ranges[column]
		raw, ok := row[column]
		if !ok || raw == nil {
			continue
		}

		value := domain.AsFloat(raw)
		if value == nil {
			code := "non_numeric_value"
			if severity == SeverityWarning {
				code = "non_numeric_warning_value"
			}
			issues = append(issues, Issue{
				Severity: severity,
				Code:     code,
				Message:  fmt.Sprintf("row %d column %s is not numeric", index, column),
			})
			continue
		}

		if bounds.Min != nil && *value < *bounds.Min {
			code, word := "value_below_min", "min"
			if severity == SeverityWarning {
				code, word = "warning_value_below_min", "warning min"
			}
			issues = append(issues, Issue{
				Severity: severity,
				Code:     code,
				Message:  fmt.Sprintf("row %d column %s below %s %g", index, column, word, *bounds.Min),
			})
		}
		if bounds.Max != nil && *value > *bounds.Max {
			code, word := "value_above_max", "max"
			if severity == SeverityWarning {
				code, word = "warning_value_above_max", "warning max"
			}
			issues = append(issues, Issue{
				Severity: severity,
				Code:     code,
				Message:  fmt.Sprintf("row %d column %s above %s %g", index, column, word, *bounds.Max),
			})
		}
	}
	return issues
}

// Enforce validates and rejects the batch on any error-severity issue,
// or on warnings when failOnWarnings is set. The returned issues are
// complete either way.
func Enforce(records []domain.Record, checks Checks, failOnWarnings bool) ([]Issue, error) {
	issues := Validate(records, checks)

	hasError := false
	hasWarning := false
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityError:
			hasError = true
		case SeverityWarning:
			hasWarning = true
		}
	}

	if hasError || (failOnWarnings && hasWarning) {
		parts := make([]string, 0, len(issues))
		for _, issue := range issues {
			parts = append(parts, fmt.Sprintf("[%s:%s] %s", issue.Severity, issue.Code, issue.Message))
		}
		return issues, fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(parts, "; "))
	}

	return issues, nil
}

// FloatPtr is a convenience for declaring range bounds.
func FloatPtr(v float64) *float64 { return &v }
