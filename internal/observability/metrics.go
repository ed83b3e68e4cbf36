// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	RowsFetched     *prometheus.CounterVec
	IngestionErrors *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec

	// Alignment metrics
	RowsAligned        prometheus.Counter
	DuplicatesResolved *prometheus.CounterVec
	MissingMinutes     *prometheus.GaugeVec

	// Cleaning metrics
	OutliersFlagged *prometheus.CounterVec
	SpikesPatched   *prometheus.CounterVec
	ForwardFills    *prometheus.CounterVec

	// Validation metrics
	ValidationIssues *prometheus.CounterVec

	// Pipeline metrics
	PipelineRunsTotal   *prometheus.CounterVec
	PipelineDuration    *prometheus.HistogramVec
	DatasetRowsExported prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "eth_basis_lab"
	}

	return &Metrics{
		// Ingestion metrics
		RowsFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "rows_fetched_total",
			Help:      "Total number of raw rows fetched by source",
		}, []string{"source"}),
		IngestionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "errors_total",
			Help:      "Total number of ingestion errors by source",
		}, []string{"source"}),
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "request_latency_seconds",
			Help:      "Upstream request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),

		// Alignment metrics
		RowsAligned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alignment",
			Name:      "rows_aligned_total",
			Help:      "Total number of minute rows aligned to the canonical index",
		}),
		DuplicatesResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alignment",
			Name:      "duplicates_resolved_total",
			Help:      "Total number of duplicate minute collisions resolved by source",
		}, []string{"source"}),
		MissingMinutes: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alignment",
			Name:      "missing_minutes",
			Help:      "Number of index minutes without an observation by source",
		}, []string{"source"}),

		// Cleaning metrics
		OutliersFlagged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleaning",
			Name:      "outliers_flagged_total",
			Help:      "Total number of prices rejected by the outlier screen",
		}, []string{"series"}),
		SpikesPatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleaning",
			Name:      "spikes_patched_total",
			Help:      "Total number of isolated spikes patched from neighbors",
		}, []string{"series"}),
		ForwardFills: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleaning",
			Name:      "forward_fills_total",
			Help:      "Total number of minutes filled from a prior accepted price",
		}, []string{"series"}),

		// Validation metrics
		ValidationIssues: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "issues_total",
			Help:      "Total number of validation issues by severity and code",
		}, []string{"severity", "code"}),

		// Pipeline metrics
		PipelineRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by phase and status",
		}, []string{"phase", "status"}),
		PipelineDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"phase"}),
		DatasetRowsExported: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "dataset_rows_exported_total",
			Help:      "Total number of dataset rows exported",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful pipeline run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRowsFetched adds fetched row counts for a source.
func RecordRowsFetched(source string, rows int) {
	DefaultMetrics.RowsFetched.WithLabelValues(source).Add(float64(rows))
}

// RecordIngestionError increments the ingestion error counter for a source.
func RecordIngestionError(source string) {
	DefaultMetrics.IngestionErrors.WithLabelValues(source).Inc()
}

// RecordValidationIssue increments the validation issue counter.
func RecordValidationIssue(severity, code string) {
	DefaultMetrics.ValidationIssues.WithLabelValues(severity, code).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordPipelineRun records a pipeline run.
func RecordPipelineRun(phase, status string, durationSeconds float64) {
	DefaultMetrics.PipelineRunsTotal.WithLabelValues(phase, status).Inc()
	DefaultMetrics.PipelineDuration.WithLabelValues(phase).Observe(durationSeconds)
}
