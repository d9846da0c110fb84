// Package jobs provides metrics for governance job executions.
package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricGovernanceJobsTotal    = "governance_jobs_total"
	MetricGovernanceJobsDuration = "governance_jobs_duration_seconds"
	MetricGovernanceRowsDeleted  = "governance_rows_deleted_total"
	MetricGovernanceExportBytes  = "governance_export_bytes"
)

// Job type constants for labeling.
const (
	JobTypeExportGeneration = "export_generation"
	JobTypeRetentionSweep   = "retention_sweep"
	JobTypeAccountErasure   = "account_erasure"
)

// Status constants for job completion.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains Prometheus metrics for governance job executions.
// All operations are thread-safe.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsDuration *prometheus.HistogramVec
	rowsDeleted  *prometheus.CounterVec
	exportBytes  prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricGovernanceJobsTotal,
				Help: "Total number of governance job executions by type and status",
			},
			[]string{"job_type", "status"},
		),
		jobsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricGovernanceJobsDuration,
				Help:    "Histogram of governance job duration in seconds by job type",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
			},
			[]string{"job_type"},
		),
		rowsDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricGovernanceRowsDeleted,
				Help: "Total number of rows deleted by governance jobs, by job type and table",
			},
			[]string{"job_type", "table"},
		),
		exportBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricGovernanceExportBytes,
				Help:    "Histogram of serialized export artifact sizes in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncJobsTotal increments the jobs total counter. Safe on a nil receiver so
// services can run without metrics wired.
func (m *Metrics) IncJobsTotal(jobType, status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
}

// ObserveJobDuration records a job duration sample.
func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	if m == nil {
		return
	}
	m.jobsDuration.WithLabelValues(jobType).Observe(seconds)
}

// AddRowsDeleted adds to the deleted-rows counter for a table.
func (m *Metrics) AddRowsDeleted(jobType, table string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsDeleted.WithLabelValues(jobType, table).Add(float64(n))
}

// ObserveExportBytes records the size of one serialized export artifact.
func (m *Metrics) ObserveExportBytes(n int) {
	if m == nil {
		return
	}
	m.exportBytes.Observe(float64(n))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.jobsTotal,
		m.jobsDuration,
		m.rowsDeleted,
		m.exportBytes,
	}
}
