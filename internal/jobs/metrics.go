package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricBackgroundJobsTotal      = "background_jobs_total"
	MetricBackgroundJobsDuration   = "background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal = "background_job_errors_total"
	MetricOrphansFound             = "background_sweep_orphans_found"
)

// Job type constants for labeling.
const (
	JobTypeOrphanSweep = "orphan_sweep"
)

// Error type labels.
const (
	ErrorTypePayload = "invalid_payload"
	ErrorTypeSweep   = "sweep_error"
)

// Status constants for job completion.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains Prometheus metrics for background job operations.
// All operations are thread-safe.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsDuration *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
	orphans      prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobsTotal,
				Help: "Total number of background job executions by type and status",
			},
			[]string{"job_type", "status"},
		),
		jobsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricBackgroundJobsDuration,
				Help:    "Histogram of background job duration in seconds by job type",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
			},
			[]string{"job_type"},
		),
		jobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobErrorsTotal,
				Help: "Total number of background job errors by type and error type",
			},
			[]string{"job_type", "error_type"},
		),
		orphans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricOrphansFound,
				Help: "Orphaned uploads found by the most recent sweep",
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

// IncJobsTotal increments the jobs total counter.
// jobType: The type of job (e.g., JobTypeOrphanSweep)
// status: The completion status (StatusSuccess or StatusFailure)
func (m *Metrics) IncJobsTotal(jobType, status string) {
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
}

// ObserveJobDuration records a job duration sample.
// jobType: The type of job (e.g., JobTypeOrphanSweep)
// seconds: Duration of the job in seconds
func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	m.jobsDuration.WithLabelValues(jobType).Observe(seconds)
}

// IncJobErrors increments the job errors counter.
// jobType: The type of job (e.g., JobTypeOrphanSweep)
// errorType: The type of error (e.g., "timeout", "database_error", "validation_error")
func (m *Metrics) IncJobErrors(jobType, errorType string) {
	m.jobErrors.WithLabelValues(jobType, errorType).Inc()
}

// SetOrphansFound records how many orphans the last sweep saw.
func (m *Metrics) SetOrphansFound(n int) {
	m.orphans.Set(float64(n))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.jobsTotal,
		m.jobsDuration,
		m.jobErrors,
		m.orphans,
	}
}
