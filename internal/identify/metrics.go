package identify

import "github.com/prometheus/client_golang/prometheus"

// Metric names.
const (
	MetricIdentifyRequests = "identify_requests_total"
	MetricIdentifyDuration = "identify_duration_seconds"
	MetricSubmissions      = "identify_submissions_total"
)

// Metrics tracks classifier calls and submission outcomes.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    prometheus.Histogram
	submissions *prometheus.CounterVec
}

// NewMetrics creates unregistered identification metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricIdentifyRequests,
			Help: "Total number of classifier requests by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricIdentifyDuration,
			Help:    "Classifier request latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSubmissions,
			Help: "Total number of identify-and-create submissions by result",
		}, []string{"result", "resolved"}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveIdentify records one classifier call.
func (m *Metrics) ObserveIdentify(ok bool, seconds float64) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.duration.Observe(seconds)
}

// IncSubmission records a Submit outcome. result is "created", "failed",
// "duplicate" or "rejected"; resolved reports whether taxonomy matched.
func (m *Metrics) IncSubmission(result string, resolved bool) {
	r := "false"
	if resolved {
		r = "true"
	}
	m.submissions.WithLabelValues(result, r).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.duration, m.submissions}
}
