package curation

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricReviewsTotal  = "curation_reviews_total"
	MetricFeedbackTotal = "curation_feedback_total"
)

// Metrics counts curation activity.
type Metrics struct {
	reviews  *prometheus.CounterVec
	feedback *prometheus.CounterVec
}

// NewMetrics creates unregistered curation metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricReviewsTotal,
			Help: "Total number of operator reviews by verdict",
		}, []string{"verdict"}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricFeedbackTotal,
			Help: "Total number of feedback submissions by correctness",
		}, []string{"correct"}),
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

// IncReviews counts one verdict.
func (m *Metrics) IncReviews(v Verdict) {
	m.reviews.WithLabelValues(string(v)).Inc()
}

// IncFeedback counts one feedback submission.
func (m *Metrics) IncFeedback(correct bool) {
	m.feedback.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.reviews, m.feedback}
}
