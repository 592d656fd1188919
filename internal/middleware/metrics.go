package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names exported by the middleware chain.
const (
	MetricRateLimitRequests     = "rate_limit_requests_total"
	MetricRateLimitBlocked      = "rate_limit_blocked_total"
	MetricRateLimitRedisErrors  = "rate_limit_redis_errors_total"
	MetricCORSRejected          = "cors_rejected_total"
	MetricHTTPRequestDuration   = "http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestSizeBytes  = "http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "http_response_size_bytes"
)

// sizeBuckets span 100 B to ~1 GB, wide enough for image bodies that reach
// the API by mistake instead of going to storage.
var sizeBuckets = prometheus.ExponentialBuckets(100, 10, 8)

// httpLabels are shared by the per-request collectors. path is always a
// normalized route pattern.
var httpLabels = []string{"method", "path", "status"}

// Metrics holds the collectors of the middleware chain. Safe for concurrent use.
type Metrics struct {
	rateLimitRequests    *prometheus.CounterVec
	rateLimitBlocked     *prometheus.CounterVec
	rateLimitRedisErrors prometheus.Counter
	corsRejected         *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestSize      *prometheus.HistogramVec
	httpResponseSize     *prometheus.HistogramVec
}

// NewMetrics creates unregistered middleware collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		rateLimitRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimitRequests,
			Help: "Rate limit checks by endpoint and key type",
		}, []string{"endpoint", "key_type"}),
		rateLimitBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimitBlocked,
			Help: "Requests rejected with 429 by endpoint and key type",
		}, []string{"endpoint", "key_type"}),
		rateLimitRedisErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRateLimitRedisErrors,
			Help: "Redis errors during rate limiting; each one let a request through",
		}),
		corsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCORSRejected,
			Help: "Cross-origin requests rejected for an unknown origin, by route",
		}, []string{"path"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: MetricHTTPRequestDuration,
			Help: "HTTP request duration in seconds",
			// identify waits on the classifier, so the tail reaches past 2s.
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, httpLabels),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequestsTotal,
			Help: "Total number of HTTP requests",
		}, httpLabels),
		httpRequestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestSizeBytes,
			Help:    "HTTP request size in bytes",
			Buckets: sizeBuckets,
		}, httpLabels),
		httpResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPResponseSizeBytes,
			Help:    "HTTP response size in bytes",
			Buckets: sizeBuckets,
		}, httpLabels),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRateLimitRequests counts one rate limit check.
func (m *Metrics) IncRateLimitRequests(endpoint, keyType string) {
	m.rateLimitRequests.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitBlocked counts one request rejected with 429.
func (m *Metrics) IncRateLimitBlocked(endpoint, keyType string) {
	m.rateLimitBlocked.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitRedisErrors counts one fail-open event.
func (m *Metrics) IncRateLimitRedisErrors() {
	m.rateLimitRedisErrors.Inc()
}

// IncCORSRejected counts one request from an origin outside the allowlist.
func (m *Metrics) IncCORSRejected(path string) {
	m.corsRejected.WithLabelValues(path).Inc()
}

// ObserveHTTPRequest records one completed request. path must already be
// normalized; duration is in seconds and sizes in bytes.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration float64, requestSize, responseSize int64) {
	labels := prometheus.Labels{"method": method, "path": path, "status": status}
	m.httpRequestDuration.With(labels).Observe(duration)
	m.httpRequestsTotal.With(labels).Inc()
	m.httpRequestSize.With(labels).Observe(float64(requestSize))
	m.httpResponseSize.With(labels).Observe(float64(responseSize))
}

// Collectors returns every collector.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rateLimitRequests,
		m.rateLimitBlocked,
		m.rateLimitRedisErrors,
		m.corsRejected,
		m.httpRequestDuration,
		m.httpRequestsTotal,
		m.httpRequestSize,
		m.httpResponseSize,
	}
}
