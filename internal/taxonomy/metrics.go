package taxonomy

import "github.com/prometheus/client_golang/prometheus"

// Metric names.
const (
	MetricResolutionsTotal = "taxonomy_resolutions_total"
	MetricCacheLookups     = "taxonomy_cache_lookups_total"
)

// Metrics counts taxonomy resolution outcomes.
type Metrics struct {
	resolutions  *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

// NewMetrics creates unregistered taxonomy metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricResolutionsTotal,
			Help: "Total number of label resolutions by winning strategy",
		}, []string{"strategy"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCacheLookups,
			Help: "Total number of resolution cache lookups by result",
		}, []string{"result"}),
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

// IncResolutions counts a resolution won by strategy (or StrategyNone).
func (m *Metrics) IncResolutions(strategy string) {
	m.resolutions.WithLabelValues(strategy).Inc()
}

// IncCache counts a cache lookup.
func (m *Metrics) IncCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.resolutions, m.cacheLookups}
}
