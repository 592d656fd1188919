package heatmap

import "github.com/prometheus/client_golang/prometheus"

// Metric names.
const (
	MetricRendersTotal       = "heatmap_renders_total"
	MetricPointsTotal        = "heatmap_points_total"
	MetricPointsDroppedTotal = "heatmap_points_dropped_total"
)

// Metrics counts heatmap renders and the points they produce.
type Metrics struct {
	renders *prometheus.CounterVec
	points  prometheus.Counter
	dropped prometheus.Counter
}

// NewMetrics creates unregistered heatmap metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRendersTotal,
			Help: "Total number of heatmap renders by format",
		}, []string{"format"}),
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPointsTotal,
			Help: "Total number of aggregated heatmap points",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPointsDroppedTotal,
			Help: "Total number of features dropped during aggregation",
		}),
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

// IncRenders counts one render of format.
func (m *Metrics) IncRenders(format Format) {
	m.renders.WithLabelValues(string(format)).Inc()
}

// AddPoints adds n aggregated points.
func (m *Metrics) AddPoints(n int) {
	m.points.Add(float64(n))
}

// AddDropped adds n dropped features.
func (m *Metrics) AddDropped(n int) {
	m.dropped.Add(float64(n))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.renders, m.points, m.dropped}
}
