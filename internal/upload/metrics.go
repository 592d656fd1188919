package upload

import "github.com/prometheus/client_golang/prometheus"

// Metric names.
const (
	MetricTicketsTotal        = "upload_tickets_total"
	MetricTransfersTotal      = "upload_transfers_total"
	MetricSubmissionStates    = "upload_submission_transitions_total"
	MetricOrphansDeletedTotal = "upload_orphans_deleted_total"
)

// Metrics tracks the upload pipeline.
type Metrics struct {
	tickets        *prometheus.CounterVec
	transfers      *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	orphansDeleted prometheus.Counter
}

// NewMetrics creates unregistered upload metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		tickets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTicketsTotal,
			Help: "Total number of upload tickets requested by outcome",
		}, []string{"outcome"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTransfersTotal,
			Help: "Total number of direct uploads by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSubmissionStates,
			Help: "Total number of submission state transitions by target state",
		}, []string{"state"}),
		orphansDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricOrphansDeletedTotal,
			Help: "Total number of orphaned uploads removed by the sweeper",
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

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// IncTickets counts a ticket request.
func (m *Metrics) IncTickets(ok bool) {
	m.tickets.WithLabelValues(outcome(ok)).Inc()
}

// IncTransfers counts a direct upload.
func (m *Metrics) IncTransfers(ok bool) {
	m.transfers.WithLabelValues(outcome(ok)).Inc()
}

// IncTransition counts a move into state.
func (m *Metrics) IncTransition(state State) {
	m.transitions.WithLabelValues(string(state)).Inc()
}

// AddOrphansDeleted adds n deleted orphans.
func (m *Metrics) AddOrphansDeleted(n int) {
	m.orphansDeleted.Add(float64(n))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.tickets, m.transfers, m.transitions, m.orphansDeleted}
}
