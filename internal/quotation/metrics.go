package quotation

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts quotation workflow outcomes.
type Metrics struct {
	transitions    *prometheus.CounterVec
	conflicts      prometheus.Counter
	notifyFailures prometheus.Counter
}

// NewMetrics registers the quotation collectors. A nil registerer yields unregistered
// collectors, which keeps tests isolated.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_rfq_quotation_transitions_total",
			Help: "Quotation status and thread transitions by target.",
		}, []string{"kind", "to"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_rfq_quotation_conflicts_total",
			Help: "Writes rejected because the quotation changed concurrently.",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_rfq_notification_failures_total",
			Help: "Notifications that could not be handed to the sink.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.transitions, m.conflicts, m.notifyFailures)
	}
	return m
}

func (m *Metrics) status(to Status) {
	if m != nil {
		m.transitions.WithLabelValues("status", string(to)).Inc()
	}
}

func (m *Metrics) thread(to ThreadStatus) {
	if m != nil {
		m.transitions.WithLabelValues("thread", string(to)).Inc()
	}
}

func (m *Metrics) conflict() {
	if m != nil {
		m.conflicts.Inc()
	}
}

func (m *Metrics) notifyFailed() {
	if m != nil {
		m.notifyFailures.Inc()
	}
}
