package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking flows.
type BookingMetrics struct {
	outcomes             *prometheus.CounterVec
	latency              *prometheus.HistogramVec
	compensationFailures *prometheus.CounterVec
	collaboratorFailures *prometheus.CounterVec
	reconciled           *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Orchestrator operations by outcome",
		}, []string{"class", "operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telehealth",
			Subsystem: "booking",
			Name:      "operation_duration_seconds",
			Help:      "Latency of orchestrator operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"class", "operation"}),
		compensationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "booking",
			Name:      "compensation_failures_total",
			Help:      "Slot releases that failed while undoing a reservation",
		}, []string{"class"}),
		collaboratorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "booking",
			Name:      "collaborator_failures_total",
			Help:      "Calendar and notification failures downgraded to warnings",
		}, []string{"class", "collaborator"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "reconcile",
			Name:      "released_slots_total",
			Help:      "Orphaned booked slots released by the reconciliation sweep",
		}, []string{"class"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.outcomes, m.latency, m.compensationFailures, m.collaboratorFailures, m.reconciled)
	return m
}

func (m *BookingMetrics) ObserveOutcome(class, operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(class, operation, outcome).Inc()
	m.latency.WithLabelValues(class, operation).Observe(seconds)
}

func (m *BookingMetrics) CompensationFailed(class string) {
	if m == nil {
		return
	}
	m.compensationFailures.WithLabelValues(class).Inc()
}

func (m *BookingMetrics) CollaboratorFailed(class, collaborator string) {
	if m == nil {
		return
	}
	m.collaboratorFailures.WithLabelValues(class, collaborator).Inc()
}

func (m *BookingMetrics) Reconciled(class string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconciled.WithLabelValues(class).Add(float64(n))
}
