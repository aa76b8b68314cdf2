package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch outcomes.
const (
	DispatchPublished = "published"
	DispatchFailed    = "failed"
	DispatchSkipped   = "skipped"
)

// Intake results.
const (
	IntakeNew    = "new"
	IntakeReplay = "replay"
)

// PaymentMetrics records intake, dispatch and lifecycle activity.
type PaymentMetrics struct {
	dispatch       *prometheus.CounterVec
	publishLatency *prometheus.HistogramVec
	intake         *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	dispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_dispatch_total",
		Help: "Command dispatch attempts by operation and outcome.",
	}, []string{"operation", "outcome"})
	publishLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_publish_duration_seconds",
		Help:    "Time spent waiting for the broker to acknowledge a command.",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"operation"})
	intake := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intake_total",
		Help: "Pay requests by result.",
	}, []string{"result"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Status transitions applied or rejected.",
	}, []string{"to", "result"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_outcome_messages_total",
		Help: "Processor outcome messages by handling result.",
	}, []string{"result"})
	reg.MustRegister(dispatch, publishLatency, intake, transitions, outcomes)
	return &PaymentMetrics{
		dispatch:       dispatch,
		publishLatency: publishLatency,
		intake:         intake,
		transitions:    transitions,
		outcomes:       outcomes,
	}
}

func (m *PaymentMetrics) IncDispatch(operation, outcome string) {
	if m == nil || m.dispatch == nil {
		return
	}
	m.dispatch.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (m *PaymentMetrics) ObservePublish(operation string, d time.Duration) {
	if m == nil || m.publishLatency == nil {
		return
	}
	m.publishLatency.WithLabelValues(normalizeLabel(operation)).Observe(d.Seconds())
}

func (m *PaymentMetrics) IncIntake(result string) {
	if m == nil || m.intake == nil {
		return
	}
	m.intake.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncTransition counts an ApplyEvent result ("applied" or "rejected").
func (m *PaymentMetrics) IncTransition(to, result string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(to), normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) IncOutcome(result string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(result)).Inc()
}
