package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestPaymentMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPaymentMetrics(reg)

	m.IncDispatch("PAY", DispatchPublished)
	m.IncDispatch("PAY", DispatchPublished)
	m.IncDispatch("CANCEL", DispatchFailed)
	m.IncIntake(IntakeNew)
	m.IncIntake(IntakeReplay)
	m.IncTransition("APPROVED", "applied")
	m.IncOutcome("acked")
	m.ObservePublish("PAY", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.dispatch.WithLabelValues("PAY", DispatchPublished)); got != 2 {
		t.Fatalf("expected 2 published PAY dispatches, got %f", got)
	}
	if got := testutil.ToFloat64(m.dispatch.WithLabelValues("CANCEL", DispatchFailed)); got != 1 {
		t.Fatalf("expected 1 failed CANCEL dispatch, got %f", got)
	}
	if got := testutil.ToFloat64(m.intake.WithLabelValues(IntakeReplay)); got != 1 {
		t.Fatalf("expected 1 replay, got %f", got)
	}
	if got := testutil.CollectAndCount(m.publishLatency); got != 1 {
		t.Fatalf("expected one latency series, got %d", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "payment_transitions_total", "to", "APPROVED"); err != nil || got != 1 {
		t.Fatalf("expected one APPROVED transition, got %f err=%v", got, err)
	}
}

func TestPaymentMetricsNilSafe(t *testing.T) {
	var m *PaymentMetrics
	m.IncDispatch("PAY", DispatchSkipped)
	m.IncIntake(IntakeNew)
	m.ObservePublish("PAY", time.Second)
	m.IncTransition("APPROVED", "applied")
	m.IncOutcome("acked")

	unregistered := NewPaymentMetrics(nil)
	unregistered.IncDispatch("PAY", DispatchPublished)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == label && l.GetValue() == value {
					return metric.GetCounter().GetValue(), nil
				}
			}
		}
		return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
	}
	return 0, fmt.Errorf("metric %q not found", name)
}
