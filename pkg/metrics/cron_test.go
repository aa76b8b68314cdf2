package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	job := "dispatch-retry"
	finished := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	m.ObserveRun(job, 250*time.Millisecond, nil, finished)
	m.ObserveRun(job, 100*time.Millisecond, errors.New("storage down"), finished.Add(time.Minute))
	m.IncLockSkipped()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues(job, CronSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues(job, CronFailure)))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(m.lastSuccess.WithLabelValues(job)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.lockSkipped))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	hist := histogramFor(mfs, "cron_job_duration_seconds", job)
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 0.35, hist.GetSampleSum(), 1e-9)
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveRun("job", time.Second, nil, time.Now())
	m.IncLockSkipped()
	NewCronJobMetrics(nil).ObserveRun("", time.Second, errors.New("x"), time.Now())
}

func histogramFor(mfs []*dto.MetricFamily, name, job string) *dto.Histogram {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					return metric.GetHistogram()
				}
			}
		}
	}
	return nil
}
