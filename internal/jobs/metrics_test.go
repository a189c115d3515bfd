package jobmetrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.NoError(t, m.Track("catalog:import").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("catalog:import").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("catalog:import", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("catalog:import", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("catalog:import")))
}

func TestTrackerCountsSkipRetryAsRejected(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	tracker := m.Track("catalog:import")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inflight.WithLabelValues("catalog:import")))

	rejected := fmt.Errorf("CSV is empty or invalid: %w", asynq.SkipRetry)
	assert.ErrorIs(t, tracker.End(rejected), asynq.SkipRetry)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight.WithLabelValues("catalog:import")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("catalog:import", StatusRejected)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.failures.WithLabelValues("catalog:import")))
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("x").End(boom), boom)
}
