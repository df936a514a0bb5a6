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

func TestEngineMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	m.ObserveIntent("cancel", "fallback")
	m.ObserveIntent("cancel", "fallback")
	m.ObserveAction("scheduling", "ok")
	m.ObserveReminder("day_before", "sent")
	m.ObserveInbound("accepted")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.intentsTotal.WithLabelValues("cancel", "fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionsTotal.WithLabelValues("scheduling", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remindersTotal.WithLabelValues("day_before", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inboundTotal.WithLabelValues("accepted")))
}

func TestEngineMetricsHistograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	m.ObserveTurn(1200*time.Millisecond, nil)
	m.ObserveTurn(time.Second, errors.New("boom"))
	m.ObserveWebhookLatency(20 * time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(m.turnDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.webhookLatency))
}

func TestEngineMetricsTurnSamplesByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	m.ObserveTurn(500*time.Millisecond, nil)
	m.ObserveTurn(3*time.Second, nil)
	m.ObserveTurn(time.Second, errors.New("calendar down"))

	families, err := reg.Gather()
	require.NoError(t, err)

	var turn *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "clinic_engine_turn_duration_seconds" {
			turn = f
		}
	}
	require.NotNil(t, turn)
	assert.Equal(t, dto.MetricType_HISTOGRAM, turn.GetType())

	counts := map[string]uint64{}
	for _, metric := range turn.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "result" {
				counts[label.GetValue()] = metric.GetHistogram().GetSampleCount()
			}
		}
	}
	assert.Equal(t, map[string]uint64{"ok": 2, "error": 1}, counts)
}

func TestEngineMetricsNilSafe(t *testing.T) {
	var m *EngineMetrics
	assert.NotPanics(t, func() {
		m.ObserveIntent("schedule", "nlp")
		m.ObserveAction("cancelling", "failed")
		m.ObserveReminder("same_day", "failed")
		m.ObserveInbound("rejected")
		m.ObserveTurn(time.Second, nil)
		m.ObserveWebhookLatency(time.Millisecond)
	})
}

func TestEngineMetricsDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewEngineMetrics(reg)
	assert.Panics(t, func() { NewEngineMetrics(reg) })
}
