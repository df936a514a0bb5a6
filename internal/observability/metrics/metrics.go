package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics exposes counters/histograms for the conversation engine.
// Every method is safe on a nil receiver.
type EngineMetrics struct {
	intentsTotal   *prometheus.CounterVec
	actionsTotal   *prometheus.CounterVec
	remindersTotal *prometheus.CounterVec
	inboundTotal   *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	webhookLatency prometheus.Histogram
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		intentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "engine",
			Name:      "intents_total",
			Help:      "Resolved intents by type and resolution source",
		}, []string{"type", "source"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "engine",
			Name:      "actions_total",
			Help:      "Attempted calendar actions by phase and outcome",
		}, []string{"action", "outcome"}),
		remindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "deliveries_total",
			Help:      "Reminder delivery attempts by kind and resulting status",
		}, []string{"kind", "status"}),
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Inbound messaging webhooks by status",
		}, []string{"status"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "engine",
			Name:      "turn_duration_seconds",
			Help:      "Time to process one conversational turn",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"result"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound webhook acknowledgement",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.intentsTotal, m.actionsTotal, m.remindersTotal, m.inboundTotal, m.turnDuration, m.webhookLatency)
	return m
}

func (m *EngineMetrics) ObserveIntent(intentType, source string) {
	if m == nil {
		return
	}
	m.intentsTotal.WithLabelValues(intentType, source).Inc()
}

func (m *EngineMetrics) ObserveAction(action, outcome string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *EngineMetrics) ObserveReminder(kind, status string) {
	if m == nil {
		return
	}
	m.remindersTotal.WithLabelValues(kind, status).Inc()
}

func (m *EngineMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *EngineMetrics) ObserveTurn(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.turnDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *EngineMetrics) ObserveWebhookLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.webhookLatency.Observe(d.Seconds())
}
