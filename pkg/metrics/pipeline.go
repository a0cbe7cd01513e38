package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Relay outcomes.
const (
	RelayPublished    = "published"
	RelayFailed       = "failed"
	RelayDeadLettered = "dead_lettered"
	RelaySkipped      = "skipped"
)

// Consumer outcomes.
const (
	ConsumerProcessed = "processed"
	ConsumerDuplicate = "duplicate"
	ConsumerFailed    = "failed"
	ConsumerPoison    = "poison"
)

// PipelineMetrics covers the relay, consumer, dead-letter and reconciliation paths.
type PipelineMetrics struct {
	relay         *prometheus.CounterVec
	consumer      *prometheus.CounterVec
	handleLatency *prometheus.HistogramVec
	dlq           *prometheus.CounterVec
	removed       *prometheus.CounterVec
	breakerOpen   prometheus.Gauge
}

// NewPipelineMetrics registers the pipeline metrics on reg. A nil registerer
// yields a no-op recorder.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	m := &PipelineMetrics{
		relay: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_total",
			Help:      "Outbox rows handled by the relay, by outcome.",
		}, []string{"event_type", "outcome"}),
		consumer: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_messages_total",
			Help:      "Messages handled by the read-model consumer, by outcome.",
		}, []string{"event_type", "outcome"}),
		handleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consumer_handle_seconds",
			Help:      "Time spent dispatching one message to its handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		dlq: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dlq_reprocess_total",
			Help:      "Dead-letter reprocessing attempts, by result.",
		}, []string{"event_type", "result"}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readmodel_members_removed_total",
			Help:      "Ranking members removed by cleanup and reconciliation.",
		}, []string{"job"}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_breaker_open",
			Help:      "1 while the publish circuit breaker is open.",
		}),
	}
	reg.MustRegister(m.relay, m.consumer, m.handleLatency, m.dlq, m.removed, m.breakerOpen)
	return m
}

func (m *PipelineMetrics) RelayOutcome(eventType, outcome string) {
	if m == nil || m.relay == nil {
		return
	}
	m.relay.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

func (m *PipelineMetrics) ConsumerOutcome(eventType, outcome string) {
	if m == nil || m.consumer == nil {
		return
	}
	m.consumer.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

func (m *PipelineMetrics) ObserveHandle(eventType string, d time.Duration) {
	if m == nil || m.handleLatency == nil {
		return
	}
	m.handleLatency.WithLabelValues(normalizeLabel(eventType)).Observe(d.Seconds())
}

// DLQResult records one reprocess attempt; succeeded picks the result label.
func (m *PipelineMetrics) DLQResult(eventType string, succeeded bool) {
	if m == nil || m.dlq == nil {
		return
	}
	result := "failed"
	if succeeded {
		result = "succeeded"
	}
	m.dlq.WithLabelValues(normalizeLabel(eventType), result).Inc()
}

func (m *PipelineMetrics) MembersRemoved(job string, n int) {
	if m == nil || m.removed == nil || n <= 0 {
		return
	}
	m.removed.WithLabelValues(normalizeLabel(job)).Add(float64(n))
}

func (m *PipelineMetrics) BreakerOpen(open bool) {
	if m == nil || m.breakerOpen == nil {
		return
	}
	if open {
		m.breakerOpen.Set(1)
		return
	}
	m.breakerOpen.Set(0)
}
