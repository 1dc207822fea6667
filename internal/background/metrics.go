package background

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the worker engine. Every
// consumer treats a nil *Metrics as "metrics disabled".
type Metrics struct {
	// Delivery metrics
	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	Acquisitions     *prometheus.CounterVec

	// Queue metrics
	QueueDepth            prometheus.Gauge
	PendingTasks          prometheus.Gauge
	Republished           prometheus.Counter
	MalformedInstructions prometheus.Counter

	// Pool metrics
	ActiveWorkers prometheus.Gauge
	PollDelay     prometheus.Gauge
}

// NewMetrics creates and registers the worker engine metrics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "hookqueue"
	}

	return &Metrics{
		Deliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Total delivery attempts by outcome",
			},
			[]string{"outcome"},
		),
		DeliveryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Duration of webhook delivery attempts",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		Acquisitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acquisitions_total",
				Help:      "Task acquisition attempts by result",
			},
			[]string{"result"},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Instructions currently queued in the broker",
			},
		),
		PendingTasks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_tasks",
				Help:      "Tasks in pending status",
			},
		),
		Republished: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "republished_total",
				Help:      "Instructions republished by the due scanner",
			},
		),
		MalformedInstructions: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "malformed_instructions_total",
				Help:      "Instructions dropped because they failed to parse",
			},
		),
		ActiveWorkers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workers",
				Help:      "Performers currently executing a delivery",
			},
		),
		PollDelay: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "poll_delay_seconds",
				Help:      "Current adaptive delay of the broker poll loop",
			},
		),
	}
}

// RecordDelivery records one finished delivery attempt.
func (m *Metrics) RecordDelivery(outcome string, seconds float64) {
	m.Deliveries.WithLabelValues(outcome).Inc()
	m.DeliveryDuration.WithLabelValues(outcome).Observe(seconds)
}
