package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the dispatcher's Prometheus collectors.
type Metrics struct {
	Deliveries   *prometheus.CounterVec
	Attempts     *prometheus.CounterVec
	QueueDepth   prometheus.Gauge
	Dropped      prometheus.Counter
	BreakerState *prometheus.GaugeVec
	Duration     prometheus.Histogram
}

// NewMetrics creates collectors registered with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "leadflow",
				Subsystem: "notify",
				Name:      "deliveries_total",
				Help:      "Notifications by final outcome",
			},
			[]string{"sink", "outcome"},
		),
		Attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "leadflow",
				Subsystem: "notify",
				Name:      "attempts_total",
				Help:      "Delivery attempts by result",
			},
			[]string{"sink", "result"},
		),
		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "leadflow",
				Subsystem: "notify",
				Name:      "queue_depth",
				Help:      "Notifications waiting for a worker",
			},
		),
		Dropped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "leadflow",
				Subsystem: "notify",
				Name:      "dropped_total",
				Help:      "Notifications rejected because the queue was full",
			},
		),
		BreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "leadflow",
				Subsystem: "notify",
				Name:      "breaker_state",
				Help:      "Circuit breaker state (1 for the current state)",
			},
			[]string{"state"},
		),
		Duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "leadflow",
				Subsystem: "notify",
				Name:      "delivery_duration_seconds",
				Help:      "Time from enqueue to final outcome",
				Buckets:   []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120},
			},
		),
	}
}

func (m *Metrics) setBreaker(state BreakerState) {
	for _, s := range []BreakerState{BreakerClosed, BreakerOpen, BreakerHalfOpen} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.BreakerState.WithLabelValues(string(s)).Set(v)
	}
}
