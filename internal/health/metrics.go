package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for volley. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ExchangesTotal   *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec
	InFlight         prometheus.Gauge
	ActiveWorkers    prometheus.Gauge
	PoolWorkers      prometheus.Gauge
	QueuedTasks      prometheus.Gauge
	Rejections       *prometheus.CounterVec
	TargetRate       prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer to expose them through promhttp.Handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ExchangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "volley",
				Name:      "exchanges_total",
				Help:      "Total number of exchanges by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		ExchangeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "volley",
				Name:      "exchange_duration_seconds",
				Help:      "Transfer latency histogram",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
			[]string{"method"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "volley",
				Name:      "exchanges_in_flight",
				Help:      "Exchanges submitted and not yet delivered",
			},
		),
		ActiveWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "volley",
				Name:      "active_workers",
				Help:      "Workers currently running a task",
			},
		),
		PoolWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "volley",
				Name:      "pool_workers",
				Help:      "Live worker goroutines, idle or busy",
			},
		),
		QueuedTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "volley",
				Name:      "queued_tasks",
				Help:      "Tasks waiting in the pool queue",
			},
		),
		Rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "volley",
				Name:      "pool_rejections_total",
				Help:      "Submissions rejected by the pool",
			},
			[]string{"reason"},
		),
		TargetRate: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "volley",
				Name:      "target_rate",
				Help:      "Configured transfer rate limit (0 = unlimited)",
			},
		),
	}
}

// RecordExchange records a delivered exchange outcome.
func (m *Metrics) RecordExchange(method, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ExchangesTotal.WithLabelValues(method, outcome).Inc()
	if durationSeconds > 0 {
		m.ExchangeDuration.WithLabelValues(method).Observe(durationSeconds)
	}
}

// IncInFlight increments the in-flight exchanges gauge.
func (m *Metrics) IncInFlight() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// DecInFlight decrements the in-flight exchanges gauge.
func (m *Metrics) DecInFlight() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

// SetActiveWorkers updates the active workers metric.
func (m *Metrics) SetActiveWorkers(count int) {
	if m == nil {
		return
	}
	m.ActiveWorkers.Set(float64(count))
}

// SetPoolWorkers updates the live worker count.
func (m *Metrics) SetPoolWorkers(count int) {
	if m == nil {
		return
	}
	m.PoolWorkers.Set(float64(count))
}

// SetQueuedTasks updates the queued tasks metric.
func (m *Metrics) SetQueuedTasks(count int) {
	if m == nil {
		return
	}
	m.QueuedTasks.Set(float64(count))
}

// IncRejected counts a rejected submission.
func (m *Metrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

// SetTargetRate updates the rate limit metric.
func (m *Metrics) SetTargetRate(tps float64) {
	if m == nil {
		return
	}
	m.TargetRate.Set(tps)
}
