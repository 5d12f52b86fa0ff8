// Package metrics exposes node counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"epochdex/domain/matching"
)

const namespace = "epochdex"

type Metrics struct {
	reg *prometheus.Registry

	batches       prometheus.Counter
	batchDuration prometheus.Histogram
	batchFailures prometheus.Counter
	trades        prometheus.Counter
	transfers     *prometheus.CounterVec
	rejected      prometheus.Counter
	pending       prometheus.Gauge
	resting       prometheus.Gauge
	height        prometheus.Gauge
	events        *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batches_total",
			Help:      "Committed batches.",
		}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batch_duration_seconds",
			Help:      "Time from seal to commit of a batch.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		batchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batch_failures_total",
			Help:      "Batches aborted by a storage error.",
		}),
		trades: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "trades_total",
			Help:      "Trades emitted by committed batches.",
		}),
		transfers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "transfers_total",
			Help:      "Transfer intents by reason.",
		}, []string{"reason"}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rejected_orders_total",
			Help:      "Orders refunded after an arithmetic error.",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "pending_orders",
			Help:      "Orders waiting for the next batch.",
		}),
		resting: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "resting_orders",
			Help:      "Orders resting on the book.",
		}),
		height: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "height",
			Help:      "Height of the last committed batch.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox deliveries by kind and result.",
		}, []string{"kind", "result"}),
	}
}

// BatchCommitted records a committed batch.
func (m *Metrics) BatchCommitted(res *matching.Result, took time.Duration, resting int) {
	m.batches.Inc()
	m.batchDuration.Observe(took.Seconds())
	m.trades.Add(float64(len(res.Trades)))
	m.rejected.Add(float64(len(res.Rejected)))
	m.height.Set(float64(res.Height))
	m.resting.Set(float64(resting))
	m.Transfers(res.Transfers)
}

// Transfers counts transfer intents by reason.
func (m *Metrics) Transfers(ts []matching.Transfer) {
	for _, t := range ts {
		m.transfers.WithLabelValues(t.Reason.String()).Inc()
	}
}

func (m *Metrics) BatchFailed() { m.batchFailures.Inc() }
func (m *Metrics) PendingDepth(n int) { m.pending.Set(float64(n)) }
func (m *Metrics) RestingOrders(n int) { m.resting.Set(float64(n)) }
func (m *Metrics) EventPublished(k string) { m.events.WithLabelValues(k, "ok").Inc() }
func (m *Metrics) EventFailed(k string) { m.events.WithLabelValues(k, "error").Inc() }

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
