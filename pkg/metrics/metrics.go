// Package metrics exposes the exchange's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine collectors
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Orders        *prometheus.CounterVec
	OrderDuration *prometheus.HistogramVec
	Fills         *prometheus.CounterVec
	FillVolume    *prometheus.CounterVec
	BookDepth     *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hyperdex",
				Name:      "orders_total",
				Help:      "Orders handled by the matching engine",
			},
			[]string{"type", "side", "result"},
		),
		OrderDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "hyperdex",
				Name:      "order_duration_seconds",
				Help:      "Time spent processing one order request",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"type"},
		),
		Fills: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hyperdex",
				Name:      "fills_total",
				Help:      "Fills settled",
			},
			[]string{"ticker"},
		),
		FillVolume: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hyperdex",
				Name:      "fill_volume_total",
				Help:      "Asset quantity settled",
			},
			[]string{"ticker"},
		),
		BookDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "hyperdex",
				Name:      "book_depth",
				Help:      "Resting orders per book side",
			},
			[]string{"ticker", "side"},
		),
	}
}

// ObserveOrder counts one order request and its latency
func (m *Metrics) ObserveOrder(typ, side string, accepted bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.Orders.WithLabelValues(typ, side, result).Inc()
	m.OrderDuration.WithLabelValues(typ).Observe(took.Seconds())
}

// ObserveFill counts one settled fill
func (m *Metrics) ObserveFill(ticker string, qty int64) {
	if m == nil {
		return
	}
	m.Fills.WithLabelValues(ticker).Inc()
	m.FillVolume.WithLabelValues(ticker).Add(float64(qty))
}

// SetDepth records the number of resting orders on one side of a book
func (m *Metrics) SetDepth(ticker, side string, n int) {
	if m == nil {
		return
	}
	m.BookDepth.WithLabelValues(ticker, side).Set(float64(n))
}
