package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOrder("market", "buy", true, time.Millisecond)
	m.ObserveOrder("market", "buy", false, time.Millisecond)
	m.ObserveOrder("market", "buy", true, time.Millisecond)
	m.ObserveFill("REP", 5)
	m.ObserveFill("REP", 3)
	m.SetDepth("REP", "buy", 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Orders.WithLabelValues("market", "buy", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Orders.WithLabelValues("market", "buy", "rejected")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fills.WithLabelValues("REP")))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.FillVolume.WithLabelValues("REP")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.BookDepth.WithLabelValues("REP", "buy")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOrder("limit", "sell", true, 0)
		m.ObserveFill("REP", 1)
		m.SetDepth("REP", "sell", 0)
	})
}
