package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	outstanding := int64(3)
	m := New(reg, func() int64 { return outstanding })

	m.Drained()
	m.Drained()
	m.Event("SCANNER_RESULT")
	m.Dropped("ERROR")
	m.Delivered("position")
	m.Delivered("position")
	m.Flushed(4)
	m.Flushed(0)
	m.Buffered(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.drains))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("SCANNER_RESULT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("ERROR")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.delivered.WithLabelValues("position")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.flushed))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.buffered))

	families, err := reg.Gather()
	require.NoError(t, err)
	var gauge float64
	for _, mf := range families {
		if mf.GetName() == "twsbridge_allocations_outstanding" {
			gauge = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 3.0, gauge)
}

func TestNilBridgeIsNoop(t *testing.T) {
	var m *Bridge
	assert.NotPanics(t, func() {
		m.Drained()
		m.Event("x")
		m.Dropped("x")
		m.Delivered("x")
		m.Flushed(1)
		m.Buffered(1)
	})
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil, nil)
	m.Drained()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drains))
}
