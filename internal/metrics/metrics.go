// Package metrics exposes prometheus collectors for the bridge.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "twsbridge"

// Bridge groups the bridge collectors. A nil *Bridge records nothing.
type Bridge struct {
	drains    prometheus.Counter
	events    *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	delivered *prometheus.CounterVec
	flushed   prometheus.Counter
	buffered  prometheus.Gauge
}

// New creates the bridge collectors and registers them on reg. When outstanding is
// non-nil it backs a gauge of unreleased record allocations.
func New(reg prometheus.Registerer, outstanding func() int64) *Bridge {
	m := &Bridge{
		drains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drains_total",
			Help:      "Engine drain calls made by poll refills.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events drained from the engine, by event kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events that produced no delivered record, by event kind.",
		}, []string{"kind"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_delivered_total",
			Help:      "Records handed to the consumer, by record kind.",
		}, []string{"kind"}),
		flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_flushed_total",
			Help:      "Undelivered records released by the bridge at teardown.",
		}),
		buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_buffer_depth",
			Help:      "Translated records waiting to be polled.",
		}),
	}
	if reg == nil {
		return m
	}
	reg.MustRegister(m.drains, m.events, m.dropped, m.delivered, m.flushed, m.buffered)
	if outstanding != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "allocations_outstanding",
			Help:      "Record allocations not yet released.",
		}, func() float64 { return float64(outstanding()) }))
	}
	return m
}

// Drained records one drain call.
func (m *Bridge) Drained() {
	if m == nil {
		return
	}
	m.drains.Inc()
}

// Event records one drained event of the given kind.
func (m *Bridge) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// Dropped records an event that produced no record.
func (m *Bridge) Dropped(kind string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind).Inc()
}

// Delivered records a record handed to the consumer.
func (m *Bridge) Delivered(kind string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(kind).Inc()
}

// Flushed records n records released at teardown.
func (m *Bridge) Flushed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.flushed.Add(float64(n))
}

// Buffered sets the current ready buffer depth.
func (m *Bridge) Buffered(n int) {
	if m == nil {
		return
	}
	m.buffered.Set(float64(n))
}
