package dma

import (
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"
)

// Stats is a snapshot of engine counters.
type Stats struct {
	Submitted      int64
	Completed      int64
	Faulted        int64
	Cancelled      int64
	CancelTimeouts int64
	EventsDropped  int64
	Spurious       int64
	Bytes          int64
	InFlight       int64
	ChannelsFree   int64
}

// engineMetrics holds the engine's instruments. They are registered under
// "dma." names so a registry shared with other subsystems stays readable.
type engineMetrics struct {
	submitted      metrics.Counter
	completed      metrics.Counter
	faulted        metrics.Counter
	cancelled      metrics.Counter
	cancelTimeouts metrics.Counter
	eventsDropped  metrics.Counter
	spurious       metrics.Counter
	bytes          metrics.Counter
	inflight       metrics.Gauge
	channelsFree   metrics.Gauge
	latency        metrics.Histogram

	active atomic.Int64
}

func newEngineMetrics(r metrics.Registry) *engineMetrics {
	return &engineMetrics{
		submitted:      metrics.GetOrRegisterCounter("dma.transfers.submitted", r),
		completed:      metrics.GetOrRegisterCounter("dma.transfers.completed", r),
		faulted:        metrics.GetOrRegisterCounter("dma.transfers.faulted", r),
		cancelled:      metrics.GetOrRegisterCounter("dma.transfers.cancelled", r),
		cancelTimeouts: metrics.GetOrRegisterCounter("dma.cancel.timeouts", r),
		eventsDropped:  metrics.GetOrRegisterCounter("dma.events.dropped", r),
		spurious:       metrics.GetOrRegisterCounter("dma.signals.spurious", r),
		bytes:          metrics.GetOrRegisterCounter("dma.bytes", r),
		inflight:       metrics.GetOrRegisterGauge("dma.transfers.inflight", r),
		channelsFree:   metrics.GetOrRegisterGauge("dma.channels.free", r),
		latency:        metrics.GetOrRegisterHistogram("dma.transfers.latency_us", r, metrics.NewExpDecaySample(1028, 0.015)),
	}
}

func (m *engineMetrics) resolved(r Result) {
	switch {
	case r.Status.State == Complete:
		m.completed.Inc(1)
	case r.Status.Kind == Cancelled:
		m.cancelled.Inc(1)
	default:
		m.faulted.Inc(1)
	}
	m.bytes.Inc(int64(r.Bytes))
	m.inflight.Update(m.active.Add(-1))
	m.latency.Update(int64(r.Duration / time.Microsecond))
}

func (m *engineMetrics) submit() {
	m.submitted.Inc(1)
	m.inflight.Update(m.active.Add(1))
}

func (m *engineMetrics) snapshot() Stats {
	return Stats{
		Submitted:      m.submitted.Count(),
		Completed:      m.completed.Count(),
		Faulted:        m.faulted.Count(),
		Cancelled:      m.cancelled.Count(),
		CancelTimeouts: m.cancelTimeouts.Count(),
		EventsDropped:  m.eventsDropped.Count(),
		Spurious:       m.spurious.Count(),
		Bytes:          m.bytes.Count(),
		InFlight:       m.inflight.Value(),
		ChannelsFree:   m.channelsFree.Value(),
	}
}
