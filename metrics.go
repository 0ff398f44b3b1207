package vkrcontext

import (
	"sync/atomic"
	"time"
)

// latencyBuckets defines the dispatch-latency histogram buckets in
// nanoseconds, log-spaced from 1us to 10s.
var latencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for one context
// engine instance: commands dispatched, ring traffic, and fence
// retirements, generalized from the teacher's per-I/O-op counters to the
// context engine's per-command/per-ring/per-fence operations.
type Metrics struct {
	CommandsDispatched atomic.Uint64
	DriverErrors       atomic.Uint64
	FatalTransitions   atomic.Uint64

	RingSubmits     atomic.Uint64
	RingSubmitBytes atomic.Uint64

	FencesRetired   atomic.Uint64
	FencesLost      atomic.Uint64
	FencesCoalesced atomic.Uint64

	TotalDispatchLatencyNs atomic.Uint64
	DispatchCount          atomic.Uint64
	LatencyBuckets         [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a Metrics instance stamped with the current time.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordDispatch records one dispatched command's outcome and latency.
func (m *Metrics) RecordDispatch(latencyNs uint64, driverErr bool) {
	m.CommandsDispatched.Add(1)
	if driverErr {
		m.DriverErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFatal records a context transitioning into the sticky fatal state.
func (m *Metrics) RecordFatal() {
	m.FatalTransitions.Add(1)
}

// RecordRingSubmit records one batch of bytes consumed off a ring.
func (m *Metrics) RecordRingSubmit(bytes uint64) {
	m.RingSubmits.Add(1)
	m.RingSubmitBytes.Add(bytes)
}

// RecordFenceRetire records one fence retirement outcome.
func (m *Metrics) RecordFenceRetire(lost, coalesced bool) {
	m.FencesRetired.Add(1)
	if lost {
		m.FencesLost.Add(1)
	}
	if coalesced {
		m.FencesCoalesced.Add(1)
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalDispatchLatencyNs.Add(latencyNs)
	m.DispatchCount.Add(1)
	for i, bucket := range latencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the context as stopped, for Uptime computation in Snapshot.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, derived-statistics view of Metrics.
type MetricsSnapshot struct {
	CommandsDispatched uint64
	DriverErrors       uint64
	FatalTransitions   uint64

	RingSubmits     uint64
	RingSubmitBytes uint64

	FencesRetired   uint64
	FencesLost      uint64
	FencesCoalesced uint64

	AvgDispatchLatencyNs uint64
	LatencyHistogram     [numLatencyBuckets]uint64

	UptimeNs       uint64
	DispatchPerSec float64
	ErrorRate      float64
}

// Snapshot computes a MetricsSnapshot from the live counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		CommandsDispatched: m.CommandsDispatched.Load(),
		DriverErrors:       m.DriverErrors.Load(),
		FatalTransitions:   m.FatalTransitions.Load(),
		RingSubmits:        m.RingSubmits.Load(),
		RingSubmitBytes:    m.RingSubmitBytes.Load(),
		FencesRetired:      m.FencesRetired.Load(),
		FencesLost:         m.FencesLost.Load(),
		FencesCoalesced:    m.FencesCoalesced.Load(),
	}

	totalLatency := m.TotalDispatchLatencyNs.Load()
	count := m.DispatchCount.Load()
	if count > 0 {
		snap.AvgDispatchLatencyNs = totalLatency / count
	}

	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}
	if snap.UptimeNs > 0 {
		snap.DispatchPerSec = float64(snap.CommandsDispatched) / (float64(snap.UptimeNs) / 1e9)
	}
	if snap.CommandsDispatched > 0 {
		snap.ErrorRate = float64(snap.DriverErrors) / float64(snap.CommandsDispatched) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	return snap
}

// Reset zeroes every counter, for test isolation.
func (m *Metrics) Reset() {
	m.CommandsDispatched.Store(0)
	m.DriverErrors.Store(0)
	m.FatalTransitions.Store(0)
	m.RingSubmits.Store(0)
	m.RingSubmitBytes.Store(0)
	m.FencesRetired.Store(0)
	m.FencesLost.Store(0)
	m.FencesCoalesced.Store(0)
	m.TotalDispatchLatencyNs.Store(0)
	m.DispatchCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, decoupling the context
// facade from any particular metrics backend (the built-in Metrics, a
// Prometheus adapter in internal/metrics, or a test double).
type Observer interface {
	ObserveDispatch(latencyNs uint64, driverErr bool)
	ObserveFatal()
	ObserveRingSubmit(bytes uint64)
	ObserveFenceRetire(lost, coalesced bool)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveDispatch(uint64, bool)  {}
func (NoOpObserver) ObserveFatal()                 {}
func (NoOpObserver) ObserveRingSubmit(uint64)      {}
func (NoOpObserver) ObserveFenceRetire(bool, bool) {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer recording into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveDispatch(latencyNs uint64, driverErr bool) {
	o.metrics.RecordDispatch(latencyNs, driverErr)
}
func (o *MetricsObserver) ObserveFatal() { o.metrics.RecordFatal() }
func (o *MetricsObserver) ObserveRingSubmit(bytes uint64) {
	o.metrics.RecordRingSubmit(bytes)
}
func (o *MetricsObserver) ObserveFenceRetire(lost, coalesced bool) {
	o.metrics.RecordFenceRetire(lost, coalesced)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = NoOpObserver{}

// The accessors below satisfy internal/metrics.Source, letting the
// Prometheus adapter read the live counters without the internal package
// importing this one (which would cycle back once it's wired into the
// Context facade).
func (m *Metrics) CommandsDispatchedValue() uint64 { return m.CommandsDispatched.Load() }
func (m *Metrics) DriverErrorsValue() uint64       { return m.DriverErrors.Load() }
func (m *Metrics) FatalTransitionsValue() uint64   { return m.FatalTransitions.Load() }
func (m *Metrics) RingSubmitsValue() uint64        { return m.RingSubmits.Load() }
func (m *Metrics) RingSubmitBytesValue() uint64    { return m.RingSubmitBytes.Load() }
func (m *Metrics) FencesRetiredValue() uint64      { return m.FencesRetired.Load() }
func (m *Metrics) FencesLostValue() uint64         { return m.FencesLost.Load() }
func (m *Metrics) FencesCoalescedValue() uint64    { return m.FencesCoalesced.Load() }
