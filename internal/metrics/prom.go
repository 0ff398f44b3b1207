// Package metrics adapts the root package's Metrics to a
// prometheus.Collector, the domain-stack's metrics/observability library
// (github.com/prometheus/client_golang), wired in because nothing in the
// teacher's own stack covers metrics export and the rest of the retrieval
// pack shows this as the idiomatic Go choice for it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Source is the minimal snapshot-producing surface the collector needs,
// satisfied by *vkrcontext.Metrics without an import-cycle-forcing direct
// dependency on the root package.
type Source interface {
	CommandsDispatchedValue() uint64
	DriverErrorsValue() uint64
	FatalTransitionsValue() uint64
	RingSubmitsValue() uint64
	RingSubmitBytesValue() uint64
	FencesRetiredValue() uint64
	FencesLostValue() uint64
	FencesCoalescedValue() uint64
}

// Collector exports a Source's counters as Prometheus metrics.
type Collector struct {
	source Source

	commandsDispatched *prometheus.Desc
	driverErrors       *prometheus.Desc
	fatalTransitions   *prometheus.Desc
	ringSubmits        *prometheus.Desc
	ringSubmitBytes    *prometheus.Desc
	fencesRetired      *prometheus.Desc
	fencesLost         *prometheus.Desc
	fencesCoalesced    *prometheus.Desc
}

// NewCollector creates a Collector reading from source.
func NewCollector(source Source) *Collector {
	ns := "vkrcontext"
	return &Collector{
		source: source,
		commandsDispatched: prometheus.NewDesc(
			ns+"_commands_dispatched_total", "Total commands dispatched.", nil, nil),
		driverErrors: prometheus.NewDesc(
			ns+"_driver_errors_total", "Total native driver call errors.", nil, nil),
		fatalTransitions: prometheus.NewDesc(
			ns+"_fatal_transitions_total", "Total context fatal-state transitions.", nil, nil),
		ringSubmits: prometheus.NewDesc(
			ns+"_ring_submits_total", "Total ring worker consume batches.", nil, nil),
		ringSubmitBytes: prometheus.NewDesc(
			ns+"_ring_submit_bytes_total", "Total bytes consumed off rings.", nil, nil),
		fencesRetired: prometheus.NewDesc(
			ns+"_fences_retired_total", "Total fences retired.", nil, nil),
		fencesLost: prometheus.NewDesc(
			ns+"_fences_lost_total", "Total fences retired with device-lost.", nil, nil),
		fencesCoalesced: prometheus.NewDesc(
			ns+"_fences_coalesced_total", "Total mergeable fences coalesced away.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.commandsDispatched
	ch <- c.driverErrors
	ch <- c.fatalTransitions
	ch <- c.ringSubmits
	ch <- c.ringSubmitBytes
	ch <- c.fencesRetired
	ch <- c.fencesLost
	ch <- c.fencesCoalesced
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.commandsDispatched, prometheus.CounterValue, float64(c.source.CommandsDispatchedValue()))
	ch <- prometheus.MustNewConstMetric(c.driverErrors, prometheus.CounterValue, float64(c.source.DriverErrorsValue()))
	ch <- prometheus.MustNewConstMetric(c.fatalTransitions, prometheus.CounterValue, float64(c.source.FatalTransitionsValue()))
	ch <- prometheus.MustNewConstMetric(c.ringSubmits, prometheus.CounterValue, float64(c.source.RingSubmitsValue()))
	ch <- prometheus.MustNewConstMetric(c.ringSubmitBytes, prometheus.CounterValue, float64(c.source.RingSubmitBytesValue()))
	ch <- prometheus.MustNewConstMetric(c.fencesRetired, prometheus.CounterValue, float64(c.source.FencesRetiredValue()))
	ch <- prometheus.MustNewConstMetric(c.fencesLost, prometheus.CounterValue, float64(c.source.FencesLostValue()))
	ch <- prometheus.MustNewConstMetric(c.fencesCoalesced, prometheus.CounterValue, float64(c.source.FencesCoalescedValue()))
}

var _ prometheus.Collector = (*Collector)(nil)
