/*
 * UCG collective communication engine.
 */

// Package metrics exposes the collective engine's operational state to
// Prometheus: concurrency slot occupancy, deferred-message backlog, and
// resend-queue depth per group, grounded on
// runZeroInc-sockstats/pkg/exporter's TCPInfoCollector (Describe/Collect
// over a small per-field description table, guarded by one mutex).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coles-systems/ucg/dispatch"
	"github.com/coles-systems/ucg/exec"
)

// Source is the pair of per-group state a registered group contributes
// samples from: the concurrency slot ring and its resend queue (exactly
// what builtin.Planner.Dispatcher/ResendQueue return).
type Source struct {
	Dispatcher *dispatch.Dispatcher
	Resend     *exec.ResendQueue
}

type groupEntry struct {
	id     string
	source Source
}

// CollectiveCollector is a prometheus.Collector snapshotting every
// registered group's dispatcher and resend queue on each scrape.
type CollectiveCollector struct {
	mutex  sync.Mutex
	groups map[string]groupEntry

	occupiedSlots *prometheus.Desc
	ringSize      *prometheus.Desc
	deferredTotal *prometheus.Desc
	resendDepth   *prometheus.Desc
}

// NewCollectiveCollector builds a collector with no groups registered;
// call Add as each group is created and Remove when it is destroyed.
func NewCollectiveCollector() *CollectiveCollector {
	return &CollectiveCollector{
		groups: make(map[string]groupEntry),
		occupiedSlots: prometheus.NewDesc(
			"ucg_dispatch_occupied_slots",
			"Number of concurrency ring slots currently bound to an in-flight collective.",
			[]string{"group"}, nil,
		),
		ringSize: prometheus.NewDesc(
			"ucg_dispatch_ring_size",
			"Total number of slots in the group's concurrency ring.",
			[]string{"group"}, nil,
		),
		deferredTotal: prometheus.NewDesc(
			"ucg_dispatch_deferred_messages",
			"Number of out-of-order messages currently held across every slot.",
			[]string{"group"}, nil,
		),
		resendDepth: prometheus.NewDesc(
			"ucg_exec_resend_queue_depth",
			"Number of requests currently waiting in the resend queue.",
			[]string{"group"}, nil,
		),
	}
}

// Add registers a group under id, replacing any prior source for that id.
func (c *CollectiveCollector) Add(id string, source Source) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.groups[id] = groupEntry{id: id, source: source}
}

// Remove stops reporting samples for id, typically when a group is
// destroyed.
func (c *CollectiveCollector) Remove(id string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.groups, id)
}

func (c *CollectiveCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.occupiedSlots
	descs <- c.ringSize
	descs <- c.deferredTotal
	descs <- c.resendDepth
}

func (c *CollectiveCollector) Collect(out chan<- prometheus.Metric) {
	c.mutex.Lock()
	entries := make([]groupEntry, 0, len(c.groups))
	for _, e := range c.groups {
		entries = append(entries, e)
	}
	c.mutex.Unlock()

	for _, e := range entries {
		d := e.source.Dispatcher
		if d != nil {
			out <- prometheus.MustNewConstMetric(c.occupiedSlots, prometheus.GaugeValue, float64(d.OccupiedSlots()), e.id)
			out <- prometheus.MustNewConstMetric(c.ringSize, prometheus.GaugeValue, float64(d.Size()), e.id)
			out <- prometheus.MustNewConstMetric(c.deferredTotal, prometheus.GaugeValue, float64(d.DeferredTotal()), e.id)
		}
		if r := e.source.Resend; r != nil {
			out <- prometheus.MustNewConstMetric(c.resendDepth, prometheus.GaugeValue, float64(r.Len()), e.id)
		}
	}
}
