// Package metrics exposes lookup and upstream counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nearbygo"

// Collector holds the service metrics on a private registry. A nil *Collector
// is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	lookups          *prometheus.CounterVec
	lookupDuration   *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec
	memoryEntries    prometheus.GaugeFunc
	purgedRecords    prometheus.Counter
	persistFailures  prometheus.Counter
	coalescedLookups prometheus.Counter
}

// New creates a Collector. memoryLen, when non-nil, is sampled for the memory
// cache size gauge.
func New(memoryLen func() int) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Nearby places lookups by tier that answered them.",
		}, []string{"served_from", "stale"}),
		lookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Nearby places lookup latency by tier.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"served_from"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed upstream lookups by error kind.",
		}, []string{"kind"}),
		purgedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_records_total",
			Help:      "Persisted cache records deleted by purges.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Persisted cache reads or writes that failed and were treated as misses.",
		}),
		coalescedLookups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_lookups_total",
			Help:      "Lookups that shared another caller's in-flight upstream call.",
		}),
	}

	reg.MustRegister(
		c.lookups,
		c.lookupDuration,
		c.upstreamErrors,
		c.purgedRecords,
		c.persistFailures,
		c.coalescedLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if memoryLen != nil {
		c.memoryEntries = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_cache_entries",
			Help:      "Entries held by the in-process cache, including expired ones awaiting sweep.",
		}, func() float64 { return float64(memoryLen()) })
		reg.MustRegister(c.memoryEntries)
	}
	return c
}

// ObserveLookup records one answered lookup.
func (c *Collector) ObserveLookup(servedFrom string, stale bool, took time.Duration) {
	if c == nil {
		return
	}
	staleLabel := "false"
	if stale {
		staleLabel = "true"
	}
	c.lookups.WithLabelValues(servedFrom, staleLabel).Inc()
	c.lookupDuration.WithLabelValues(servedFrom).Observe(took.Seconds())
}

// UpstreamError records a failed upstream lookup.
func (c *Collector) UpstreamError(kind string) {
	if c == nil {
		return
	}
	c.upstreamErrors.WithLabelValues(kind).Inc()
}

// Purged adds n deleted records.
func (c *Collector) Purged(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.purgedRecords.Add(float64(n))
}

// PersistFailure counts a persisted tier failure.
func (c *Collector) PersistFailure() {
	if c == nil {
		return
	}
	c.persistFailures.Inc()
}

// Coalesced counts a lookup that shared an in-flight call.
func (c *Collector) Coalesced() {
	if c == nil {
		return
	}
	c.coalescedLookups.Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
