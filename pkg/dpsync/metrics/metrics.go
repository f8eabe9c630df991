// Package metrics exposes engine activity as Prometheus metrics. A Collector
// is an events.Emitter: everything it counts arrives as engine events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
)

const namespace = "dpsync"

// Collector turns engine events into metrics.
type Collector struct {
	reg *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	bytesMoved    *prometheus.CounterVec
	items         *prometheus.CounterVec
	itemFailures  *prometheus.CounterVec
	targetUp      *prometheus.GaugeVec
	breakerOpen   *prometheus.GaugeVec
}

// New returns a collector with its own registry, including the Go and
// process collectors.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Sync cycles by target and outcome",
		}, []string{"target", "outcome"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of completed sync cycles",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}, []string{"target"}),
		bytesMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_transferred_total",
			Help:      "Bytes written to targets by verified fetches",
		}, []string{"target"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Completed items by target and action",
		}, []string{"target", "action"}),
		itemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_failures_total",
			Help:      "Failed items by target and error category",
		}, []string{"target", "category"}),
		targetUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_attached",
			Help:      "1 while a target is attached and ready",
		}, []string{"target"}),
		breakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_open",
			Help:      "1 while a circuit breaker is not closed",
		}, []string{"name"}),
	}
	c.reg.MustRegister(
		c.cycles, c.cycleDuration, c.bytesMoved, c.items, c.itemFailures, c.targetUp, c.breakerOpen,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Emit implements events.Emitter.
func (c *Collector) Emit(e events.Event) {
	switch ev := e.(type) {
	case events.CycleCompleted:
		outcome := "completed"
		if ev.Failed > 0 {
			outcome = "partial"
		}
		c.cycles.WithLabelValues(ev.Target, outcome).Inc()
		c.cycleDuration.WithLabelValues(ev.Target).Observe(ev.Duration.Seconds())
	case events.CycleFailed:
		c.cycles.WithLabelValues(ev.Target, "failed").Inc()
	case events.ItemCompleted:
		c.items.WithLabelValues(ev.Target, ev.Action).Inc()
		if ev.Action == "fetch" {
			c.bytesMoved.WithLabelValues(ev.Target).Add(float64(ev.Bytes))
		}
	case events.ItemFailed:
		c.itemFailures.WithLabelValues(ev.Target, ev.Category).Inc()
	case events.TargetAttached:
		c.targetUp.WithLabelValues(ev.Target).Set(1)
	case events.TargetDetached:
		c.targetUp.WithLabelValues(ev.Target).Set(0)
	case events.TargetFailed:
		c.targetUp.WithLabelValues(ev.Target).Set(0)
	case events.BreakerChanged:
		v := 0.0
		if ev.To != "closed" {
			v = 1
		}
		c.breakerOpen.WithLabelValues(ev.Name).Set(v)
	}
}
