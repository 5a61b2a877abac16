// Package metrics exposes counters for the store's hot paths behind a
// small interface, so the cache layers stay testable without a
// Prometheus registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector receives store events. Implementations: Prometheus-backed
// and Noop.
type Collector interface {
	CacheHit()
	CacheMiss()
	FlushBatch(records int)
	KeyframeStored()
	PlanVoided(steps int)
	GatewayError()
}

// PromCollector is the Prometheus-backed collector.
type PromCollector struct {
	cacheOps   *prometheus.CounterVec
	flushSizes prometheus.Histogram
	keyframes  prometheus.Counter
	planVoids  prometheus.Counter
	voidSteps  prometheus.Counter
	errors     prometheus.Counter
	registry   *prometheus.Registry
}

// NewPromCollector registers the store's metrics on a fresh registry.
func NewPromCollector() *PromCollector {
	registry := prometheus.NewRegistry()

	cacheOps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eidetic_cache_reads_total",
			Help: "History cache point reads by outcome",
		},
		[]string{"outcome"},
	)
	flushSizes := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eidetic_flush_batch_records",
			Help:    "Records per gateway flush batch",
			Buckets: []float64{1, 8, 32, 128, 512, 2048, 8192},
		},
	)
	keyframes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eidetic_keyframes_stored_total",
		Help: "Keyframes materialized",
	})
	planVoids := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eidetic_plans_voided_total",
		Help: "Plans partially voided by contradiction",
	})
	voidSteps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eidetic_plan_steps_voided_total",
		Help: "Individual plan steps discarded",
	})
	errs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eidetic_gateway_errors_total",
		Help: "Gateway operations that returned an error",
	})

	registry.MustRegister(cacheOps, flushSizes, keyframes, planVoids, voidSteps, errs)

	return &PromCollector{
		cacheOps:   cacheOps,
		flushSizes: flushSizes,
		keyframes:  keyframes,
		planVoids:  planVoids,
		voidSteps:  voidSteps,
		errors:     errs,
		registry:   registry,
	}
}

// Registry exposes the collector's registry for serving /metrics.
func (m *PromCollector) Registry() *prometheus.Registry { return m.registry }

func (m *PromCollector) CacheHit()  { m.cacheOps.WithLabelValues("hit").Inc() }
func (m *PromCollector) CacheMiss() { m.cacheOps.WithLabelValues("miss").Inc() }

func (m *PromCollector) FlushBatch(records int) {
	m.flushSizes.Observe(float64(records))
}

func (m *PromCollector) KeyframeStored() { m.keyframes.Inc() }

func (m *PromCollector) PlanVoided(steps int) {
	m.planVoids.Inc()
	m.voidSteps.Add(float64(steps))
}

func (m *PromCollector) GatewayError() { m.errors.Inc() }

// Noop discards all events. The default for library embedding.
type Noop struct{}

func (Noop) CacheHit()           {}
func (Noop) CacheMiss()          {}
func (Noop) FlushBatch(int)      {}
func (Noop) KeyframeStored()     {}
func (Noop) PlanVoided(int)      {}
func (Noop) GatewayError()       {}
