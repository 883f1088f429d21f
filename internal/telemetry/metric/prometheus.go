// Package metric provides Prometheus metrics for vmsnap.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vmsnap"

// Decode outcomes recorded by RecordDecode.
const (
	DecodeAbsent    = "absent"
	DecodeComplete  = "complete"
	DecodeTruncated = "truncated"
)

// Registry holds all application metrics.
//
// A nil *Registry is valid; every recording method is then a no-op.
type Registry struct {
	registry *prometheus.Registry

	// Cache metrics
	CacheHits            prometheus.Counter
	CacheRefreshes       prometheus.Counter
	CacheRefreshFailures prometheus.Counter
	FrameDecodes         *prometheus.CounterVec

	// Operation metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with all instruments registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Snapshot listings served from the metadata cache.",
		}),
		CacheRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "refreshes_total",
			Help:      "Full metadata cache rebuilds.",
		}),
		CacheRefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "refresh_failures_total",
			Help:      "Metadata cache rebuilds that failed.",
		}),
		FrameDecodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extradata",
			Name:      "decodes_total",
			Help:      "Extra-data frame decodes by outcome.",
		}, []string{"result"}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Snapshot operations by type and result.",
		}, []string{"op", "result"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Snapshot operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"op"}),
	}

	r.registry.MustRegister(
		r.CacheHits,
		r.CacheRefreshes,
		r.CacheRefreshFailures,
		r.FrameDecodes,
		r.Operations,
		r.OperationDuration,
	)
	return r
}

// Register adds extra collectors, such as a StoreCollector.
func (r *Registry) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := r.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one snapshot operation.
func (r *Registry) ObserveOperation(op string, start time.Time, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.Operations.WithLabelValues(op, result).Inc()
	r.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RecordDecode records one extra-data decode outcome.
func (r *Registry) RecordDecode(result string) {
	if r == nil {
		return
	}
	r.FrameDecodes.WithLabelValues(result).Inc()
}

// RecordCacheHit records a listing served without I/O.
func (r *Registry) RecordCacheHit() {
	if r == nil {
		return
	}
	r.CacheHits.Inc()
}

// RecordCacheRefresh records a cache rebuild attempt.
func (r *Registry) RecordCacheRefresh(err error) {
	if r == nil {
		return
	}
	r.CacheRefreshes.Inc()
	if err != nil {
		r.CacheRefreshFailures.Inc()
	}
}
