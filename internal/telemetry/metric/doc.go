// Package metric provides Prometheus metrics for vmsnap.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: Prometheus registry, instruments and HTTP handler
//   - collector.go: Custom collector for snapshot store statistics
//
// Metrics include:
//
//   - Snapshot operation counters and latency histograms
//   - Metadata cache hit and refresh counters
//   - Extra-data frame decode outcomes
//   - Snapshot count and VM-state bytes
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
