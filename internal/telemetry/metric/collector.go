// Package metric provides Prometheus metrics for vmsnap.
package metric

import "github.com/prometheus/client_golang/prometheus"

// StoreStats is a point-in-time view of the snapshot store.
type StoreStats struct {
	Snapshots    int
	VMStateBytes int64
	Thumbnails   int
}

// StoreCollector reports snapshot store statistics at scrape time.
type StoreCollector struct {
	stats func() StoreStats

	snapshots  *prometheus.Desc
	stateBytes *prometheus.Desc
	thumbnails *prometheus.Desc
}

// NewStoreCollector creates a collector that calls stats on every scrape.
func NewStoreCollector(stats func() StoreStats) *StoreCollector {
	return &StoreCollector{
		stats: stats,
		snapshots: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "snapshots"),
			"Snapshots known to the metadata cache.", nil, nil),
		stateBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "vm_state_bytes"),
			"Uncompressed VM state bytes across all snapshots.", nil, nil),
		thumbnails: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "thumbnails"),
			"Snapshots carrying a thumbnail.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.snapshots
	ch <- c.stateBytes
	ch <- c.thumbnails
}

// Collect implements prometheus.Collector.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.snapshots, prometheus.GaugeValue, float64(s.Snapshots))
	ch <- prometheus.MustNewConstMetric(c.stateBytes, prometheus.GaugeValue, float64(s.VMStateBytes))
	ch <- prometheus.MustNewConstMetric(c.thumbnails, prometheus.GaugeValue, float64(s.Thumbnails))
}
