package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/snapshot"
)

// SnapshotCollector reports the published snapshot artifacts at scrape time
type SnapshotCollector struct {
	store *snapshot.Store

	projects    *prometheus.Desc
	lastRun     *prometheus.Desc
	lastRunFail *prometheus.Desc
}

// NewSnapshotCollector creates a collector reading from store
func NewSnapshotCollector(store *snapshot.Store) *SnapshotCollector {
	return &SnapshotCollector{
		store: store,
		projects: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "snapshot", "projects"),
			"Number of project records in the published data artifact.",
			nil, nil,
		),
		lastRun: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "snapshot", "last_run_timestamp_seconds"),
			"Time of the last collection run as reported by the status artifact.",
			nil, nil,
		),
		lastRunFail: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "snapshot", "last_run_failed"),
			"1 when the last collection run failed.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.projects
	ch <- c.lastRun
	ch <- c.lastRunFail
}

// Collect implements prometheus.Collector. Missing artifacts produce no samples.
func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	if records, err := c.store.ReadActivities(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.projects, prometheus.GaugeValue, float64(len(records)))
	}

	status, err := c.store.ReadStatus()
	if err != nil {
		return
	}
	failed := 0.0
	if status.Error {
		failed = 1
	}
	ch <- prometheus.MustNewConstMetric(c.lastRunFail, prometheus.GaugeValue, failed)
	if !status.Date.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastRun, prometheus.GaugeValue, float64(status.Date.Unix()))
	}
}
