package store

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

// PebbleCollector exports pebble.DB.Metrics() as a prometheus.Collector,
// adapted from the teacher's root-package PebbleCollector with the metric
// namespace renamed from pebble_* to lofi_store_* so it doesn't collide
// with a process embedding more than one pebble-backed component.
type PebbleCollector struct {
	db *pebble.DB

	compactionCount         *prometheus.Desc
	compactionEstimatedDebt *prometheus.Desc
	compactionInProgress    *prometheus.Desc

	memtableSize  *prometheus.Desc
	memtableCount *prometheus.Desc

	walFiles        *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesWritten *prometheus.Desc
}

func NewPebbleCollector(db *pebble.DB) *PebbleCollector {
	return &PebbleCollector{
		db: db,

		compactionCount: prometheus.NewDesc(
			"lofi_store_compaction_count_total",
			"Total number of pebble compactions performed",
			nil, nil,
		),
		compactionEstimatedDebt: prometheus.NewDesc(
			"lofi_store_compaction_estimated_debt_bytes",
			"Estimated number of bytes that need to be compacted to reach a stable state",
			nil, nil,
		),
		compactionInProgress: prometheus.NewDesc(
			"lofi_store_compaction_in_progress_bytes",
			"Number of bytes being compacted currently",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			"lofi_store_memtable_size_bytes",
			"Current size of the memtable in bytes",
			nil, nil,
		),
		memtableCount: prometheus.NewDesc(
			"lofi_store_memtable_count_total",
			"Current count of memtables",
			nil, nil,
		),
		walFiles: prometheus.NewDesc(
			"lofi_store_wal_files_total",
			"Number of live WAL files",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			"lofi_store_wal_size_bytes",
			"Size of live WAL data in bytes",
			nil, nil,
		),
		walBytesWritten: prometheus.NewDesc(
			"lofi_store_wal_bytes_written_total",
			"Total physical bytes written to the WAL",
			nil, nil,
		),
	}
}

func (pc *PebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.compactionCount
	ch <- pc.compactionEstimatedDebt
	ch <- pc.compactionInProgress
	ch <- pc.memtableSize
	ch <- pc.memtableCount
	ch <- pc.walFiles
	ch <- pc.walSize
	ch <- pc.walBytesWritten
}

func (pc *PebbleCollector) Collect(ch chan<- prometheus.Metric) {
	metrics := pc.db.Metrics()

	ch <- prometheus.MustNewConstMetric(pc.compactionCount, prometheus.CounterValue, float64(metrics.Compact.Count))
	ch <- prometheus.MustNewConstMetric(pc.compactionEstimatedDebt, prometheus.GaugeValue, float64(metrics.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(pc.compactionInProgress, prometheus.GaugeValue, float64(metrics.Compact.InProgressBytes))

	ch <- prometheus.MustNewConstMetric(pc.memtableSize, prometheus.GaugeValue, float64(metrics.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(pc.memtableCount, prometheus.GaugeValue, float64(metrics.MemTable.Count))

	ch <- prometheus.MustNewConstMetric(pc.walFiles, prometheus.GaugeValue, float64(metrics.WAL.Files))
	ch <- prometheus.MustNewConstMetric(pc.walSize, prometheus.GaugeValue, float64(metrics.WAL.Size))
	ch <- prometheus.MustNewConstMetric(pc.walBytesWritten, prometheus.CounterValue, float64(metrics.WAL.BytesWritten))
}
