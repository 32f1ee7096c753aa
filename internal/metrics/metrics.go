package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReachesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcorrect_reaches_total",
			Help: "Reaches processed by a batch, by mode and outcome",
		},
		[]string{"command", "mode", "status"},
	)

	ReachDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowcorrect_reach_duration_seconds",
			Help:    "Time to load, correct and write one reach",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command", "mode"},
	)

	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcorrect_rows_written_total",
			Help: "Corrected rows written to output files",
		},
		[]string{"command"},
	)

	GaugesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcorrect_gauges_fetched_total",
			Help: "Observed gauge files mirrored from FTP",
		},
		[]string{"status"},
	)
)

// WriteTextfile writes every registered metric to path in the text
// exposition format, for collection by a node exporter textfile collector.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
