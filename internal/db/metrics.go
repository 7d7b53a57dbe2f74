package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	maintenanceOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainprojector_maintenance_runs_total",
			Help: "Total number of database maintenance runs by outcome",
		},
		[]string{"status"},
	)

	maintenanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainprojector_maintenance_duration_seconds",
			Help:    "Duration of database maintenance runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	walCheckpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainprojector_wal_checkpoint_total",
			Help: "Total number of WAL checkpoint operations",
		},
		[]string{"mode"},
	)

	dbSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainprojector_db_size_bytes",
			Help: "SQLite file size including WAL and shared-memory files",
		},
	)
)

func maintenanceDone(duration time.Duration, err error) {
	maintenanceDuration.Observe(duration.Seconds())
	if err != nil {
		maintenanceOutcomes.WithLabelValues("error").Inc()
		return
	}
	maintenanceOutcomes.WithLabelValues("success").Inc()
}

func walCheckpointInc(mode string) {
	walCheckpoints.WithLabelValues(mode).Inc()
}

func dbSizeLog(sizeBytes int64) {
	dbSize.Set(float64(sizeBytes))
}
