package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics groups the Prometheus instruments published by the sync
// service. Constructed once per process; services accept a nil value
// and skip instrumentation.
type SyncMetrics struct {
	SyncRuns          prometheus.Counter
	RefsSynced        prometheus.Counter
	BodiesFetched     prometheus.Counter
	BodyFetchFailures prometheus.Counter
	SyncErrors        prometheus.Counter
	SyncDuration      prometheus.Histogram
	LastSyncUnix      prometheus.Gauge
}

func NewSyncMetrics() *SyncMetrics {
	return &SyncMetrics{
		SyncRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgertrail_sync_runs_total",
			Help: "Total number of account sync runs",
		}),
		RefsSynced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgertrail_refs_synced_total",
			Help: "Total number of record refs fetched from the source",
		}),
		BodiesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgertrail_bodies_fetched_total",
			Help: "Total number of record bodies fetched and persisted",
		}),
		BodyFetchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgertrail_body_fetch_failures_total",
			Help: "Total number of record bodies dropped after fetch failures",
		}),
		SyncErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgertrail_sync_errors_total",
			Help: "Total number of failed account sync runs",
		}),
		SyncDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledgertrail_sync_duration_seconds",
			Help:    "Duration of account sync runs in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		LastSyncUnix: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledgertrail_last_sync_timestamp_seconds",
			Help: "Unix timestamp of the last successful account sync",
		}),
	}
}
