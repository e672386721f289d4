package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResendRuns tracks resend runs by outcome
	ResendRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txrecover_resend_runs_total",
			Help: "Total number of resend runs",
		},
		[]string{"result"},
	)

	// ResendPublished tracks records republished to a recipient
	ResendPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txrecover_resend_published_total",
			Help: "Total number of records republished during resend runs",
		},
	)

	// ResendSkipped tracks records not addressed to the requested recipient
	ResendSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txrecover_resend_skipped_total",
			Help: "Total number of records skipped during resend runs",
		},
	)

	// ResendPageDuration tracks how long one store page takes to process
	ResendPageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "txrecover_resend_page_duration_seconds",
			Help:    "Time spent processing one page of a resend run",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// PublishLatency tracks the latency of a single publish call
	PublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txrecover_publish_latency_seconds",
			Help:    "Publish call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol", "result"},
	)

	// StagingStaged tracks staged payloads, split into new and duplicate
	StagingStaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txrecover_staging_staged_total",
			Help: "Total number of payloads staged",
		},
		[]string{"result"},
	)

	// StagingBatchDuration tracks the time one push batch holds the ingestion lock
	StagingBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "txrecover_staging_batch_duration_seconds",
			Help:    "Time spent staging one pushed batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StagingPruned tracks staged records discarded by retention
	StagingPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txrecover_staging_pruned_total",
			Help: "Total number of staged records removed by retention",
		},
	)

	// DBConnectionPoolUsage tracks database connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "txrecover_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
