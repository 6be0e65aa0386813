// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job metrics
var (
	JobsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vodforge_jobs_completed_total",
			Help: "Total number of transcoding jobs that completed successfully",
		},
	)

	JobsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodforge_jobs_failed_total",
			Help: "Total number of transcoding jobs that failed",
		},
		[]string{"stage"}, // probe, plan, encode, timeout
	)

	JobDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vodforge_job_duration_seconds",
			Help:    "Wall-clock duration of transcoding jobs",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)

	RungsEncodedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodforge_rungs_encoded_total",
			Help: "Total number of resolution rungs encoded",
		},
		[]string{"label"},
	)
)

// Pool metrics
var (
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodforge_queue_depth",
			Help: "Number of jobs waiting in the transcode queue",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodforge_active_workers",
			Help: "Number of workers currently processing a job",
		},
	)
)
