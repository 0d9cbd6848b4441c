// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturesTotal counts finished capture attempts by outcome
	CapturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webcapture_captures_total",
			Help: "Total number of finished capture attempts",
		},
		[]string{"worker", "status"},
	)

	// CaptureDurationSeconds measures wall-clock capture attempt duration
	CaptureDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webcapture_capture_duration_seconds",
			Help:    "Duration of capture attempts in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
		},
		[]string{"worker"},
	)

	// RetriesTotal counts tasks sent back to the queue after a failed attempt
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webcapture_retries_total",
			Help: "Total number of task requeues after failed attempts",
		},
	)

	// SubmissionsTotal counts submission outcomes
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webcapture_submissions_total",
			Help: "Total number of capture submissions by outcome",
		},
		[]string{"result"}, // accepted | rejected | unavailable
	)

	// QueueDepth tracks the current queue partition sizes
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webcapture_queue_depth",
			Help: "Current number of tasks per queue partition",
		},
		[]string{"state"}, // pending | processing | completed
	)

	// HealthyWorkers tracks the number of workers able to take tasks
	HealthyWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webcapture_healthy_workers",
			Help: "Number of workers in idle or busy state",
		},
	)
)
