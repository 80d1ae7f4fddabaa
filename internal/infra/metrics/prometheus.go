package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posefeed_jobs_processed_total",
		Help: "Total number of sequence-preparation jobs processed, by status",
	}, []string{"status"})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "posefeed_job_processing_duration_seconds",
		Help:    "Duration of the sequence-preparation pipeline",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	FramesDecodedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posefeed_frames_decoded_total",
		Help: "Total number of video frames decoded across all jobs",
	})

	SequencesProducedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posefeed_sequences_produced_total",
		Help: "Total number of fixed-length frame sequences produced",
	})

	WindowsExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posefeed_windows_extracted_total",
		Help: "Total number of context windows extracted",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "posefeed_active_workers",
		Help: "Number of currently active workers processing jobs",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posefeed_retry_total",
		Help: "Total number of retries",
	}, []string{"attempt"})
)
