package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ClientMetrics struct {
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

type VODAPIMetrics struct {
	UploadRequestCount     prometheus.Counter
	ChunkUploadCount       prometheus.Counter
	ChunkUploadBytes       prometheus.Counter
	UploadsFinalizedCount  prometheus.Counter
	UploadsCancelledCount  prometheus.Counter
	ProcessingJobsInFlight prometheus.Gauge
	PipelineResults        *prometheus.CounterVec
	PipelineDurationSec    *prometheus.SummaryVec
	StageDurationSec       *prometheus.HistogramVec
	TranscodeDurationSec   *prometheus.HistogramVec
	PlaybackRequestCount   *prometheus.CounterVec
	JanitorSweepResults    *prometheus.CounterVec
	HTTPRequestsInFlight   prometheus.Gauge

	AuthZClient       ClientMetrics
	EventBusPublisher ClientMetrics
}

func NewMetrics() *VODAPIMetrics {
	m := &VODAPIMetrics{
		UploadRequestCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "upload_initialize_count",
			Help: "The total number of upload initialization requests",
		}),
		ChunkUploadCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chunk_upload_count",
			Help: "The total number of chunks received",
		}),
		ChunkUploadBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chunk_upload_bytes",
			Help: "The total number of chunk bytes received",
		}),
		UploadsFinalizedCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uploads_finalized_count",
			Help: "The total number of uploads composed into a source file",
		}),
		UploadsCancelledCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uploads_cancelled_count",
			Help: "The total number of uploads cancelled by their owner",
		}),
		ProcessingJobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "processing_jobs_in_flight",
			Help: "Number of videos currently being processed",
		}),
		PipelineResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_results_count",
			Help: "The total number of processing pipeline runs, broken up by success",
		}, []string{"success"}),
		PipelineDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "pipeline_duration_seconds",
			Help: "The time that the processing pipeline takes to run, broken up by success",
		}, []string{"success"}),
		StageDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Time taken by each processing pipeline stage",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		TranscodeDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcode_duration_seconds",
			Help:    "Time taken to transcode one quality/format pair",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"quality", "format"}),
		PlaybackRequestCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_manifest_request_count",
			Help: "The total number of manifest URL requests, broken up by format and status code",
		}, []string{"format", "status_code"}),
		JanitorSweepResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "janitor_sweep_results_count",
			Help: "The total number of records handled by janitor sweeps, broken up by sweep and outcome",
		}, []string{"sweep", "outcome"}),
		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of upload HTTP requests currently being served",
		}),

		AuthZClient: ClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "authz_client_retry_count",
				Help: "The number of retries of a successful request to the authorization service",
			}, []string{"operation"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "authz_client_failure_count",
				Help: "The total number of failed requests to the authorization service",
			}, []string{"operation", "status_code"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "authz_client_request_duration",
				Help:    "Time taken for requests to the authorization service",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"operation"}),
		},
		EventBusPublisher: ClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "event_bus_retry_count",
				Help: "The number of reconnects of the event bus publisher",
			}, []string{"exchange"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "event_bus_failure_count",
				Help: "The total number of event publications that failed",
			}, []string{"topic"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "event_bus_publish_duration",
				Help:    "Time taken to publish an event to the bus",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"topic"}),
		},
	}

	return m
}

var Metrics = NewMetrics()
