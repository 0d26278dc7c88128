package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Request metrics
	RequestsTotal   prometheus.Counter
	RequestFailures prometheus.Counter
	RequestDuration prometheus.Histogram
	ActiveRequests  prometheus.Gauge

	// Audio metrics
	AudioDuration     prometheus.Histogram
	AudioDecodeErrors prometheus.Counter

	// Chunking and batching metrics
	ChunksGenerated   prometheus.Counter
	BatchesDispatched prometheus.Counter
	BatchPaddingSlots prometheus.Counter

	// Inference metrics
	InferenceRequests  prometheus.Counter
	InferenceFailures  prometheus.Counter
	InferenceDuration  prometheus.Histogram
	InferencePoolInUse prometheus.Gauge

	// Stitching metrics
	StitchDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Request metrics
		RequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_requests_total",
			Help: "Total number of transcription requests handled",
		}),
		RequestFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_request_failures_total",
			Help: "Total number of transcription requests that failed",
		}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_request_duration_seconds",
			Help:    "End-to-end duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		ActiveRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_active_requests",
			Help: "Current number of in-flight transcription requests",
		}),

		// Audio metrics
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_audio_duration_seconds",
			Help:    "Duration of uploaded audio in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 13), // 1s to ~2 hours
		}),
		AudioDecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_audio_decode_errors_total",
			Help: "Total number of uploads that could not be decoded",
		}),

		// Chunking and batching metrics
		ChunksGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_chunks_generated_total",
			Help: "Total number of audio chunks generated",
		}),
		BatchesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_batches_dispatched_total",
			Help: "Total number of batches sent to the inference engine",
		}),
		BatchPaddingSlots: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_batch_padding_slots_total",
			Help: "Total number of padding slots added to short batches",
		}),

		// Inference metrics
		InferenceRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_inference_requests_total",
			Help: "Total number of inference calls made",
		}),
		InferenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_inference_failures_total",
			Help: "Total number of failed inference calls",
		}),
		InferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_inference_duration_seconds",
			Help:    "Duration of inference calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		InferencePoolInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_inference_pool_in_use",
			Help: "Current number of occupied inference pool slots",
		}),

		// Stitching metrics
		StitchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_stitch_duration_seconds",
			Help:    "Time spent merging chunk outputs into transcripts",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisper_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordRequestSuccess records a completed transcription request
func (m *Metrics) RecordRequestSuccess(durationSeconds float64) {
	m.RequestsTotal.Inc()
	m.RequestDuration.Observe(durationSeconds)
}

// RecordRequestFailure records a failed transcription request
func (m *Metrics) RecordRequestFailure(durationSeconds float64) {
	m.RequestsTotal.Inc()
	m.RequestFailures.Inc()
	m.RequestDuration.Observe(durationSeconds)
}

// RequestStarted increments the active requests gauge
func (m *Metrics) RequestStarted() {
	m.ActiveRequests.Inc()
}

// RequestFinished decrements the active requests gauge
func (m *Metrics) RequestFinished() {
	m.ActiveRequests.Dec()
}

// RecordAudioDuration records the duration of a decoded upload
func (m *Metrics) RecordAudioDuration(seconds float64) {
	m.AudioDuration.Observe(seconds)
}

// RecordAudioDecodeError increments the decode errors counter
func (m *Metrics) RecordAudioDecodeError() {
	m.AudioDecodeErrors.Inc()
}

// RecordChunks adds to the generated chunks counter
func (m *Metrics) RecordChunks(count int) {
	m.ChunksGenerated.Add(float64(count))
}

// RecordBatch records one dispatched batch and its padding slots
func (m *Metrics) RecordBatch(paddingSlots int) {
	m.BatchesDispatched.Inc()
	m.BatchPaddingSlots.Add(float64(paddingSlots))
}

// RecordInferenceSuccess records a successful inference call
func (m *Metrics) RecordInferenceSuccess(durationSeconds float64) {
	m.InferenceRequests.Inc()
	m.InferenceDuration.Observe(durationSeconds)
}

// RecordInferenceFailure records a failed inference call
func (m *Metrics) RecordInferenceFailure(durationSeconds float64) {
	m.InferenceRequests.Inc()
	m.InferenceFailures.Inc()
	m.InferenceDuration.Observe(durationSeconds)
}

// SetPoolInUse sets the occupied inference pool slots gauge
func (m *Metrics) SetPoolInUse(count int) {
	m.InferencePoolInUse.Set(float64(count))
}

// RecordStitch records the time spent stitching one transcript
func (m *Metrics) RecordStitch(durationSeconds float64) {
	m.StitchDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
