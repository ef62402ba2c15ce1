// Package metrics defines the Prometheus instrumentation for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice relay service.
// All Record* helpers are nil-safe so packages under test can run without
// touching the default registry.
type Metrics struct {
	// Gateway message metrics
	EventsReceived prometheus.Counter
	EventsDropped  prometheus.Counter
	ParseErrors    prometheus.Counter
	PacketsSent    prometheus.Counter

	// Connection and call metrics
	ActiveConnections prometheus.Gauge
	ActiveCalls       prometheus.Gauge
	CallsStarted      prometheus.Counter
	CallsEnded        prometheus.Counter
	CallDuration      prometheus.Histogram

	// Audio pipeline metrics
	ChunksFlushed        prometheus.Counter
	ChunksRejected       prometheus.Counter
	ChunkDuration        prometheus.Histogram
	HallucinationsCaught prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// Playback metrics
	PlaybackRequests prometheus.Counter
	PlaybackFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_events_received_total",
			Help: "Total number of gateway events received",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_events_dropped_total",
			Help: "Total number of events dropped due to full call queues",
		}),
		ParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_parse_errors_total",
			Help: "Total number of malformed or unknown gateway events",
		}),
		PacketsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_media_packets_sent_total",
			Help: "Total number of outbound media packets sent to the gateway",
		}),

		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_connections",
			Help: "Current number of live gateway connections",
		}),
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_calls",
			Help: "Current number of live calls",
		}),
		CallsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_calls_started_total",
			Help: "Total number of calls started",
		}),
		CallsEnded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_calls_ended_total",
			Help: "Total number of calls ended",
		}),
		CallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_call_duration_seconds",
			Help:    "Duration of completed calls in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		ChunksFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_audio_chunks_flushed_total",
			Help: "Total number of audio chunks handed off for transcription",
		}),
		ChunksRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_audio_chunks_rejected_total",
			Help: "Total number of chunks rejected by the quality gate",
		}),
		ChunkDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_chunk_duration_seconds",
			Help:    "Audio duration of flushed chunks",
			Buckets: prometheus.LinearBuckets(0.5, 0.5, 12), // 0.5s to 6s
		}),
		HallucinationsCaught: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_hallucinations_caught_total",
			Help: "Total number of transcriptions rejected by the hallucination filter",
		}),

		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		PlaybackRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_playback_requests_total",
			Help: "Total number of response/playback invocations",
		}),
		PlaybackFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_playback_failures_total",
			Help: "Total number of failed response/playback invocations",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordEventReceived increments the events received counter.
func (m *Metrics) RecordEventReceived() {
	if m == nil {
		return
	}
	m.EventsReceived.Inc()
}

// RecordEventDropped increments the dropped events counter.
func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// RecordParseError increments the parse errors counter.
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// RecordPacketsSent adds to the outbound packet counter.
func (m *Metrics) RecordPacketsSent(n int) {
	if m == nil {
		return
	}
	m.PacketsSent.Add(float64(n))
}

// SetActiveConnections sets the live connection gauge.
func (m *Metrics) SetActiveConnections(count int) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(count))
}

// SetActiveCalls sets the live call gauge.
func (m *Metrics) SetActiveCalls(count int) {
	if m == nil {
		return
	}
	m.ActiveCalls.Set(float64(count))
}

// RecordCallStarted increments the calls started counter.
func (m *Metrics) RecordCallStarted() {
	if m == nil {
		return
	}
	m.CallsStarted.Inc()
}

// RecordCallEnded increments the calls ended counter and records duration.
func (m *Metrics) RecordCallEnded(durationSeconds float64) {
	if m == nil {
		return
	}
	m.CallsEnded.Inc()
	m.CallDuration.Observe(durationSeconds)
}

// RecordChunkFlushed records a chunk handed off for transcription.
func (m *Metrics) RecordChunkFlushed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ChunksFlushed.Inc()
	m.ChunkDuration.Observe(durationSeconds)
}

// RecordChunkRejected increments the quality-gate rejection counter.
func (m *Metrics) RecordChunkRejected() {
	if m == nil {
		return
	}
	m.ChunksRejected.Inc()
}

// RecordHallucination increments the hallucination filter counter.
func (m *Metrics) RecordHallucination() {
	if m == nil {
		return
	}
	m.HallucinationsCaught.Inc()
}

// RecordTranscriptionRequest increments the transcription request counter.
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription.
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription.
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter.
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordPlaybackRequest increments the playback request counter.
func (m *Metrics) RecordPlaybackRequest() {
	if m == nil {
		return
	}
	m.PlaybackRequests.Inc()
}

// RecordPlaybackFailure increments the playback failure counter.
func (m *Metrics) RecordPlaybackFailure() {
	if m == nil {
		return
	}
	m.PlaybackFailures.Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
