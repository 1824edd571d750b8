// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "translation_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Connection metrics
	ConnectionsTotal   *prometheus.CounterVec
	ConnectionsActive  prometheus.Gauge
	ConnectionDuration prometheus.Histogram
	ListenersActive    prometheus.Gauge
	ListenerEventsLost prometheus.Counter

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec
	SessionRejected *prometheus.CounterVec
	UpstreamConnect prometheus.Histogram

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	FramesForwarded     prometheus.Counter
	FramesRejected      *prometheus.CounterVec
	QueueDepth          prometheus.Histogram

	// Upstream metrics
	UpstreamEvents *prometheus.CounterVec
	UpstreamErrors *prometheus.CounterVec

	// Utterance metrics
	UtterancesLogged  prometheus.Counter
	UtterancesDropped *prometheus.CounterVec
	UtteranceLatency  prometheus.Histogram

	// Audio chunk storage metrics
	AudioChunksStored  prometheus.Counter
	AudioChunksDropped *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCStreams *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of ingest connections accepted",
		}, []string{"transport"}),
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open ingest connections",
		}),
		ConnectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Duration of ingest connections in seconds",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		ListenersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listeners_active",
			Help:      "Number of read-only listeners attached to live sessions",
		}),
		ListenerEventsLost: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_events_lost_total",
			Help:      "Events not delivered to a slow listener",
		}),

		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of connecting phases started (initialize and restart)",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions with a live upstream",
		}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of sessions that reached a terminal status",
		}, []string{"status"}),
		SessionRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_rejected_total",
			Help:      "Initialize requests rejected before connecting",
		}, []string{"reason"}),
		UpstreamConnect: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_connect_seconds",
			Help:      "Time from dial to upstream ready",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),
		FramesForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_forwarded_total",
			Help:      "Total audio frames forwarded upstream",
		}),
		FramesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_rejected_total",
			Help:      "Total audio frames rejected before the queue",
		}, []string{"reason"}),
		QueueDepth: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Audio queue depth observed at enqueue",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000, 2000},
		}),

		UpstreamEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_events_total",
			Help:      "Total upstream events dispatched by kind",
		}, []string{"provider", "kind"}),
		UpstreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total upstream errors",
		}, []string{"provider", "error_type"}),

		UtterancesLogged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_logged_total",
			Help:      "Total utterances persisted",
		}),
		UtterancesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_dropped_total",
			Help:      "Total utterances not persisted",
		}, []string{"reason"}),
		UtteranceLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_processing_seconds",
			Help:      "Processing time reported for completed utterances",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		AudioChunksStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_stored_total",
			Help:      "Total audio chunks written to storage",
		}),
		AudioChunksDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_dropped_total",
			Help:      "Total audio chunks not written to storage",
		}, []string{"reason"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		GRPCStreams: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_streams_total",
			Help:      "Total gRPC streams by method and status code",
		}, []string{"method", "code"}),
	}
}

// RecordConnectionStart records a new ingest connection.
func (m *Metrics) RecordConnectionStart(transport string) {
	m.ConnectionsTotal.WithLabelValues(transport).Inc()
	m.ConnectionsActive.Inc()
}

// RecordConnectionEnd records an ingest connection closing.
func (m *Metrics) RecordConnectionEnd(durationSeconds float64) {
	m.ConnectionsActive.Dec()
	m.ConnectionDuration.Observe(durationSeconds)
}

// RecordListener tracks listener attach (+1) and detach (-1).
func (m *Metrics) RecordListener(delta int) {
	m.ListenersActive.Add(float64(delta))
}

// RecordListenerEventLost records an event skipped for a slow listener.
func (m *Metrics) RecordListenerEventLost() {
	m.ListenerEventsLost.Inc()
}

// RecordSessionConnecting records a connecting phase starting.
func (m *Metrics) RecordSessionConnecting() {
	m.SessionsStarted.Inc()
}

// RecordSessionActive records the upstream becoming ready.
func (m *Metrics) RecordSessionActive(connectSeconds float64) {
	m.SessionsActive.Inc()
	m.UpstreamConnect.Observe(connectSeconds)
}

// RecordSessionEnded records a session leaving the live state.
// wasActive reports whether the session had reached active.
func (m *Metrics) RecordSessionEnded(status string, wasActive bool) {
	if wasActive {
		m.SessionsActive.Dec()
	}
	m.SessionsEnded.WithLabelValues(status).Inc()
}

// RecordSessionRejected records an initialize that never reached connecting.
func (m *Metrics) RecordSessionRejected(reason string) {
	m.SessionRejected.WithLabelValues(reason).Inc()
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordFrameForwarded records a frame sent upstream.
func (m *Metrics) RecordFrameForwarded() {
	m.FramesForwarded.Inc()
}

// RecordFrameRejected records a frame refused before enqueue.
func (m *Metrics) RecordFrameRejected(reason string) {
	m.FramesRejected.WithLabelValues(reason).Inc()
}

// RecordQueueDepth observes the queue depth.
func (m *Metrics) RecordQueueDepth(depth int) {
	m.QueueDepth.Observe(float64(depth))
}

// RecordUpstreamEvent records an upstream event dispatch.
func (m *Metrics) RecordUpstreamEvent(provider, kind string) {
	m.UpstreamEvents.WithLabelValues(provider, kind).Inc()
}

// RecordUpstreamError records an upstream error.
func (m *Metrics) RecordUpstreamError(provider, errorType string) {
	m.UpstreamErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordUtteranceLogged records a persisted utterance.
func (m *Metrics) RecordUtteranceLogged(processingSeconds float64) {
	m.UtterancesLogged.Inc()
	m.UtteranceLatency.Observe(processingSeconds)
}

// RecordUtteranceDropped records an utterance that was not persisted.
func (m *Metrics) RecordUtteranceDropped(reason string) {
	m.UtterancesDropped.WithLabelValues(reason).Inc()
}

// RecordAudioChunkStored records a stored audio chunk.
func (m *Metrics) RecordAudioChunkStored() {
	m.AudioChunksStored.Inc()
}

// RecordAudioChunkDropped records an audio chunk that was not stored.
func (m *Metrics) RecordAudioChunkDropped(reason string) {
	m.AudioChunksDropped.WithLabelValues(reason).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPCStream records a finished gRPC stream.
func (m *Metrics) RecordGRPCStream(method, code string) {
	m.GRPCStreams.WithLabelValues(method, code).Inc()
}
