package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"edgecast/pkg/models"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Capture metrics
	FramesCaptured   prometheus.Counter
	FramesSent       prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	FrameSize        prometheus.Histogram
	ProcessDuration  prometheus.Histogram
	SubtractorErrors prometheus.Counter

	// Connection metrics
	ConnectionState   *prometheus.GaugeVec
	ConnectionsOpened *prometheus.CounterVec
	ReconnectAttempts *prometheus.CounterVec
	SendsDropped      *prometheus.CounterVec

	// Render metrics
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  prometheus.Counter
	DecodeErrors     *prometheus.CounterVec
	FramesRendered   prometheus.Counter
	ClipsPlayed      prometheus.Counter

	// Audio metrics
	ChunksSent    prometheus.Counter
	ChunksDropped prometheus.Counter
	ChunkSize     prometheus.Histogram
}

// New creates all metrics and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		// Capture metrics
		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "edgecast_frames_captured_total",
			Help: "Total number of frames read from the video source",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "edgecast_frames_sent_total",
			Help: "Total number of processed frames handed to the publish connection",
		}),
		FramesDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgecast_frames_dropped_total",
				Help: "Total number of captured frames not delivered",
			},
			[]string{"reason"}, // not_open, buffer_full, source, process, encode
		),
		FrameSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "edgecast_frame_size_bytes",
			Help:    "Size of encoded video envelopes in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~2MB
		}),
		ProcessDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "edgecast_frame_process_seconds",
			Help:    "Time spent in background subtraction, edge detection and encoding per frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~0.5s
		}),
		SubtractorErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "edgecast_background_subtraction_failures_total",
			Help: "Total number of frames passed through because background subtraction failed",
		}),

		// Connection metrics
		ConnectionState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "edgecast_connection_open",
				Help: "1 when the connection for a direction is open",
			},
			[]string{"direction"},
		),
		ConnectionsOpened: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgecast_connections_opened_total",
				Help: "Total number of connections successfully opened",
			},
			[]string{"direction"},
		),
		ReconnectAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgecast_reconnect_attempts_total",
				Help: "Total number of reopen attempts after a failed open or unexpected close",
			},
			[]string{"direction"},
		),
		SendsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgecast_sends_dropped_total",
				Help: "Total number of payloads dropped by the channel manager",
			},
			[]string{"reason"},
		),

		// Render metrics
		MessagesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgecast_messages_received_total",
				Help: "Total number of messages received on the subscribe connection",
			},
			[]string{"kind"},
		),
		MessagesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "edgecast_messages_dropped_total",
			Help: "Total number of inbound messages dropped because the render loop was behind",
		}),
		DecodeErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgecast_decode_errors_total",
				Help: "Total number of inbound messages discarded as malformed",
			},
			[]string{"kind"},
		),
		FramesRendered: f.NewCounter(prometheus.CounterOpts{
			Name: "edgecast_frames_rendered_total",
			Help: "Total number of received frames painted on the remote canvas",
		}),
		ClipsPlayed: f.NewCounter(prometheus.CounterOpts{
			Name: "edgecast_audio_clips_played_total",
			Help: "Total number of received audio clips handed to the audio sink",
		}),

		// Audio metrics
		ChunksSent: f.NewCounter(prometheus.CounterOpts{
			Name: "edgecast_audio_chunks_sent_total",
			Help: "Total number of audio chunks handed to the publish connection",
		}),
		ChunksDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "edgecast_audio_chunks_dropped_total",
			Help: "Total number of audio chunks not delivered",
		}),
		ChunkSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "edgecast_audio_chunk_size_bytes",
			Help:    "Size of encoded audio envelopes in bytes",
			Buckets: prometheus.ExponentialBuckets(16384, 2, 10), // 16KB to ~8MB
		}),
	}

	return m
}

// RecordFrameCaptured records a frame read from the source
func (m *Metrics) RecordFrameCaptured() {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
}

// RecordFrameSent records a frame handed to the transport
func (m *Metrics) RecordFrameSent(size int, processSeconds float64) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.FrameSize.Observe(float64(size))
	m.ProcessDuration.Observe(processSeconds)
}

// RecordFrameDropped records a captured frame that was not delivered
func (m *Metrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordSubtractorFailure records a background subtraction pass-through
func (m *Metrics) RecordSubtractorFailure() {
	if m == nil {
		return
	}
	m.SubtractorErrors.Inc()
}

// RecordConnectionState records whether a direction is open
func (m *Metrics) RecordConnectionState(dir models.Direction, state models.ConnState) {
	if m == nil {
		return
	}
	v := 0.0
	if state == models.ConnStateOpen {
		v = 1
	}
	m.ConnectionState.WithLabelValues(string(dir)).Set(v)
	if state == models.ConnStateOpen {
		m.ConnectionsOpened.WithLabelValues(string(dir)).Inc()
	}
}

// RecordReconnect records a reopen attempt
func (m *Metrics) RecordReconnect(dir models.Direction) {
	if m == nil {
		return
	}
	m.ReconnectAttempts.WithLabelValues(string(dir)).Inc()
}

// RecordSendDropped records a payload the channel manager refused
func (m *Metrics) RecordSendDropped(reason string) {
	if m == nil {
		return
	}
	m.SendsDropped.WithLabelValues(reason).Inc()
}

// RecordMessage records an inbound message of the given kind
func (m *Metrics) RecordMessage(kind models.PayloadKind) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(string(kind)).Inc()
}

// RecordMessageDropped records an inbound message dropped for backpressure
func (m *Metrics) RecordMessageDropped() {
	if m == nil {
		return
	}
	m.MessagesDropped.Inc()
}

// RecordDecodeError records a discarded inbound message
func (m *Metrics) RecordDecodeError(kind string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(kind).Inc()
}

// RecordFrameRendered records a frame painted on the remote canvas
func (m *Metrics) RecordFrameRendered() {
	if m == nil {
		return
	}
	m.FramesRendered.Inc()
}

// RecordClipPlayed records a clip handed to the audio sink
func (m *Metrics) RecordClipPlayed() {
	if m == nil {
		return
	}
	m.ClipsPlayed.Inc()
}

// RecordChunkSent records an audio chunk handed to the transport
func (m *Metrics) RecordChunkSent(size int) {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
	m.ChunkSize.Observe(float64(size))
}

// RecordChunkDropped records an audio chunk that was not delivered
func (m *Metrics) RecordChunkDropped() {
	if m == nil {
		return
	}
	m.ChunksDropped.Inc()
}
