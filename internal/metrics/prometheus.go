package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the virtual microphone.
//
// It implements chunk.ReassemblerObserver and pacing.WriterObserver.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Control channel metrics
	MessagesReceived *prometheus.CounterVec
	DecodeErrors     prometheus.Counter
	SessionActive    prometheus.Gauge

	// Reassembly metrics
	ChunksReceived    prometheus.Counter
	ChunksRejected    prometheus.Counter
	ChunksDuplicated  prometheus.Counter
	TracksReassembled prometheus.Counter
	TracksEvicted     prometheus.Counter
	TracksPending     prometheus.Gauge

	// Playback metrics
	TracksQueued   prometheus.Gauge
	TracksDropped  prometheus.Counter
	FramesWritten  prometheus.Counter
	SamplesWritten prometheus.Counter
	WritesAborted  prometheus.Counter
	FrameLag       prometheus.Histogram

	// Capture routing metrics
	StreamsAcquired *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,

		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "virtualmic_messages_received_total",
			Help: "Total number of control messages received, by type",
		}, []string{"type"}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "virtualmic_decode_errors_total",
			Help: "Total number of control messages that could not be decoded",
		}),
		SessionActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "virtualmic_session_active",
			Help: "1 while the virtual microphone is enabled, 0 while dormant",
		}),

		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "virtualmic_chunks_received_total",
			Help: "Total number of audio chunks accepted for reassembly",
		}),
		ChunksRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "virtualmic_chunks_rejected_total",
			Help: "Total number of malformed audio chunks",
		}),
		ChunksDuplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "virtualmic_chunks_duplicated_total",
			Help: "Total number of audio chunks that replaced an earlier chunk with the same index",
		}),
		TracksReassembled: factory.NewCounter(prometheus.CounterOpts{
			Name: "virtualmic_tracks_reassembled_total",
			Help: "Total number of tracks completed from their chunks",
		}),
		TracksEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "virtualmic_tracks_evicted_total",
			Help: "Total number of incomplete tracks discarded",
		}),
		TracksPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "virtualmic_pending_tracks",
			Help: "Current number of incomplete tracks",
		}),

		TracksQueued: factory.NewGauge(prometheus.GaugeOpts{
			Name: "virtualmic_tracks_queued",
			Help: "Current number of reassembled tracks waiting for playback",
		}),
		TracksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "virtualmic_tracks_dropped_total",
			Help: "Total number of reassembled tracks dropped because the playback queue was full",
		}),
		FramesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "virtualmic_frames_written_total",
			Help: "Total number of frames accepted by the capture track",
		}),
		SamplesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "virtualmic_samples_written_total",
			Help: "Total number of samples accepted by the capture track",
		}),
		WritesAborted: factory.NewCounter(prometheus.CounterOpts{
			Name: "virtualmic_writes_aborted_total",
			Help: "Total number of track writes aborted",
		}),
		FrameLag: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "virtualmic_pacing_lag_seconds",
			Help:    "How far behind schedule each frame was accepted",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}),

		StreamsAcquired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "virtualmic_streams_acquired_total",
			Help: "Total number of capture streams handed out, by source",
		}, []string{"source"}),
	}
}

// Handler serves the metrics registered with this Metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ChunkReceived() {
	m.ChunksReceived.Inc()
}

func (m *Metrics) ChunkRejected() {
	m.ChunksRejected.Inc()
}

func (m *Metrics) ChunkDuplicated() {
	m.ChunksDuplicated.Inc()
}

func (m *Metrics) TrackReassembled() {
	m.TracksReassembled.Inc()
}

func (m *Metrics) TrackEvicted() {
	m.TracksEvicted.Inc()
}

func (m *Metrics) PendingTracks(n int) {
	m.TracksPending.Set(float64(n))
}

func (m *Metrics) FrameWritten(numSamples int) {
	m.FramesWritten.Inc()
	m.SamplesWritten.Add(float64(numSamples))
}

func (m *Metrics) WriteAborted() {
	m.WritesAborted.Inc()
}

// Negative lag (ahead of schedule) is recorded as zero.
func (m *Metrics) PacingLag(d time.Duration) {
	m.FrameLag.Observe(max(d, 0).Seconds())
}

// RecordMessage increments the received counter for a message type
func (m *Metrics) RecordMessage(messageType string) {
	m.MessagesReceived.WithLabelValues(messageType).Inc()
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

func (m *Metrics) SetSessionActive(active bool) {
	if active {
		m.SessionActive.Set(1)
		return
	}
	m.SessionActive.Set(0)
}

func (m *Metrics) SetTracksQueued(n int) {
	m.TracksQueued.Set(float64(n))
}

func (m *Metrics) RecordTrackDropped() {
	m.TracksDropped.Inc()
}

// RecordStreamAcquired counts a stream handed out by the router, source is "virtual" or "platform"
func (m *Metrics) RecordStreamAcquired(source string) {
	m.StreamsAcquired.WithLabelValues(source).Inc()
}
