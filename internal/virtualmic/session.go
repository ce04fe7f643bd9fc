package virtualmic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/audioapi"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/chunk"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/pacing"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/protocol"
	"github.com/google/uuid"
)

const (
	DefaultTrackQueueSize = 8
	DefaultSinkBuffer     = 4
)

var (
	ErrUnsupported   = errors.New("virtual capture track unsupported")
	ErrDormant       = errors.New("virtual microphone is not enabled")
	ErrQueueFull     = errors.New("playback queue full")
	ErrSessionClosed = errors.New("session closed")
)

// Receives session events, e.g. for metrics.
type SessionObserver interface {
	SetSessionActive(active bool)
	SetTracksQueued(n int)
	RecordTrackDropped()
	RecordMessage(messageType string)
}

type SessionConfig struct {
	// Rate of the capture track's stream. Tracks at other rates are resampled
	// to it. Zero makes the stream follow the rate of each track played.
	SampleRate int

	// Channels of the capture track. Only mono is supported; any other count
	// makes Enable fail with ErrUnsupported.
	Channels int

	// Length of each frame written into the capture track.
	// Zero means pacing.DefaultFrameDuration.
	FrameDuration time.Duration

	// Reassembled tracks waiting for playback. Zero means DefaultTrackQueueSize.
	TrackQueueSize int

	// Frames buffered per acquired stream. Zero means DefaultSinkBuffer.
	SinkBuffer int

	// Volume applied to the capture track, 1.0 is unity. Zero means 1.0.
	Gain float32

	Reassembler chunk.ReassemblerConfig

	// Optional
	WriterObserver pacing.WriterObserver
	Observer       SessionObserver

	// Optional, defaults to the wall clock
	Clock pacing.Clock
}

type SessionState int

const (
	Dormant SessionState = iota
	Active
)

func (s SessionState) String() string {
	if s == Active {
		return "active"
	}
	return "dormant"
}

// The live half of an active session. Built on Enable, torn down on Disable.
//
// track -> augmentation -> fanOut -> every acquired stream
type pipeline struct {
	track        *device.TrackGeneratorDevice
	augmentation *device.AudioAugmentationDevice
	fanOut       *device.FanOutDevice
	writer       *pacing.Writer

	queue  chan chunk.ReassembledTrack
	cancel context.CancelFunc
	done   chan struct{}
}

// Snapshot of a session, for debugging.
type DebugInfo struct {
	State         string               `json:"state"`
	PendingTracks []chunk.PendingTrack `json:"pendingTracks"`
	QueuedTracks  int                  `json:"queuedTracks"`
	Streams       int                  `json:"streams"`
	FramesWritten int64                `json:"framesWritten"`
	SampleRate    int                  `json:"sampleRate"`
	Gain          float32              `json:"gain"`
}

// The process-wide state of the virtual microphone.
//
// A Session is Dormant until enabled, either by a virtual device being acquired
// or by a VIRTUAL_MIC_STATE message. While Active it owns a capture track fed
// by a single playback worker, so tracks are played strictly one after another
// in the order they completed. Chunks arriving while Dormant are dropped.
//
// Session is safe for concurrent use.
type Session struct {
	logger      *slog.Logger
	config      SessionConfig
	reassembler *chunk.Reassembler

	mu       sync.Mutex
	state    SessionState
	pipeline *pipeline
	gain     float32
	closed   bool
}

// Create a new, Dormant, Session.
// If no logger is given, slog.Default() is used.
func NewSession(config SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Channels == 0 {
		config.Channels = 1
	}
	if config.TrackQueueSize <= 0 {
		config.TrackQueueSize = DefaultTrackQueueSize
	}
	if config.SinkBuffer <= 0 {
		config.SinkBuffer = DefaultSinkBuffer
	}
	if config.Gain == 0 {
		config.Gain = 1.0
	}
	if config.Clock == nil {
		config.Clock = pacing.SystemClock()
	}

	logger = logger.With("session uuid", uuid.New())
	return &Session{
		logger:      logger,
		config:      config,
		reassembler: chunk.NewReassembler(config.Reassembler, logger),
		gain:        config.Gain,
	}
}

// Activate the session. Calling Enable on an Active session does nothing.
//
// Returns ErrUnsupported if the capture track cannot be created, and
// ErrSessionClosed after Close.
func (s *Session) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state == Active {
		return nil
	}

	properties := audiodevice.DeviceProperties{
		SampleRate:  s.config.SampleRate,
		NumChannels: s.config.Channels,
	}
	track, err := device.NewTrackGeneratorDevice(properties, s.config.SinkBuffer)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupported, err)
	}

	augmentation := device.NewAudioAugmentationDevice(properties)
	augmentation.SetVolumeAdjustMagnitude(s.gain)
	augmentation.SetStream(track.GetStream())

	fanOut := device.NewFanOutDevice(properties, s.config.SinkBuffer)
	fanOut.SetStream(augmentation.GetStream())

	opts := []pacing.Option{
		pacing.WithClock(s.config.Clock),
		pacing.WithLogger(s.logger),
	}
	if s.config.FrameDuration > 0 {
		opts = append(opts, pacing.WithFrameDuration(s.config.FrameDuration))
	}
	if s.config.WriterObserver != nil {
		opts = append(opts, pacing.WithObserver(s.config.WriterObserver))
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &pipeline{
		track:        track,
		augmentation: augmentation,
		fanOut:       fanOut,
		writer:       pacing.NewWriter(track, opts...),
		queue:        make(chan chunk.ReassembledTrack, s.config.TrackQueueSize),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go s.play(ctx, p)

	s.pipeline = p
	s.state = Active
	s.logger.Info("virtual microphone enabled")
	if s.config.Observer != nil {
		s.config.Observer.SetSessionActive(true)
	}
	return nil
}

// The playback worker: write queued tracks one at a time until ctx ends.
func (s *Session) play(ctx context.Context, p *pipeline) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case track := <-p.queue:
			if s.config.Observer != nil {
				s.config.Observer.SetTracksQueued(len(p.queue))
			}
			p.track.SetSampleRate(int(track.SampleRate))
			result, err := p.writer.Write(ctx, track)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn(
					"failed to play track",
					"trackID", track.TrackID,
					"framesWritten", result.Frames,
					"err", err,
				)
				continue
			}
			s.logger.Debug(
				"played track",
				"trackID", track.TrackID,
				"duration", result.Duration,
			)
		}
	}
}

// Return the session to Dormant: cancel playback, end the capture track (and
// with it every acquired stream) and discard every incomplete track.
// Calling Disable on a Dormant session does nothing.
func (s *Session) Disable() {
	s.mu.Lock()
	p := s.pipeline
	s.pipeline = nil
	s.state = Dormant
	var discarded int
	if p != nil {
		// No chunk may be ingested between the state change and the reset
		discarded = s.reassembler.Reset()
	}
	s.mu.Unlock()

	if p == nil {
		return
	}

	p.cancel()
	p.track.Close()
	<-p.done

	s.logger.Info("virtual microphone disabled", "discardedTracks", discarded)
	if s.config.Observer != nil {
		s.config.Observer.SetSessionActive(false)
		s.config.Observer.SetTracksQueued(0)
	}
}

// Disable the session for good. Enable fails with ErrSessionClosed afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.Disable()
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsActive() bool {
	return s.State() == Active
}

// Set the volume of the capture track, 1.0 is unity.
func (s *Session) SetGain(gain float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gain = gain
	if s.pipeline != nil {
		s.pipeline.augmentation.SetVolumeAdjustMagnitude(gain)
	}
}

// Acquire a new stream of the capture track, reported as coming from deviceID.
//
// Closing the handle detaches only that stream. Returns ErrDormant unless the session is Active.
func (s *Session) NewStream(deviceID string) (audioapi.StreamHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline == nil {
		return nil, ErrDormant
	}

	fanOut := s.pipeline.fanOut
	var handle audioapi.StreamHandle
	handle = audioapi.NewStreamHandle(deviceID, fanOut, func() {
		fanOut.RemoveStream(handle.GetStream())
	})
	s.logger.Debug("stream acquired", "streamID", handle.ID(), "streams", fanOut.NumStreams())
	return handle, nil
}

// Handle one message from the controlling context.
//
// State messages enable or disable the session. PCM chunks are reassembled,
// and each completed track is queued for playback. A chunk arriving while
// the session is Dormant is dropped with ErrDormant; a malformed chunk is
// rejected with chunk.ErrMalformedChunk; a completed track that does not fit
// the playback queue is dropped with ErrQueueFull.
func (s *Session) HandleMessage(ctx context.Context, msg protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil {
		return protocol.ErrUnknownMessageType
	}
	if s.config.Observer != nil {
		s.config.Observer.RecordMessage(msg.Type())
	}

	switch m := msg.(type) {
	case *protocol.StateMessage:
		if m.Enabled {
			return s.Enable()
		}
		s.Disable()
		return nil
	case *protocol.AudioChunkMessage:
		return s.handleChunk(chunk.FromMessage(m))
	default:
		return fmt.Errorf("%w: %T", protocol.ErrUnknownMessageType, msg)
	}
}

func (s *Session) handleChunk(c chunk.AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The state may not change until the chunk is ingested and its track queued
	if s.pipeline == nil {
		s.logger.Debug(
			"dropping chunk while dormant",
			"trackID", c.TrackID,
			"chunkIndex", c.ChunkIndex,
		)
		return ErrDormant
	}

	track, err := s.reassembler.Ingest(c)
	if err != nil || track == nil {
		return err
	}

	select {
	case s.pipeline.queue <- *track:
		if s.config.Observer != nil {
			s.config.Observer.SetTracksQueued(len(s.pipeline.queue))
		}
		return nil
	default:
		s.logger.Warn(
			"dropping track, playback queue full",
			"trackID", track.TrackID,
			"queueSize", cap(s.pipeline.queue),
		)
		if s.config.Observer != nil {
			s.config.Observer.RecordTrackDropped()
		}
		return fmt.Errorf("%w: track %s", ErrQueueFull, track.TrackID)
	}
}

// Incomplete tracks, sorted by track ID.
func (s *Session) Pending() []chunk.PendingTrack {
	return s.reassembler.Pending()
}

// Discard incomplete tracks not updated within the reassembler's TTL.
func (s *Session) EvictExpired() int {
	return s.reassembler.EvictExpired()
}

func (s *Session) Debug() DebugInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := DebugInfo{
		State:         s.state.String(),
		PendingTracks: s.reassembler.Pending(),
		Gain:          s.gain,
		SampleRate:    s.config.SampleRate,
	}
	if p := s.pipeline; p != nil {
		info.QueuedTracks = len(p.queue)
		info.Streams = p.fanOut.NumStreams()
		info.FramesWritten = p.track.FramesWritten()
		info.SampleRate = p.track.GetDeviceProperties().SampleRate
	}
	return info
}
