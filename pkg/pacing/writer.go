// Delivery of reassembled tracks into a capture sink at wall-clock rate.
//
// A track is cut into frames, each frame is timestamped from the accumulated
// duration of the frames before it, and the next frame is only written once
// the sink has accepted the previous one and playback time has caught up.
package pacing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/chunk"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/pcm"
	"github.com/google/uuid"
)

const (
	DefaultFrameDuration = time.Second
)

var (
	ErrNonFiniteSample    = errors.New("non-finite sample in track")
	ErrSinkRejected       = errors.New("sink rejected frame")
	ErrInvalidSampleRate  = errors.New("invalid sample rate")
	ErrInvalidFrameLength = errors.New("frame duration shorter than one sample")
)

// A consumer of timestamped frames, such as a capture track generator.
//
// WriteFrame blocks until the frame is accepted. Returning nil is the acceptance
// signal, a non-nil error means the frame was rejected.
type FrameSink interface {
	WriteFrame(ctx context.Context, f frame.AudioFrame) error
}

// Receives events from a Writer, e.g. for metrics.
type WriterObserver interface {
	FrameWritten(numSamples int)
	WriteAborted()

	// How far behind its schedule the writer was when a frame was accepted.
	// Zero or negative when on time.
	PacingLag(d time.Duration)
}

// ----------------------------------------------------------------------------

type State int32

const (
	Idle State = iota
	Writing
	Waiting
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Writing:
		return "writing"
	case Waiting:
		return "waiting"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Summary of a (possibly partial) track write.
type Result struct {
	Frames   int
	Samples  int
	Duration time.Duration
}

// ----------------------------------------------------------------------------

type Option func(*Writer)

// Set the length of each frame. Defaults to DefaultFrameDuration.
func WithFrameDuration(d time.Duration) Option {
	return func(w *Writer) {
		w.frameDuration = d
	}
}

func WithClock(c Clock) Option {
	return func(w *Writer) {
		w.clock = c
	}
}

func WithObserver(o WriterObserver) Option {
	return func(w *Writer) {
		w.observer = o
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// Writes tracks into a FrameSink in real time.
//
// Calls to Write and WriteFrames are serialised, so frames of two tracks
// written from different goroutines never interleave.
type Writer struct {
	sink          FrameSink
	frameDuration time.Duration
	clock         Clock
	observer      WriterObserver
	logger        *slog.Logger

	writeMu sync.Mutex
	state   atomic.Int32
}

func NewWriter(sink FrameSink, opts ...Option) *Writer {
	w := &Writer{
		sink:          sink,
		frameDuration: DefaultFrameDuration,
		clock:         SystemClock(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.frameDuration <= 0 {
		w.logger.Warn(
			"non-positive frame duration, using default",
			"frameDuration", w.frameDuration,
		)
		w.frameDuration = DefaultFrameDuration
	}
	w.logger = w.logger.With("writer uuid", uuid.New())

	return w
}

// The current position of the writer in its write cycle.
func (w *Writer) State() State {
	return State(w.state.Load())
}

func (w *Writer) setState(s State) {
	w.state.Store(int32(s))
}

// Write a reassembled track, converting its samples to unit floats.
func (w *Writer) Write(ctx context.Context, track chunk.ReassembledTrack) (Result, error) {
	w.logger.Debug(
		"writing track",
		"trackID", track.TrackID,
		"sampleRate", track.SampleRate,
		"numSamples", len(track.Samples),
	)
	return w.WriteFrames(ctx, int(track.SampleRate), pcm.ToFrame(track.Samples))
}

// Write samples into the sink, one frame at a time, at playback rate.
//
// Every sample is checked before anything is written; a NaN or infinite
// sample aborts the whole track with ErrNonFiniteSample. A sink error aborts
// the remaining frames with ErrSinkRejected and is not retried. If ctx ends,
// WriteFrames returns immediately with the context error; a write already
// handed to the sink may still complete but is not counted.
//
// The returned Result describes the frames the sink accepted.
func (w *Writer) WriteFrames(ctx context.Context, sampleRate int, samples frame.PCMFrame) (Result, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	var result Result

	if sampleRate <= 0 {
		return result, w.abort(fmt.Errorf("%w: %d", ErrInvalidSampleRate, sampleRate))
	}
	if i := pcm.FirstNonFinite(samples); i >= 0 {
		return result, w.abort(fmt.Errorf("%w: sample %d is %v", ErrNonFiniteSample, i, samples[i]))
	}
	if minVal, maxVal := pcm.MinMax(samples); minVal < -1.0 || maxVal > 1.0 {
		w.logger.Warn(
			"samples outside [-1, 1]",
			"min", minVal,
			"max", maxVal,
		)
	}

	frameSamples := int(int64(sampleRate) * int64(w.frameDuration) / int64(time.Second))
	if frameSamples < 1 {
		return result, w.abort(fmt.Errorf("%w: %v at %d Hz", ErrInvalidFrameLength, w.frameDuration, sampleRate))
	}

	start := w.clock.Now()
	timestamp := start
	for offset := 0; offset < len(samples); offset += frameSamples {
		end := min(offset+frameSamples, len(samples))
		f := frame.AudioFrame{
			Samples:    samples[offset:end:end],
			SampleRate: sampleRate,
			Timestamp:  timestamp,
		}
		if len(f.Samples) == 0 {
			continue
		}

		w.setState(Writing)
		if err := w.writeFrame(ctx, f); err != nil {
			w.logger.Warn(
				"track write aborted",
				"framesWritten", result.Frames,
				"err", err,
			)
			return result, w.abort(err)
		}

		result.Frames += 1
		result.Samples += len(f.Samples)
		result.Duration += f.Duration()
		timestamp = timestamp.Add(f.Duration())
		if w.observer != nil {
			w.observer.FrameWritten(len(f.Samples))
		}

		// Wait against the schedule rather than for a fixed duration, so a
		// slow sink does not push later frames further out
		w.setState(Waiting)
		lag := w.clock.Now().Sub(timestamp)
		if w.observer != nil {
			w.observer.PacingLag(lag)
		}
		if err := w.clock.Sleep(ctx, -lag); err != nil {
			return result, w.abort(err)
		}
	}

	w.setState(Done)
	w.logger.Debug(
		"track written",
		"frames", result.Frames,
		"samples", result.Samples,
		"duration", result.Duration,
		"elapsed", w.clock.Now().Sub(start),
	)
	return result, nil
}

// Hand f to the sink and wait for it to be accepted, or for ctx to end.
func (w *Writer) writeFrame(ctx context.Context, f frame.AudioFrame) error {
	accepted := make(chan error, 1)
	go func() {
		accepted <- w.sink.WriteFrame(ctx, f)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-accepted:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSinkRejected, err)
		}
		return nil
	}
}

func (w *Writer) abort(err error) error {
	w.setState(Aborted)
	if w.observer != nil {
		w.observer.WriteAborted()
	}
	return err
}
