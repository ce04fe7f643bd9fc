package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/google/uuid"
)

const (
	DefaultTrackQueueFrames = 4
)

var (
	ErrTrackEnded          = errors.New("track generator has ended")
	ErrSampleRateMismatch  = errors.New("frame sample rate does not match track")
	ErrUnsupportedChannels = errors.New("track generator only supports mono audio")
)

// A software capture track: frames written to it become the audio of a live stream.
//
// TrackGeneratorDevice is the sink end of the virtual microphone. It accepts
// timestamped frames through WriteFrame (satisfying pacing.FrameSink) and is an
// AudioSourceDevice, so the written audio can be read from GetStream.
//
// WriteFrame blocks while the internal queue is full, which gives writers
// backpressure from the consumer of GetStream.
//
// Each track written carries its own sample rate. SetSampleRate starts a new
// track at a new rate; without it, the rate of the first accepted frame is
// adopted. Within a track, frames at any other rate are rejected.
//
// If the device is created with a non-zero SampleRate, that is the rate of
// the stream and frames of tracks at other rates are resampled on their way
// out. With a SampleRate of 0 the stream follows the rate of the track being
// played, and GetDeviceProperties reports the rate of the last frame read.
type TrackGeneratorDevice struct {
	logger *slog.Logger

	// Fixed rate of the stream, 0 to follow the tracks
	outputRate int

	propertiesMutex sync.RWMutex
	properties      audiodevice.DeviceProperties
	trackRate       int

	queue      chan frame.AudioFrame
	sinkStream chan frame.PCMFrame

	done         chan struct{}
	shutdownOnce sync.Once

	framesWritten atomic.Int64
}

// Create a new TrackGeneratorDevice holding at most queueFrames frames that
// have been accepted but not yet read from the stream.
func NewTrackGeneratorDevice(properties audiodevice.DeviceProperties, queueFrames int) (*TrackGeneratorDevice, error) {
	if properties.NumChannels == 0 {
		properties.NumChannels = 1
	}
	if properties.NumChannels != 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedChannels, properties.NumChannels)
	}
	if queueFrames <= 0 {
		queueFrames = DefaultTrackQueueFrames
	}

	d := &TrackGeneratorDevice{
		logger: slog.Default().With(
			"track generator uuid", uuid.New(),
		),
		outputRate: properties.SampleRate,
		properties: properties,
		queue:      make(chan frame.AudioFrame, queueFrames),
		sinkStream: make(chan frame.PCMFrame),
		done:       make(chan struct{}),
	}
	go d.forward()

	return d, nil
}

func (d *TrackGeneratorDevice) forward() {
	defer close(d.sinkStream)
	var r *frameResampler
	for {
		select {
		case <-d.done:
			return
		case f := <-d.queue:
			samples := f.Samples
			switch {
			case d.outputRate == 0:
				d.propertiesMutex.Lock()
				d.properties.SampleRate = f.SampleRate
				d.propertiesMutex.Unlock()
			case f.SampleRate != d.outputRate:
				if r == nil || r.from != f.SampleRate {
					d.logger.Debug("resampling track", "from", f.SampleRate, "to", d.outputRate)
					r = newFrameResampler(f.SampleRate, d.outputRate)
				}
				samples = r.resample(samples)
			}

			select {
			case d.sinkStream <- samples:
			case <-d.done:
				return
			}
		}
	}
}

// Write a frame into the track, blocking until it is queued.
//
// Returns ErrTrackEnded once the device is closed, and ErrSampleRateMismatch
// for a frame at a rate other than the current track's.
func (d *TrackGeneratorDevice) WriteFrame(ctx context.Context, f frame.AudioFrame) error {
	select {
	case <-d.done:
		return ErrTrackEnded
	default:
	}

	if err := d.checkSampleRate(f.SampleRate); err != nil {
		return err
	}

	select {
	case <-d.done:
		return ErrTrackEnded
	case <-ctx.Done():
		return ctx.Err()
	case d.queue <- f:
		d.framesWritten.Add(1)
		return nil
	}
}

// Start a new track at sampleRate. Frames written afterwards must be at that rate.
func (d *TrackGeneratorDevice) SetSampleRate(sampleRate int) {
	d.propertiesMutex.Lock()
	defer d.propertiesMutex.Unlock()
	if d.trackRate != sampleRate {
		d.logger.Debug("track sample rate changed", "from", d.trackRate, "to", sampleRate)
	}
	d.trackRate = sampleRate
}

func (d *TrackGeneratorDevice) checkSampleRate(sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: frame at %d Hz", ErrSampleRateMismatch, sampleRate)
	}

	d.propertiesMutex.Lock()
	defer d.propertiesMutex.Unlock()
	if d.trackRate == 0 {
		d.trackRate = sampleRate
		d.logger.Debug("adopted sample rate of first frame", "sampleRate", sampleRate)
		return nil
	}
	if d.trackRate != sampleRate {
		return fmt.Errorf("%w: track at %d Hz, frame at %d Hz", ErrSampleRateMismatch, d.trackRate, sampleRate)
	}
	return nil
}

// Number of frames accepted since creation.
func (d *TrackGeneratorDevice) FramesWritten() int64 {
	return d.framesWritten.Load()
}

// End the track. Pending writes return ErrTrackEnded and the stream is closed.
// Frames still queued are discarded.
func (d *TrackGeneratorDevice) Close() {
	d.shutdownOnce.Do(func() {
		d.logger.Debug("closing track", "framesWritten", d.framesWritten.Load())
		close(d.done)
	})
}

func (d *TrackGeneratorDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *TrackGeneratorDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	d.propertiesMutex.RLock()
	defer d.propertiesMutex.RUnlock()
	return d.properties
}
