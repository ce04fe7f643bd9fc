package device

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/encoderdecoder"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	// Audio is handed to the track in packets of this length
	WebRTCPacketDuration = 20 * time.Millisecond
)

var (
	ErrUnsupportedCodec = errors.New("unsupported track codec")
)

// An AudioSinkDevice publishing a stream on a WebRTC track, e.g. to send an
// acquired microphone to a remote peer.
//
// Only PCMU (G.711 μ-law) tracks are supported. PCMU runs at 8000 Hz; a
// stream at any other rate is resampled before encoding.
type WebRTCTrackSinkDevice struct {
	logger     *slog.Logger
	properties audiodevice.DeviceProperties
	track      *webrtc.TrackLocalStaticSample
	encoder    encoderdecoder.EncoderDecoder

	clockRate        int
	samplesPerPacket int
	done             chan struct{}
}

func NewWebRTCTrackSinkDevice(track *webrtc.TrackLocalStaticSample, properties audiodevice.DeviceProperties) (*WebRTCTrackSinkDevice, error) {
	codec := track.Codec()
	encoder, err := encoderdecoder.NewEncoderDecoderForCodec(codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec.MimeType)
	}
	if codec.ClockRate == 0 {
		codec.ClockRate = 8000
	}
	if properties.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: stream at %d Hz", ErrSampleRateMismatch, properties.SampleRate)
	}

	return &WebRTCTrackSinkDevice{
		logger: slog.Default().With(
			"webrtc track sink uuid", uuid.New(),
			"trackID", track.ID(),
		),
		properties:       properties,
		track:            track,
		encoder:          encoder,
		clockRate:        int(codec.ClockRate),
		samplesPerPacket: int(int64(codec.ClockRate) * int64(WebRTCPacketDuration) / int64(time.Second)),
		done:             make(chan struct{}),
	}, nil
}

// Encode frames arriving on sourceStream and write them to the track until the stream closes.
func (d *WebRTCTrackSinkDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	go func() {
		defer close(d.done)
		var r *frameResampler
		if d.properties.SampleRate != d.clockRate {
			d.logger.Debug("resampling stream for track", "from", d.properties.SampleRate, "to", d.clockRate)
			r = newFrameResampler(d.properties.SampleRate, d.clockRate)
		}
		for pcmFrame := range sourceStream {
			if r != nil {
				pcmFrame = r.resample(pcmFrame)
			}
			for start := 0; start < len(pcmFrame); start += d.samplesPerPacket {
				end := min(start+d.samplesPerPacket, len(pcmFrame))
				packet := pcmFrame[start:end]
				encoded, err := d.encoder.Encode(packet)
				if err != nil {
					d.logger.Error("error encoding packet", "err", err)
					continue
				}
				err = d.track.WriteSample(media.Sample{
					Data:     encoded,
					Duration: frame.SamplesDuration(len(packet), d.clockRate),
				})
				if err != nil {
					d.logger.Error("error writing sample to track", "err", err)
				}
			}
		}
		d.logger.Debug("source stream closed")
	}()
}

// Closed once the source stream has closed and every frame was written.
func (d *WebRTCTrackSinkDevice) Done() <-chan struct{} {
	return d.done
}

func (d *WebRTCTrackSinkDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}
