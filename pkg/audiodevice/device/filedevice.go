package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/pcm"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

var (
	ErrInvalidWAV          = errors.New("invalid wav file")
	ErrUnsupportedBitDepth = errors.New("unsupported wav bit depth")
)

// --------------------------------------------------------------------------------
// WAV input

// A whole WAV file, decoded to mono 16-bit samples.
type WAVTrack struct {
	Samples    []int16
	SampleRate uint32

	// Channel count of the file before it was mixed down to mono
	SourceChannels int
}

// Read and decode a .WAV file, see DecodeWAV.
func ReadWAVFile(audioFilePath string) (*WAVTrack, error) {
	f, err := os.Open(audioFilePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	track, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", audioFilePath, err)
	}
	return track, nil
}

// Decode a whole WAV stream to mono 16-bit samples.
//
// 8, 16, 24 and 32 bit integer PCM is accepted and rescaled to 16 bits.
// Files with several channels are mixed down by averaging.
func DecodeWAV(r io.ReadSeeker) (*WAVTrack, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, decoder.Err())
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	toInt16, err := rescalerForBitDepth(int(decoder.BitDepth))
	if err != nil {
		return nil, err
	}

	numChannels := max(int(decoder.NumChans), 1)
	samples := make([]int16, len(buf.Data)/numChannels)
	for i := range samples {
		sum := 0
		for c := range numChannels {
			sum += toInt16(buf.Data[i*numChannels+c])
		}
		samples[i] = int16(sum / numChannels)
	}

	slog.Debug(
		"decoded wav",
		"sampleRate", decoder.SampleRate,
		"channels", decoder.NumChans,
		"bitDepth", decoder.BitDepth,
		"numSamples", len(samples),
	)

	return &WAVTrack{
		Samples:        samples,
		SampleRate:     decoder.SampleRate,
		SourceChannels: numChannels,
	}, nil
}

func rescalerForBitDepth(bitDepth int) (func(int) int, error) {
	switch bitDepth {
	case 8:
		// 8 bit wav is unsigned
		return func(v int) int { return (v - 128) << 8 }, nil
	case 16:
		return func(v int) int { return v }, nil
	case 24:
		return func(v int) int { return v >> 8 }, nil
	case 32:
		return func(v int) int { return v >> 16 }, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}
}

// --------------------------------------------------------------------------------
// FileAudioOutputDevice

// Define an AudioSinkDevice that reads from a channel and writes the result to a 16-bit .WAV file.
// Note the resulting file is only valid once the input channel is closed.
type FileAudioOutputDevice struct {
	ctx           context.Context
	ctxCancelFunc context.CancelFunc
	logger        *slog.Logger
	encoder       *wav.Encoder
	fileHandle    *os.File

	samplesWritten int
}

// Create a new FileAudioOutputDevice that writes incoming PCM frames to a .WAV file at the specified path.
func NewFileAudioOutputDevice(
	audioFilePath string,
	properties audiodevice.DeviceProperties,
) (*FileAudioOutputDevice, error) {
	logger := slog.Default().With(
		"file output device uuid", uuid.New(),
	)

	if properties.NumChannels == 0 {
		properties.NumChannels = 1
	}

	f, err := os.Create(audioFilePath)
	if err != nil {
		logger.Error(
			"could not create audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}

	encoder := wav.NewEncoder(f, properties.SampleRate, 16, properties.NumChannels, 1)

	logger.Debug(
		"created audio file",
		"audioFile", audioFilePath,
		"sampleRate", encoder.SampleRate,
		"channels", encoder.NumChans,
	)

	ctx, ctxCancelFunc := context.WithCancel(context.Background())
	return &FileAudioOutputDevice{
		ctx:           ctx,
		ctxCancelFunc: ctxCancelFunc,
		logger:        logger,
		encoder:       encoder,
		fileHandle:    f,
	}, nil
}

// Wait for this device to be closed
// Blocks until the source stream has closed and the file is finalised
func (d *FileAudioOutputDevice) WaitForClose() {
	<-d.ctx.Done()
}

// Number of samples written to the file so far.
// Only safe to read once WaitForClose has returned.
func (d *FileAudioOutputDevice) SamplesWritten() int {
	return d.samplesWritten
}

func (d *FileAudioOutputDevice) close() {
	defer d.ctxCancelFunc()
	if err := d.encoder.Close(); err != nil {
		d.logger.Error("error while finalising wav file", "err", err)
	}
	d.fileHandle.Sync()
	d.fileHandle.Close()
}

// Set the source channel of this audio device, i.e. where data comes from.
// Raw audio data (as PCMFrames) will arrive on the given channel.
//
// When this stream is closed, the file is finalised and closed.
func (d *FileAudioOutputDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	go func() {
		bufFormat := &goaudio.Format{
			SampleRate:  d.encoder.SampleRate,
			NumChannels: d.encoder.NumChans,
		}
		for pcmFrame := range sourceStream {
			buf := &goaudio.IntBuffer{
				Format:         bufFormat,
				Data:           make([]int, len(pcmFrame)),
				SourceBitDepth: 16,
			}
			for i, sample := range pcmFrame {
				buf.Data[i] = int(pcm.ToInt16(sample))
			}

			if err := d.encoder.Write(buf); err != nil {
				d.logger.Error("error while writing frame to file", "err", err)
				continue
			}
			d.samplesWritten += len(pcmFrame)
		}
		d.logger.Debug("source stream closed", "samplesWritten", d.samplesWritten)
		d.close()
	}()
}

func (d *FileAudioOutputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{
		SampleRate:  d.encoder.SampleRate,
		NumChannels: d.encoder.NumChans,
	}
}
