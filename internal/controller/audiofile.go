package controller

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice/device"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

var (
	ErrUnsupportedAudioFile = errors.New("unsupported audio file")
	ErrInvalidAudioFile     = errors.New("invalid audio file")
)

// go-mp3 always decodes to interleaved 16-bit little-endian stereo
const mp3Channels = 2

// Read an audio file and mix it down to mono 16-bit samples.
// The format is chosen by extension: .wav, .mp3 or .ogg.
func ReadAudioFile(path string) (*device.WAVTrack, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".wav" {
		return device.ReadWAVFile(path)
	}

	var decode func(io.Reader) (*device.WAVTrack, error)
	switch ext {
	case ".mp3":
		decode = decodeMP3
	case ".ogg", ".oga":
		decode = decodeVorbis
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAudioFile, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	track, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return track, nil
}

func decodeMP3(r io.Reader) (*device.WAVTrack, error) {
	decoder, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAudioFile, err)
	}
	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAudioFile, err)
	}

	interleaved := make([]int, len(raw)/2)
	for i := range interleaved {
		interleaved[i] = int(int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8))
	}
	return &device.WAVTrack{
		Samples:        mixDown(interleaved, mp3Channels),
		SampleRate:     uint32(decoder.SampleRate()),
		SourceChannels: mp3Channels,
	}, nil
}

func decodeVorbis(r io.Reader) (*device.WAVTrack, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAudioFile, err)
	}

	interleaved := make([]int, len(data))
	for i, sample := range data {
		interleaved[i] = int(math.Round(float64(max(-1, min(1, sample))) * math.MaxInt16))
	}
	return &device.WAVTrack{
		Samples:        mixDown(interleaved, format.Channels),
		SampleRate:     uint32(format.SampleRate),
		SourceChannels: format.Channels,
	}, nil
}

// Average interleaved samples across channels. A trailing partial frame is dropped.
func mixDown(interleaved []int, channels int) []int16 {
	channels = max(channels, 1)
	samples := make([]int16, len(interleaved)/channels)
	for i := range samples {
		sum := 0
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		samples[i] = int16(sum / channels)
	}
	return samples
}
