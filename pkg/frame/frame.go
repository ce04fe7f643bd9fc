package frame

import "time"

// Raw, unit-scaled mono audio samples in [-1.0, 1.0].
type PCMFrame []float32

// Audio after encoding for a codec (e.g. PCMU bytes), ready to be handed to a transport.
type EncodedFrame []byte

// A timestamped frame of audio, as accepted by a capture track sink.
//
// Timestamp is the presentation time of the first sample in the frame.
// Successive frames of one track have timestamps that advance by exactly
// the Duration of the previous frame.
type AudioFrame struct {
	Samples    PCMFrame
	SampleRate int
	Timestamp  time.Time
}

// The playback duration of this frame, derived from the sample count and the sample rate.
func (f AudioFrame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// The playback duration of numSamples mono samples at sampleRate.
//
// The result is computed from the sample count directly so that
// summing the durations of consecutive offsets never accumulates rounding error.
func SamplesDuration(numSamples int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(numSamples) * int64(time.Second) / int64(sampleRate))
}
