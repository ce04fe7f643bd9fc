package controller

import (
	"math"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
)

const (
	ToneBaseFrequency = 440.0
)

// Generate a test tone: a sine at ToneBaseFrequency with slow frequency
// modulation, two harmonics kept under the Nyquist frequency, and a slow
// amplitude "breathing". Peaks stay below 0.5.
func Tone(duration time.Duration, sampleRate int) frame.PCMFrame {
	numSamples := int(int64(duration) * int64(sampleRate) / int64(time.Second))
	samples := make(frame.PCMFrame, numSamples)

	// Modulation advances once per 20ms block
	blockSamples := max(sampleRate/50, 1)
	nyquist := float64(sampleRate) / 2

	var phase float64
	for i := range samples {
		block := float64(i / blockSamples)
		currentFreq := ToneBaseFrequency + math.Sin(block*0.01)*50

		sample := math.Sin(phase)
		if currentFreq*2 < nyquist {
			sample += 0.3 * math.Sin(phase*2)
		}
		if currentFreq*3 < nyquist {
			sample += 0.1 * math.Sin(phase*3)
		}
		amplitude := 0.3 + 0.2*math.Sin(block*0.005)
		samples[i] = float32(sample * amplitude / 1.4)

		phase += 2 * math.Pi * currentFreq / float64(sampleRate)
		if phase >= 2*math.Pi {
			phase -= 2 * math.Pi
		}
	}
	return samples
}
