// Frequency analysis of captured audio, used to check what came out of a
// microphone without listening to it.
package spectrum

import (
	"math"
	"math/cmplx"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/mjibson/go-dsp/fft"
)

// The magnitude of each frequency bin up to the Nyquist frequency,
// normalised by the number of samples. Bin i is at i * sampleRate / len(samples) Hz.
func Magnitudes(samples frame.PCMFrame) []float64 {
	if len(samples) == 0 {
		return nil
	}
	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
	}

	bins := fft.FFTReal(x)
	n := len(bins)
	magnitudes := make([]float64, n/2+1)
	for i := range magnitudes {
		magnitudes[i] = cmplx.Abs(bins[i]) / float64(n)
	}
	return magnitudes
}

// The frequency in Hz of the strongest bin, ignoring DC.
// Returns 0 for silence or for fewer than two samples.
func DominantFrequency(samples frame.PCMFrame, sampleRate int) float64 {
	magnitudes := Magnitudes(samples)
	if len(magnitudes) < 2 {
		return 0
	}

	peak, peakMagnitude := 0, 0.0
	for i, m := range magnitudes[1:] {
		if m > peakMagnitude {
			peak, peakMagnitude = i+1, m
		}
	}
	if peakMagnitude < 1e-9 {
		return 0
	}
	return float64(peak) * float64(sampleRate) / float64(len(samples))
}

// The root mean square level of samples, 0 for an empty frame.
func RMS(samples frame.PCMFrame) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
