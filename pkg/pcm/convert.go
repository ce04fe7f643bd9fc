// Conversion between signed 16-bit PCM and the unit-scaled float32 samples
// carried by frame.PCMFrame.
package pcm

import (
	"math"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
)

const (
	// Scale between int16 samples and unit floats. A power of two, so
	// ToFloat is exact and ToInt16 is its exact inverse.
	scale = 32768.0
)

// Convert a single int16 sample to a float in [-1.0, 1.0).
func ToFloat(sample int16) float32 {
	return float32(sample) / scale
}

// Convert a float sample to int16. The value is scaled, floored and clamped to
// [-32768, 32767]. Out of range values are clamped rather than rejected and NaN maps to 0.
func ToInt16(sample float32) int16 {
	if sample != sample {
		return 0
	}
	v := math.Floor(float64(sample) * scale)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Convert a slice of int16 samples to a newly allocated PCMFrame.
func ToFrame(samples []int16) frame.PCMFrame {
	f := make(frame.PCMFrame, len(samples))
	for i, s := range samples {
		f[i] = ToFloat(s)
	}
	return f
}

// Convert a PCMFrame to a newly allocated slice of int16 samples.
func FromFrame(f frame.PCMFrame) []int16 {
	samples := make([]int16, len(f))
	for i, s := range f {
		samples[i] = ToInt16(s)
	}
	return samples
}

// Return the index of the first NaN or infinite sample in f, or -1 if every sample is finite.
func FirstNonFinite(f frame.PCMFrame) int {
	for i, s := range f {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}

// Return the minimum and maximum sample of f. Both are zero for an empty frame.
func MinMax(f frame.PCMFrame) (float32, float32) {
	if len(f) == 0 {
		return 0, 0
	}
	minVal, maxVal := f[0], f[0]
	for _, s := range f[1:] {
		minVal = min(minVal, s)
		maxVal = max(maxVal, s)
	}
	return minVal, maxVal
}
