package device

import (
	"slices"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
)

func TestAudioAugmentationVolume(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		magnitude float32
		input     frame.PCMFrame
		expected  frame.PCMFrame
	}{
		{name: "unity", magnitude: 1.0, input: frame.PCMFrame{0.5, -0.25}, expected: frame.PCMFrame{0.5, -0.25}},
		{name: "half", magnitude: 0.5, input: frame.PCMFrame{0.5, -0.25}, expected: frame.PCMFrame{0.25, -0.125}},
		{name: "mute", magnitude: 0, input: frame.PCMFrame{0.5, -0.25}, expected: frame.PCMFrame{0, 0}},
		{name: "negative is mute", magnitude: -3, input: frame.PCMFrame{0.5}, expected: frame.PCMFrame{0}},
		{name: "clamped", magnitude: 4, input: frame.PCMFrame{0.5, -0.5, 0.125}, expected: frame.PCMFrame{1, -1, 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := NewAudioAugmentationDevice(audiodevice.DeviceProperties{SampleRate: 8000, NumChannels: 1})
			d.SetVolumeAdjustMagnitude(tt.magnitude)

			source := make(chan frame.PCMFrame, 1)
			d.SetStream(source)

			input := slices.Clone(tt.input)
			source <- input
			close(source)

			got := <-d.GetStream()
			if !slices.Equal(got, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
			if !slices.Equal(input, tt.input) {
				t.Errorf("Source frame was modified: %v", input)
			}
			if _, ok := <-d.GetStream(); ok {
				t.Error("Expected output closed after source closed")
			}
		})
	}
}
