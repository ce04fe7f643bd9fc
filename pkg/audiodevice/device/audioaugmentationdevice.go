package device

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
)

// Middle-man processing device to handle audio augmentations,
// such as volume controls.
// This device is both a sink and a source!
type AudioAugmentationDevice struct {
	deviceProperties audiodevice.DeviceProperties

	// The stream that data *leaves on*
	// i.e. the stream that acts like a source, as it produces frames
	sinkStream chan frame.PCMFrame

	augmentationFunctions []audioAugmentationFunction

	// float32 bits of the volume magnitude, so it may change while frames flow
	volumeAdjustBits atomic.Uint32

	shutdownOnce sync.Once
}

// Create a new AudioAugmentationDevice, automatically adding
// audioAugmentationFunctions:
//   - volumeAdjust (controlled with AudioAugmentationDevice.SetVolumeAdjustMagnitude)
//     (0.0 for mute, no cap on volume, but samples are clamped to [-1, 1])
//
// This device will only start processing once SetStream is called.
func NewAudioAugmentationDevice(deviceProperties audiodevice.DeviceProperties) *AudioAugmentationDevice {
	device := &AudioAugmentationDevice{
		deviceProperties: deviceProperties,
		sinkStream:       make(chan frame.PCMFrame),
	}
	device.volumeAdjustBits.Store(math.Float32bits(1.0))

	device.augmentationFunctions = []audioAugmentationFunction{
		device.volumeAdjust,
	}

	return device
}

// --------------------------------------------------------------------------------
// AudioSourceDevice Interface

func (d *AudioAugmentationDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *AudioAugmentationDevice) Close() {
	d.shutdownOnce.Do(func() {
		close(d.sinkStream)
	})
}

// The device properties of the incoming and outgoing PCMFrames are identical,
// so this serves as both Source and Sink Device Properties
func (d *AudioAugmentationDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.deviceProperties
}

// --------------------------------------------------------------------------------
// AudioSinkDevice Interface

// Set the source channel of this audio device, i.e. where data comes from.
//
// When this stream is closed, the output stream is closed too.
func (d *AudioAugmentationDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	go func() {
		for pcmFrame := range sourceStream {
			// Upstream frames may be shared, never modify them in place
			augmented := make(frame.PCMFrame, len(pcmFrame))
			copy(augmented, pcmFrame)
			for _, f := range d.augmentationFunctions {
				augmented = f(augmented)
			}
			d.sinkStream <- augmented
		}
		d.Close()
	}()
}

// --------------------------------------------------------------------------------
// Methods relating to changing the augmentation functions

// Set the volumeAdjustMagnitude to a new value. Negative values are treated as 0.
// 0.0 means muted, 1.0 is natural scaling.
func (d *AudioAugmentationDevice) SetVolumeAdjustMagnitude(volumeAdjustMagnitude float32) {
	if volumeAdjustMagnitude < 0.0 || volumeAdjustMagnitude != volumeAdjustMagnitude {
		volumeAdjustMagnitude = 0.0
	}
	d.volumeAdjustBits.Store(math.Float32bits(volumeAdjustMagnitude))
}

func (d *AudioAugmentationDevice) GetVolumeAdjustMagnitude() float32 {
	return math.Float32frombits(d.volumeAdjustBits.Load())
}

// --------------------------------------------------------------------------------

// An audioAugmentationFunction produces PCMFrames with the same device
// properties as sourceFrame, and may modify sourceFrame in place.
type audioAugmentationFunction func(sourceFrame frame.PCMFrame) frame.PCMFrame

func (d *AudioAugmentationDevice) volumeAdjust(sourceFrame frame.PCMFrame) frame.PCMFrame {
	magnitude := d.GetVolumeAdjustMagnitude()
	if magnitude == 1.0 {
		return sourceFrame
	}
	for i := range sourceFrame {
		sourceFrame[i] = max(-1.0, min(1.0, sourceFrame[i]*magnitude))
	}
	return sourceFrame
}
