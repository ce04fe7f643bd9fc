package device

import (
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
)

// An AudioSourceDevice that will never produce a frame.
//
// Stands in for a physical microphone where no audio hardware is available.
type DummyAudioSourceDevice struct {
	properties   audiodevice.DeviceProperties
	shutdownOnce sync.Once
	sinkStream   chan frame.PCMFrame
}

func NewDummyAudioSourceDevice(properties audiodevice.DeviceProperties) *DummyAudioSourceDevice {
	return &DummyAudioSourceDevice{
		properties: properties,
		sinkStream: make(chan frame.PCMFrame),
	}
}

func (d *DummyAudioSourceDevice) Close() {
	d.shutdownOnce.Do(func() {
		close(d.sinkStream)
	})
}

func (d *DummyAudioSourceDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *DummyAudioSourceDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// An AudioSinkDevice that consumes all frames, only counting them.
//
// Used to drain a stream nobody else listens to.
type DummyAudioSinkDevice struct {
	properties audiodevice.DeviceProperties

	framesConsumed  atomic.Int64
	samplesConsumed atomic.Int64
	done            chan struct{}
}

func NewDummyAudioSinkDevice(properties audiodevice.DeviceProperties) *DummyAudioSinkDevice {
	return &DummyAudioSinkDevice{
		properties: properties,
		done:       make(chan struct{}),
	}
}

func (d *DummyAudioSinkDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	go func() {
		defer close(d.done)
		for pcmFrame := range sourceStream {
			d.framesConsumed.Add(1)
			d.samplesConsumed.Add(int64(len(pcmFrame)))
		}
	}()
}

// Closed once the source stream has closed and been drained.
func (d *DummyAudioSinkDevice) Done() <-chan struct{} {
	return d.done
}

func (d *DummyAudioSinkDevice) FramesConsumed() int64 {
	return d.framesConsumed.Load()
}

func (d *DummyAudioSinkDevice) SamplesConsumed() int64 {
	return d.samplesConsumed.Load()
}

func (d *DummyAudioSinkDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}
