package audiodevice

import "github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"

// Sample rate and channel layout of the frames a device produces or consumes.
// Every device in this module is mono, but the channel count is carried so
// that WAV headers and capture tracks can be described fully.
type DeviceProperties struct {
	SampleRate  int
	NumChannels int
}

// Interface for audio source devices, e.g. microphones or a capture track
//
// Source devices need only define some way to get data out of the device,
// which returns a channel (stream) of PCMFrames
type AudioSourceDevice interface {
	// Get the stream of this audio device.
	//
	// Raw audio data (as PCMFrames) will arrive on the returned channel.
	GetStream() <-chan frame.PCMFrame

	// Meaningfully close the AudioSourceDevice, including any cleanup of
	// memory and closing of channels.
	//
	// It is assumed that once closed, this device will transmit no more information.
	Close()

	GetDeviceProperties() DeviceProperties
}

// Interface for audio sink devices, e.g. a recorder or a WebRTC track
//
// Sink devices need only define some way to consume data,
// taken as a channel (stream) of PCMFrames
type AudioSinkDevice interface {
	// Set the source stream of this audio device.
	//
	// When this stream is closed, the device cleans itself up.
	// Sinks have no Close method: closing the upstream source cascades
	// down the pipeline instead, so no source ever sends on a closed channel.
	SetStream(sourceStream <-chan frame.PCMFrame)

	GetDeviceProperties() DeviceProperties
}
