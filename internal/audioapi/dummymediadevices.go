package audioapi

import (
	"context"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice/device"
)

const (
	DummyMicrophoneID    = "dummy-microphone"
	DummyMicrophoneLabel = "Dummy Microphone"
)

// A platform that lists a single microphone, which produces no frames, ever.
//
// This platform is intended to be used in testing, or on hosts without audio hardware.
type DummyMediaDevices struct {
	properties audiodevice.DeviceProperties
	requests   atomic.Int64
}

func NewDummyMediaDevices(properties audiodevice.DeviceProperties) *DummyMediaDevices {
	return &DummyMediaDevices{
		properties: properties,
	}
}

func (api *DummyMediaDevices) EnumerateDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []DeviceDescriptor{
		{
			DeviceID: DummyMicrophoneID,
			Kind:     KindAudioInput,
			Label:    DummyMicrophoneLabel,
		},
	}, nil
}

func (api *DummyMediaDevices) GetUserMedia(ctx context.Context, constraints MediaStreamConstraints) (StreamHandle, error) {
	api.requests.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if constraints.Video {
		return nil, ErrUnsupportedKind
	}
	if !constraints.Audio.Enabled {
		return nil, ErrNothingRequested
	}
	if constraints.Audio.NamesOtherDevice(DummyMicrophoneID) {
		return nil, ErrNoDeviceWithID
	}

	return NewStreamHandle(DummyMicrophoneID, device.NewDummyAudioSourceDevice(api.properties), nil), nil
}

// Number of GetUserMedia calls so far, including failed ones.
func (api *DummyMediaDevices) Requests() int64 {
	return api.requests.Load()
}
