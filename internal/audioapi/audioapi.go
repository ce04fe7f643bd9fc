// The media device capability contract: listing capture devices and
// acquiring a stream from one, modelled on the browser's navigator.mediaDevices.
package audioapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
)

const (
	KindAudioInput  = "audioinput"
	KindAudioOutput = "audiooutput"
	KindVideoInput  = "videoinput"
)

var (
	ErrNoDeviceWithID    = errors.New("no device with specified ID")
	ErrNoDefaultDevice   = errors.New("no default device available")
	ErrNothingRequested  = errors.New("constraints request neither audio nor video")
	ErrUnsupportedKind   = errors.New("requested media kind is not supported")
	ErrInvalidConstraint = errors.New("invalid media constraint")
)

// Describes one media device, as returned by MediaDevices.EnumerateDevices.
type DeviceDescriptor struct {
	DeviceID string `json:"deviceId"`
	Kind     string `json:"kind"`
	Label    string `json:"label"`
	GroupID  string `json:"groupId"`
}

func (device DeviceDescriptor) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "DeviceID: %s\n", device.DeviceID)
	fmt.Fprintf(&sb, "Kind:     %s\n", device.Kind)
	fmt.Fprintf(&sb, "Label:    %s\n", device.Label)
	fmt.Fprintf(&sb, "GroupID:  %s\n", device.GroupID)
	return sb.String()
}

// A live stream acquired from a device.
//
// The stream ends when Close is called, after which GetStream's channel is closed.
type StreamHandle interface {
	audiodevice.AudioSourceDevice

	// Unique to this acquisition
	ID() string

	// Always KindAudioInput for streams in this module
	Kind() string

	// The device the stream was acquired from
	DeviceID() string
}

// Define an API to list and acquire capture devices.
//
// Implementations include the hardware platform (PionMediaDevices), a dummy
// platform for tests, and a router that adds a virtual device on top of another
// implementation.
type MediaDevices interface {
	EnumerateDevices(ctx context.Context) ([]DeviceDescriptor, error)
	GetUserMedia(ctx context.Context, constraints MediaStreamConstraints) (StreamHandle, error)
}
