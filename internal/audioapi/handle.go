package audioapi

import (
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/google/uuid"
)

// A StreamHandle over any AudioSourceDevice.
//
// Close runs once. It calls onClose when one is given, which must end the
// stream, and closes the wrapped device otherwise.
type sourceStreamHandle struct {
	id       string
	deviceID string
	source   audiodevice.AudioSourceDevice
	stream   <-chan frame.PCMFrame

	closeOnce sync.Once
	onClose   func()
}

// Wrap source as a StreamHandle acquired from deviceID.
//
// The stream is taken from source once, here, so that sources handing out a
// new stream per GetStream call (e.g. a FanOutDevice) are only subscribed once.
// onClose may be nil, see sourceStreamHandle.
func NewStreamHandle(deviceID string, source audiodevice.AudioSourceDevice, onClose func()) StreamHandle {
	return &sourceStreamHandle{
		id:       uuid.NewString(),
		deviceID: deviceID,
		source:   source,
		stream:   source.GetStream(),
		onClose:  onClose,
	}
}

func (h *sourceStreamHandle) ID() string {
	return h.id
}

func (h *sourceStreamHandle) Kind() string {
	return KindAudioInput
}

func (h *sourceStreamHandle) DeviceID() string {
	return h.deviceID
}

func (h *sourceStreamHandle) GetStream() <-chan frame.PCMFrame {
	return h.stream
}

func (h *sourceStreamHandle) GetDeviceProperties() audiodevice.DeviceProperties {
	return h.source.GetDeviceProperties()
}

func (h *sourceStreamHandle) Close() {
	h.closeOnce.Do(func() {
		if h.onClose != nil {
			h.onClose()
			return
		}
		h.source.Close()
	})
}
