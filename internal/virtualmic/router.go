// The virtual microphone: a Session that turns chunks from the controlling
// context into a live capture track, and a Router that presents that track as
// an ordinary audio input device next to the real ones.
package virtualmic

import (
	"context"
	"log/slog"
	"slices"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/audioapi"
	"github.com/google/uuid"
)

const (
	DefaultDeviceID    = "virtual-microphone-kizunaai"
	DefaultDeviceLabel = "KizunaAI Virtual Microphone"
)

const (
	SourceVirtual  = "virtual"
	SourcePlatform = "platform"
)

// Receives router events, e.g. for metrics.
type RouterObserver interface {
	RecordStreamAcquired(source string)
}

// The descriptor of the virtual device with the default id and label.
func DefaultDescriptor() audioapi.DeviceDescriptor {
	return audioapi.DeviceDescriptor{
		DeviceID: DefaultDeviceID,
		Kind:     audioapi.KindAudioInput,
		Label:    DefaultDeviceLabel,
	}
}

// A MediaDevices that adds the virtual microphone to another MediaDevices (the platform).
//
// Requests that name the virtual device, or ask for any audio input with a
// plain `audio: true`, are served from the Session. Every other request is
// passed to the platform unchanged.
type Router struct {
	logger     *slog.Logger
	platform   audioapi.MediaDevices
	session    *Session
	descriptor audioapi.DeviceDescriptor
	observer   RouterObserver
}

// Create a new Router.
//
// The descriptor's kind is always audioinput; empty id and label take the defaults.
// If no logger is given, slog.Default() is used. observer may be nil.
func NewRouter(
	platform audioapi.MediaDevices,
	session *Session,
	descriptor audioapi.DeviceDescriptor,
	observer RouterObserver,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if descriptor.DeviceID == "" {
		descriptor.DeviceID = DefaultDeviceID
	}
	if descriptor.Label == "" {
		descriptor.Label = DefaultDeviceLabel
	}
	descriptor.Kind = audioapi.KindAudioInput

	return &Router{
		logger: logger.With(
			"router uuid", uuid.New(),
		),
		platform:   platform,
		session:    session,
		descriptor: descriptor,
		observer:   observer,
	}
}

func (r *Router) Session() *Session {
	return r.session
}

func (r *Router) Descriptor() audioapi.DeviceDescriptor {
	return r.descriptor
}

// List the platform's devices, with the virtual device appended unless the
// platform already lists a device with the same id and kind.
func (r *Router) EnumerateDevices(ctx context.Context) ([]audioapi.DeviceDescriptor, error) {
	devices, err := r.platform.EnumerateDevices(ctx)
	if err != nil {
		return nil, err
	}

	present := slices.ContainsFunc(devices, func(d audioapi.DeviceDescriptor) bool {
		return d.DeviceID == r.descriptor.DeviceID && d.Kind == r.descriptor.Kind
	})
	if present {
		return devices, nil
	}
	return append(slices.Clip(devices), r.descriptor), nil
}

// Whether constraints are served by the virtual device.
func (r *Router) routesToVirtual(constraints audioapi.MediaStreamConstraints) bool {
	audio := constraints.Audio
	if !audio.Enabled {
		return false
	}
	return audio.Plain || audio.NamesDevice(r.descriptor.DeviceID)
}

func (r *Router) GetUserMedia(ctx context.Context, constraints audioapi.MediaStreamConstraints) (audioapi.StreamHandle, error) {
	if !r.routesToVirtual(constraints) {
		handle, err := r.platform.GetUserMedia(ctx, constraints)
		if err != nil {
			return nil, err
		}
		r.recordAcquired(SourcePlatform)
		return handle, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if constraints.Video {
		r.logger.Warn("video requested alongside the virtual microphone, ignoring video")
	}

	if err := r.session.Enable(); err != nil {
		r.logger.Error("failed to enable virtual microphone", "err", err)
		return nil, err
	}
	handle, err := r.session.NewStream(r.descriptor.DeviceID)
	if err != nil {
		return nil, err
	}

	r.logger.Info("virtual stream acquired", "streamID", handle.ID())
	r.recordAcquired(SourceVirtual)
	return handle, nil
}

func (r *Router) recordAcquired(source string) {
	if r.observer != nil {
		r.observer.RecordStreamAcquired(source)
	}
}
