package audioapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/pcm"
	"github.com/google/uuid"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
)

var ErrUnsupportedAudioFormat = errors.New("unsupported audio chunk format")

// The real capture platform, backed by the pion/mediadevices driver manager.
//
// Drivers register themselves on import, so the binary must blank-import a
// driver package (e.g. github.com/pion/mediadevices/pkg/driver/microphone)
// for any device to be listed. Without one, EnumerateDevices returns an empty list.
//
// One capture is opened per driver, and shared between every stream acquired
// from it through a FanOutDevice. The driver is closed once the last stream is closed.
type PionMediaDevices struct {
	logger  *slog.Logger
	manager *driver.Manager

	capturesMutex sync.Mutex
	captures      map[string]*capture
}

type capture struct {
	driver     driver.Driver
	fanOut     *device.FanOutDevice
	properties audiodevice.DeviceProperties
	refs       int
}

func NewPionMediaDevices(logger *slog.Logger) *PionMediaDevices {
	if logger == nil {
		logger = slog.Default()
	}
	return &PionMediaDevices{
		logger:   logger.With("mediadevices uuid", uuid.New()),
		manager:  driver.GetManager(),
		captures: make(map[string]*capture),
	}
}

func (api *PionMediaDevices) recorders() []driver.Driver {
	return api.manager.Query(driver.FilterAudioRecorder())
}

func (api *PionMediaDevices) EnumerateDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	drivers := api.recorders()
	devices := make([]DeviceDescriptor, 0, len(drivers))
	for _, d := range drivers {
		devices = append(devices, DeviceDescriptor{
			DeviceID: d.ID(),
			Kind:     KindAudioInput,
			Label:    d.Info().Label,
		})
	}
	return devices, nil
}

// Pick the driver a constraint asks for.
// An exact device id must exist, a bare or ideal one is only preferred.
func selectRecorder(drivers []driver.Driver, constraint AudioConstraint) (driver.Driver, error) {
	if constraint.Match != DeviceIDAny {
		for _, d := range drivers {
			if d.ID() == constraint.DeviceID {
				return d, nil
			}
		}
		if constraint.Match == DeviceIDExact {
			return nil, fmt.Errorf("%w: %s", ErrNoDeviceWithID, constraint.DeviceID)
		}
	}
	if len(drivers) == 0 {
		return nil, ErrNoDefaultDevice
	}
	return drivers[0], nil
}

func (api *PionMediaDevices) GetUserMedia(ctx context.Context, constraints MediaStreamConstraints) (StreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if constraints.Video {
		return nil, ErrUnsupportedKind
	}
	if !constraints.Audio.Enabled {
		return nil, ErrNothingRequested
	}

	d, err := selectRecorder(api.recorders(), constraints.Audio)
	if err != nil {
		return nil, err
	}

	api.capturesMutex.Lock()
	defer api.capturesMutex.Unlock()

	c, ok := api.captures[d.ID()]
	if !ok {
		c, err = api.openCapture(d)
		if err != nil {
			return nil, err
		}
		api.captures[d.ID()] = c
	}
	c.refs += 1

	var handle StreamHandle
	handle = NewStreamHandle(d.ID(), c.fanOut, func() {
		c.fanOut.RemoveStream(handle.GetStream())
		api.release(d.ID(), c)
	})
	return handle, nil
}

func (api *PionMediaDevices) release(deviceID string, c *capture) {
	api.capturesMutex.Lock()
	defer api.capturesMutex.Unlock()

	c.refs -= 1
	if c.refs > 0 {
		return
	}
	delete(api.captures, deviceID)
	// Closing the driver ends the reader, which in turn closes the fan out
	if err := c.driver.Close(); err != nil {
		api.logger.Warn("failed to close capture driver", "deviceId", deviceID, "err", err)
	}
}

// Prefer the first advertised property set; the capture is downmixed to mono either way.
func captureProperties(d driver.Driver) prop.Media {
	for _, p := range d.Properties() {
		if p.SampleRate > 0 {
			return p
		}
	}
	return prop.Media{}
}

func (api *PionMediaDevices) openCapture(d driver.Driver) (*capture, error) {
	recorder, ok := d.(driver.AudioRecorder)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an audio recorder", ErrUnsupportedKind, d.ID())
	}

	if err := d.Open(); err != nil {
		return nil, fmt.Errorf("open %s: %w", d.ID(), err)
	}

	p := captureProperties(d)
	reader, err := recorder.AudioRecord(p)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("record %s: %w", d.ID(), err)
	}

	properties := audiodevice.DeviceProperties{
		SampleRate:  p.SampleRate,
		NumChannels: 1,
	}
	logger := api.logger.With("deviceId", d.ID())
	logger.Info("opened capture", "sampleRate", p.SampleRate, "channels", p.ChannelCount)

	source := make(chan frame.PCMFrame)
	fanOut := device.NewFanOutDevice(properties, device.DefaultFanOutSinkBuffer)
	fanOut.SetStream(source)

	go func() {
		defer close(source)
		for {
			chunk, release, err := reader.Read()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("capture ended", "err", err)
				}
				return
			}
			pcmFrame, err := ToMonoFrame(chunk)
			if release != nil {
				release()
			}
			if err != nil {
				logger.Error("dropping capture chunk", "err", err)
				continue
			}
			source <- pcmFrame
		}
	}()

	return &capture{
		driver:     d,
		fanOut:     fanOut,
		properties: properties,
	}, nil
}

// Downmix an interleaved or planar capture chunk into a mono PCMFrame by averaging channels.
func ToMonoFrame(chunk wave.Audio) (frame.PCMFrame, error) {
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		return downmix(c.Size, func(i, ch int) float32 {
			return pcm.ToFloat(c.Data[i*c.Size.Channels+ch])
		}), nil
	case *wave.Float32Interleaved:
		return downmix(c.Size, func(i, ch int) float32 {
			return c.Data[i*c.Size.Channels+ch]
		}), nil
	case *wave.Int16NonInterleaved:
		return downmix(c.Size, func(i, ch int) float32 {
			return pcm.ToFloat(c.Data[ch][i])
		}), nil
	case *wave.Float32NonInterleaved:
		return downmix(c.Size, func(i, ch int) float32 {
			return c.Data[ch][i]
		}), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedAudioFormat, chunk)
	}
}

func downmix(info wave.ChunkInfo, at func(i, ch int) float32) frame.PCMFrame {
	out := make(frame.PCMFrame, info.Len)
	if info.Channels <= 0 {
		return out
	}
	for i := range out {
		var sum float32
		for ch := range info.Channels {
			sum += at(i, ch)
		}
		out[i] = sum / float32(info.Channels)
	}
	return out
}
