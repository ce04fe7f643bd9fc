package device

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/google/uuid"
)

const (
	DefaultFanOutSinkBuffer  = 8
	DefaultFanOutSinkTimeout = 5 * time.Second
)

// --------------------------------------------------------------------------------
// Fan Out Device (One to Many)

// A FanOutDevice is both an AudioSourceDevice and an AudioSinkDevice.
//
// Unlike other AudioSourceDevices, a call to GetStream does *not* return the
// singular output stream, but instead creates a *new* output stream unique to that call.
// This is how several acquisitions of one capture device each get their own stream.
//
// The input stream (the sourceStream) is listened to and every frame forwarded to
// all sinkStreams. The same frame is shared between sinks and must be treated as read-only.
//
// A sink that is full when a frame arrives misses that frame, like a slow
// consumer of a live capture track. A sink that has not accepted a frame
// for the sink timeout is closed and removed. A sink may also be removed with RemoveStream.
//
// Adding and removing sinkStreams is concurrency safe thanks to a mutex.
type FanOutDevice struct {
	logger           *slog.Logger
	deviceProperties audiodevice.DeviceProperties
	sinkBuffer       int
	sinkTimeout      time.Duration

	sourceStream <-chan frame.PCMFrame

	sinksMutex sync.Mutex
	sinks      []*fanOutSink
	closed     bool
}

type fanOutSink struct {
	stream       chan frame.PCMFrame
	lastAccepted time.Time
	dropped      int
}

// Create a new FanOutDevice.
// The given device properties are for book-keeping only.
// Each stream returned by GetStream buffers up to sinkBuffer frames.
func NewFanOutDevice(properties audiodevice.DeviceProperties, sinkBuffer int) *FanOutDevice {
	if sinkBuffer < 0 {
		sinkBuffer = DefaultFanOutSinkBuffer
	}
	return &FanOutDevice{
		logger: slog.Default().With(
			"fan out device uuid", uuid.New(),
		),
		deviceProperties: properties,
		sinkBuffer:       sinkBuffer,
		sinkTimeout:      DefaultFanOutSinkTimeout,
		sinks:            make([]*fanOutSink, 0),
	}
}

// Set how long a sink may refuse frames before it is removed.
// Non-positive durations disable the timeout.
func (d *FanOutDevice) SetSinkTimeout(timeout time.Duration) {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()
	d.sinkTimeout = timeout
}

func (d *FanOutDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.deviceProperties
}

// Set the stream of this device to copy data from.
// This method should be called only once, and once the sourceStream is closed
// then all sinkStreams are closed.
func (d *FanOutDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	d.sourceStream = sourceStream

	go func() {
		for data := range sourceStream {
			d.broadcast(data)
		}
		// When sourceStream closes, close this device
		d.Close()
	}()
}

func (d *FanOutDevice) broadcast(data frame.PCMFrame) {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()

	now := time.Now()
	kept := d.sinks[:0]
	for _, sink := range d.sinks {
		select {
		case sink.stream <- data:
			sink.lastAccepted = now
		default:
			sink.dropped += 1
			if d.sinkTimeout > 0 && now.Sub(sink.lastAccepted) > d.sinkTimeout {
				d.logger.Warn(
					"removing sink that stopped accepting frames",
					"droppedFrames", sink.dropped,
				)
				close(sink.stream)
				continue
			}
		}
		kept = append(kept, sink)
	}
	clear(d.sinks[len(kept):])
	d.sinks = kept
}

// Get a new stream from this fan out device.
//
// Every frame arriving after this call is copied to the returned stream.
// If the device is already closed, the returned stream is closed.
func (d *FanOutDevice) GetStream() <-chan frame.PCMFrame {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()

	newSink := &fanOutSink{
		stream:       make(chan frame.PCMFrame, d.sinkBuffer),
		lastAccepted: time.Now(),
	}
	if d.closed {
		close(newSink.stream)
		return newSink.stream
	}
	d.sinks = append(d.sinks, newSink)

	return newSink.stream
}

// Stop copying frames to a stream returned by GetStream, and close it.
// Returns false if the stream is not (or no longer) attached.
func (d *FanOutDevice) RemoveStream(stream <-chan frame.PCMFrame) bool {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()

	for i, sink := range d.sinks {
		if sink.stream == stream {
			close(sink.stream)
			d.sinks = append(d.sinks[:i], d.sinks[i+1:]...)
			return true
		}
	}
	return false
}

// Number of attached streams.
func (d *FanOutDevice) NumStreams() int {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()
	return len(d.sinks)
}

func (d *FanOutDevice) Close() {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, sink := range d.sinks {
		close(sink.stream)
	}
	d.sinks = d.sinks[:0]
}
