package device

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/pion/webrtc/v4"
)

func TestNewWebRTCTrackSinkDevice(t *testing.T) {
	tests := []struct {
		name       string
		codec      webrtc.RTPCodecCapability
		sampleRate int
		want       error
	}{
		{name: "pcmu", codec: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000}, sampleRate: 8000},
		{name: "pcmu from 44.1 kHz", codec: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000}, sampleRate: 44100},
		{name: "pcmu without stream rate", codec: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000}, sampleRate: 0, want: ErrSampleRateMismatch},
		{name: "opus", codec: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000}, sampleRate: 48000, want: ErrUnsupportedCodec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			track, err := webrtc.NewTrackLocalStaticSample(tt.codec, "audio", "virtualmic")
			if err != nil {
				t.Fatalf("NewTrackLocalStaticSample failed: %v", err)
			}
			_, err = NewWebRTCTrackSinkDevice(track, audiodevice.DeviceProperties{SampleRate: tt.sampleRate, NumChannels: 1})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestWebRTCTrackSinkDrainsStream(t *testing.T) {
	for _, sampleRate := range []int{8000, 48000} {
		t.Run(fmt.Sprintf("%d Hz", sampleRate), func(t *testing.T) {
			track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000}, "audio", "virtualmic")
			if err != nil {
				t.Fatalf("NewTrackLocalStaticSample failed: %v", err)
			}
			d, err := NewWebRTCTrackSinkDevice(track, audiodevice.DeviceProperties{SampleRate: sampleRate, NumChannels: 1})
			if err != nil {
				t.Fatalf("NewWebRTCTrackSinkDevice failed: %v", err)
			}

			source := make(chan frame.PCMFrame)
			d.SetStream(source)
			// An unbound track accepts and discards samples
			source <- make(frame.PCMFrame, sampleRate)
			close(source)

			select {
			case <-d.Done():
			case <-time.After(time.Second):
				t.Fatal("Sink did not finish after source closed")
			}
		})
	}
}

func TestDummySinkCounts(t *testing.T) {
	d := NewDummyAudioSinkDevice(audiodevice.DeviceProperties{SampleRate: 8000})
	source := make(chan frame.PCMFrame)
	d.SetStream(source)

	source <- make(frame.PCMFrame, 10)
	source <- make(frame.PCMFrame, 5)
	close(source)
	<-d.Done()

	if d.FramesConsumed() != 2 || d.SamplesConsumed() != 15 {
		t.Errorf("Expected 2 frames of 15 samples, got %d frames of %d", d.FramesConsumed(), d.SamplesConsumed())
	}
}
