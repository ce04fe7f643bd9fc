package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/audioapi"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/virtualmic"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/chunk"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/pacing"
	"github.com/spf13/viper"
)

// viper is global, so none of these tests run in parallel.

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	if err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("Expected missing config file to be tolerated, got %v", err)
	}

	config := SessionConfig()
	if config.FrameDuration != pacing.DefaultFrameDuration {
		t.Errorf("Expected default frame duration, got %v", config.FrameDuration)
	}
	if config.TrackQueueSize != virtualmic.DefaultTrackQueueSize || config.SinkBuffer != virtualmic.DefaultSinkBuffer {
		t.Errorf("Unexpected queue sizes %+v", config)
	}
	if config.Gain != 1 || config.Channels != 1 || config.SampleRate != chunk.DefaultSampleRate {
		t.Errorf("Unexpected session config %+v", config)
	}
	if config.Reassembler.MaxPendingTracks != 64 || config.Reassembler.PendingTTL != 2*time.Minute {
		t.Errorf("Unexpected reassembler config %+v", config.Reassembler)
	}

	if descriptor := VirtualDescriptor(); descriptor != virtualmic.DefaultDescriptor() {
		t.Errorf("Expected default descriptor, got %+v", descriptor)
	}

	platform, err := Platform(nil)
	if err != nil {
		t.Fatalf("Platform failed: %v", err)
	}
	if _, ok := platform.(*audioapi.DummyMediaDevices); !ok {
		t.Errorf("Expected dummy platform by default, got %T", platform)
	}
}

func TestLoadConfigFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := writeConfig(t, `
frameduration: 250ms
trackqueuesize: 2
gain: 0.5
samplerate: 16000
virtualdevice:
  id: studio-mic
  label: Studio Mic
  groupid: studio
`)
	if err := LoadConfig(path); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	config := SessionConfig()
	if config.FrameDuration != 250*time.Millisecond || config.TrackQueueSize != 2 || config.Gain != 0.5 || config.SampleRate != 16000 {
		t.Errorf("Config file not applied: %+v", config)
	}
	// Keys absent from the file keep their defaults
	if config.SinkBuffer != virtualmic.DefaultSinkBuffer {
		t.Errorf("Expected default sink buffer, got %d", config.SinkBuffer)
	}

	expected := audioapi.DeviceDescriptor{DeviceID: "studio-mic", Kind: audioapi.KindAudioInput, Label: "Studio Mic", GroupID: "studio"}
	if descriptor := VirtualDescriptor(); descriptor != expected {
		t.Errorf("Expected %+v, got %+v", expected, descriptor)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	if err := LoadConfig(writeConfig(t, "gain: [unterminated")); err == nil {
		t.Error("Expected invalid YAML to fail")
	}
}

func TestUnknownPlatform(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	setViperDefaults()

	viper.Set("platform", "alsa")
	if _, err := Platform(nil); !errors.Is(err, ErrUnknownPlatform) {
		t.Errorf("Expected ErrUnknownPlatform, got %v", err)
	}
}
