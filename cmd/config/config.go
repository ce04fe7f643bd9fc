package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/audioapi"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/virtualmic"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/chunk"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/pacing"
	"github.com/spf13/viper"
)

var (
	ErrUnknownPlatform = errors.New("unknown platform")
)

const (
	PlatformDummy        = "dummy"
	PlatformMediaDevices = "mediadevices"
)

func setViperDefaults() {
	utils.SetViperDefaults()

	viper.SetDefault("chunksamples", chunk.DefaultChunkSamples)
	viper.SetDefault("frameduration", pacing.DefaultFrameDuration)
	viper.SetDefault("maxpendingtracks", 64)
	viper.SetDefault("pendingtrackttl", 2*time.Minute)
	viper.SetDefault("trackqueuesize", virtualmic.DefaultTrackQueueSize)
	viper.SetDefault("sinkbuffer", virtualmic.DefaultSinkBuffer)
	viper.SetDefault("gain", 1.0)

	// Rate of the capture track's stream; tracks at other rates are resampled to it.
	// 0 follows the rate of each track.
	viper.SetDefault("samplerate", chunk.DefaultSampleRate)

	viper.SetDefault("virtualdevice.id", virtualmic.DefaultDeviceID)
	viper.SetDefault("virtualdevice.label", virtualmic.DefaultDeviceLabel)
	viper.SetDefault("virtualdevice.groupid", "")

	viper.SetDefault("platform", PlatformDummy)
	viper.SetDefault("listenaddress", "127.0.0.1:1066")
	viper.SetDefault("metricsaddress", "")
	viper.SetDefault("recordfile", "")
}

// Set defaults and read the config file.
// A missing file is logged and the defaults are used; any other read error is returned.
func LoadConfig(configFilePath string) error {
	setViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found", "configFilePath", configFilePath)
			return nil
		}
		slog.Error("error during config read", "err", err)
		return err
	}
	return nil
}

// Configure the default logger from the loglevel, logfile and logformat keys.
// Returns the log file, if any, so it may be closed on exit.
func ConfigureLogger() (*os.File, error) {
	return utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		viper.GetString("logformat"),
		slog.HandlerOptions{},
	)
}

// The session configuration from the config. Observers and clock are left for the caller.
func SessionConfig() virtualmic.SessionConfig {
	return virtualmic.SessionConfig{
		SampleRate:     viper.GetInt("samplerate"),
		Channels:       1,
		FrameDuration:  viper.GetDuration("frameduration"),
		TrackQueueSize: viper.GetInt("trackqueuesize"),
		SinkBuffer:     viper.GetInt("sinkbuffer"),
		Gain:           float32(viper.GetFloat64("gain")),
		Reassembler: chunk.ReassemblerConfig{
			MaxPendingTracks: viper.GetInt("maxpendingtracks"),
			PendingTTL:       viper.GetDuration("pendingtrackttl"),
		},
	}
}

// The descriptor of the virtual device from the virtualdevice keys.
func VirtualDescriptor() audioapi.DeviceDescriptor {
	return audioapi.DeviceDescriptor{
		DeviceID: viper.GetString("virtualdevice.id"),
		Kind:     audioapi.KindAudioInput,
		Label:    viper.GetString("virtualdevice.label"),
		GroupID:  viper.GetString("virtualdevice.groupid"),
	}
}

// The platform MediaDevices named by the platform key.
func Platform(logger *slog.Logger) (audioapi.MediaDevices, error) {
	switch platform := viper.GetString("platform"); platform {
	case PlatformDummy:
		return audioapi.NewDummyMediaDevices(audiodevice.DeviceProperties{
			SampleRate:  viper.GetInt("samplerate"),
			NumChannels: 1,
		}), nil
	case PlatformMediaDevices:
		return audioapi.NewPionMediaDevices(logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
}
