package utils

import (
	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

// Set the viper defaults shared by every virtualmic binary: logging and WebRTC.
func SetViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("logformat", "")
	viper.SetDefault("ICEServers", []string{})
	viper.SetDefault("codecs", []string{"CodecPCMU8000Mono"})
}

// Build the WebRTC configuration from the ICEServers key.
// Without ICE servers only host candidates are gathered, which suffices on a local network.
func WebRTCConfiguration() webrtc.Configuration {
	urls := viper.GetStringSlice("ICEServers")
	if len(urls) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}
