package networking

import "github.com/pion/webrtc/v4"

var (
	// Define a mapping from string representation (e.g. for use in config files) to codec specification.
	//
	// Only codecs a capture track can be published with are listed;
	// pion only packetizes raw samples for G.711.
	CodecMap map[string]webrtc.RTPCodecCapability = map[string]webrtc.RTPCodecCapability{
		"CodecPCMU8000Mono": {
			MimeType:  webrtc.MimeTypePCMU,
			ClockRate: 8000,
			Channels:  1,
		},
	}
)
