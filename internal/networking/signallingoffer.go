package networking

import (
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/pion/webrtc/v4"
)

// Holds all information the answering side needs to accept a new connection.
type SignallingOffer struct {
	// The endpoint the offer was posted to, e.g. "http://10.0.0.2:1066/signal"
	RemoteEndpoint string

	WebRTCSessionDescription webrtc.SessionDescription
}

// Encode an endpoint URL as the identifier string handed to controllers.
func EncodeEndpoint(endpoint string) string {
	return base64.StdEncoding.EncodeToString([]byte(endpoint))
}

// Decode an identifier string from EncodeEndpoint back to an http(s) URL.
func DecodeEndpoint(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	endpoint := string(decoded)
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	return endpoint, nil
}
