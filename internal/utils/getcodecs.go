package utils

import (
	"errors"
	"fmt"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/networking"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNoCodecsAuthorized = errors.New("no codecs authorized")
	ErrUnknownCodec       = errors.New("unknown codec")
)

// Load and return a list of codecs using the given strings.
// Strings must be associated to a codec, otherwise an error is returned.
//
// See internal/networking/codecs.go for a list of all codecs and their associated strings.
// Duplicates are dropped, keeping the first occurrence.
func GetUserAuthorizedCodecs(codecStrings []string) ([]webrtc.RTPCodecCapability, error) {
	if len(codecStrings) == 0 {
		return nil, ErrNoCodecsAuthorized
	}

	codecs := make([]webrtc.RTPCodecCapability, 0, len(codecStrings))
	seen := make(map[string]struct{}, len(codecStrings))
	for _, s := range codecStrings {
		codec, ok := networking.CodecMap[s]
		if !ok {
			return nil, fmt.Errorf("%w: no codec with associated string %s", ErrUnknownCodec, s)
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		codecs = append(codecs, codec)
	}

	return codecs, nil
}
