package encoderdecoder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/pion/webrtc/v4"
)

type EncoderDecoderTypeEnum string

var (
	EncoderDecoderTypeNotImplemented EncoderDecoderTypeEnum = "not implemented"
	EncoderDecoderTypeNull           EncoderDecoderTypeEnum = "null"
	EncoderDecoderTypePCMU           EncoderDecoderTypeEnum = "pcmu"
)

var (
	ErrEncoderDecoderTypeNotImplemented = errors.New("specified encoderdecoder type is not implemented")
)

// Audio encoder/decoder interface.
// Used to encode raw PCM Frames to an encoded frame,
// and decode those frames back to PCM frames
type EncoderDecoder interface {
	Encode(pcmData frame.PCMFrame) (frame.EncodedFrame, error)
	Decode(encodedData frame.EncodedFrame) (frame.PCMFrame, error)
}

// Create a new encoder/decoder of the given type.
// If the type has no implementation, a nil Encoder/Decoder and an error is returned.
func NewEncoderDecoder(encoderdecoderID EncoderDecoderTypeEnum) (EncoderDecoder, error) {
	switch encoderdecoderID {
	case EncoderDecoderTypeNull:
		return NullEncoderDecoder{}, nil
	case EncoderDecoderTypePCMU:
		return PCMUEncoderDecoder{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrEncoderDecoderTypeNotImplemented, encoderdecoderID)
	}
}

// Create a new encoder/decoder for a negotiated WebRTC codec, based on its mime type.
func NewEncoderDecoderForCodec(codec webrtc.RTPCodecCapability) (EncoderDecoder, error) {
	switch {
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypePCMU):
		return NewEncoderDecoder(EncoderDecoderTypePCMU)
	default:
		return nil, fmt.Errorf("%w: %s", ErrEncoderDecoderTypeNotImplemented, codec.MimeType)
	}
}
