package encoderdecoder

import (
	"errors"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
)

var (
	ErrNullEncoderDecoderUsed error = errors.New("null encoder decoder used")
)

// An encoder decoder that does NO ENCODING/DECODING
// Instead, an error is *always* returned.
type NullEncoderDecoder struct{}

func (encdec NullEncoderDecoder) Encode(_ frame.PCMFrame) (frame.EncodedFrame, error) {
	return nil, ErrNullEncoderDecoderUsed
}

func (encdec NullEncoderDecoder) Decode(_ frame.EncodedFrame) (frame.PCMFrame, error) {
	return nil, ErrNullEncoderDecoderUsed
}
