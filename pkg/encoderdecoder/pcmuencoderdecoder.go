package encoderdecoder

import (
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/pcm"
)

// G.711 μ-law: one byte per sample, no state between frames.
type PCMUEncoderDecoder struct{}

func (encdec PCMUEncoderDecoder) Encode(pcmData frame.PCMFrame) (frame.EncodedFrame, error) {
	return pcm.EncodeMulaw(pcmData), nil
}

func (encdec PCMUEncoderDecoder) Decode(encodedData frame.EncodedFrame) (frame.PCMFrame, error) {
	return pcm.DecodeMulaw(encodedData), nil
}
