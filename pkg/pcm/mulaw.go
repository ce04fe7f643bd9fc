package pcm

import "github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"

// G.711 μ-law companding, used for PCMU tracks.
const (
	mulawBias = 0x84
	mulawClip = 32635
)

// Encode a 16-bit linear PCM sample to a μ-law byte.
func LinearToMulaw(sample int16) byte {
	s := int32(sample)

	var sign int32
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := int32(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F

	return ^byte(sign | exponent<<4 | mantissa)
}

// Decode a μ-law byte to a 16-bit linear PCM sample.
func MulawToLinear(mulawByte byte) int16 {
	u := ^mulawByte
	sign := u & 0x80
	exponent := int32(u>>4) & 0x07
	mantissa := int32(u) & 0x0F

	magnitude := ((mantissa<<3)+mulawBias)<<exponent - mulawBias
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// Encode a PCMFrame to μ-law, one byte per sample.
func EncodeMulaw(f frame.PCMFrame) frame.EncodedFrame {
	encoded := make(frame.EncodedFrame, len(f))
	for i, s := range f {
		encoded[i] = LinearToMulaw(ToInt16(s))
	}
	return encoded
}

// Decode μ-law bytes to a PCMFrame.
func DecodeMulaw(encoded frame.EncodedFrame) frame.PCMFrame {
	f := make(frame.PCMFrame, len(encoded))
	for i, b := range encoded {
		f[i] = ToFloat(MulawToLinear(b))
	}
	return f
}
