package device

import (
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/oov/audio/resampler"
)

const (
	resampleQuality = 10

	// Output buffer handed to the resampler per call; longer frames take several calls
	resampleBufferSize = 4096
)

// Converts a mono stream from one sample rate to another.
//
// The filter state carries over between frames, so consecutive frames of one
// stream must go through the same frameResampler.
type frameResampler struct {
	from int
	to   int
	r    *resampler.Resampler
	buf  frame.PCMFrame
}

func newFrameResampler(from int, to int) *frameResampler {
	return &frameResampler{
		from: from,
		to:   to,
		r:    resampler.New(1, from, to, resampleQuality),
		buf:  make(frame.PCMFrame, resampleBufferSize),
	}
}

// Resample one frame. The result is a new slice, never aliasing the input.
func (f *frameResampler) resample(in frame.PCMFrame) frame.PCMFrame {
	out := make(frame.PCMFrame, 0, len(in)*f.to/f.from+16)
	for len(in) > 0 {
		read, written := f.r.ProcessFloat32(0, in, f.buf)
		out = append(out, f.buf[:written]...)
		if read == 0 && written == 0 {
			break
		}
		in = in[read:]
	}
	return out
}
