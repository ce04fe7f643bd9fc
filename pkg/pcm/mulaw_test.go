package pcm

import (
	"math"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
)

func TestMulawSilence(t *testing.T) {
	t.Parallel()

	if got := LinearToMulaw(0); got != 0xFF {
		t.Errorf("LinearToMulaw(0) = %#x, want 0xff", got)
	}
	if got := MulawToLinear(0xFF); got != 0 {
		t.Errorf("MulawToLinear(0xff) = %d, want 0", got)
	}
}

func TestMulawRoundTripError(t *testing.T) {
	t.Parallel()

	for v := -mulawClip; v <= mulawClip; v++ {
		got := int(MulawToLinear(LinearToMulaw(int16(v))))
		absV := v
		if absV < 0 {
			absV = -absV
		}
		// The quantization step grows with the exponent, so the allowed error scales with magnitude.
		allowed := (absV+mulawBias)/32 + 8
		diff := got - v
		if diff < 0 {
			diff = -diff
		}
		if diff > allowed {
			t.Fatalf("round trip of %d gave %d (diff %d > %d)", v, got, diff, allowed)
		}
		if v > 200 && got <= 0 || v < -200 && got >= 0 {
			t.Fatalf("round trip of %d changed sign: %d", v, got)
		}
	}
}

func TestMulawClipsExtremes(t *testing.T) {
	t.Parallel()

	high := MulawToLinear(LinearToMulaw(math.MaxInt16))
	low := MulawToLinear(LinearToMulaw(math.MinInt16))
	if high <= 30000 {
		t.Errorf("expected max input to decode near full scale, got %d", high)
	}
	if low >= -30000 {
		t.Errorf("expected min input to decode near negative full scale, got %d", low)
	}
}

func TestEncodeDecodeMulawFrame(t *testing.T) {
	t.Parallel()

	f := frame.PCMFrame{0, 0.5, -0.5, 0.25}
	encoded := EncodeMulaw(f)
	if len(encoded) != len(f) {
		t.Fatalf("expected %d bytes, got %d", len(f), len(encoded))
	}

	decoded := DecodeMulaw(encoded)
	for i := range f {
		if math.Abs(float64(decoded[i]-f[i])) > 0.02 {
			t.Errorf("sample %d: expected ≈%v, got %v", i, f[i], decoded[i])
		}
	}
}
