package intcodec

import (
	"testing"

	"github.com/deepteams/tinywasm/internal/bitstream"
)

func TestRequiredBits(t *testing.T) {
	cases := []struct {
		v    int64
		want uint8
	}{
		{0, 1}, {1, 1}, {-1, 1}, {2, 2}, {-2, 2}, {127, 7}, {-128, 8},
		{1 << 62, 63}, {-1 << 62, 63},
	}
	for _, c := range cases {
		if got := RequiredBits(c.v); got != c.want {
			t.Errorf("RequiredBits(%d) = %d, want %d", c.v, got, c.want)
		}
	}
	// The one overflow case: -abs(INT64_MIN) can't be represented positively.
	if got := RequiredBits(-1 << 63); got != 64 {
		t.Errorf("RequiredBits(MinInt64) = %d, want 64", got)
	}
}

func TestTaggedRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 42, -42, 1 << 40, -(1 << 40)} {
		s := bitstream.New()
		WriteTagged(s, v)
		s.Finalize()
		r := bitstream.NewFromBytes(s.Bytes())
		got, err := ReadTagged(r)
		if err != nil {
			t.Fatalf("v=%d: %v", v, err)
		}
		if got != v {
			t.Errorf("v=%d: got %d", v, got)
		}
	}
}

func TestLEBUnsignedRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 2, 127, 128, 1000, 1 << 20, 1<<63 - 1, 1 << 63}
	for _, groupBits := range []uint8{3, 4, 7} {
		for _, v := range values {
			s := bitstream.New()
			WriteLEBUnsigned(s, v, groupBits)
			s.Finalize()
			r := bitstream.NewFromBytes(s.Bytes())
			got, err := ReadLEBUnsigned(r, groupBits)
			if err != nil {
				t.Fatalf("group=%d v=%d: %v", groupBits, v, err)
			}
			if got != v {
				t.Errorf("group=%d v=%d: got %d", groupBits, v, got)
			}
		}
	}
}

func TestLEBUnsignedZeroEmitsOneChunk(t *testing.T) {
	for _, groupBits := range []uint8{3, 7} {
		s := bitstream.New()
		WriteLEBUnsigned(s, 0, groupBits)
		if s.Len() != uint64(groupBits)+1 {
			t.Errorf("group=%d: v=0 wrote %d bits, want %d", groupBits, s.Len(), uint64(groupBits)+1)
		}
	}
}

func TestLEBSignedRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 500, -500, 1 << 40, -(1 << 40), -1 << 63} {
		s := bitstream.New()
		WriteLEB(s, v, DefaultLEBGroup)
		s.Finalize()
		r := bitstream.NewFromBytes(s.Bytes())
		got, err := ReadLEB(r, DefaultLEBGroup)
		if err != nil {
			t.Fatalf("v=%d: %v", v, err)
		}
		if got != v {
			t.Errorf("v=%d: got %d", v, got)
		}
	}
}

func TestRequiredLEBBitsMatchesEmittedLength(t *testing.T) {
	for _, groupBits := range []uint8{3, 7} {
		for _, v := range []int64{0, 1, 127, 128, 1 << 20, 1<<62 - 1} {
			s := bitstream.New()
			mag := v
			if mag < 0 {
				mag = -mag
			}
			WriteLEBUnsigned(s, uint64(mag), groupBits)
			want := RequiredLEBBits(v, groupBits)
			if s.Len() != want {
				t.Errorf("group=%d v=%d: emitted %d bits, RequiredLEBBits said %d", groupBits, v, s.Len(), want)
			}
		}
	}
}

func TestFloatTrimRoundTrip(t *testing.T) {
	s := bitstream.New()
	WriteFloat32(s, 3.25, 0)
	WriteFloat64(s, -12.5, 0)
	s.Finalize()
	r := bitstream.NewFromBytes(s.Bytes())
	f32, err := ReadFloat32(r, 0)
	if err != nil || f32 != 3.25 {
		t.Fatalf("f32: got %v, err %v", f32, err)
	}
	f64, err := ReadFloat64(r, 0)
	if err != nil || f64 != -12.5 {
		t.Fatalf("f64: got %v, err %v", f64, err)
	}
}
