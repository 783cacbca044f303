package bitstream

import (
	"math/rand"
	"testing"
)

func TestWriteReadBitsUnsigned(t *testing.T) {
	cases := []struct {
		v uint64
		n uint8
	}{
		{0, 1}, {1, 1}, {0, 0}, {7, 3}, {255, 8}, {1<<40 - 1, 40},
	}
	for _, c := range cases {
		s := New()
		s.WriteBitsUnsigned(c.v, c.n)
		s.Finalize()
		r := NewFromBytes(s.Bytes())
		got, err := r.ReadBitsUnsigned(c.n)
		if err != nil {
			t.Fatalf("ReadBitsUnsigned(%d): %v", c.n, err)
		}
		if got != c.v&((1<<c.n)-1) && c.n != 0 {
			t.Errorf("v=%d n=%d: got %d", c.v, c.n, got)
		}
	}
}

func TestWriteReadBitsSigned(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 500, -500, 1<<40 - 1, -(1<<40 - 1)} {
		s := New()
		s.WriteBitsSigned(v, 41)
		s.Finalize()
		r := NewFromBytes(s.Bytes())
		got, err := r.ReadBitsSigned(41)
		if err != nil {
			t.Fatalf("ReadBitsSigned: %v", err)
		}
		if got != v {
			t.Errorf("v=%d: got %d", v, got)
		}
	}
}

func TestMixedStream(t *testing.T) {
	s := New()
	s.WriteBit(true)
	s.WriteBitsUnsigned(0x3, 2)
	s.WriteBitsSigned(-7, 5)
	s.WriteBitsUnsigned(0xabc, 12)
	s.Finalize()

	r := NewFromBytes(s.Bytes())
	b, _ := r.ReadBit()
	u, _ := r.ReadBitsUnsigned(2)
	sv, _ := r.ReadBitsSigned(5)
	u2, _ := r.ReadBitsUnsigned(12)

	if !b || u != 0x3 || sv != -7 || u2 != 0xabc {
		t.Fatalf("got b=%v u=%d sv=%d u2=%d", b, u, sv, u2)
	}
}

// TestMoveBitsPreservation checks invariant 2 of spec.md §8: bits outside
// the affected range are unchanged, and the destination equals the old
// source range, for both forward and backward moves.
func TestMoveBitsPreservation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		total := 40 + rng.Intn(200)
		s := New()
		bits := make([]bool, total)
		for i := range bits {
			bits[i] = rng.Intn(2) == 1
			s.WriteBit(bits[i])
		}

		start := uint64(rng.Intn(total))
		end := start + uint64(rng.Intn(total-int(start)+1))
		maxDest := uint64(total) // keep within already-written region for the "unchanged outside" check
		if maxDest < end-start {
			continue
		}
		dest := uint64(rng.Int63n(int64(maxDest - (end - start) + 1)))

		before := append([]bool(nil), bits...)
		newEnd := s.MoveBits(start, end, dest)
		if newEnd != dest+(end-start) {
			t.Fatalf("trial %d: newEnd=%d want %d", trial, newEnd, dest+(end-start))
		}

		// destination equals old source range
		for i := uint64(0); i < end-start; i++ {
			got := bitAt(s, dest+i)
			if got != before[start+i] {
				t.Fatalf("trial %d: dest bit %d = %v, want %v", trial, i, got, before[start+i])
			}
		}

		lo, hi := dest, dest+(end-start)
		if start < lo {
			lo = start
		}
		if end > hi {
			hi = end
		}
		for i := uint64(0); i < uint64(total); i++ {
			if i >= lo && i < hi {
				continue // inside the affected span; covered by the check above where relevant
			}
			if bitAt(s, i) != before[i] {
				t.Fatalf("trial %d: bit %d outside affected span changed: %v -> %v", trial, i, before[i], bitAt(s, i))
			}
		}
	}
}

func bitAt(s *Stream, pos uint64) bool {
	byteIdx := pos / 8
	bitIdx := uint(pos % 8)
	return s.buf[byteIdx]&(1<<(7-bitIdx)) != 0
}

func FuzzBitStreamRoundTrip(f *testing.F) {
	f.Add(uint64(0), uint8(1))
	f.Add(uint64(1<<63), uint8(64))
	f.Add(uint64(12345), uint8(20))
	f.Fuzz(func(t *testing.T, v uint64, n uint8) {
		n = n % 65
		s := New()
		s.WriteBitsUnsigned(v, n)
		s.Finalize()
		r := NewFromBytes(s.Bytes())
		got, err := r.ReadBitsUnsigned(n)
		if err != nil {
			t.Fatalf("ReadBitsUnsigned: %v", err)
		}
		want := v
		if n < 64 {
			want &= (1 << n) - 1
		}
		if got != want {
			t.Fatalf("v=%d n=%d: got %d want %d", v, n, got, want)
		}
	})
}
