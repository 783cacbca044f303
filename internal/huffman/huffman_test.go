package huffman

import (
	"testing"

	"github.com/deepteams/tinywasm/internal/bitstream"
)

func TestBuildEmptyHistogram(t *testing.T) {
	if _, err := Build(nil); err != ErrEmptyHistogram {
		t.Fatalf("got %v, want ErrEmptyHistogram", err)
	}
}

func TestSingleSymbolOneBitCode(t *testing.T) {
	tbl, err := Build(map[int64]uint64{42: 7})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rep, ok := tbl.Encode(42)
	if !ok || rep.Length != 1 {
		t.Fatalf("got rep=%+v ok=%v, want 1-bit code", rep, ok)
	}
}

// TestZeroValuedLeafNotMisreadAsInternal is the direct regression test for
// the bug this package's doc comment calls out: a leaf whose value is 0
// must still decode correctly.
func TestZeroValuedLeafNotMisreadAsInternal(t *testing.T) {
	freqs := map[int64]uint64{0: 100, 1: 50, 2: 25, -1: 10}
	order := []int64{0, 1, 2, -1} // fixed order: map iteration order differs between loops
	tbl, err := Build(freqs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	s := bitstream.New()
	for _, v := range order {
		n := freqs[v]
		for i := uint64(0); i < n%3+1; i++ {
			if err := Encode(s, tbl, v); err != nil {
				t.Fatalf("Encode(%d): %v", v, err)
			}
		}
	}
	s.Finalize()

	hs := bitstream.New()
	WriteHeader(hs, tbl)
	hs.Finalize()
	dt, err := ReadHeader(bitstream.NewFromBytes(hs.Bytes()))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}

	r := bitstream.NewFromBytes(s.Bytes())
	for _, v := range order {
		n := freqs[v]
		for i := uint64(0); i < n%3+1; i++ {
			got, err := Decode(r, dt)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != v {
				t.Fatalf("Decode() = %d, want %d", got, v)
			}
		}
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	freqs := map[int64]uint64{10: 40, 20: 20, 30: 15, 40: 10, 50: 1}
	tbl, err := Build(freqs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	s := bitstream.New()
	WriteHeader(s, tbl)
	s.Finalize()

	dt, err := ReadHeader(bitstream.NewFromBytes(s.Bytes()))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}

	for v := range freqs {
		wantRep, _ := tbl.Encode(v)
		es := bitstream.New()
		es.WriteBitsUnsigned(wantRep.Bits, wantRep.Length)
		es.Finalize()
		got, err := Decode(bitstream.NewFromBytes(es.Bytes()), dt)
		if err != nil {
			t.Fatalf("Decode(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("Decode round trip for %d: got %d", v, got)
		}
	}
}

func TestEncodeUnknownValueIsCorrupt(t *testing.T) {
	tbl, _ := Build(map[int64]uint64{1: 1, 2: 1})
	s := bitstream.New()
	if err := Encode(s, tbl, 999); err == nil {
		t.Fatal("expected error for value not in table")
	}
}

func TestSkewedFrequenciesProduceShorterCodesForCommonValues(t *testing.T) {
	freqs := map[int64]uint64{1: 1000, 2: 1, 3: 1, 4: 1, 5: 1}
	tbl, err := Build(freqs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	common, _ := tbl.Encode(1)
	rare, _ := tbl.Encode(2)
	if common.Length > rare.Length {
		t.Fatalf("common value got longer code: %d vs %d", common.Length, rare.Length)
	}
}
