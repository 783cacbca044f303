package intlist

import (
	"reflect"
	"testing"

	"github.com/deepteams/tinywasm/internal/bitstream"
)

func roundTrip(t *testing.T, data []int64) []int64 {
	t.Helper()
	s := bitstream.New()
	if err := Write(s, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.Finalize()
	r := bitstream.NewFromBytes(s.Bytes())
	got, err := Read(r)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return got
}

func TestRoundTripEmpty(t *testing.T) {
	got := roundTrip(t, nil)
	if len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}

func TestRoundTripUniformPositive(t *testing.T) {
	// All equal, small, positive values should favor FIXED.
	data := []int64{5, 5, 5, 5, 5}
	got := roundTrip(t, data)
	if !reflect.DeepEqual(got, data) {
		t.Fatalf("got %v, want %v", got, data)
	}
}

func TestRoundTripMixedSign(t *testing.T) {
	data := []int64{-100, 3, -7, 0, 900000, -1}
	got := roundTrip(t, data)
	if !reflect.DeepEqual(got, data) {
		t.Fatalf("got %v, want %v", got, data)
	}
}

func TestRoundTripMonotonicFavorsDelta(t *testing.T) {
	data := make([]int64, 50)
	for i := range data {
		data[i] = int64(i * 1000)
	}
	got := roundTrip(t, data)
	if !reflect.DeepEqual(got, data) {
		t.Fatalf("got %v, want %v", got, data)
	}
}

func TestRoundTripSparseFavorsTagged(t *testing.T) {
	data := []int64{1, 2, 1 << 40, 3, -(1 << 30), 4}
	got := roundTrip(t, data)
	if !reflect.DeepEqual(got, data) {
		t.Fatalf("got %v, want %v", got, data)
	}
}

func TestChooseIsDeterministicOnTies(t *testing.T) {
	// A single repeated-call sanity check: the same input always picks
	// the same scheme (declared tie-break order), so two independent
	// encodes of identical data produce byte-identical streams.
	data := []int64{1, 1, 1, 1}
	s1 := bitstream.New()
	_ = Write(s1, data)
	s1.Finalize()

	s2 := bitstream.New()
	_ = Write(s2, data)
	s2.Finalize()

	b1, b2 := s1.Bytes(), s2.Bytes()
	if len(b1) != len(b2) {
		t.Fatalf("non-deterministic encoding lengths: %d vs %d", len(b1), len(b2))
	}
	for i := range b1 {
		if b1[i] != b2[i] {
			t.Fatalf("non-deterministic encoding at byte %d", i)
		}
	}
}
