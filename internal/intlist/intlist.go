// Package intlist implements spec.md §4.D: encoding a slice of int64 as
// a self-describing list, choosing whichever of four schemes costs the
// fewest bits for the data actually given.
//
// Grounded on WriteSimpleIntegerList / ReadSimpleIntegerList in
// original_source/tinycode/include/tinycode/{encoding,decoding}.hpp: the
// cost formulas and the four-scheme enum below are carried over bit for
// bit, translated from the C++ template (which Write*s straight into a
// byte vector) into calls against intcodec/bitstream.
package intlist

import (
	"fmt"

	"github.com/deepteams/tinywasm/internal/bitstream"
	"github.com/deepteams/tinywasm/internal/intcodec"
)

// ListTypeBits is the width of the scheme tag prefixing every list.
const ListTypeBits = 2

// ListSizeBits bounds lists to 2^24 - 1 elements.
const ListSizeBits = 24

// scheme is IntegerListEncodingType from the original encoding header.
type scheme uint8

const (
	schemeFixed scheme = iota
	schemeTagged
	schemeDeltaFixed
	schemeDeltaTagged
)

// ErrTooLarge is returned when a list would overflow ListSizeBits.
var ErrTooLarge = fmt.Errorf("intlist: list exceeds %d elements", 1<<ListSizeBits-1)

// ErrCorruptStream is returned by Read on a malformed scheme tag.
var ErrCorruptStream = fmt.Errorf("intlist: corrupt stream")

type costs struct {
	fixed, tagged, deltaFixed, deltaTagged                       uint64
	maxFixedBits, maxDeltaFixedBits                               uint8
	allPositive, allDeltaPositive                                 bool
}

func computeCosts(data []int64) costs {
	c := costs{
		tagged:      uint64(ListTypeBits + ListSizeBits + 1),
		deltaTagged: uint64(ListTypeBits + ListSizeBits + 1),
		allPositive: true, allDeltaPositive: true,
	}
	var last int64
	for _, num := range data {
		bitsRequired := intcodec.RequiredBits(num)
		if bitsRequired > c.maxFixedBits {
			c.maxFixedBits = bitsRequired
		}
		if num < 0 {
			c.allPositive = false
		}
		c.tagged += 6 + uint64(bitsRequired)

		delta := num - last
		bitsRequiredDelta := intcodec.RequiredBits(delta)
		if bitsRequiredDelta > c.maxDeltaFixedBits {
			c.maxDeltaFixedBits = bitsRequiredDelta
		}
		if delta < 0 {
			c.allDeltaPositive = false
		}
		c.deltaTagged += 6 + uint64(bitsRequiredDelta)

		last = num
	}

	n := uint64(len(data))
	c.fixed = uint64(ListTypeBits+ListSizeBits+1+6) + n*uint64(c.maxFixedBits)
	c.deltaFixed = uint64(ListTypeBits+ListSizeBits+1+6) + n*uint64(c.maxDeltaFixedBits)

	if !c.allPositive {
		c.tagged += n
		c.fixed += n
	}
	if !c.allDeltaPositive {
		c.deltaTagged += n
		c.deltaFixed += n
	}

	return c
}

func (c costs) choose() scheme {
	best, chosen := c.fixed, schemeFixed
	if c.tagged < best {
		best, chosen = c.tagged, schemeTagged
	}
	if c.deltaFixed < best {
		best, chosen = c.deltaFixed, schemeDeltaFixed
	}
	if c.deltaTagged < best {
		chosen = schemeDeltaTagged
	}
	return chosen
}

// Write serializes data, choosing whichever of the four schemes costs
// the fewest bits.
func Write(s *bitstream.Stream, data []int64) error {
	if len(data) > 1<<ListSizeBits-1 {
		return ErrTooLarge
	}
	c := computeCosts(data)

	switch c.choose() {
	case schemeFixed:
		s.WriteBitsUnsigned(uint64(schemeFixed), ListTypeBits)
		s.WriteBitsUnsigned(uint64(len(data)), ListSizeBits)
		s.WriteBit(c.allPositive)
		s.WriteBitsUnsigned(uint64(c.maxFixedBits), 6)
		for _, num := range data {
			if c.allPositive {
				intcodec.WriteUnsigned(s, uint64(num), c.maxFixedBits)
			} else {
				intcodec.WriteSigned(s, num, c.maxFixedBits)
			}
		}

	case schemeTagged:
		s.WriteBitsUnsigned(uint64(schemeTagged), ListTypeBits)
		s.WriteBitsUnsigned(uint64(len(data)), ListSizeBits)
		s.WriteBit(c.allPositive)
		for _, num := range data {
			if c.allPositive {
				intcodec.WriteTaggedUnsigned(s, uint64(num))
			} else {
				intcodec.WriteTagged(s, num)
			}
		}

	case schemeDeltaFixed:
		s.WriteBitsUnsigned(uint64(schemeDeltaFixed), ListTypeBits)
		s.WriteBitsUnsigned(uint64(len(data)), ListSizeBits)
		s.WriteBit(c.allDeltaPositive)
		s.WriteBitsUnsigned(uint64(c.maxDeltaFixedBits), 6)
		var last int64
		for _, num := range data {
			delta := num - last
			if c.allDeltaPositive {
				intcodec.WriteUnsigned(s, uint64(delta), c.maxDeltaFixedBits)
			} else {
				intcodec.WriteSigned(s, delta, c.maxDeltaFixedBits)
			}
			last = num
		}

	case schemeDeltaTagged:
		s.WriteBitsUnsigned(uint64(schemeDeltaTagged), ListTypeBits)
		s.WriteBitsUnsigned(uint64(len(data)), ListSizeBits)
		s.WriteBit(c.allDeltaPositive)
		var last int64
		for _, num := range data {
			delta := num - last
			if c.allDeltaPositive {
				intcodec.WriteTaggedUnsigned(s, uint64(delta))
			} else {
				intcodec.WriteTagged(s, delta)
			}
			last = num
		}
	}

	return nil
}

// Read parses a list written by Write.
func Read(s *bitstream.Stream) ([]int64, error) {
	typeU, err := s.ReadBitsUnsigned(ListTypeBits)
	if err != nil {
		return nil, err
	}
	size, err := s.ReadBitsUnsigned(ListSizeBits)
	if err != nil {
		return nil, err
	}
	positive, err := s.ReadBit()
	if err != nil {
		return nil, err
	}

	out := make([]int64, 0, size)

	switch scheme(typeU) {
	case schemeFixed:
		width, err := s.ReadBitsUnsigned(6)
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < size; i++ {
			var v int64
			if positive {
				u, err := intcodec.ReadUnsigned(s, uint8(width))
				if err != nil {
					return nil, err
				}
				v = int64(u)
			} else {
				v, err = intcodec.ReadSigned(s, uint8(width))
				if err != nil {
					return nil, err
				}
			}
			out = append(out, v)
		}

	case schemeTagged:
		for i := uint64(0); i < size; i++ {
			var v int64
			if positive {
				u, err := intcodec.ReadTaggedUnsigned(s)
				if err != nil {
					return nil, err
				}
				v = int64(u)
			} else {
				v, err = intcodec.ReadTagged(s)
				if err != nil {
					return nil, err
				}
			}
			out = append(out, v)
		}

	case schemeDeltaFixed:
		width, err := s.ReadBitsUnsigned(6)
		if err != nil {
			return nil, err
		}
		var last int64
		for i := uint64(0); i < size; i++ {
			var delta int64
			if positive {
				u, err := intcodec.ReadUnsigned(s, uint8(width))
				if err != nil {
					return nil, err
				}
				delta = int64(u)
			} else {
				delta, err = intcodec.ReadSigned(s, uint8(width))
				if err != nil {
					return nil, err
				}
			}
			last += delta
			out = append(out, last)
		}

	case schemeDeltaTagged:
		var last int64
		for i := uint64(0); i < size; i++ {
			var delta int64
			if positive {
				u, err := intcodec.ReadTaggedUnsigned(s)
				if err != nil {
					return nil, err
				}
				delta = int64(u)
			} else {
				delta, err = intcodec.ReadTagged(s)
				if err != nil {
					return nil, err
				}
			}
			last += delta
			out = append(out, last)
		}

	default:
		return nil, fmt.Errorf("%w: unknown list scheme %d", ErrCorruptStream, typeU)
	}

	return out, nil
}
