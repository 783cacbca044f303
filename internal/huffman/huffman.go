// Package huffman implements spec.md §4.C: building a canonical-shape
// Huffman tree from a value→frequency histogram, assigning prefix codes
// by DFS descent, and serializing/parsing the resulting table as a
// stream header.
//
// Adapted from the tree-construction half of
// internal/lossless/encode_huffman.go (buildTreeAndExtractLengths): that
// function pools huffmanTreeNode values in a slice and drives a
// container/heap min-priority-queue over node indices, exactly the
// "arena of nodes indexed by integer handles" spec.md §9 recommends. This
// package keeps that pooled-node/heap shape but extracts codes directly
// via DFS (root.left=0, root.right=1) instead of webp's canonical
// code-length-then-reassign step, because spec.md's Representation is
// defined by tree shape, not by a length-sorted canonical form.
//
// It also fixes the bug spec.md §9 calls out in the original C++
// (TinyCode::Tree::Node using `data != 0` to mean "leaf"): every node
// here carries an explicit isLeaf flag, so a leaf whose value is 0 (e.g.
// ConstS32 == 0, or FunctionIndex == 0) is never misread as internal.
package huffman

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	"github.com/deepteams/tinywasm/internal/bitstream"
	"github.com/deepteams/tinywasm/internal/intlist"
)

// ErrEmptyHistogram is returned by Build when the frequency table has no
// entries (spec.md §4.C: "Tables built from empty input are invalid").
var ErrEmptyHistogram = errors.New("huffman: empty histogram")

// ErrCorruptStream is returned when a header or encoded value cannot be
// parsed consistently (spec.md §7).
var ErrCorruptStream = errors.New("huffman: corrupt stream")

// Representation is a prefix code: the low Length bits of Bits hold the
// codeword, MSB-first in descent order (spec.md §3).
type Representation struct {
	Bits   uint64
	Length uint8
}

// node is an arena-pooled tree node. left/right are indices into the
// same pool, or -1 for "no child". isLeaf distinguishes a zero-valued
// leaf from an internal node — see the package doc for why this can't be
// inferred from Value alone.
type node struct {
	value  int64
	freq   uint64
	isLeaf bool
	left   int
	right  int
}

// Table is a bidirectional Value <-> Representation mapping for one
// alphabet (spec.md §3 HuffmanTable).
type Table struct {
	encode map[int64]Representation
	pool   []node
	root   int // index into pool, or -1 if the table is empty
}

// Encode returns the bits to write for v. The caller must only pass
// values that were present in the histogram Build was called with.
func (t *Table) Encode(v int64) (Representation, bool) {
	rep, ok := t.encode[v]
	return rep, ok
}

// Values returns the table's alphabet, in an arbitrary but stable order
// (sorted, so header emission is deterministic across runs).
func (t *Table) Values() []int64 {
	out := make([]int64, 0, len(t.encode))
	for v := range t.encode {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// nodeHeap is a min-priority-queue over pool indices, ordered by
// frequency then by index (for determinism when frequencies tie —
// spec.md §4.C: "breaking ties arbitrarily but deterministically").
type nodeHeap struct {
	pool    []node
	indices []int
}

func (h *nodeHeap) Len() int { return len(h.indices) }
func (h *nodeHeap) Less(i, j int) bool {
	a, b := h.pool[h.indices[i]], h.pool[h.indices[j]]
	if a.freq != b.freq {
		return a.freq < b.freq
	}
	return h.indices[i] < h.indices[j]
}
func (h *nodeHeap) Swap(i, j int) { h.indices[i], h.indices[j] = h.indices[j], h.indices[i] }
func (h *nodeHeap) Push(x any)    { h.indices = append(h.indices, x.(int)) }
func (h *nodeHeap) Pop() any {
	old := h.indices
	n := len(old)
	idx := old[n-1]
	h.indices = old[:n-1]
	return idx
}

// Build constructs a Table from a value→frequency histogram.
func Build(frequencies map[int64]uint64) (*Table, error) {
	if len(frequencies) == 0 {
		return nil, ErrEmptyHistogram
	}

	keys := make([]int64, 0, len(frequencies))
	for v := range frequencies {
		keys = append(keys, v)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	h := &nodeHeap{pool: make([]node, 0, 2*len(keys)-1)}
	for _, v := range keys {
		idx := len(h.pool)
		h.pool = append(h.pool, node{value: v, freq: frequencies[v], isLeaf: true, left: -1, right: -1})
		h.indices = append(h.indices, idx)
	}

	if len(h.indices) == 1 {
		// Single-symbol alphabet: 1-bit code "0" by convention
		// (spec.md §4.C and §9 Open Questions).
		t := &Table{encode: map[int64]Representation{keys[0]: {Bits: 0, Length: 1}}}
		t.pool = h.pool
		t.root = 0
		return t, nil
	}

	heap.Init(h)
	for h.Len() > 1 {
		left := heap.Pop(h).(int)
		right := heap.Pop(h).(int)
		parent := len(h.pool)
		h.pool = append(h.pool, node{
			freq:   h.pool[left].freq + h.pool[right].freq,
			isLeaf: false,
			left:   left,
			right:  right,
		})
		heap.Push(h, parent)
	}
	root := h.indices[0]

	t := &Table{encode: make(map[int64]Representation, len(keys)), pool: h.pool, root: root}
	assignCodes(t.pool, root, Representation{}, t.encode)
	return t, nil
}

func assignCodes(pool []node, idx int, rep Representation, out map[int64]Representation) {
	n := pool[idx]
	if n.isLeaf {
		out[n.value] = rep
		return
	}
	assignCodes(pool, n.left, Representation{Bits: rep.Bits << 1, Length: rep.Length + 1}, out)
	assignCodes(pool, n.right, Representation{Bits: rep.Bits<<1 | 1, Length: rep.Length + 1}, out)
}

// WriteHeader serializes the table as: the list of values via
// intlist.Write (scheme auto-chosen), then for each value in that same
// order a 6-bit bit-size followed by the representation.
func WriteHeader(s *bitstream.Stream, t *Table) {
	values := t.Values()
	intlist.Write(s, values)
	for _, v := range values {
		rep := t.encode[v]
		s.WriteBitsUnsigned(uint64(rep.Length), 6)
		s.WriteBitsUnsigned(rep.Bits, rep.Length)
	}
}

// decodeNode is a plain binary-tree node built while parsing a header;
// unlike Table's pool it grows on demand as prefixes are discovered; see
// ReadHeader.
type decodeNode struct {
	isLeaf      bool
	value       int64
	left, right *decodeNode
}

// DecodeTable is the read-side counterpart of Table: a tree walked one
// bit at a time by Decode.
type DecodeTable struct {
	root *decodeNode
}

// ReadHeader parses a header written by WriteHeader and builds a
// DecodeTable. Two values sharing a prefix (so the second write would
// have to split an existing leaf) is reported as ErrCorruptStream.
func ReadHeader(s *bitstream.Stream) (*DecodeTable, error) {
	values, err := intlist.Read(s)
	if err != nil {
		return nil, fmt.Errorf("huffman: reading value list: %w", err)
	}

	root := &decodeNode{}
	for _, v := range values {
		bitSizeU, err := s.ReadBitsUnsigned(6)
		if err != nil {
			return nil, fmt.Errorf("huffman: reading bit size: %w", err)
		}
		bitSize := uint8(bitSizeU)
		repBits, err := s.ReadBitsUnsigned(bitSize)
		if err != nil {
			return nil, fmt.Errorf("huffman: reading representation: %w", err)
		}

		cur := root
		for i := int(bitSize) - 1; i >= 0; i-- {
			if cur.isLeaf {
				return nil, fmt.Errorf("%w: code for %d is a prefix of an earlier code", ErrCorruptStream, v)
			}
			bit := (repBits>>uint(i))&1 != 0
			var next **decodeNode
			if bit {
				next = &cur.right
			} else {
				next = &cur.left
			}
			if *next == nil {
				*next = &decodeNode{}
			}
			cur = *next
		}
		if !cur.isLeaf && (cur.left != nil || cur.right != nil) {
			return nil, fmt.Errorf("%w: code for %d collides with a longer existing code", ErrCorruptStream, v)
		}
		cur.isLeaf = true
		cur.value = v
	}

	return &DecodeTable{root: root}, nil
}

// Encode writes v's representation from t.
func Encode(s *bitstream.Stream, t *Table, v int64) error {
	rep, ok := t.Encode(v)
	if !ok {
		return fmt.Errorf("%w: value %d not present in table", ErrCorruptStream, v)
	}
	s.WriteBitsUnsigned(rep.Bits, rep.Length)
	return nil
}

// Decode descends dt one bit at a time until a leaf is reached.
func Decode(s *bitstream.Stream, dt *DecodeTable) (int64, error) {
	cur := dt.root
	if cur == nil {
		return 0, fmt.Errorf("%w: empty decode table", ErrCorruptStream)
	}
	for !cur.isLeaf {
		bit, err := s.ReadBit()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrCorruptStream, err)
		}
		if bit {
			cur = cur.right
		} else {
			cur = cur.left
		}
		if cur == nil {
			return 0, fmt.Errorf("%w: undefined prefix", ErrCorruptStream)
		}
	}
	return cur.value, nil
}
