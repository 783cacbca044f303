// Package wasmschema holds the process-wide, read-only table mapping
// every structural field of a wasm module to a CompressionPolicy
// (spec.md §3 ValueCategory / §4.E WasmSchema).
//
// Grounded on the ValueWritten enum and default_technique map in
// original_source/tinycode/include/tinycode/wasm/optimized.hpp: that
// table assigns one of {LEB, HUFFMAN, FIXED_WIDTH} to each syntactic
// position in the wasm grammar. This package is the same idea
// generalized to the six policies spec.md actually specifies (HUFFMAN,
// LEB, FIXED(n), ELIDED, BOOL1, RAW8), expressed as a Go map instead of
// a C++ switch so codec can look a category up without a type
// dispatch.
package wasmschema

import "fmt"

// Category labels a syntactic position in the wasm grammar.
type Category uint8

const (
	// LEB-unsigned counts.
	SectionCount Category = iota
	LocalTypeRunCount
	FeatureCount
	NeededDynlibCount
	LocalIndex // explicit LEB exception to the Huffman default below

	// Huffman-coded indexes and small integers.
	FunctionIndex
	TypeIndex
	TableIndex
	GlobalIndex
	TagIndex
	ElementIndex
	MemorySegmentIndex
	StructFieldIndex
	ASTOpcode8
	ASTOpcode32
	HeapType
	BreakIndex
	SwitchTargetIndex
	ParamCount
	ResultCount
	LocalCount
	FieldCount
	ArrayCount
	MemoryAccessAlignment
	MemoryAccessOffset
	ConstS32
	ConstS64
	ConstF32
	ConstF64
	SIMDLaneIndex
	AtomicFenceOrder
	ScratchLocalIndex
	InlineBufferSize

	// Elided: restored from a hard-coded constant on read.
	Magic
	Version
	ReservedZeroByte
	ElementSegmentFuncrefKind
	MemorySizeFlag
	MemoryGrowFlag

	// Single bit.
	Mutability
	AllNonNegativeFlag
	IfHasElse

	// Raw byte runs.
	UserSectionBody
	DataSegmentBody
	V128LiteralBytes

	// Fixed-width.
	SectionSizePlaceholder
	SectionKind
	MemorySegmentFlags
	ElementSegmentFlags
	ExternalKind
	SIMDShuffleLaneIndex
)

// Kind is the shape of a CompressionPolicy, independent of its width.
type Kind uint8

const (
	KindHuffman Kind = iota
	KindLEB
	KindFixed
	KindElided
	KindBool1
	KindRaw8
)

// Policy is spec.md §3's CompressionPolicy: a Kind plus the parameters
// it needs (Width for FIXED, Signed for HUFFMAN/LEB categories whose
// values may be negative).
type Policy struct {
	Kind   Kind
	Width  uint8
	Signed bool
}

var table = map[Category]Policy{
	SectionCount:      {Kind: KindLEB},
	LocalTypeRunCount: {Kind: KindLEB},
	FeatureCount:      {Kind: KindLEB},
	NeededDynlibCount: {Kind: KindLEB},
	LocalIndex:        {Kind: KindLEB},

	FunctionIndex:         {Kind: KindHuffman},
	TypeIndex:             {Kind: KindHuffman},
	TableIndex:            {Kind: KindHuffman},
	GlobalIndex:           {Kind: KindHuffman},
	TagIndex:              {Kind: KindHuffman},
	ElementIndex:          {Kind: KindHuffman},
	MemorySegmentIndex:    {Kind: KindHuffman},
	StructFieldIndex:      {Kind: KindHuffman},
	ASTOpcode8:            {Kind: KindHuffman},
	ASTOpcode32:           {Kind: KindHuffman},
	HeapType:              {Kind: KindHuffman},
	BreakIndex:            {Kind: KindHuffman},
	SwitchTargetIndex:     {Kind: KindHuffman},
	ParamCount:            {Kind: KindHuffman},
	ResultCount:           {Kind: KindHuffman},
	LocalCount:            {Kind: KindHuffman},
	FieldCount:            {Kind: KindHuffman},
	ArrayCount:            {Kind: KindHuffman},
	MemoryAccessAlignment: {Kind: KindHuffman},
	MemoryAccessOffset:    {Kind: KindHuffman},
	ConstS32:              {Kind: KindHuffman, Signed: true},
	ConstS64:              {Kind: KindHuffman, Signed: true},
	ConstF32:              {Kind: KindHuffman, Signed: true},
	ConstF64:              {Kind: KindHuffman, Signed: true},
	SIMDLaneIndex:         {Kind: KindHuffman},
	AtomicFenceOrder:      {Kind: KindHuffman},
	ScratchLocalIndex:     {Kind: KindHuffman},
	InlineBufferSize:      {Kind: KindHuffman},

	Magic:                     {Kind: KindElided},
	Version:                   {Kind: KindElided},
	ReservedZeroByte:          {Kind: KindElided},
	ElementSegmentFuncrefKind: {Kind: KindElided},
	MemorySizeFlag:            {Kind: KindElided},
	MemoryGrowFlag:            {Kind: KindElided},

	Mutability:         {Kind: KindBool1},
	AllNonNegativeFlag: {Kind: KindBool1},
	IfHasElse:          {Kind: KindBool1},

	UserSectionBody:  {Kind: KindRaw8},
	DataSegmentBody:  {Kind: KindRaw8},
	V128LiteralBytes: {Kind: KindRaw8},

	SectionSizePlaceholder: {Kind: KindFixed, Width: 40},
	SectionKind:            {Kind: KindFixed, Width: 4},
	MemorySegmentFlags:     {Kind: KindFixed, Width: 3},
	ElementSegmentFlags:    {Kind: KindFixed, Width: 3},
	ExternalKind:           {Kind: KindFixed, Width: 3}, // Func/Table/Memory/Global/Tag
	SIMDShuffleLaneIndex:   {Kind: KindFixed, Width: 5},
}

// PolicyFor returns c's compression policy. It panics on an unknown
// category: the table above is a closed, process-wide constant and an
// unrecognised category is a codec bug, not a bad input (spec.md §7).
func PolicyFor(c Category) Policy {
	p, ok := table[c]
	if !ok {
		panic(fmt.Sprintf("wasmschema: no policy registered for category %d", c))
	}
	return p
}

// HuffmanCategories lists every category with KindHuffman, in a fixed
// order both sides of the codec agree on (spec.md §4.F "in a fixed
// category order agreed with the reader"). Declaration order above is
// used directly so the writer and reader iterate identically without
// needing a second source of truth.
var HuffmanCategories = func() []Category {
	out := make([]Category, 0, len(table))
	// Iterate by the const declaration's numeric order, not the map's
	// (map iteration order is randomised in Go).
	for c := Category(0); int(c) < int(SIMDShuffleLaneIndex)+1; c++ {
		if p, ok := table[c]; ok && p.Kind == KindHuffman {
			out = append(out, c)
		}
	}
	return out
}()
