// Package codec implements spec.md §4.F (WasmWriter) and §4.G
// (WasmReader): the two-pass, schema-driven compressed encoding of a
// wasmir.Module, and its inverse.
//
// Grounded on OptimizedWasmBinaryWriter/Reader in
// original_source/tinycode/include/tinycode/wasm/{io,optimized}.hpp:
// that pair's two-pass shape (determineWritingSchemes() then a second
// traversal that calls writeValue<VT> per category) is reproduced here
// as collectHistograms/writeModule, with the category dispatch table
// coming from wasmschema instead of a templated switch. The
// placeholder-then-shrink section size handling mirrors
// OptimizedWasmBinaryWriter::finish()'s use of GetRequiredLEBBits plus
// MoveBits.
package codec

import (
	"errors"
	"fmt"
	"math"

	"github.com/deepteams/tinywasm/internal/bitstream"
	"github.com/deepteams/tinywasm/internal/huffman"
	"github.com/deepteams/tinywasm/internal/intcodec"
	"github.com/deepteams/tinywasm/internal/intlist"
	"github.com/deepteams/tinywasm/internal/wasmir"
	"github.com/deepteams/tinywasm/internal/wasmschema"
)

var (
	// ErrCorruptStream is spec.md §7's corrupt-stream error kind.
	ErrCorruptStream = errors.New("codec: corrupt stream")
	// ErrUnsupportedFeature is spec.md §7's unsupported-feature kind.
	ErrUnsupportedFeature = errors.New("codec: unsupported feature")
)

const sectionKindBits = 4
const sectionSizePlaceholderBits = 40
const lebGroup = intcodec.DefaultLEBGroup

// externalKindBits matches wasmschema.PolicyFor(wasmschema.ExternalKind).Width:
// five kinds (func/table/memory/global/tag) need 3 bits.
const externalKindBits = 3

// section kinds, in the canonical order spec.md §4.F traverses them.
type sectionKind uint8

const (
	secTypes sectionKind = iota
	secImports
	secFunctions
	secTables
	secMemories
	secTags
	secGlobals
	secExports
	secStart
	secElements
	secDataCount
	secCode
	secData
	secUser
)

// --- pass 1: observation --------------------------------------------------

type histograms map[wasmschema.Category]map[int64]uint64

func (h histograms) observe(cat wasmschema.Category, v int64) {
	if wasmschema.PolicyFor(cat).Kind != wasmschema.KindHuffman {
		return
	}
	m := h[cat]
	if m == nil {
		m = make(map[int64]uint64)
		h[cat] = m
	}
	m[v]++
}

func collectHistograms(m *wasmir.Module) histograms {
	h := make(histograms)
	walkModule(m, func(cat wasmschema.Category, v int64) { h.observe(cat, v) }, nil)
	return h
}

func buildTables(h histograms) (map[wasmschema.Category]*huffman.Table, error) {
	tables := make(map[wasmschema.Category]*huffman.Table)
	for _, cat := range wasmschema.HuffmanCategories {
		freqs := h[cat]
		if len(freqs) == 0 {
			continue
		}
		tbl, err := huffman.Build(freqs)
		if err != nil {
			return nil, fmt.Errorf("codec: building table for category %d: %w", cat, err)
		}
		tables[cat] = tbl
	}
	return tables, nil
}

func writeHuffmanHeaders(s *bitstream.Stream, tables map[wasmschema.Category]*huffman.Table) {
	for _, cat := range wasmschema.HuffmanCategories {
		tbl, ok := tables[cat]
		if !ok {
			intlist.Write(s, nil) // no observations for this category
			continue
		}
		huffman.WriteHeader(s, tbl)
	}
}

func readHuffmanHeaders(s *bitstream.Stream) (map[wasmschema.Category]*huffman.DecodeTable, error) {
	out := make(map[wasmschema.Category]*huffman.DecodeTable)
	for _, cat := range wasmschema.HuffmanCategories {
		dt, err := huffman.ReadHeader(s)
		if err != nil {
			return nil, fmt.Errorf("%w: huffman header for category %d: %v", ErrCorruptStream, cat, err)
		}
		out[cat] = dt
	}
	return out, nil
}

// walkModule visits every schema-governed value in m, in spec.md §4.F's
// canonical order, calling huff for HUFFMAN-policy values. It is shared
// between pass 1 (huff records, non-huffman values ignored) and is also
// the structural skeleton writeModule/readModule follow, kept here only
// as documentation of that shared order — writeModule and readModule
// each re-walk explicitly since pass 2 must also emit non-Huffman
// fields and pass 1 must not write anything at all.
func walkModule(m *wasmir.Module, huff func(cat wasmschema.Category, v int64), _ any) {
	for _, ft := range m.Types {
		huff(wasmschema.ParamCount, int64(len(ft.Params)))
		for _, vt := range ft.Params {
			huff(wasmschema.HeapType, int64(vt))
		}
		huff(wasmschema.ResultCount, int64(len(ft.Results)))
		for _, vt := range ft.Results {
			huff(wasmschema.HeapType, int64(vt))
		}
	}
	for _, imp := range m.Imports {
		switch imp.Kind {
		case wasmir.KindFunc:
			huff(wasmschema.TypeIndex, int64(imp.TypeIndex))
		case wasmir.KindTable:
			huff(wasmschema.HeapType, int64(imp.Table.ElemType))
		case wasmir.KindGlobal:
			huff(wasmschema.HeapType, int64(imp.GlobalType.Type))
		case wasmir.KindTag:
			huff(wasmschema.TypeIndex, int64(imp.TypeIndex))
		}
	}
	for _, ti := range m.Funcs {
		huff(wasmschema.TypeIndex, int64(ti))
	}
	for _, tt := range m.Tables {
		huff(wasmschema.HeapType, int64(tt.ElemType))
	}
	for _, ti := range m.Tags {
		huff(wasmschema.TypeIndex, int64(ti))
	}
	for _, g := range m.Globals {
		huff(wasmschema.HeapType, int64(g.Type.Type))
		walkExpr(g.Init, huff)
	}
	for _, e := range m.Exports {
		huff(exportIndexCategory(e.Kind), int64(e.Index))
	}
	if m.HasStart {
		huff(wasmschema.FunctionIndex, int64(m.Start))
	}
	for _, el := range m.Elements {
		huff(wasmschema.ElementIndex, int64(len(el.FuncIndexes)))
		for _, fi := range el.FuncIndexes {
			huff(wasmschema.FunctionIndex, int64(fi))
		}
		walkExpr(el.Offset, huff)
	}
	for _, c := range m.Code {
		huff(wasmschema.LocalCount, int64(len(c.Locals)))
		for _, lg := range c.Locals {
			huff(wasmschema.HeapType, int64(lg.Type))
		}
		walkExpr(c.Body, huff)
	}
	for _, d := range m.Data {
		walkExpr(d.Offset, huff)
	}
}

// exportIndexCategory picks which Huffman category an export's index
// falls under, by what it refers to.
func exportIndexCategory(kind wasmir.ExternalKind) wasmschema.Category {
	switch kind {
	case wasmir.KindTable:
		return wasmschema.TableIndex
	case wasmir.KindMemory:
		return wasmschema.MemorySegmentIndex
	case wasmir.KindGlobal:
		return wasmschema.GlobalIndex
	case wasmir.KindTag:
		return wasmschema.TagIndex
	default:
		return wasmschema.FunctionIndex
	}
}

// walkExpr mirrors writeExpr's terminator convention: a top-level,
// loop, or block body (and an if's "then" with no else) ends in a
// huffman-coded OpEnd; an if's "then" followed by an else ends in
// OpElse instead, with the else itself ending in OpEnd.
func walkExpr(e wasmir.Expr, huff func(cat wasmschema.Category, v int64)) {
	walkExprTerm(e, wasmir.OpEnd, huff)
}

func walkExprTerm(e wasmir.Expr, term wasmir.Op, huff func(cat wasmschema.Category, v int64)) {
	for _, instr := range e {
		huff(wasmschema.ASTOpcode8, int64(instr.Op))
		switch instr.Op {
		case wasmir.OpCall:
			huff(wasmschema.FunctionIndex, int64(instr.Indexes[0]))
		case wasmir.OpCallIndirect:
			huff(wasmschema.TypeIndex, int64(instr.Indexes[0]))
			huff(wasmschema.TableIndex, int64(instr.Indexes[1]))
		case wasmir.OpGlobalGet, wasmir.OpGlobalSet:
			huff(wasmschema.GlobalIndex, int64(instr.Indexes[0]))
		case wasmir.OpBr, wasmir.OpBrIf:
			huff(wasmschema.BreakIndex, int64(instr.Indexes[0]))
		case wasmir.OpBrTable:
			for _, idx := range instr.Indexes {
				huff(wasmschema.SwitchTargetIndex, int64(idx))
			}
			huff(wasmschema.SwitchTargetIndex, int64(instr.Default))
		case wasmir.OpI32Load, wasmir.OpI64Load, wasmir.OpF32Load, wasmir.OpF64Load,
			wasmir.OpI32Store, wasmir.OpI64Store, wasmir.OpF32Store, wasmir.OpF64Store:
			huff(wasmschema.MemoryAccessAlignment, int64(instr.Align))
			huff(wasmschema.MemoryAccessOffset, int64(instr.Offset))
		case wasmir.OpI32Const:
			huff(wasmschema.ConstS32, int64(instr.I32))
		case wasmir.OpI64Const:
			huff(wasmschema.ConstS64, instr.I64)
		case wasmir.OpF32Const:
			huff(wasmschema.ConstF32, int64(int32FromFloat32Bits(instr.F32)))
		case wasmir.OpF64Const:
			huff(wasmschema.ConstF64, int64FromFloat64Bits(instr.F64))
		case wasmir.OpBlock, wasmir.OpLoop, wasmir.OpIf:
			if instr.Block.HasValue {
				huff(wasmschema.HeapType, int64(instr.Block.Value))
			} else if !instr.Block.Empty {
				huff(wasmschema.TypeIndex, instr.Block.TypeIdx)
			}
			hasElse := instr.Op == wasmir.OpIf && len(instr.Body) > 1
			thenTerm := wasmir.OpEnd
			if hasElse {
				thenTerm = wasmir.OpElse
			}
			walkExprTerm(instr.Body[0], thenTerm, huff)
			if hasElse {
				walkExprTerm(instr.Body[1], wasmir.OpEnd, huff)
			}
		}
	}
	huff(wasmschema.ASTOpcode8, int64(term))
}

// int32FromFloat32Bits and int64FromFloat64Bits reinterpret a float's
// bit pattern as a signed integer so it can key a Huffman histogram the
// same way ConstS32/ConstS64 do; WriteFloat32/WriteFloat64 (intcodec)
// do the same reinterpretation at the bit level with trim=0.
func int32FromFloat32Bits(v float32) int32 {
	return int32(math.Float32bits(v))
}

func int64FromFloat64Bits(v float64) int64 {
	return int64(math.Float64bits(v))
}

func float32FromInt32Bits(v int32) float32 {
	return math.Float32frombits(uint32(v))
}

func float64FromInt64Bits(v int64) float64 {
	return math.Float64frombits(uint64(v))
}
