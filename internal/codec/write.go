package codec

import (
	"fmt"

	"github.com/deepteams/tinywasm/internal/bitstream"
	"github.com/deepteams/tinywasm/internal/huffman"
	"github.com/deepteams/tinywasm/internal/intcodec"
	"github.com/deepteams/tinywasm/internal/pool"
	"github.com/deepteams/tinywasm/internal/wasmir"
	"github.com/deepteams/tinywasm/internal/wasmschema"
)

// bodyBufferHintBytes seeds the pooled backing array for a Compress
// call's bit streams. It only needs to be in the right ballpark — a
// module that outgrows it reallocates once, same as bitstream.New —
// QR-sized modules (§1's 2953-byte ceiling) comfortably fit.
const bodyBufferHintBytes = 4096

// Compress implements spec.md §4.F end to end: observe, build tables,
// write the prolog, then emit the module.
func Compress(m *wasmir.Module) ([]byte, error) {
	hist := collectHistograms(m)
	tables, err := buildTables(hist)
	if err != nil {
		return nil, err
	}

	bodyBuf := pool.GetBitBuffer(bodyBufferHintBytes)
	body := bitstream.NewWithBuffer(bodyBuf)
	writeHuffmanHeaders(body, tables)

	w := &moduleWriter{s: body, tables: tables}
	if err := w.writeModule(m); err != nil {
		pool.PutBitBuffer(body.Bytes()[:0])
		return nil, err
	}
	body.Finalize()

	// Prepend spec.md §4.F's total_bits_written LEB by re-emitting the
	// body bit-by-bit after it, since bitstream.Stream only supports
	// appending at its write cursor.
	outBuf := pool.GetBitBuffer(bodyBufferHintBytes)
	out := bitstream.NewWithBuffer(outBuf)
	intcodec.WriteLEBUnsigned(out, body.Len(), lebGroup)
	for i := uint64(0); i < body.Len(); i++ {
		bit, err := body.ReadBit()
		if err != nil {
			pool.PutBitBuffer(body.Bytes()[:0])
			pool.PutBitBuffer(out.Bytes()[:0])
			return nil, fmt.Errorf("codec: re-emitting body: %w", err)
		}
		out.WriteBit(bit)
	}
	out.Finalize()
	pool.PutBitBuffer(body.Bytes()[:0])

	result := append([]byte(nil), out.Bytes()...)
	pool.PutBitBuffer(out.Bytes()[:0])
	return result, nil
}

type moduleWriter struct {
	s      *bitstream.Stream
	tables map[wasmschema.Category]*huffman.Table
}

func (w *moduleWriter) huff(cat wasmschema.Category, v int64) error {
	tbl := w.tables[cat]
	if tbl == nil {
		panic(fmt.Sprintf("codec: writing value for category %d with no observation-pass table", cat))
	}
	return huffman.Encode(w.s, tbl, v)
}

func (w *moduleWriter) lebu(v uint64)      { intcodec.WriteLEBUnsigned(w.s, v, lebGroup) }
func (w *moduleWriter) leb(v int64)        { intcodec.WriteLEB(w.s, v, lebGroup) }
func (w *moduleWriter) fixed(v uint64, n uint8) { intcodec.WriteUnsigned(w.s, v, n) }
func (w *moduleWriter) bool1(b bool)       { intcodec.WriteBool(w.s, b) }
func (w *moduleWriter) raw(b []byte) {
	for _, by := range b {
		intcodec.WriteUnsigned(w.s, uint64(by), 8)
	}
}
func (w *moduleWriter) rawString(str string) {
	w.lebu(uint64(len(str)))
	w.raw([]byte(str))
}

// writeSection implements spec.md §4.F's "placeholder-then-shrink":
// reserve a 40-bit size field, run body, then replace the placeholder
// with the actual bit length as an unsigned LEB and move_bits the body
// back to close the gap.
func (w *moduleWriter) writeSection(kind sectionKind, body func() error) error {
	w.fixed(uint64(kind), sectionKindBits)
	placeholderStart := w.s.Len()
	w.fixed(0, sectionSizePlaceholderBits)
	bodyStart := w.s.Len()

	if err := body(); err != nil {
		return err
	}
	bodyEnd := w.s.Len()
	bitsBody := bodyEnd - bodyStart

	tmp := bitstream.New()
	intcodec.WriteLEBUnsigned(tmp, bitsBody, lebGroup)
	lebLen := tmp.Len()

	newBodyStart := placeholderStart + lebLen
	newBodyEnd := w.s.MoveBits(bodyStart, bodyEnd, newBodyStart)
	w.s.Truncate(newBodyEnd)

	for i := uint64(0); i < lebLen; i++ {
		bit, _ := tmp.ReadBit()
		w.s.OverwriteBit(placeholderStart+i, bit)
	}
	return nil
}

func (w *moduleWriter) writeModule(m *wasmir.Module) error {
	if len(m.Types) > 0 {
		if err := w.writeSection(secTypes, func() error { return w.writeTypes(m) }); err != nil {
			return err
		}
	}
	if len(m.Imports) > 0 {
		if err := w.writeSection(secImports, func() error { return w.writeImports(m) }); err != nil {
			return err
		}
	}
	if len(m.Funcs) > 0 {
		if err := w.writeSection(secFunctions, func() error { return w.writeFunctions(m) }); err != nil {
			return err
		}
	}
	if len(m.Tables) > 0 {
		if err := w.writeSection(secTables, func() error { return w.writeTables(m) }); err != nil {
			return err
		}
	}
	if len(m.Memories) > 0 {
		if err := w.writeSection(secMemories, func() error { return w.writeMemories(m) }); err != nil {
			return err
		}
	}
	if len(m.Tags) > 0 {
		if err := w.writeSection(secTags, func() error { return w.writeTags(m) }); err != nil {
			return err
		}
	}
	if len(m.Globals) > 0 {
		if err := w.writeSection(secGlobals, func() error { return w.writeGlobals(m) }); err != nil {
			return err
		}
	}
	if len(m.Exports) > 0 {
		if err := w.writeSection(secExports, func() error { return w.writeExports(m) }); err != nil {
			return err
		}
	}
	if m.HasStart {
		if err := w.writeSection(secStart, func() error {
			return w.huff(wasmschema.FunctionIndex, int64(m.Start))
		}); err != nil {
			return err
		}
	}
	if len(m.Elements) > 0 {
		if err := w.writeSection(secElements, func() error { return w.writeElements(m) }); err != nil {
			return err
		}
	}
	if m.HasDataCount {
		if err := w.writeSection(secDataCount, func() error {
			w.lebu(uint64(m.DataCount))
			return nil
		}); err != nil {
			return err
		}
	}
	if len(m.Code) > 0 {
		if err := w.writeSection(secCode, func() error { return w.writeCode(m) }); err != nil {
			return err
		}
	}
	if len(m.Data) > 0 {
		if err := w.writeSection(secData, func() error { return w.writeData(m) }); err != nil {
			return err
		}
	}
	for _, c := range m.Customs {
		c := c
		if err := w.writeSection(secUser, func() error {
			w.rawString(c.Name)
			w.lebu(uint64(len(c.Bytes)))
			w.raw(c.Bytes)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (w *moduleWriter) writeTypes(m *wasmir.Module) error {
	w.lebu(uint64(len(m.Types)))
	for _, ft := range m.Types {
		if err := w.huff(wasmschema.ParamCount, int64(len(ft.Params))); err != nil {
			return err
		}
		for _, vt := range ft.Params {
			if err := w.huff(wasmschema.HeapType, int64(vt)); err != nil {
				return err
			}
		}
		if err := w.huff(wasmschema.ResultCount, int64(len(ft.Results))); err != nil {
			return err
		}
		for _, vt := range ft.Results {
			if err := w.huff(wasmschema.HeapType, int64(vt)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *moduleWriter) writeImports(m *wasmir.Module) error {
	w.lebu(uint64(len(m.Imports)))
	for _, imp := range m.Imports {
		w.rawString(imp.Module)
		w.rawString(imp.Name)
		w.fixed(uint64(imp.Kind), externalKindBits)
		switch imp.Kind {
		case wasmir.KindFunc:
			if err := w.huff(wasmschema.TypeIndex, int64(imp.TypeIndex)); err != nil {
				return err
			}
		case wasmir.KindTable:
			if err := w.writeTableType(imp.Table); err != nil {
				return err
			}
		case wasmir.KindMemory:
			w.writeMemoryType(imp.Memory)
		case wasmir.KindGlobal:
			if err := w.huff(wasmschema.HeapType, int64(imp.GlobalType.Type)); err != nil {
				return err
			}
			w.bool1(imp.GlobalType.Mutable)
		case wasmir.KindTag:
			if err := w.huff(wasmschema.TypeIndex, int64(imp.TypeIndex)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: import kind %d", ErrUnsupportedFeature, imp.Kind)
		}
	}
	return nil
}

func (w *moduleWriter) writeTableType(tt wasmir.TableType) error {
	if err := w.huff(wasmschema.HeapType, int64(tt.ElemType)); err != nil {
		return err
	}
	w.bool1(tt.HasMax)
	w.lebu(uint64(tt.Min))
	if tt.HasMax {
		w.lebu(uint64(tt.Max))
	}
	return nil
}

func (w *moduleWriter) writeMemoryType(mt wasmir.MemoryType) {
	w.bool1(mt.HasMax)
	w.lebu(uint64(mt.Min))
	if mt.HasMax {
		w.lebu(uint64(mt.Max))
	}
}

func (w *moduleWriter) writeFunctions(m *wasmir.Module) error {
	w.lebu(uint64(len(m.Funcs)))
	for _, ti := range m.Funcs {
		if err := w.huff(wasmschema.TypeIndex, int64(ti)); err != nil {
			return err
		}
	}
	return nil
}

func (w *moduleWriter) writeTables(m *wasmir.Module) error {
	w.lebu(uint64(len(m.Tables)))
	for _, tt := range m.Tables {
		if err := w.writeTableType(tt); err != nil {
			return err
		}
	}
	return nil
}

func (w *moduleWriter) writeMemories(m *wasmir.Module) error {
	w.lebu(uint64(len(m.Memories)))
	for _, mt := range m.Memories {
		w.writeMemoryType(mt)
	}
	return nil
}

func (w *moduleWriter) writeTags(m *wasmir.Module) error {
	w.lebu(uint64(len(m.Tags)))
	for _, ti := range m.Tags {
		if err := w.huff(wasmschema.TypeIndex, int64(ti)); err != nil {
			return err
		}
	}
	return nil
}

func (w *moduleWriter) writeGlobals(m *wasmir.Module) error {
	w.lebu(uint64(len(m.Globals)))
	for _, g := range m.Globals {
		if err := w.huff(wasmschema.HeapType, int64(g.Type.Type)); err != nil {
			return err
		}
		w.bool1(g.Type.Mutable)
		if err := w.writeExpr(g.Init); err != nil {
			return err
		}
	}
	return nil
}

func (w *moduleWriter) writeExports(m *wasmir.Module) error {
	w.lebu(uint64(len(m.Exports)))
	for _, e := range m.Exports {
		w.rawString(e.Name)
		w.fixed(uint64(e.Kind), externalKindBits)
		if err := w.huff(exportIndexCategory(e.Kind), int64(e.Index)); err != nil {
			return err
		}
	}
	return nil
}

func (w *moduleWriter) writeElements(m *wasmir.Module) error {
	w.lebu(uint64(len(m.Elements)))
	for _, el := range m.Elements {
		if err := w.writeExpr(el.Offset); err != nil {
			return err
		}
		if err := w.huff(wasmschema.ElementIndex, int64(len(el.FuncIndexes))); err != nil {
			return err
		}
		for _, fi := range el.FuncIndexes {
			if err := w.huff(wasmschema.FunctionIndex, int64(fi)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *moduleWriter) writeCode(m *wasmir.Module) error {
	w.lebu(uint64(len(m.Code)))
	for _, c := range m.Code {
		if err := w.huff(wasmschema.LocalCount, int64(len(c.Locals))); err != nil {
			return err
		}
		for _, lg := range c.Locals {
			w.lebu(uint64(lg.Count))
			if err := w.huff(wasmschema.HeapType, int64(lg.Type)); err != nil {
				return err
			}
		}
		if err := w.writeExpr(c.Body); err != nil {
			return err
		}
	}
	return nil
}

func (w *moduleWriter) writeData(m *wasmir.Module) error {
	w.lebu(uint64(len(m.Data)))
	for _, d := range m.Data {
		if err := w.writeExpr(d.Offset); err != nil {
			return err
		}
		w.lebu(uint64(len(d.Bytes)))
		w.raw(d.Bytes)
	}
	return nil
}

// writeExpr writes e followed by a huffman-coded OpEnd terminator.
func (w *moduleWriter) writeExpr(e wasmir.Expr) error {
	return w.writeExprTerm(e, wasmir.OpEnd)
}

// writeExprTerm writes e's instructions followed by term (OpEnd, or
// OpElse for an if's "then" clause when an else follows) — see
// walkExprTerm in codec.go, which this mirrors exactly so the same
// table built from histograms has an entry for whichever terminator is
// emitted.
func (w *moduleWriter) writeExprTerm(e wasmir.Expr, term wasmir.Op) error {
	for _, instr := range e {
		if err := w.writeInstr(instr); err != nil {
			return err
		}
	}
	return w.huff(wasmschema.ASTOpcode8, int64(term))
}

func (w *moduleWriter) writeInstr(instr wasmir.Instr) error {
	if err := w.huff(wasmschema.ASTOpcode8, int64(instr.Op)); err != nil {
		return err
	}
	switch instr.Op {
	case wasmir.OpUnreachable, wasmir.OpNop, wasmir.OpReturn, wasmir.OpDrop, wasmir.OpSelect,
		wasmir.OpMemorySize, wasmir.OpMemoryGrow:
		return nil

	case wasmir.OpBlock, wasmir.OpLoop, wasmir.OpIf:
		w.bool1(instr.Block.Empty)
		if !instr.Block.Empty {
			w.bool1(instr.Block.HasValue)
			if instr.Block.HasValue {
				if err := w.huff(wasmschema.HeapType, int64(instr.Block.Value)); err != nil {
					return err
				}
			} else if err := w.huff(wasmschema.TypeIndex, instr.Block.TypeIdx); err != nil {
				return err
			}
		}
		hasElse := op2HasElse(instr)
		thenTerm := wasmir.OpEnd
		if hasElse {
			thenTerm = wasmir.OpElse
		}
		if err := w.writeExprTerm(instr.Body[0], thenTerm); err != nil {
			return err
		}
		if hasElse {
			if err := w.writeExprTerm(instr.Body[1], wasmir.OpEnd); err != nil {
				return err
			}
		}
		return nil

	case wasmir.OpBr, wasmir.OpBrIf:
		return w.huff(wasmschema.BreakIndex, int64(instr.Indexes[0]))

	case wasmir.OpCall:
		return w.huff(wasmschema.FunctionIndex, int64(instr.Indexes[0]))

	case wasmir.OpCallIndirect:
		if err := w.huff(wasmschema.TypeIndex, int64(instr.Indexes[0])); err != nil {
			return err
		}
		return w.huff(wasmschema.TableIndex, int64(instr.Indexes[1]))

	case wasmir.OpLocalGet, wasmir.OpLocalSet, wasmir.OpLocalTee:
		w.lebu(uint64(instr.Indexes[0])) // LocalIndex: explicit LEB exception (spec.md §4.E)
		return nil

	case wasmir.OpGlobalGet, wasmir.OpGlobalSet:
		return w.huff(wasmschema.GlobalIndex, int64(instr.Indexes[0]))

	case wasmir.OpBrTable:
		w.lebu(uint64(len(instr.Indexes)))
		for _, idx := range instr.Indexes {
			if err := w.huff(wasmschema.SwitchTargetIndex, int64(idx)); err != nil {
				return err
			}
		}
		return w.huff(wasmschema.SwitchTargetIndex, int64(instr.Default))

	case wasmir.OpI32Load, wasmir.OpI64Load, wasmir.OpF32Load, wasmir.OpF64Load,
		wasmir.OpI32Store, wasmir.OpI64Store, wasmir.OpF32Store, wasmir.OpF64Store:
		if err := w.huff(wasmschema.MemoryAccessAlignment, int64(instr.Align)); err != nil {
			return err
		}
		return w.huff(wasmschema.MemoryAccessOffset, int64(instr.Offset))

	case wasmir.OpI32Const:
		return w.huff(wasmschema.ConstS32, int64(instr.I32))

	case wasmir.OpI64Const:
		return w.huff(wasmschema.ConstS64, instr.I64)

	case wasmir.OpF32Const:
		return w.huff(wasmschema.ConstF32, int64(int32FromFloat32Bits(instr.F32)))

	case wasmir.OpF64Const:
		return w.huff(wasmschema.ConstF64, int64FromFloat64Bits(instr.F64))

	default:
		if instr.Op >= 0x45 && instr.Op <= 0xC4 {
			return nil // plain numeric operator, opcode already written
		}
		return fmt.Errorf("%w: opcode 0x%02x", ErrUnsupportedFeature, instr.Op)
	}
}

func op2HasElse(instr wasmir.Instr) bool {
	return instr.Op == wasmir.OpIf && len(instr.Body) > 1
}
