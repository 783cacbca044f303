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

// Decompress is the inverse of Compress: spec.md §4.G's WasmReader.
func Decompress(data []byte) (*wasmir.Module, error) {
	outer := bitstream.NewFromBytes(data)
	totalBits, err := intcodec.ReadLEBUnsigned(outer, lebGroup)
	if err != nil {
		return nil, fmt.Errorf("%w: reading total bit length: %v", ErrCorruptStream, err)
	}

	bodyBuf := pool.GetBitBuffer(int(totalBits/8) + 1)
	body := bitstream.NewWithBuffer(bodyBuf)
	defer func() { pool.PutBitBuffer(body.Bytes()[:0]) }()
	for i := uint64(0); i < totalBits; i++ {
		bit, err := outer.ReadBit()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated body: %v", ErrCorruptStream, err)
		}
		body.WriteBit(bit)
	}
	body.Finalize()

	tables, err := readHuffmanHeaders(body)
	if err != nil {
		return nil, err
	}

	r := &moduleReader{s: body, tables: tables, end: body.Len()}
	return r.readModule()
}

type moduleReader struct {
	s      *bitstream.Stream
	tables map[wasmschema.Category]*huffman.DecodeTable
	end    uint64
}

func (r *moduleReader) huff(cat wasmschema.Category) (int64, error) {
	dt, ok := r.tables[cat]
	if !ok || dt == nil {
		return 0, fmt.Errorf("%w: no table for category %d", ErrCorruptStream, cat)
	}
	v, err := huffman.Decode(r.s, dt)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (r *moduleReader) lebu() (uint64, error) { return intcodec.ReadLEBUnsigned(r.s, lebGroup) }

func (r *moduleReader) fixed(n uint8) (uint64, error) { return intcodec.ReadUnsigned(r.s, n) }

func (r *moduleReader) bool1() (bool, error) { return intcodec.ReadBool(r.s) }

func (r *moduleReader) raw(n uint64) ([]byte, error) {
	var out []byte
	for i := uint64(0); i < n; i++ {
		v, err := intcodec.ReadUnsigned(r.s, 8)
		if err != nil {
			return nil, err
		}
		out = append(out, byte(v))
	}
	return out, nil
}

func (r *moduleReader) rawString() (string, error) {
	n, err := r.lebu()
	if err != nil {
		return "", err
	}
	b, err := r.raw(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *moduleReader) readModule() (*wasmir.Module, error) {
	m := &wasmir.Module{}
	for r.s.Pos() < r.end {
		kindU, err := r.fixed(sectionKindBits)
		if err != nil {
			return nil, fmt.Errorf("%w: section kind: %v", ErrCorruptStream, err)
		}
		kind := sectionKind(kindU)
		sizeBits, err := r.lebu()
		if err != nil {
			return nil, fmt.Errorf("%w: section size: %v", ErrCorruptStream, err)
		}
		sectionEnd := r.s.Pos() + sizeBits

		if err := r.readSection(kind, m); err != nil {
			return nil, err
		}
		if r.s.Pos() != sectionEnd {
			return nil, fmt.Errorf("%w: section kind %d ended at bit %d, expected %d", ErrCorruptStream, kind, r.s.Pos(), sectionEnd)
		}
	}
	return m, nil
}

func (r *moduleReader) readSection(kind sectionKind, m *wasmir.Module) error {
	switch kind {
	case secTypes:
		return r.readTypes(m)
	case secImports:
		return r.readImports(m)
	case secFunctions:
		return r.readFunctions(m)
	case secTables:
		return r.readTables(m)
	case secMemories:
		return r.readMemories(m)
	case secTags:
		return r.readTags(m)
	case secGlobals:
		return r.readGlobals(m)
	case secExports:
		return r.readExports(m)
	case secStart:
		v, err := r.huff(wasmschema.FunctionIndex)
		if err != nil {
			return err
		}
		m.HasStart = true
		m.Start = uint32(v)
		return nil
	case secElements:
		return r.readElements(m)
	case secDataCount:
		v, err := r.lebu()
		if err != nil {
			return err
		}
		m.HasDataCount = true
		m.DataCount = uint32(v)
		return nil
	case secCode:
		return r.readCode(m)
	case secData:
		return r.readData(m)
	case secUser:
		name, err := r.rawString()
		if err != nil {
			return err
		}
		n, err := r.lebu()
		if err != nil {
			return err
		}
		b, err := r.raw(n)
		if err != nil {
			return err
		}
		m.Customs = append(m.Customs, wasmir.CustomSection{Name: name, Bytes: b})
		return nil
	default:
		return fmt.Errorf("%w: unknown section kind %d", ErrCorruptStream, kind)
	}
}

func (r *moduleReader) readTypes(m *wasmir.Module) error {
	n, err := r.lebu()
	if err != nil {
		return err
	}
	m.Types = make([]wasmir.FuncType, n)
	for i := range m.Types {
		pc, err := r.huff(wasmschema.ParamCount)
		if err != nil {
			return err
		}
		var params []wasmir.ValType
		for j := int64(0); j < pc; j++ {
			vt, err := r.huff(wasmschema.HeapType)
			if err != nil {
				return err
			}
			params = append(params, wasmir.ValType(vt))
		}
		rc, err := r.huff(wasmschema.ResultCount)
		if err != nil {
			return err
		}
		var results []wasmir.ValType
		for j := int64(0); j < rc; j++ {
			vt, err := r.huff(wasmschema.HeapType)
			if err != nil {
				return err
			}
			results = append(results, wasmir.ValType(vt))
		}
		m.Types[i] = wasmir.FuncType{Params: params, Results: results}
	}
	return nil
}

func (r *moduleReader) readImports(m *wasmir.Module) error {
	n, err := r.lebu()
	if err != nil {
		return err
	}
	m.Imports = make([]wasmir.Import, n)
	for i := range m.Imports {
		mod, err := r.rawString()
		if err != nil {
			return err
		}
		name, err := r.rawString()
		if err != nil {
			return err
		}
		kindU, err := r.fixed(externalKindBits)
		if err != nil {
			return err
		}
		imp := wasmir.Import{Module: mod, Name: name, Kind: wasmir.ExternalKind(kindU)}
		switch imp.Kind {
		case wasmir.KindFunc:
			v, err := r.huff(wasmschema.TypeIndex)
			if err != nil {
				return err
			}
			imp.TypeIndex = uint32(v)
		case wasmir.KindTable:
			tt, err := r.readTableType()
			if err != nil {
				return err
			}
			imp.Table = tt
		case wasmir.KindMemory:
			mt, err := r.readMemoryType()
			if err != nil {
				return err
			}
			imp.Memory = mt
		case wasmir.KindGlobal:
			vt, err := r.huff(wasmschema.HeapType)
			if err != nil {
				return err
			}
			mut, err := r.bool1()
			if err != nil {
				return err
			}
			imp.GlobalType = wasmir.GlobalType{Type: wasmir.ValType(vt), Mutable: mut}
		case wasmir.KindTag:
			v, err := r.huff(wasmschema.TypeIndex)
			if err != nil {
				return err
			}
			imp.TypeIndex = uint32(v)
		default:
			return fmt.Errorf("%w: import kind %d", ErrUnsupportedFeature, imp.Kind)
		}
		m.Imports[i] = imp
	}
	return nil
}

func (r *moduleReader) readTableType() (wasmir.TableType, error) {
	vt, err := r.huff(wasmschema.HeapType)
	if err != nil {
		return wasmir.TableType{}, err
	}
	hasMax, err := r.bool1()
	if err != nil {
		return wasmir.TableType{}, err
	}
	min, err := r.lebu()
	if err != nil {
		return wasmir.TableType{}, err
	}
	tt := wasmir.TableType{ElemType: wasmir.ValType(vt), HasMax: hasMax, Min: uint32(min)}
	if hasMax {
		max, err := r.lebu()
		if err != nil {
			return wasmir.TableType{}, err
		}
		tt.Max = uint32(max)
	}
	return tt, nil
}

func (r *moduleReader) readMemoryType() (wasmir.MemoryType, error) {
	hasMax, err := r.bool1()
	if err != nil {
		return wasmir.MemoryType{}, err
	}
	min, err := r.lebu()
	if err != nil {
		return wasmir.MemoryType{}, err
	}
	mt := wasmir.MemoryType{HasMax: hasMax, Min: uint32(min)}
	if hasMax {
		max, err := r.lebu()
		if err != nil {
			return wasmir.MemoryType{}, err
		}
		mt.Max = uint32(max)
	}
	return mt, nil
}

func (r *moduleReader) readFunctions(m *wasmir.Module) error {
	n, err := r.lebu()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, n)
	for i := range m.Funcs {
		v, err := r.huff(wasmschema.TypeIndex)
		if err != nil {
			return err
		}
		m.Funcs[i] = uint32(v)
	}
	return nil
}

func (r *moduleReader) readTables(m *wasmir.Module) error {
	n, err := r.lebu()
	if err != nil {
		return err
	}
	m.Tables = make([]wasmir.TableType, n)
	for i := range m.Tables {
		tt, err := r.readTableType()
		if err != nil {
			return err
		}
		m.Tables[i] = tt
	}
	return nil
}

func (r *moduleReader) readMemories(m *wasmir.Module) error {
	n, err := r.lebu()
	if err != nil {
		return err
	}
	m.Memories = make([]wasmir.MemoryType, n)
	for i := range m.Memories {
		mt, err := r.readMemoryType()
		if err != nil {
			return err
		}
		m.Memories[i] = mt
	}
	return nil
}

func (r *moduleReader) readTags(m *wasmir.Module) error {
	n, err := r.lebu()
	if err != nil {
		return err
	}
	m.Tags = make([]uint32, n)
	for i := range m.Tags {
		v, err := r.huff(wasmschema.TypeIndex)
		if err != nil {
			return err
		}
		m.Tags[i] = uint32(v)
	}
	return nil
}

func (r *moduleReader) readGlobals(m *wasmir.Module) error {
	n, err := r.lebu()
	if err != nil {
		return err
	}
	m.Globals = make([]wasmir.Global, n)
	for i := range m.Globals {
		vt, err := r.huff(wasmschema.HeapType)
		if err != nil {
			return err
		}
		mut, err := r.bool1()
		if err != nil {
			return err
		}
		init, err := r.readExpr()
		if err != nil {
			return err
		}
		m.Globals[i] = wasmir.Global{Type: wasmir.GlobalType{Type: wasmir.ValType(vt), Mutable: mut}, Init: init}
	}
	return nil
}

func (r *moduleReader) readExports(m *wasmir.Module) error {
	n, err := r.lebu()
	if err != nil {
		return err
	}
	m.Exports = make([]wasmir.Export, n)
	for i := range m.Exports {
		name, err := r.rawString()
		if err != nil {
			return err
		}
		kindU, err := r.fixed(externalKindBits)
		if err != nil {
			return err
		}
		kind := wasmir.ExternalKind(kindU)
		idx, err := r.huff(exportIndexCategory(kind))
		if err != nil {
			return err
		}
		m.Exports[i] = wasmir.Export{Name: name, Kind: kind, Index: uint32(idx)}
	}
	return nil
}

func (r *moduleReader) readElements(m *wasmir.Module) error {
	n, err := r.lebu()
	if err != nil {
		return err
	}
	m.Elements = make([]wasmir.Element, n)
	for i := range m.Elements {
		offset, err := r.readExpr()
		if err != nil {
			return err
		}
		count, err := r.huff(wasmschema.ElementIndex)
		if err != nil {
			return err
		}
		var idxs []uint32
		for j := int64(0); j < count; j++ {
			fi, err := r.huff(wasmschema.FunctionIndex)
			if err != nil {
				return err
			}
			idxs = append(idxs, uint32(fi))
		}
		m.Elements[i] = wasmir.Element{Offset: offset, FuncIndexes: idxs}
	}
	return nil
}

func (r *moduleReader) readCode(m *wasmir.Module) error {
	n, err := r.lebu()
	if err != nil {
		return err
	}
	m.Code = make([]wasmir.Code, n)
	for i := range m.Code {
		lc, err := r.huff(wasmschema.LocalCount)
		if err != nil {
			return err
		}
		var locals []wasmir.LocalGroup
		for j := int64(0); j < lc; j++ {
			count, err := r.lebu()
			if err != nil {
				return err
			}
			vt, err := r.huff(wasmschema.HeapType)
			if err != nil {
				return err
			}
			locals = append(locals, wasmir.LocalGroup{Count: uint32(count), Type: wasmir.ValType(vt)})
		}
		body, err := r.readExpr()
		if err != nil {
			return err
		}
		m.Code[i] = wasmir.Code{Locals: locals, Body: body}
	}
	return nil
}

func (r *moduleReader) readData(m *wasmir.Module) error {
	n, err := r.lebu()
	if err != nil {
		return err
	}
	m.Data = make([]wasmir.DataSegment, n)
	for i := range m.Data {
		offset, err := r.readExpr()
		if err != nil {
			return err
		}
		size, err := r.lebu()
		if err != nil {
			return err
		}
		b, err := r.raw(size)
		if err != nil {
			return err
		}
		m.Data[i] = wasmir.DataSegment{Offset: offset, Bytes: b}
	}
	return nil
}

// readExpr reads instructions until a huffman-coded OpEnd, mirroring
// writeExpr/walkExprTerm's terminator convention.
func (r *moduleReader) readExpr() (wasmir.Expr, error) {
	instrs, term, err := r.readInstrsTerm()
	if err != nil {
		return nil, err
	}
	if term != wasmir.OpEnd {
		return nil, fmt.Errorf("%w: expected End, got terminator 0x%02x", ErrCorruptStream, term)
	}
	return instrs, nil
}

// readInstrsTerm reads instructions until a huffman-coded OpEnd or
// OpElse, returning which one terminated the run (so if-then/else can
// tell them apart, matching wasmbinary's decodeInstrs).
func (r *moduleReader) readInstrsTerm() (wasmir.Expr, wasmir.Op, error) {
	var out wasmir.Expr
	for {
		opV, err := r.huff(wasmschema.ASTOpcode8)
		if err != nil {
			return nil, 0, err
		}
		op := wasmir.Op(opV)
		if op == wasmir.OpEnd || op == wasmir.OpElse {
			return out, op, nil
		}
		instr, err := r.readInstrBody(op)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, instr)
	}
}

func (r *moduleReader) readInstrBody(op wasmir.Op) (wasmir.Instr, error) {
	instr := wasmir.Instr{Op: op}
	switch op {
	case wasmir.OpUnreachable, wasmir.OpNop, wasmir.OpReturn, wasmir.OpDrop, wasmir.OpSelect,
		wasmir.OpMemorySize, wasmir.OpMemoryGrow:
		return instr, nil

	case wasmir.OpBlock, wasmir.OpLoop, wasmir.OpIf:
		empty, err := r.bool1()
		if err != nil {
			return instr, err
		}
		instr.Block.Empty = empty
		if !empty {
			hasValue, err := r.bool1()
			if err != nil {
				return instr, err
			}
			instr.Block.HasValue = hasValue
			if hasValue {
				vt, err := r.huff(wasmschema.HeapType)
				if err != nil {
					return instr, err
				}
				instr.Block.Value = wasmir.ValType(vt)
			} else {
				ti, err := r.huff(wasmschema.TypeIndex)
				if err != nil {
					return instr, err
				}
				instr.Block.TypeIdx = ti
			}
		}
		then, term, err := r.readInstrsTerm()
		if err != nil {
			return instr, err
		}
		instr.Body = [][]wasmir.Instr{then}
		if term == wasmir.OpElse {
			if op != wasmir.OpIf {
				return instr, fmt.Errorf("%w: else outside if", ErrCorruptStream)
			}
			els, err := r.readExpr()
			if err != nil {
				return instr, err
			}
			instr.Body = append(instr.Body, els)
		}
		return instr, nil

	case wasmir.OpBr, wasmir.OpBrIf:
		v, err := r.huff(wasmschema.BreakIndex)
		if err != nil {
			return instr, err
		}
		instr.Indexes = []uint32{uint32(v)}
		return instr, nil

	case wasmir.OpCall:
		v, err := r.huff(wasmschema.FunctionIndex)
		if err != nil {
			return instr, err
		}
		instr.Indexes = []uint32{uint32(v)}
		return instr, nil

	case wasmir.OpCallIndirect:
		ti, err := r.huff(wasmschema.TypeIndex)
		if err != nil {
			return instr, err
		}
		tbl, err := r.huff(wasmschema.TableIndex)
		if err != nil {
			return instr, err
		}
		instr.Indexes = []uint32{uint32(ti), uint32(tbl)}
		return instr, nil

	case wasmir.OpLocalGet, wasmir.OpLocalSet, wasmir.OpLocalTee:
		v, err := r.lebu()
		if err != nil {
			return instr, err
		}
		instr.Indexes = []uint32{uint32(v)}
		return instr, nil

	case wasmir.OpGlobalGet, wasmir.OpGlobalSet:
		v, err := r.huff(wasmschema.GlobalIndex)
		if err != nil {
			return instr, err
		}
		instr.Indexes = []uint32{uint32(v)}
		return instr, nil

	case wasmir.OpBrTable:
		n, err := r.lebu()
		if err != nil {
			return instr, err
		}
		var idxs []uint32
		for i := uint64(0); i < n; i++ {
			v, err := r.huff(wasmschema.SwitchTargetIndex)
			if err != nil {
				return instr, err
			}
			idxs = append(idxs, uint32(v))
		}
		def, err := r.huff(wasmschema.SwitchTargetIndex)
		if err != nil {
			return instr, err
		}
		instr.Indexes = idxs
		instr.Default = uint32(def)
		return instr, nil

	case wasmir.OpI32Load, wasmir.OpI64Load, wasmir.OpF32Load, wasmir.OpF64Load,
		wasmir.OpI32Store, wasmir.OpI64Store, wasmir.OpF32Store, wasmir.OpF64Store:
		align, err := r.huff(wasmschema.MemoryAccessAlignment)
		if err != nil {
			return instr, err
		}
		offset, err := r.huff(wasmschema.MemoryAccessOffset)
		if err != nil {
			return instr, err
		}
		instr.Align = uint32(align)
		instr.Offset = uint32(offset)
		return instr, nil

	case wasmir.OpI32Const:
		v, err := r.huff(wasmschema.ConstS32)
		if err != nil {
			return instr, err
		}
		instr.I32 = int32(v)
		return instr, nil

	case wasmir.OpI64Const:
		v, err := r.huff(wasmschema.ConstS64)
		if err != nil {
			return instr, err
		}
		instr.I64 = v
		return instr, nil

	case wasmir.OpF32Const:
		v, err := r.huff(wasmschema.ConstF32)
		if err != nil {
			return instr, err
		}
		instr.F32 = float32FromInt32Bits(int32(v))
		return instr, nil

	case wasmir.OpF64Const:
		v, err := r.huff(wasmschema.ConstF64)
		if err != nil {
			return instr, err
		}
		instr.F64 = float64FromInt64Bits(v)
		return instr, nil

	default:
		if uint32(op) >= 0x45 && uint32(op) <= 0xC4 {
			return instr, nil
		}
		return instr, fmt.Errorf("%w: opcode 0x%02x", ErrUnsupportedFeature, op)
	}
}
