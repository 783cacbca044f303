// Package wasmbinary is the standard (uncompressed) wasm binary codec:
// it reads the bytes a toolchain like wasm-ld would produce into a
// wasmir.Module, and writes a wasmir.Module back out to those same
// bytes. It sits on both ends of the schema codec (spec.md §2's "data
// flow" diagram): WasmReader(standard) before compression,
// the re-serializer after decompression.
//
// This is new code — no file in the example pack implements the
// standard wasm grammar — grounded conceptually on the section/opcode
// layout original_source/tinycode/include/tinycode/wasm/io.hpp's
// OptimizedWasmWriter/Reader classes traverse, styled in the teacher's
// error-wrapping idiom (github.com/deepteams/webp/internal/container's
// RIFF chunk reader: read a kind tag and length, dispatch on kind,
// wrap every error with the position it occurred at).
//
// Coverage is deliberately partial: the instruction set and section
// repertoire cover what a small, QR-sized module written by hand or by
// a minimal toolchain actually uses (spec.md §1's scope). A construct
// outside that set surfaces as ErrUnsupportedFeature rather than being
// silently mis-encoded — spec.md §7: "Compression refuses rather than
// emitting a stream no reader could decode."
package wasmbinary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/deepteams/tinywasm/internal/wasmir"
)

var (
	// ErrCorrupt is returned for any self-inconsistent input.
	ErrCorrupt = errors.New("wasmbinary: corrupt module")
	// ErrUnsupportedFeature is returned for a construct outside this
	// package's section/opcode repertoire.
	ErrUnsupportedFeature = errors.New("wasmbinary: unsupported feature")
)

var magic = [4]byte{0x00, 0x61, 0x73, 0x6D}
var version = [4]byte{0x01, 0x00, 0x00, 0x00}

type sectionID uint8

const (
	secCustom sectionID = iota
	secType
	secImport
	secFunction
	secTable
	secMemory
	secGlobal
	secExport
	secStart
	secElement
	secCode
	secData
	secDataCount
	secTag
)

// --- byte-level reader/writer -------------------------------------------------

type writer struct {
	buf []byte
}

func (w *writer) bytes(b ...byte) { w.buf = append(w.buf, b...) }
func (w *writer) raw(b []byte)    { w.buf = append(w.buf, b...) }

func (w *writer) u32(v uint32) {
	var tmp [5]byte
	n := binary.PutUvarint(tmp[:], uint64(v))
	w.raw(tmp[:n])
}

func (w *writer) i32(v int32) { w.i64(int64(v)) }

func (w *writer) i64(v int64) {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		w.bytes(b)
	}
}

func (w *writer) f32(v float32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
	w.raw(tmp[:])
}

func (w *writer) f64(v float64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	w.raw(tmp[:])
}

func (w *writer) name(s string) {
	w.u32(uint32(len(s)))
	w.raw([]byte(s))
}

func (w *writer) valtype(v wasmir.ValType) {
	w.bytes(valtypeByte(v))
}

func valtypeByte(v wasmir.ValType) byte {
	switch v {
	case wasmir.ValI32:
		return 0x7F
	case wasmir.ValI64:
		return 0x7E
	case wasmir.ValF32:
		return 0x7D
	case wasmir.ValF64:
		return 0x7C
	case wasmir.ValV128:
		return 0x7B
	case wasmir.ValFuncref:
		return 0x70
	case wasmir.ValExternref:
		return 0x6F
	}
	return 0
}

func valtypeFromByte(b byte) (wasmir.ValType, error) {
	switch b {
	case 0x7F:
		return wasmir.ValI32, nil
	case 0x7E:
		return wasmir.ValI64, nil
	case 0x7D:
		return wasmir.ValF32, nil
	case 0x7C:
		return wasmir.ValF64, nil
	case 0x7B:
		return wasmir.ValV128, nil
	case 0x70:
		return wasmir.ValFuncref, nil
	case 0x6F:
		return wasmir.ValExternref, nil
	}
	return 0, fmt.Errorf("%w: unknown value type byte 0x%02x", ErrUnsupportedFeature, b)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("%w: read past end of module", ErrCorrupt)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("%w: read past end of module", ErrCorrupt)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) u32() (uint32, error) {
	v, err := r.u64()
	return uint32(v), err
}

func (r *reader) u64() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("%w: varint too long", ErrCorrupt)
		}
	}
}

func (r *reader) i32() (int32, error) {
	v, err := r.i64()
	return int32(v), err
}

func (r *reader) i64() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.byte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 64 {
			return 0, fmt.Errorf("%w: varint too long", ErrCorrupt)
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

func (r *reader) f32() (float32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (r *reader) f64() (float64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) valtype() (wasmir.ValType, error) {
	b, err := r.byte()
	if err != nil {
		return 0, err
	}
	return valtypeFromByte(b)
}

// --- Decode -------------------------------------------------------------------

// Decode parses standard wasm bytes into a Module.
func Decode(data []byte) (*wasmir.Module, error) {
	r := &reader{buf: data}
	var m wasmir.Module

	hdr, err := r.take(8)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", ErrCorrupt, err)
	}
	if [4]byte(hdr[0:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if [4]byte(hdr[4:8]) != version {
		return nil, fmt.Errorf("%w: unsupported wasm version", ErrUnsupportedFeature)
	}

	var sawCode, sawFunc bool

	for r.remaining() > 0 {
		idByte, err := r.byte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("%w: section size: %v", ErrCorrupt, err)
		}
		body, err := r.take(int(size))
		if err != nil {
			return nil, fmt.Errorf("%w: section body: %v", ErrCorrupt, err)
		}
		sr := &reader{buf: body}

		switch sectionID(idByte) {
		case secCustom:
			name, err := sr.name()
			if err != nil {
				return nil, err
			}
			m.Customs = append(m.Customs, wasmir.CustomSection{Name: name, Bytes: sr.buf[sr.pos:]})

		case secType:
			if err := decodeTypeSection(sr, &m); err != nil {
				return nil, err
			}

		case secImport:
			if err := decodeImportSection(sr, &m); err != nil {
				return nil, err
			}

		case secFunction:
			sawFunc = true
			n, err := sr.u32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				ti, err := sr.u32()
				if err != nil {
					return nil, err
				}
				m.Funcs = append(m.Funcs, ti)
			}

		case secTable:
			n, err := sr.u32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				tt, err := decodeTableType(sr)
				if err != nil {
					return nil, err
				}
				m.Tables = append(m.Tables, tt)
			}

		case secMemory:
			n, err := sr.u32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				mt, err := decodeMemoryType(sr)
				if err != nil {
					return nil, err
				}
				m.Memories = append(m.Memories, mt)
			}

		case secTag:
			n, err := sr.u32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				if _, err := sr.byte(); err != nil { // attribute, always 0
					return nil, err
				}
				ti, err := sr.u32()
				if err != nil {
					return nil, err
				}
				m.Tags = append(m.Tags, ti)
			}

		case secGlobal:
			n, err := sr.u32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				vt, err := sr.valtype()
				if err != nil {
					return nil, err
				}
				mutByte, err := sr.byte()
				if err != nil {
					return nil, err
				}
				init, err := decodeExpr(sr)
				if err != nil {
					return nil, err
				}
				m.Globals = append(m.Globals, wasmir.Global{
					Type: wasmir.GlobalType{Type: vt, Mutable: mutByte != 0},
					Init: init,
				})
			}

		case secExport:
			n, err := sr.u32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				name, err := sr.name()
				if err != nil {
					return nil, err
				}
				kindByte, err := sr.byte()
				if err != nil {
					return nil, err
				}
				idx, err := sr.u32()
				if err != nil {
					return nil, err
				}
				m.Exports = append(m.Exports, wasmir.Export{Name: name, Kind: wasmir.ExternalKind(kindByte), Index: idx})
			}

		case secStart:
			idx, err := sr.u32()
			if err != nil {
				return nil, err
			}
			m.HasStart = true
			m.Start = idx

		case secElement:
			if err := decodeElementSection(sr, &m); err != nil {
				return nil, err
			}

		case secDataCount:
			n, err := sr.u32()
			if err != nil {
				return nil, err
			}
			m.HasDataCount = true
			m.DataCount = n

		case secCode:
			sawCode = true
			n, err := sr.u32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				bodySize, err := sr.u32()
				if err != nil {
					return nil, err
				}
				bodyBytes, err := sr.take(int(bodySize))
				if err != nil {
					return nil, err
				}
				code, err := decodeCode(&reader{buf: bodyBytes})
				if err != nil {
					return nil, err
				}
				m.Code = append(m.Code, code)
			}

		case secData:
			n, err := sr.u32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				flagVal, err := sr.u32()
				if err != nil {
					return nil, err
				}
				if flagVal != 0 {
					return nil, fmt.Errorf("%w: passive/declarative data segment", ErrUnsupportedFeature)
				}
				offset, err := decodeExpr(sr)
				if err != nil {
					return nil, err
				}
				blen, err := sr.u32()
				if err != nil {
					return nil, err
				}
				bytes, err := sr.take(int(blen))
				if err != nil {
					return nil, err
				}
				m.Data = append(m.Data, wasmir.DataSegment{Offset: offset, Bytes: append([]byte(nil), bytes...)})
			}

		default:
			return nil, fmt.Errorf("%w: unknown section id %d", ErrUnsupportedFeature, idByte)
		}
	}

	if sawFunc != sawCode && (len(m.Funcs) > 0 || len(m.Code) > 0) {
		return nil, fmt.Errorf("%w: function/code section count mismatch", ErrCorrupt)
	}
	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("%w: function/code section count mismatch", ErrCorrupt)
	}

	return &m, nil
}

func decodeTypeSection(sr *reader, m *wasmir.Module) error {
	n, err := sr.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		tag, err := sr.byte()
		if err != nil {
			return err
		}
		if tag != 0x60 {
			return fmt.Errorf("%w: non-func type form 0x%02x", ErrUnsupportedFeature, tag)
		}
		var ft wasmir.FuncType
		pn, err := sr.u32()
		if err != nil {
			return err
		}
		for j := uint32(0); j < pn; j++ {
			vt, err := sr.valtype()
			if err != nil {
				return err
			}
			ft.Params = append(ft.Params, vt)
		}
		rn, err := sr.u32()
		if err != nil {
			return err
		}
		for j := uint32(0); j < rn; j++ {
			vt, err := sr.valtype()
			if err != nil {
				return err
			}
			ft.Results = append(ft.Results, vt)
		}
		m.Types = append(m.Types, ft)
	}
	return nil
}

func decodeImportSection(sr *reader, m *wasmir.Module) error {
	n, err := sr.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		mod, err := sr.name()
		if err != nil {
			return err
		}
		name, err := sr.name()
		if err != nil {
			return err
		}
		kindByte, err := sr.byte()
		if err != nil {
			return err
		}
		imp := wasmir.Import{Module: mod, Name: name, Kind: wasmir.ExternalKind(kindByte)}
		switch imp.Kind {
		case wasmir.KindFunc:
			imp.TypeIndex, err = sr.u32()
		case wasmir.KindTable:
			imp.Table, err = decodeTableType(sr)
		case wasmir.KindMemory:
			imp.Memory, err = decodeMemoryType(sr)
		case wasmir.KindGlobal:
			var vt wasmir.ValType
			vt, err = sr.valtype()
			if err == nil {
				var mutByte byte
				mutByte, err = sr.byte()
				imp.GlobalType = wasmir.GlobalType{Type: vt, Mutable: mutByte != 0}
			}
		case wasmir.KindTag:
			if _, err = sr.byte(); err == nil {
				imp.TypeIndex, err = sr.u32()
			}
		default:
			return fmt.Errorf("%w: unknown import kind %d", ErrUnsupportedFeature, kindByte)
		}
		if err != nil {
			return err
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func decodeTableType(sr *reader) (wasmir.TableType, error) {
	vt, err := sr.valtype()
	if err != nil {
		return wasmir.TableType{}, err
	}
	limFlag, err := sr.byte()
	if err != nil {
		return wasmir.TableType{}, err
	}
	min, err := sr.u32()
	if err != nil {
		return wasmir.TableType{}, err
	}
	tt := wasmir.TableType{ElemType: vt, Min: min}
	if limFlag != 0 {
		tt.HasMax = true
		if tt.Max, err = sr.u32(); err != nil {
			return wasmir.TableType{}, err
		}
	}
	return tt, nil
}

func decodeMemoryType(sr *reader) (wasmir.MemoryType, error) {
	limFlag, err := sr.byte()
	if err != nil {
		return wasmir.MemoryType{}, err
	}
	min, err := sr.u32()
	if err != nil {
		return wasmir.MemoryType{}, err
	}
	mt := wasmir.MemoryType{Min: min}
	if limFlag != 0 {
		mt.HasMax = true
		if mt.Max, err = sr.u32(); err != nil {
			return wasmir.MemoryType{}, err
		}
	}
	return mt, nil
}

func decodeElementSection(sr *reader, m *wasmir.Module) error {
	n, err := sr.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		flag, err := sr.u32()
		if err != nil {
			return err
		}
		if flag != 0 {
			return fmt.Errorf("%w: non-active element segment (flag %d)", ErrUnsupportedFeature, flag)
		}
		offset, err := decodeExpr(sr)
		if err != nil {
			return err
		}
		cnt, err := sr.u32()
		if err != nil {
			return err
		}
		el := wasmir.Element{Offset: offset}
		for j := uint32(0); j < cnt; j++ {
			idx, err := sr.u32()
			if err != nil {
				return err
			}
			el.FuncIndexes = append(el.FuncIndexes, idx)
		}
		m.Elements = append(m.Elements, el)
	}
	return nil
}

func decodeCode(sr *reader) (wasmir.Code, error) {
	var code wasmir.Code
	n, err := sr.u32()
	if err != nil {
		return code, err
	}
	for i := uint32(0); i < n; i++ {
		cnt, err := sr.u32()
		if err != nil {
			return code, err
		}
		vt, err := sr.valtype()
		if err != nil {
			return code, err
		}
		code.Locals = append(code.Locals, wasmir.LocalGroup{Count: cnt, Type: vt})
	}
	body, err := decodeExpr(sr)
	if err != nil {
		return code, err
	}
	code.Body = body
	return code, nil
}

// decodeExpr reads instructions until a matching top-level OpEnd.
func decodeExpr(sr *reader) (wasmir.Expr, error) {
	instrs, _, err := decodeInstrs(sr)
	return instrs, err
}

// decodeInstrs reads instructions until End or Else; it returns which
// one terminated the run so block/if decoding can tell them apart.
func decodeInstrs(sr *reader) (wasmir.Expr, wasmir.Op, error) {
	var out wasmir.Expr
	for {
		opByte, err := sr.byte()
		if err != nil {
			return nil, 0, err
		}
		op := wasmir.Op(opByte)
		if op == wasmir.OpEnd || op == wasmir.OpElse {
			return out, op, nil
		}
		instr, err := decodeOneInstr(sr, op)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, instr)
	}
}

func decodeOneInstr(sr *reader, op wasmir.Op) (wasmir.Instr, error) {
	instr := wasmir.Instr{Op: op}
	switch op {
	case wasmir.OpUnreachable, wasmir.OpNop, wasmir.OpReturn, wasmir.OpDrop, wasmir.OpSelect:
		// no immediates

	case wasmir.OpMemorySize, wasmir.OpMemoryGrow:
		if _, err := sr.byte(); err != nil { // reserved, always 0x00
			return instr, err
		}

	case wasmir.OpBlock, wasmir.OpLoop, wasmir.OpIf:
		bt, err := decodeBlockType(sr)
		if err != nil {
			return instr, err
		}
		instr.Block = bt
		then, term, err := decodeInstrs(sr)
		if err != nil {
			return instr, err
		}
		instr.Body = [][]wasmir.Instr{then}
		if op == wasmir.OpIf && term == wasmir.OpElse {
			elseBody, _, err := decodeInstrs(sr)
			if err != nil {
				return instr, err
			}
			instr.Body = append(instr.Body, elseBody)
		}

	case wasmir.OpBr, wasmir.OpBrIf, wasmir.OpCall, wasmir.OpLocalGet, wasmir.OpLocalSet,
		wasmir.OpLocalTee, wasmir.OpGlobalGet, wasmir.OpGlobalSet:
		idx, err := sr.u32()
		if err != nil {
			return instr, err
		}
		instr.Indexes = []uint32{idx}

	case wasmir.OpCallIndirect:
		typeIdx, err := sr.u32()
		if err != nil {
			return instr, err
		}
		tableIdx, err := sr.u32()
		if err != nil {
			return instr, err
		}
		instr.Indexes = []uint32{typeIdx, tableIdx}

	case wasmir.OpBrTable:
		n, err := sr.u32()
		if err != nil {
			return instr, err
		}
		for i := uint32(0); i < n; i++ {
			t, err := sr.u32()
			if err != nil {
				return instr, err
			}
			instr.Indexes = append(instr.Indexes, t)
		}
		def, err := sr.u32()
		if err != nil {
			return instr, err
		}
		instr.Default = def

	case wasmir.OpI32Load, wasmir.OpI64Load, wasmir.OpF32Load, wasmir.OpF64Load,
		wasmir.OpI32Store, wasmir.OpI64Store, wasmir.OpF32Store, wasmir.OpF64Store:
		align, err := sr.u32()
		if err != nil {
			return instr, err
		}
		offset, err := sr.u32()
		if err != nil {
			return instr, err
		}
		instr.Align, instr.Offset = align, offset

	case wasmir.OpI32Const:
		v, err := sr.i32()
		if err != nil {
			return instr, err
		}
		instr.I32 = v

	case wasmir.OpI64Const:
		v, err := sr.i64()
		if err != nil {
			return instr, err
		}
		instr.I64 = v

	case wasmir.OpF32Const:
		v, err := sr.f32()
		if err != nil {
			return instr, err
		}
		instr.F32 = v

	case wasmir.OpF64Const:
		v, err := sr.f64()
		if err != nil {
			return instr, err
		}
		instr.F64 = v

	default:
		if op >= 0x45 && op <= 0xC4 {
			// Plain numeric/comparison/conversion operator: no immediates.
			break
		}
		return instr, fmt.Errorf("%w: opcode 0x%02x", ErrUnsupportedFeature, op)
	}
	return instr, nil
}

func decodeBlockType(sr *reader) (wasmir.BlockType, error) {
	b, err := sr.byte()
	if err != nil {
		return wasmir.BlockType{}, err
	}
	if b == 0x40 {
		return wasmir.BlockType{Empty: true}, nil
	}
	if vt, err := valtypeFromByte(b); err == nil {
		return wasmir.BlockType{HasValue: true, Value: vt}, nil
	}
	// Multi-value block type: signed LEB type index, re-read as such.
	sr.pos--
	idx, err := sr.i64()
	if err != nil {
		return wasmir.BlockType{}, err
	}
	return wasmir.BlockType{TypeIdx: idx}, nil
}

// --- Encode -------------------------------------------------------------------

// Encode serializes m to standard wasm bytes.
func Encode(m *wasmir.Module) ([]byte, error) {
	w := &writer{}
	w.raw(magic[:])
	w.raw(version[:])

	if len(m.Types) > 0 {
		sw := &writer{}
		sw.u32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sw.bytes(0x60)
			sw.u32(uint32(len(ft.Params)))
			for _, vt := range ft.Params {
				sw.valtype(vt)
			}
			sw.u32(uint32(len(ft.Results)))
			for _, vt := range ft.Results {
				sw.valtype(vt)
			}
		}
		writeSection(w, secType, sw.buf)
	}

	if len(m.Imports) > 0 {
		sw := &writer{}
		sw.u32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sw.name(imp.Module)
			sw.name(imp.Name)
			sw.bytes(byte(imp.Kind))
			switch imp.Kind {
			case wasmir.KindFunc:
				sw.u32(imp.TypeIndex)
			case wasmir.KindTable:
				encodeTableType(sw, imp.Table)
			case wasmir.KindMemory:
				encodeMemoryType(sw, imp.Memory)
			case wasmir.KindGlobal:
				sw.valtype(imp.GlobalType.Type)
				sw.bytes(boolByte(imp.GlobalType.Mutable))
			case wasmir.KindTag:
				sw.bytes(0)
				sw.u32(imp.TypeIndex)
			}
		}
		writeSection(w, secImport, sw.buf)
	}

	if len(m.Funcs) > 0 {
		sw := &writer{}
		sw.u32(uint32(len(m.Funcs)))
		for _, ti := range m.Funcs {
			sw.u32(ti)
		}
		writeSection(w, secFunction, sw.buf)
	}

	if len(m.Tables) > 0 {
		sw := &writer{}
		sw.u32(uint32(len(m.Tables)))
		for _, tt := range m.Tables {
			encodeTableType(sw, tt)
		}
		writeSection(w, secTable, sw.buf)
	}

	if len(m.Memories) > 0 {
		sw := &writer{}
		sw.u32(uint32(len(m.Memories)))
		for _, mt := range m.Memories {
			encodeMemoryType(sw, mt)
		}
		writeSection(w, secMemory, sw.buf)
	}

	if len(m.Tags) > 0 {
		sw := &writer{}
		sw.u32(uint32(len(m.Tags)))
		for _, ti := range m.Tags {
			sw.bytes(0)
			sw.u32(ti)
		}
		writeSection(w, secTag, sw.buf)
	}

	if len(m.Globals) > 0 {
		sw := &writer{}
		sw.u32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sw.valtype(g.Type.Type)
			sw.bytes(boolByte(g.Type.Mutable))
			if err := encodeExpr(sw, g.Init); err != nil {
				return nil, err
			}
		}
		writeSection(w, secGlobal, sw.buf)
	}

	if len(m.Exports) > 0 {
		sw := &writer{}
		sw.u32(uint32(len(m.Exports)))
		for _, e := range m.Exports {
			sw.name(e.Name)
			sw.bytes(byte(e.Kind))
			sw.u32(e.Index)
		}
		writeSection(w, secExport, sw.buf)
	}

	if m.HasStart {
		sw := &writer{}
		sw.u32(m.Start)
		writeSection(w, secStart, sw.buf)
	}

	if len(m.Elements) > 0 {
		sw := &writer{}
		sw.u32(uint32(len(m.Elements)))
		for _, el := range m.Elements {
			sw.u32(0)
			if err := encodeExpr(sw, el.Offset); err != nil {
				return nil, err
			}
			sw.u32(uint32(len(el.FuncIndexes)))
			for _, idx := range el.FuncIndexes {
				sw.u32(idx)
			}
		}
		writeSection(w, secElement, sw.buf)
	}

	if m.HasDataCount {
		sw := &writer{}
		sw.u32(m.DataCount)
		writeSection(w, secDataCount, sw.buf)
	}

	if len(m.Code) > 0 {
		sw := &writer{}
		sw.u32(uint32(len(m.Code)))
		for _, c := range m.Code {
			bw := &writer{}
			bw.u32(uint32(len(c.Locals)))
			for _, lg := range c.Locals {
				bw.u32(lg.Count)
				bw.valtype(lg.Type)
			}
			if err := encodeExpr(bw, c.Body); err != nil {
				return nil, err
			}
			sw.u32(uint32(len(bw.buf)))
			sw.raw(bw.buf)
		}
		writeSection(w, secCode, sw.buf)
	}

	if len(m.Data) > 0 {
		sw := &writer{}
		sw.u32(uint32(len(m.Data)))
		for _, d := range m.Data {
			sw.u32(0)
			if err := encodeExpr(sw, d.Offset); err != nil {
				return nil, err
			}
			sw.u32(uint32(len(d.Bytes)))
			sw.raw(d.Bytes)
		}
		writeSection(w, secData, sw.buf)
	}

	// Custom sections may legally appear between any two standard
	// sections; Module doesn't record each one's original position, so
	// they are all re-emitted here, after Data. A module whose custom
	// section originally preceded a standard section (e.g. a leading
	// "name" section) won't byte-round-trip through Decode+Encode, only
	// structurally round-trip — acceptable for this package's QR-sized
	// modules, which is all CompressWasm/DecompressWasm ever see.
	for _, c := range m.Customs {
		sw := &writer{}
		sw.name(c.Name)
		sw.raw(c.Bytes)
		writeSection(w, secCustom, sw.buf)
	}

	return w.buf, nil
}

func writeSection(w *writer, id sectionID, body []byte) {
	w.bytes(byte(id))
	w.u32(uint32(len(body)))
	w.raw(body)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func encodeTableType(w *writer, tt wasmir.TableType) {
	w.valtype(tt.ElemType)
	w.bytes(boolByte(tt.HasMax))
	w.u32(tt.Min)
	if tt.HasMax {
		w.u32(tt.Max)
	}
}

func encodeMemoryType(w *writer, mt wasmir.MemoryType) {
	w.bytes(boolByte(mt.HasMax))
	w.u32(mt.Min)
	if mt.HasMax {
		w.u32(mt.Max)
	}
}

func encodeExpr(w *writer, e wasmir.Expr) error {
	for _, instr := range e {
		if err := encodeOneInstr(w, instr); err != nil {
			return err
		}
	}
	w.bytes(byte(wasmir.OpEnd))
	return nil
}

func encodeOneInstr(w *writer, instr wasmir.Instr) error {
	op := instr.Op
	w.bytes(byte(op))
	switch op {
	case wasmir.OpUnreachable, wasmir.OpNop, wasmir.OpReturn, wasmir.OpDrop, wasmir.OpSelect:
		return nil

	case wasmir.OpMemorySize, wasmir.OpMemoryGrow:
		w.bytes(0)
		return nil

	case wasmir.OpBlock, wasmir.OpLoop, wasmir.OpIf:
		encodeBlockType(w, instr.Block)
		if err := encodeInstrsNoEnd(w, instr.Body[0]); err != nil {
			return err
		}
		if len(instr.Body) > 1 {
			w.bytes(byte(wasmir.OpElse))
			if err := encodeInstrsNoEnd(w, instr.Body[1]); err != nil {
				return err
			}
		}
		w.bytes(byte(wasmir.OpEnd))
		return nil

	case wasmir.OpBr, wasmir.OpBrIf, wasmir.OpCall, wasmir.OpLocalGet, wasmir.OpLocalSet,
		wasmir.OpLocalTee, wasmir.OpGlobalGet, wasmir.OpGlobalSet:
		w.u32(instr.Indexes[0])
		return nil

	case wasmir.OpCallIndirect:
		w.u32(instr.Indexes[0])
		w.u32(instr.Indexes[1])
		return nil

	case wasmir.OpBrTable:
		w.u32(uint32(len(instr.Indexes)))
		for _, idx := range instr.Indexes {
			w.u32(idx)
		}
		w.u32(instr.Default)
		return nil

	case wasmir.OpI32Load, wasmir.OpI64Load, wasmir.OpF32Load, wasmir.OpF64Load,
		wasmir.OpI32Store, wasmir.OpI64Store, wasmir.OpF32Store, wasmir.OpF64Store:
		w.u32(instr.Align)
		w.u32(instr.Offset)
		return nil

	case wasmir.OpI32Const:
		w.i32(instr.I32)
		return nil

	case wasmir.OpI64Const:
		w.i64(instr.I64)
		return nil

	case wasmir.OpF32Const:
		w.f32(instr.F32)
		return nil

	case wasmir.OpF64Const:
		w.f64(instr.F64)
		return nil

	default:
		if op >= 0x45 && op <= 0xC4 {
			return nil
		}
		return fmt.Errorf("%w: opcode 0x%02x", ErrUnsupportedFeature, op)
	}
}

// encodeInstrsNoEnd writes a nested block body without its terminating
// End (the caller writes End or Else itself, matching the grammar's
// single terminator per block).
func encodeInstrsNoEnd(w *writer, instrs []wasmir.Instr) error {
	for _, instr := range instrs {
		if err := encodeOneInstr(w, instr); err != nil {
			return err
		}
	}
	return nil
}

func encodeBlockType(w *writer, bt wasmir.BlockType) {
	switch {
	case bt.Empty:
		w.bytes(0x40)
	case bt.HasValue:
		w.valtype(bt.Value)
	default:
		w.i64(bt.TypeIdx)
	}
}
