// Package wasmir defines the in-memory abstract syntax tree the codec
// traffics in on both sides (spec.md §3 WasmModule): standard wasm
// sections plus an expression tree for function bodies, with no
// semantics of its own.
//
// Grounded on the ValueWritten enumeration in
// original_source/tinycode/include/tinycode/wasm/optimized.hpp, which
// implicitly defines this same section/field shape by naming every
// position the original writer visits. Field names below follow the
// wasm core specification's own vocabulary rather than the C++ source's
// (TypeIdx not "GetType"), since this is new structural code, not a
// direct port.
package wasmir

// ValType is a wasm value type (numtype, vectype, or reftype).
type ValType uint8

const (
	ValI32 ValType = iota
	ValI64
	ValF32
	ValF64
	ValV128
	ValFuncref
	ValExternref
)

// FuncType is a function signature: zero or more parameter types and
// zero or more result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// ExternalKind tags what an import or export refers to.
type ExternalKind uint8

const (
	KindFunc ExternalKind = iota
	KindTable
	KindMemory
	KindGlobal
	KindTag
)

// Import is one entry of the import section.
type Import struct {
	Module string
	Name   string
	Kind   ExternalKind
	// TypeIndex is the type-section index for KindFunc and KindTag
	// imports; Table, Memory and GlobalType hold the descriptor for
	// KindTable, KindMemory and KindGlobal imports.
	TypeIndex  uint32
	Table      TableType
	Memory     MemoryType
	GlobalType GlobalType
}

// TableType describes a table's element type and size limits.
type TableType struct {
	ElemType ValType
	Min      uint32
	Max      uint32
	HasMax   bool
}

// MemoryType describes a memory's size limits, in 64KiB pages.
type MemoryType struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	Type    ValType
	Mutable bool
}

// Global is one entry of the global section: its type plus a constant
// initializer expression.
type Global struct {
	Type GlobalType
	Init Expr
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  ExternalKind
	Index uint32
}

// Element is one active element segment (the only kind spec.md's S4/S5
// scenarios exercise; passive/declarative segments are out of scope —
// see Reader/Writer ErrUnsupportedFeature).
type Element struct {
	TableIndex uint32
	Offset     Expr
	FuncIndexes []uint32
}

// LocalGroup is a run of locals sharing one type, as wasm's binary
// format groups them (count, type) rather than one entry per local.
type LocalGroup struct {
	Count uint32
	Type  ValType
}

// Code is one function body: its local declarations (beyond the
// parameters, which come from the function's type) plus its
// instruction sequence.
type Code struct {
	Locals []LocalGroup
	Body   Expr
}

// DataSegment is one active data segment.
type DataSegment struct {
	MemoryIndex uint32
	Offset      Expr
	Bytes       []byte
}

// CustomSection is a user/name section, carried as an opaque byte run.
type CustomSection struct {
	Name  string
	Bytes []byte
}

// Op is an instruction opcode. Only single-byte opcodes (0x00-0xFF) are
// represented; 0xFC/0xFD-prefixed extended opcodes have no Op value and
// are rejected by wasmbinary and codec as unsupported.
type Op uint32

const (
	OpUnreachable Op = 0x00
	OpNop         Op = 0x01
	OpBlock       Op = 0x02
	OpLoop        Op = 0x03
	OpIf          Op = 0x04
	OpElse        Op = 0x05
	OpEnd         Op = 0x0B
	OpBr          Op = 0x0C
	OpBrIf        Op = 0x0D
	OpBrTable     Op = 0x0E
	OpReturn      Op = 0x0F
	OpCall        Op = 0x10
	OpCallIndirect Op = 0x11
	OpDrop        Op = 0x1A
	OpSelect      Op = 0x1B
	OpLocalGet    Op = 0x20
	OpLocalSet    Op = 0x21
	OpLocalTee    Op = 0x22
	OpGlobalGet   Op = 0x23
	OpGlobalSet   Op = 0x24
	OpI32Load     Op = 0x28
	OpI64Load     Op = 0x29
	OpF32Load     Op = 0x2A
	OpF64Load     Op = 0x2B
	OpI32Store    Op = 0x36
	OpI64Store    Op = 0x37
	OpF32Store    Op = 0x38
	OpF64Store    Op = 0x39
	OpMemorySize  Op = 0x3F
	OpMemoryGrow  Op = 0x40
	OpI32Const    Op = 0x41
	OpI64Const    Op = 0x42
	OpF32Const    Op = 0x43
	OpF64Const    Op = 0x44
)

// BlockType is a block/loop/if's signature: either a value type, the
// empty type, or a type-section index for a multi-value signature.
type BlockType struct {
	Empty   bool
	Value   ValType
	HasValue bool
	TypeIdx int64 // used when neither Empty nor HasValue
}

// Instr is one instruction. Not every field is meaningful for every Op;
// see the comment on each field for which opcodes populate it.
type Instr struct {
	Op Op

	Block BlockType // block/loop/if

	Indexes  []uint32 // br_table targets, or the single index for br/call/local.*/global.*
	Default  uint32   // br_table default target

	Align  uint32 // memory loads/stores
	Offset uint32 // memory loads/stores

	I32 int32
	I64 int64
	F32 float32
	F64 float64

	// Body holds the nested instruction sequence(s) for structured
	// control flow: Body[0] is the "then"/loop body, Body[1] is the
	// "else" body of an if (only present when present in the source).
	Body [][]Instr
}

// Expr is a sequence of instructions terminated implicitly by the
// matching OpEnd (not stored explicitly in this tree; the writer/reader
// re-derive it from nesting).
type Expr []Instr

// Module is the full in-memory abstract syntax tree.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // TypeIndex per defined function, parallel to Code
	Tables   []TableType
	Memories []MemoryType
	Tags     []uint32 // TypeIndex per tag
	Globals  []Global
	Exports  []Export
	HasStart bool
	Start    uint32
	Elements []Element
	Code     []Code
	Data     []DataSegment
	HasDataCount bool
	DataCount    uint32
	Customs  []CustomSection
}
