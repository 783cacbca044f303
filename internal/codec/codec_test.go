package codec

import (
	"reflect"
	"testing"

	"github.com/deepteams/tinywasm/internal/wasmir"
	"github.com/deepteams/tinywasm/internal/wasmschema"
)

// minimalExportModule mirrors spec.md scenario S4: one function, no
// params, one i32 result, body "i32.const 42", exported as "f".
func minimalExportModule() *wasmir.Module {
	return &wasmir.Module{
		Types: []wasmir.FuncType{{Results: []wasmir.ValType{wasmir.ValI32}}},
		Funcs: []uint32{0},
		Exports: []wasmir.Export{
			{Name: "f", Kind: wasmir.KindFunc, Index: 0},
		},
		Code: []wasmir.Code{
			{Body: wasmir.Expr{{Op: wasmir.OpI32Const, I32: 42}}},
		},
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	m := minimalExportModule()
	data, err := Compress(m)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := Decompress(data)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !reflect.DeepEqual(m, got) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", m, got)
	}
}

func TestCompressDecompressMultiFunction(t *testing.T) {
	// A handful of functions calling each other and a global, so
	// FunctionIndex/TypeIndex/GlobalIndex histograms have more than one
	// symbol and Huffman actually builds a multi-leaf tree.
	m := &wasmir.Module{
		Types: []wasmir.FuncType{
			{Params: []wasmir.ValType{wasmir.ValI32}, Results: []wasmir.ValType{wasmir.ValI32}},
			{Results: []wasmir.ValType{wasmir.ValI32}},
		},
		Funcs: []uint32{0, 1, 1},
		Globals: []wasmir.Global{
			{Type: wasmir.GlobalType{Type: wasmir.ValI32, Mutable: true}, Init: wasmir.Expr{{Op: wasmir.OpI32Const, I32: 7}}},
		},
		Exports: []wasmir.Export{
			{Name: "main", Kind: wasmir.KindFunc, Index: 1},
			{Name: "helper", Kind: wasmir.KindFunc, Index: 2},
		},
		Code: []wasmir.Code{
			{Body: wasmir.Expr{
				{Op: wasmir.OpLocalGet, Indexes: []uint32{0}},
				{Op: wasmir.OpGlobalGet, Indexes: []uint32{0}},
			}},
			{Body: wasmir.Expr{
				{Op: wasmir.OpI32Const, I32: 1},
				{Op: wasmir.OpCall, Indexes: []uint32{0}},
			}},
			{Body: wasmir.Expr{
				{Op: wasmir.OpI32Const, I32: 2},
				{Op: wasmir.OpCall, Indexes: []uint32{0}},
			}},
		},
	}

	data, err := Compress(m)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := Decompress(data)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !reflect.DeepEqual(m, got) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", m, got)
	}
}

func TestCompressDecompressIfElse(t *testing.T) {
	m := &wasmir.Module{
		Types: []wasmir.FuncType{{Params: []wasmir.ValType{wasmir.ValI32}, Results: []wasmir.ValType{wasmir.ValI32}}},
		Funcs: []uint32{0},
		Code: []wasmir.Code{
			{Body: wasmir.Expr{
				{Op: wasmir.OpLocalGet, Indexes: []uint32{0}},
				{
					Op:    wasmir.OpIf,
					Block: wasmir.BlockType{HasValue: true, Value: wasmir.ValI32},
					Body: [][]wasmir.Instr{
						{{Op: wasmir.OpI32Const, I32: 1}},
						{{Op: wasmir.OpI32Const, I32: 0}},
					},
				},
			}},
		},
	}

	data, err := Compress(m)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := Decompress(data)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !reflect.DeepEqual(m, got) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", m, got)
	}
}

func TestCompressDecompressDataAndMemory(t *testing.T) {
	m := &wasmir.Module{
		Memories: []wasmir.MemoryType{{Min: 1}},
		Data: []wasmir.DataSegment{
			{Offset: wasmir.Expr{{Op: wasmir.OpI32Const, I32: 0}}, Bytes: []byte{0x00, 0xFF, 0x7F, 0x80, 0x01}},
		},
	}
	data, err := Compress(m)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := Decompress(data)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !reflect.DeepEqual(m, got) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", m, got)
	}
}

func TestDecompressRejectsTruncatedStream(t *testing.T) {
	m := minimalExportModule()
	data, err := Compress(m)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	_, err = Decompress(data[:len(data)/2])
	if err == nil {
		t.Fatal("expected an error decoding a truncated stream")
	}
}

func TestBuildTablesSkipsUnobservedCategories(t *testing.T) {
	m := minimalExportModule()
	hist := collectHistograms(m)
	tables, err := buildTables(hist)
	if err != nil {
		t.Fatalf("buildTables: %v", err)
	}
	// BreakIndex never appears in this module's single straight-line
	// function body, so no table should be built for it.
	if _, ok := tables[wasmschema.BreakIndex]; ok {
		t.Fatalf("expected no table for an unobserved category")
	}
}
