package wasmbinary

import (
	"bytes"
	"testing"

	"github.com/deepteams/tinywasm/internal/wasmir"
)

// minimalExportModule builds the module from spec.md scenario S4: one
// function, no params, one i32 result, returning the constant 42,
// exported as "f".
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

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := minimalExportModule()
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	b2, err := Encode(got)
	if err != nil {
		t.Fatalf("re-Encode: %v", err)
	}
	if !bytes.Equal(b, b2) {
		t.Fatalf("round trip not byte-identical:\n%x\nvs\n%x", b, b2)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte{0, 1, 2, 3, 1, 0, 0, 0})
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDataAndMemoryRoundTrip(t *testing.T) {
	m := &wasmir.Module{
		Memories: []wasmir.MemoryType{{Min: 1}},
		Data: []wasmir.DataSegment{
			{Offset: wasmir.Expr{{Op: wasmir.OpI32Const, I32: 0}}, Bytes: []byte{0x00, 0xFF, 0x7F, 0x80, 0x01}},
		},
	}
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Data) != 1 || !bytes.Equal(got.Data[0].Bytes, m.Data[0].Bytes) {
		t.Fatalf("data segment mismatch: %+v", got.Data)
	}
}

func TestIfElseRoundTrip(t *testing.T) {
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
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b2, err := Encode(got)
	if err != nil {
		t.Fatalf("re-Encode: %v", err)
	}
	if !bytes.Equal(b, b2) {
		t.Fatalf("round trip not byte-identical")
	}
}
