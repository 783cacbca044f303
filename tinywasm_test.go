package tinywasm

import (
	"bytes"
	"testing"

	"github.com/deepteams/tinywasm/internal/wasmbinary"
	"github.com/deepteams/tinywasm/internal/wasmir"
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

func encodeStandard(t *testing.T, m *wasmir.Module) []byte {
	t.Helper()
	b, err := wasmbinary.Encode(m)
	if err != nil {
		t.Fatalf("encoding fixture module: %v", err)
	}
	return b
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	standard := encodeStandard(t, minimalExportModule())

	compressed, err := CompressWasm(standard, 0)
	if err != nil {
		t.Fatalf("CompressWasm: %v", err)
	}
	got, err := DecompressWasm(compressed)
	if err != nil {
		t.Fatalf("DecompressWasm: %v", err)
	}
	if !bytes.Equal(got, standard) {
		t.Fatalf("round trip mismatch:\nwant %x\ngot  %x", standard, got)
	}
}

func TestCompressWasmIsMemoized(t *testing.T) {
	standard := encodeStandard(t, minimalExportModule())

	first, err := CompressWasm(standard, 0)
	if err != nil {
		t.Fatalf("CompressWasm: %v", err)
	}
	second, err := CompressWasm(standard, 0)
	if err != nil {
		t.Fatalf("CompressWasm (cached): %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("cached compression diverged from the original: %x vs %x", first, second)
	}
	if &first[0] != &second[0] {
		t.Fatal("second CompressWasm call did not return the memoized result")
	}
}

func TestCompressWasmRejectsOversizeResult(t *testing.T) {
	standard := encodeStandard(t, minimalExportModule())
	compressed, err := CompressWasm(standard, 0)
	if err != nil {
		t.Fatalf("CompressWasm: %v", err)
	}
	_, err = CompressWasm(standard, len(compressed)-1)
	if err == nil {
		t.Fatal("expected ErrOversizeInput when the ceiling is below the compressed size")
	}
}

func TestScanModuleExports(t *testing.T) {
	standard := encodeStandard(t, minimalExportModule())
	names, err := ScanModuleExports(standard)
	if err != nil {
		t.Fatalf("ScanModuleExports: %v", err)
	}
	if len(names) != 1 || names[0] != "f" {
		t.Fatalf("got %v, want [f]", names)
	}
}

func TestDecompressWasmRejectsGarbage(t *testing.T) {
	_, err := DecompressWasm([]byte{0xFF, 0xFF, 0xFF})
	if err == nil {
		t.Fatal("expected an error decoding a garbage stream")
	}
}
