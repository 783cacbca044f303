// Package tinywasm implements a bit-level, schema-driven compressor and
// decompressor for small WebAssembly modules, sized to fit a QR code
// payload (≤2953 bytes).
//
// The package exposes exactly three operations — CompressWasm,
// DecompressWasm, and ScanModuleExports — the HostInterface a caller
// (a QR-code encoder, a renderer, a wasm runtime) binds to. Their output
// depends only on their input; the one package-level state is
// CompressWasm's result cache (compressCache). Nothing else is part of
// the contract: the wasm
// AST, the Huffman tables, and the bit buffer are all owned by the
// current call and never shared across goroutines.
package tinywasm

import (
	"errors"
	"fmt"

	"github.com/deepteams/tinywasm/internal/cache"
	"github.com/deepteams/tinywasm/internal/codec"
	"github.com/deepteams/tinywasm/internal/wasmbinary"
)

// ErrOversizeInput is returned by CompressWasm when ceiling is positive
// and the compressed result would exceed it. The QR ceiling itself
// (2953 bytes) is a caller concern, not a codec constant — callers
// pass whatever ceiling applies to their payload.
var ErrOversizeInput = errors.New("tinywasm: compressed result exceeds ceiling")

// compressCache memoizes CompressWasm results by the xxhash of their
// standard-wasm input, since repeatedly compressing the same bytes
// (a dev tool recompressing on every keystroke) is wasted two-pass
// work. It is purely a latency optimization: a cache hit and a cache
// miss return identical bytes.
var compressCache = cache.New(cache.DefaultCapacity)

// CompressWasm parses standardBytes as a standard wasm binary module
// and returns its compressed encoding. If ceiling is positive and the
// compressed result is larger, it returns ErrOversizeInput wrapping
// the actual size so the caller can decide how to shrink the input.
func CompressWasm(standardBytes []byte, ceiling int) ([]byte, error) {
	if cached, ok := compressCache.Get(standardBytes); ok {
		if err := checkCeiling(len(cached), ceiling); err != nil {
			return nil, err
		}
		return cached, nil
	}

	m, err := wasmbinary.Decode(standardBytes)
	if err != nil {
		return nil, fmt.Errorf("tinywasm: parsing standard wasm: %w", err)
	}
	compressed, err := codec.Compress(m)
	if err != nil {
		return nil, fmt.Errorf("tinywasm: compressing module: %w", err)
	}
	compressCache.Put(standardBytes, compressed)

	if err := checkCeiling(len(compressed), ceiling); err != nil {
		return nil, err
	}
	return compressed, nil
}

func checkCeiling(size, ceiling int) error {
	if ceiling > 0 && size > ceiling {
		return fmt.Errorf("%w: %d bytes exceeds ceiling of %d", ErrOversizeInput, size, ceiling)
	}
	return nil
}

// DecompressWasm reverses CompressWasm, returning the standard wasm
// binary bytes that produced compressedBytes.
func DecompressWasm(compressedBytes []byte) ([]byte, error) {
	m, err := codec.Decompress(compressedBytes)
	if err != nil {
		return nil, fmt.Errorf("tinywasm: decompressing module: %w", err)
	}
	standardBytes, err := wasmbinary.Encode(m)
	if err != nil {
		return nil, fmt.Errorf("tinywasm: re-serializing module: %w", err)
	}
	return standardBytes, nil
}

// ScanModuleExports parses standardBytes as a standard wasm binary
// module and returns the names of every export it declares, in
// declaration order. It is used by host tooling deciding what a wasm
// runtime needs to keep bound; it is not part of the codec's
// round-trip correctness.
func ScanModuleExports(standardBytes []byte) ([]string, error) {
	m, err := wasmbinary.Decode(standardBytes)
	if err != nil {
		return nil, fmt.Errorf("tinywasm: parsing standard wasm: %w", err)
	}
	var names []string
	for _, exp := range m.Exports {
		names = append(names, exp.Name)
	}
	return names, nil
}
