// Package tinywasm compresses small WebAssembly modules into payloads
// small enough to fit a QR code and decompresses them back to
// standard wasm binary bytes.
//
// A standard wasm binary module already spends a byte-aligned LEB128
// varint and a fixed tag byte on every index, opcode, and count, most
// of which repeat the same handful of values throughout a small
// module. This package re-encodes those same values bit-packed and
// Huffman-coded against a schema built from the module itself, then
// reverses the process exactly to recover the original module.
//
// Basic usage:
//
//	compressed, err := tinywasm.CompressWasm(standardWasmBytes, 2953)
//	standard, err := tinywasm.DecompressWasm(compressed)
//	names, err := tinywasm.ScanModuleExports(standardWasmBytes)
package tinywasm
