// Package wasm provides a typed model of core WebAssembly binary modules
// together with a decoder, an encoder, and a flat instruction decoder.
//
// The model covers the numeric core of WASM 2.0: functions, tables,
// memories, globals, exports, active element and data segments, and the
// full integer/float instruction set including saturating truncations and
// sign extensions. SIMD, threads, exception handling, GC types, and tail
// calls are out of scope; decoding fails loudly when they appear.
//
// Parse a binary module:
//
//	m, err := wasm.ParseModule(data)
//
// Decode a function body into instructions:
//
//	instrs, err := wasm.DecodeInstructions(m.Code[0].Code)
//
// Modules can also be built programmatically and serialized with
// Module.Encode, which the harness tests use to synthesize fixtures.
package wasm
