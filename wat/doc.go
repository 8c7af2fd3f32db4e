// Package wat compiles a subset of the WebAssembly text format into binary
// modules. It exists to write guest fixtures for tests and examples.
//
//	wasm, err := wat.Compile(`(module
//		(import "$async" "stream.new" (func $new (param i32) (result i32)))
//		(func (export "open") (param i32) (result i32)
//			(call $new (local.get 0)))
//	)`)
//
// Supported:
//   - type, import (func and memory), func, memory, export and active data
//   - named and indexed params, locals, functions and memories
//   - flat and folded instructions
//   - calls, locals, i32/i64 constants, basic i32 arithmetic and comparison
//   - loads and stores with offset= and align=, memory.size and memory.grow
//   - line (;;) and block ((; ;)) comments
//
// Not supported: control flow blocks, tables, globals, floats beyond
// load and store.
package wat
