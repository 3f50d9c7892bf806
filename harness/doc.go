// Package harness orchestrates differential execution: it feeds the
// same module, export, and synthesized default arguments to the wazero
// compiled path and the bounded reference interpreter, adapts both
// outcomes to one i32-plus-flags convention, and compares them.
//
// The two paths share a single numeric coercion policy
// (interp.CoerceI32 / interp.TruncateToI32), which is what makes their
// results bit-comparable. Each Harness owns an isolated engine, so fuzz
// workers running in parallel share nothing.
package harness
