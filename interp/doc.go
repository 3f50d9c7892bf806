// Package interp is a bounded reference interpreter for self-contained
// WebAssembly modules.
//
// It exists to give differential fuzzing a second, independent execution
// path: the same exported function is run both through a production
// engine and through this interpreter, and the classified outcomes are
// compared. The interpreter therefore optimizes for termination and
// classification fidelity, not speed. Every run evaluates at most
// StepBudget instructions and ends in exactly one of three states:
// finished with a coerced i32 value, trapped, or failed (cut off
// inconclusively by the budget or the call-depth ceiling).
//
// Runs that execute operations with implementation-defined results (NaN
// payload propagation, float-to-int conversions, reinterpret casts) are
// flagged nondeterministic so callers can exclude them from strict
// comparison.
package interp
