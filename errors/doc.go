// Package errors provides structured error types for the harness.
//
// Errors are categorized by Phase (where the error occurred) and Kind
// (error category). The interpreter's semantic-vs-inconclusive
// distinction lives here as kinds: KindTrap is a legitimate semantic
// outcome, while KindBudget and KindStackExhausted mark inconclusive
// terminations that differential comparison must exclude.
//
// Use the Builder for structured construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindInvalidData).
//		Path("code", "func[3]").
//		Detail("truncated instruction stream").
//		Build()
//
// Or the convenience constructors:
//
//	err := errors.Trap("integer divide by zero")
//	err := errors.NotFound(errors.PhaseResolve, "export", "main")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
