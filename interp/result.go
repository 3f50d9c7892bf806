package interp

import "fmt"

// Outcome is the terminal state of a bounded interpretation run.
type Outcome uint8

const (
	// OutcomeFinished means the function returned normally.
	OutcomeFinished Outcome = iota
	// OutcomeTrapped means execution hit a wasm-level trap. A trap is a
	// legitimate semantic outcome and participates in differential
	// comparison.
	OutcomeTrapped
	// OutcomeFailed means execution was cut off inconclusively: the step
	// budget ran out or the call stack ceiling was hit. Failed runs must
	// be excluded from strict comparison.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFinished:
		return "finished"
	case OutcomeTrapped:
		return "trapped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the immutable classified outcome of one interpretation run.
// The nondeterminism flag is only meaningful for Finished and Trapped.
type Result struct {
	value   int32
	outcome Outcome
	nondet  bool
}

// Finished builds a normal-completion result carrying the coerced i32
// value (-1 when the function returns nothing).
func Finished(value int32, nondeterministic bool) Result {
	return Result{outcome: OutcomeFinished, value: value, nondet: nondeterministic}
}

// Trapped builds a trap result.
func Trapped(nondeterministic bool) Result {
	return Result{outcome: OutcomeTrapped, nondet: nondeterministic}
}

// Failed builds an inconclusive result. It carries neither a value nor a
// nondeterminism flag.
func Failed() Result {
	return Result{outcome: OutcomeFailed}
}

// Outcome returns the terminal state.
func (r Result) Outcome() Outcome {
	return r.outcome
}

// Value returns the coerced i32 result. Only meaningful for Finished.
func (r Result) Value() int32 {
	return r.value
}

// Nondeterministic reports whether the run executed operations whose
// concrete result may differ between conforming implementations.
func (r Result) Nondeterministic() bool {
	return r.nondet
}

func (r Result) String() string {
	switch r.outcome {
	case OutcomeFinished:
		return fmt.Sprintf("finished(%d, nondet=%t)", r.value, r.nondet)
	case OutcomeTrapped:
		return fmt.Sprintf("trapped(nondet=%t)", r.nondet)
	default:
		return "failed"
	}
}
