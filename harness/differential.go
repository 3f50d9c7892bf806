package harness

import (
	"context"

	"go.uber.org/zap"

	"github.com/wasmdiff/harness/interp"
	"github.com/wasmdiff/harness/wasm"
)

// Verdict is the comparison outcome of one differential run.
type Verdict uint8

const (
	// VerdictMatch means both paths agreed within the comparison rules.
	VerdictMatch Verdict = iota
	// VerdictMismatch means the paths disagreed on a run that should be
	// deterministic. This is the signal differential fuzzing exists for.
	VerdictMismatch
	// VerdictInconclusive means no comparison was possible: the
	// reference run was cut off, the module never reached execution, or
	// nondeterminism voided the check.
	VerdictInconclusive
)

func (v Verdict) String() string {
	switch v {
	case VerdictMatch:
		return "match"
	case VerdictMismatch:
		return "mismatch"
	default:
		return "inconclusive"
	}
}

// Report is the full outcome of one differential run.
type Report struct {
	// Reference is the interpreter-path classification.
	Reference interp.Result
	// CompiledValue is the compiled-path i32 result, -1 when it raised.
	CompiledValue int32
	// CompiledRaised reports whether the compiled call trapped.
	CompiledRaised bool
	// CompiledRan reports whether the compiled path reached invocation.
	CompiledRan bool
	// Verdict is the comparison outcome.
	Verdict Verdict
	// Reason explains Mismatch and Inconclusive verdicts.
	Reason string
}

func inconclusive(ref interp.Result, reason string) *Report {
	return &Report{Reference: ref, Verdict: VerdictInconclusive, Reason: reason}
}

// RunDifferential executes the entry export through both paths and
// compares the classified outcomes.
//
// The interpreter runs first: when it is cut off (Failed), the compiled
// path is skipped entirely, matching the rule that inconclusive
// reference runs never produce a verdict. Runs flagged nondeterministic
// can still Match on outcome shape, but any disagreement is downgraded
// to Inconclusive rather than reported as a miscompilation.
func (h *Harness) RunDifferential(ctx context.Context, wasmBytes []byte) (*Report, error) {
	module, err := wasm.ParseModule(wasmBytes)
	if err != nil {
		return nil, err
	}

	refInst, err := interp.NewInstance(module)
	if err != nil {
		return inconclusive(interp.Failed(), "reference instantiation: "+err.Error()), nil
	}

	export := module.FindExport(h.entry)
	if export == nil || export.Kind != wasm.KindFunc {
		return inconclusive(interp.Failed(), "no callable entry export"), nil
	}
	funcIdx := export.Idx

	sig, ok := refInst.FuncSignature(funcIdx)
	if !ok {
		return inconclusive(interp.Failed(), "entry export out of function range"), nil
	}
	args, err := MakeDefaultArguments(sig)
	if err != nil {
		return nil, err
	}

	ref := interp.Run(refInst, funcIdx, args)
	h.log.Debug("reference run",
		zap.String("export", h.entry),
		zap.Stringer("result", ref))

	if ref.Outcome() == interp.OutcomeFailed {
		return inconclusive(ref, "reference run inconclusive"), nil
	}

	mod, err := h.engine.Compile(ctx, wasmBytes)
	if err != nil {
		return inconclusive(ref, "compile: "+err.Error()), nil
	}
	defer mod.Close(ctx)

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		return inconclusive(ref, "instantiate: "+err.Error()), nil
	}
	defer inst.Close(ctx)

	value, raised := h.InvokeExport(ctx, inst, h.entry, args)
	report := &Report{
		Reference:      ref,
		CompiledValue:  value,
		CompiledRaised: raised,
		CompiledRan:    true,
	}
	report.Verdict, report.Reason = compare(ref, value, raised)

	if report.Verdict == VerdictMismatch {
		h.log.Warn("differential mismatch",
			zap.Stringer("reference", ref),
			zap.Int32("compiled_value", value),
			zap.Bool("compiled_raised", raised),
			zap.String("reason", report.Reason))
	}
	return report, nil
}

// compare applies the comparison rules to a conclusive reference run.
func compare(ref interp.Result, value int32, raised bool) (Verdict, string) {
	nondet := ref.Nondeterministic()

	if ref.Outcome() == interp.OutcomeTrapped {
		if raised {
			return VerdictMatch, ""
		}
		if nondet {
			return VerdictInconclusive, "trap disagreement on nondeterministic run"
		}
		return VerdictMismatch, "reference trapped, compiled finished"
	}

	// Reference finished.
	if raised {
		if nondet {
			return VerdictInconclusive, "trap disagreement on nondeterministic run"
		}
		return VerdictMismatch, "reference finished, compiled raised"
	}
	if nondet {
		return VerdictInconclusive, "value comparison skipped on nondeterministic run"
	}
	if ref.Value() != value {
		return VerdictMismatch, "value divergence"
	}
	return VerdictMatch, ""
}
