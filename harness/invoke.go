package harness

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wasmdiff/harness/engine"
	"github.com/wasmdiff/harness/interp"
)

// ResolveExport looks up a callable function export on a live instance.
// Absence is not an error: a missing name, or a name bound to a memory,
// global, or table, reports ok=false and the caller skips the module.
func ResolveExport(inst *engine.Instance, name string) (api.Function, bool) {
	fn := inst.ExportedFunction(name)
	if fn == nil {
		return nil, false
	}
	return fn, true
}

// InvokeExport runs a named export on the compiled path and adapts the
// outcome to the comparison convention: the i32-coerced return value
// plus a flag reporting whether the call raised (trapped or faulted).
//
//   - absent export: (-1, false), the caller has nothing to compare
//   - call error: (-1, true), the error is consumed here
//   - normal return: value coerced exactly like the interpreter path
func (h *Harness) InvokeExport(ctx context.Context, inst *engine.Instance, name string, args []interp.Value) (int32, bool) {
	fn, ok := ResolveExport(inst, name)
	if !ok {
		return -1, false
	}

	results, err := inst.Call(ctx, fn, encodeArgs(args)...)
	if err != nil {
		h.log.Debug("compiled call raised",
			zap.String("export", name),
			zap.Error(err))
		return -1, true
	}
	if len(results) == 0 {
		return -1, false
	}

	resultTypes := fn.Definition().ResultTypes()
	return decodeToI32(resultTypes[0], results[0]), false
}

// decodeToI32 reduces one raw compiled-path result to the comparison
// i32. The float cases go through interp.TruncateToI32, the same
// function the interpreter's classifier uses; keeping one policy
// function is what makes the two paths bit-comparable.
func decodeToI32(vt api.ValueType, raw uint64) int32 {
	switch vt {
	case api.ValueTypeI32:
		return api.DecodeI32(raw)
	case api.ValueTypeI64:
		return int32(raw)
	case api.ValueTypeF32:
		return interp.TruncateToI32(float64(api.DecodeF32(raw)))
	case api.ValueTypeF64:
		return interp.TruncateToI32(api.DecodeF64(raw))
	default:
		return 0
	}
}

// CompileAndRun is the fire-and-forget entry point: compile the bytes,
// instantiate, and invoke the entry export with synthesized default
// arguments. Every failure mode collapses to -1; the raised flag is
// discarded. Fuzz drivers use it when only crash-freedom matters.
func (h *Harness) CompileAndRun(ctx context.Context, wasmBytes []byte) int32 {
	mod, err := h.engine.Compile(ctx, wasmBytes)
	if err != nil {
		h.log.Debug("compile failed", zap.Error(err))
		return -1
	}
	defer mod.Close(ctx)

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		h.log.Debug("instantiation failed", zap.Error(err))
		return -1
	}
	defer inst.Close(ctx)

	fn, ok := ResolveExport(inst, h.entry)
	if !ok {
		return -1
	}
	args, err := MakeDefaultArguments(signatureOfDefinition(fn.Definition()))
	if err != nil {
		h.log.Error("default argument synthesis failed", zap.Error(err))
		return -1
	}

	value, _ := h.InvokeExport(ctx, inst, h.entry, args)
	return value
}
