package harness

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wasmdiff/harness/errors"
	"github.com/wasmdiff/harness/interp"
)

// MakeDefaultArguments synthesizes one default value per parameter of
// sig: integer zero, positive float zero, or null reference. Both
// execution paths are fed the same synthesized values, so a mismatch
// can only come from execution, not from argument setup.
//
// A non-surface parameter kind is an invariant violation: surface
// signatures are restricted to i32/i64/f32/f64/ref by construction, so
// hitting anything else means the caller resolved a signature it should
// have rejected.
func MakeDefaultArguments(sig interp.Signature) ([]interp.Value, error) {
	args := make([]interp.Value, len(sig.Params))
	for i, k := range sig.Params {
		if !k.IsSurface() {
			return nil, errors.Invariant(errors.PhaseResolve,
				"parameter kind "+k.String()+" is not a surface kind")
		}
		v, ok := interp.Zero(k)
		if !ok {
			return nil, errors.Invariant(errors.PhaseResolve,
				"no default value for kind "+k.String())
		}
		args[i] = v
	}
	return args, nil
}

// kindOfValueType maps a wazero value type to the interpreter kind.
func kindOfValueType(vt api.ValueType) interp.Kind {
	switch vt {
	case api.ValueTypeI32:
		return interp.KindI32
	case api.ValueTypeI64:
		return interp.KindI64
	case api.ValueTypeF32:
		return interp.KindF32
	case api.ValueTypeF64:
		return interp.KindF64
	default:
		return interp.KindRef
	}
}

// signatureOfDefinition builds a Signature from a compiled function's
// definition, letting default arguments be synthesized without a
// decoded module.
func signatureOfDefinition(def api.FunctionDefinition) interp.Signature {
	params := def.ParamTypes()
	results := def.ResultTypes()
	sig := interp.Signature{
		Params:  make([]interp.Kind, len(params)),
		Results: make([]interp.Kind, len(results)),
	}
	for i, p := range params {
		sig.Params[i] = kindOfValueType(p)
	}
	for i, r := range results {
		sig.Results[i] = kindOfValueType(r)
	}
	return sig
}

// encodeArgs lowers values to wazero's raw stack encoding. Null
// references lower to 0.
func encodeArgs(args []interp.Value) []uint64 {
	raw := make([]uint64, len(args))
	for i, a := range args {
		switch a.Kind() {
		case interp.KindI32:
			raw[i] = api.EncodeI32(a.AsI32())
		case interp.KindI64:
			raw[i] = api.EncodeI64(a.AsI64())
		case interp.KindF32:
			raw[i] = api.EncodeF32(a.AsF32())
		case interp.KindF64:
			raw[i] = api.EncodeF64(a.AsF64())
		default:
			raw[i] = 0
		}
	}
	return raw
}
