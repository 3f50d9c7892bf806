package interp

import (
	"fmt"
	"math"

	"github.com/wasmdiff/harness/wasm"
)

// Kind tags the representation of a Value.
type Kind uint8

const (
	KindI32 Kind = iota
	KindI64
	KindF32
	KindF64
	KindRef
	KindI8     // packed storage type, never a surface call kind
	KindI16    // packed storage type, never a surface call kind
	KindRTT    // runtime type tag, never a surface call kind
	KindBottom // unreachable/bottom, never a surface call kind
	KindV128   // vector, never a surface call kind
)

var kindNames = [...]string{
	KindI32:    "i32",
	KindI64:    "i64",
	KindF32:    "f32",
	KindF64:    "f64",
	KindRef:    "ref",
	KindI8:     "i8",
	KindI16:    "i16",
	KindRTT:    "rtt",
	KindBottom: "bottom",
	KindV128:   "v128",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsSurface reports whether k may appear as a call parameter or result
// kind at the harness boundary. The packed, rtt, bottom, and vector kinds
// exist only inside function bodies by construction.
func (k Kind) IsSurface() bool {
	return k <= KindRef
}

// KindOf maps a wasm value type to its interpreter kind.
func KindOf(vt wasm.ValType) Kind {
	switch vt {
	case wasm.ValI32:
		return KindI32
	case wasm.ValI64:
		return KindI64
	case wasm.ValF32:
		return KindF32
	case wasm.ValF64:
		return KindF64
	case wasm.ValFuncRef, wasm.ValExtern:
		return KindRef
	case wasm.ValV128:
		return KindV128
	default:
		return KindBottom
	}
}

// Value is a tagged union holding exactly one wasm value.
// Numeric payloads live in bits; reference payloads in ref.
type Value struct {
	ref  any
	bits uint64
	kind Kind
}

// I32 creates an i32 value.
func I32(v int32) Value {
	return Value{kind: KindI32, bits: uint64(uint32(v))}
}

// I64 creates an i64 value.
func I64(v int64) Value {
	return Value{kind: KindI64, bits: uint64(v)}
}

// F32 creates an f32 value.
func F32(v float32) Value {
	return Value{kind: KindF32, bits: uint64(math.Float32bits(v))}
}

// F64 creates an f64 value.
func F64(v float64) Value {
	return Value{kind: KindF64, bits: math.Float64bits(v)}
}

// NullRef creates a null reference value.
func NullRef() Value {
	return Value{kind: KindRef}
}

// FuncRef creates a reference to a function by index.
func FuncRef(funcIdx uint32) Value {
	return Value{kind: KindRef, ref: funcIdx}
}

// Kind returns the value's tag.
func (v Value) Kind() Kind {
	return v.kind
}

// AsI32 returns the i32 payload.
func (v Value) AsI32() int32 {
	return int32(uint32(v.bits))
}

// AsI64 returns the i64 payload.
func (v Value) AsI64() int64 {
	return int64(v.bits)
}

// AsF32 returns the f32 payload.
func (v Value) AsF32() float32 {
	return math.Float32frombits(uint32(v.bits))
}

// AsF64 returns the f64 payload.
func (v Value) AsF64() float64 {
	return math.Float64frombits(v.bits)
}

// Ref returns the reference payload, nil for a null reference.
func (v Value) Ref() any {
	return v.ref
}

// IsNullRef reports whether v is a null reference.
func (v Value) IsNullRef() bool {
	return v.kind == KindRef && v.ref == nil
}

func (v Value) String() string {
	switch v.kind {
	case KindI32:
		return fmt.Sprintf("i32:%d", v.AsI32())
	case KindI64:
		return fmt.Sprintf("i64:%d", v.AsI64())
	case KindF32:
		return fmt.Sprintf("f32:%g", v.AsF32())
	case KindF64:
		return fmt.Sprintf("f64:%g", v.AsF64())
	case KindRef:
		if v.ref == nil {
			return "ref:null"
		}
		return fmt.Sprintf("ref:%v", v.ref)
	default:
		return v.kind.String()
	}
}

// Zero returns the default value for a kind: 0 for integers, +0.0 for
// floats, null for references. Non-surface kinds have no default.
func Zero(k Kind) (Value, bool) {
	switch k {
	case KindI32:
		return I32(0), true
	case KindI64:
		return I64(0), true
	case KindF32:
		return F32(0), true
	case KindF64:
		return F64(0), true
	case KindRef:
		return NullRef(), true
	default:
		return Value{}, false
	}
}

// Signature describes a function's parameter and result kinds.
type Signature struct {
	Params  []Kind
	Results []Kind
}

// SignatureOf converts a wasm function type into a Signature.
func SignatureOf(ft *wasm.FuncType) Signature {
	sig := Signature{
		Params:  make([]Kind, len(ft.Params)),
		Results: make([]Kind, len(ft.Results)),
	}
	for i, p := range ft.Params {
		sig.Params[i] = KindOf(p)
	}
	for i, r := range ft.Results {
		sig.Results[i] = KindOf(r)
	}
	return sig
}
