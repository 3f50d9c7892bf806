package interp

import (
	"math"
	"math/bits"

	"github.com/wasmdiff/harness/errors"
	"github.com/wasmdiff/harness/wasm"
)

// stepNumeric handles comparison, arithmetic, conversion, and
// sign-extension opcodes, including the 0xFC saturating truncations.
// Returns done=false when the opcode belongs to another family.
func (r *runner) stepNumeric(f *frame, instr wasm.Instruction) (bool, error) {
	op := instr.Opcode

	if op == wasm.OpMiscPrefix {
		return true, r.stepTruncSat(f, instr.Imm.(wasm.MiscImm).SubOpcode)
	}
	if op < wasm.OpI32Eqz || op > wasm.OpI64Extend32S {
		return false, nil
	}

	switch {
	case op == wasm.OpI32Eqz:
		a, err := f.popI32()
		if err != nil {
			return true, err
		}
		f.push(boolToI32(a == 0))
	case op >= wasm.OpI32Eq && op <= wasm.OpI32GeU:
		a, b, err := f.pop2I32()
		if err != nil {
			return true, err
		}
		f.push(boolToI32(cmpI32(op, a, b)))

	case op == wasm.OpI64Eqz:
		a, err := f.popI64()
		if err != nil {
			return true, err
		}
		f.push(boolToI32(a == 0))
	case op >= wasm.OpI64Eq && op <= wasm.OpI64GeU:
		a, b, err := f.pop2I64()
		if err != nil {
			return true, err
		}
		f.push(boolToI32(cmpI64(op, a, b)))

	case op >= wasm.OpF32Eq && op <= wasm.OpF32Ge:
		a, b, err := f.pop2F32()
		if err != nil {
			return true, err
		}
		f.push(boolToI32(cmpF64(op-wasm.OpF32Eq+wasm.OpF64Eq, float64(a), float64(b))))
	case op >= wasm.OpF64Eq && op <= wasm.OpF64Ge:
		a, b, err := f.pop2F64()
		if err != nil {
			return true, err
		}
		f.push(boolToI32(cmpF64(op, a, b)))

	case op >= wasm.OpI32Clz && op <= wasm.OpI32Popcnt:
		a, err := f.popI32()
		if err != nil {
			return true, err
		}
		switch op {
		case wasm.OpI32Clz:
			f.push(I32(int32(bits.LeadingZeros32(uint32(a)))))
		case wasm.OpI32Ctz:
			f.push(I32(int32(bits.TrailingZeros32(uint32(a)))))
		default:
			f.push(I32(int32(bits.OnesCount32(uint32(a)))))
		}
	case op >= wasm.OpI32Add && op <= wasm.OpI32Rotr:
		a, b, err := f.pop2I32()
		if err != nil {
			return true, err
		}
		v, err := binI32(op, a, b)
		if err != nil {
			return true, err
		}
		f.push(I32(v))

	case op >= wasm.OpI64Clz && op <= wasm.OpI64Popcnt:
		a, err := f.popI64()
		if err != nil {
			return true, err
		}
		switch op {
		case wasm.OpI64Clz:
			f.push(I64(int64(bits.LeadingZeros64(uint64(a)))))
		case wasm.OpI64Ctz:
			f.push(I64(int64(bits.TrailingZeros64(uint64(a)))))
		default:
			f.push(I64(int64(bits.OnesCount64(uint64(a)))))
		}
	case op >= wasm.OpI64Add && op <= wasm.OpI64Rotr:
		a, b, err := f.pop2I64()
		if err != nil {
			return true, err
		}
		v, err := binI64(op, a, b)
		if err != nil {
			return true, err
		}
		f.push(I64(v))

	case op >= wasm.OpF32Abs && op <= wasm.OpF32Sqrt:
		a, err := f.popF32()
		if err != nil {
			return true, err
		}
		r.pushF32(f, float32(unF64(op-wasm.OpF32Abs+wasm.OpF64Abs, float64(a))))
	case op >= wasm.OpF32Add && op <= wasm.OpF32Copysign:
		a, b, err := f.pop2F32()
		if err != nil {
			return true, err
		}
		r.pushF32(f, binF32(op, a, b))

	case op >= wasm.OpF64Abs && op <= wasm.OpF64Sqrt:
		a, err := f.popF64()
		if err != nil {
			return true, err
		}
		r.pushF64(f, unF64(op, a))
	case op >= wasm.OpF64Add && op <= wasm.OpF64Copysign:
		a, b, err := f.pop2F64()
		if err != nil {
			return true, err
		}
		r.pushF64(f, binF64(op, a, b))

	default:
		return true, r.stepConvert(f, op)
	}
	return true, nil
}

func cmpI32(op byte, a, b int32) bool {
	switch op {
	case wasm.OpI32Eq:
		return a == b
	case wasm.OpI32Ne:
		return a != b
	case wasm.OpI32LtS:
		return a < b
	case wasm.OpI32LtU:
		return uint32(a) < uint32(b)
	case wasm.OpI32GtS:
		return a > b
	case wasm.OpI32GtU:
		return uint32(a) > uint32(b)
	case wasm.OpI32LeS:
		return a <= b
	case wasm.OpI32LeU:
		return uint32(a) <= uint32(b)
	case wasm.OpI32GeS:
		return a >= b
	default: // OpI32GeU
		return uint32(a) >= uint32(b)
	}
}

func cmpI64(op byte, a, b int64) bool {
	switch op {
	case wasm.OpI64Eq:
		return a == b
	case wasm.OpI64Ne:
		return a != b
	case wasm.OpI64LtS:
		return a < b
	case wasm.OpI64LtU:
		return uint64(a) < uint64(b)
	case wasm.OpI64GtS:
		return a > b
	case wasm.OpI64GtU:
		return uint64(a) > uint64(b)
	case wasm.OpI64LeS:
		return a <= b
	case wasm.OpI64LeU:
		return uint64(a) <= uint64(b)
	default: // OpI64GeU
		return uint64(a) >= uint64(b)
	}
}

// cmpF64 compares with IEEE semantics: any comparison with NaN is false.
func cmpF64(op byte, a, b float64) bool {
	switch op {
	case wasm.OpF64Eq:
		return a == b
	case wasm.OpF64Ne:
		return a != b
	case wasm.OpF64Lt:
		return a < b
	case wasm.OpF64Gt:
		return a > b
	case wasm.OpF64Le:
		return a <= b
	default: // OpF64Ge
		return a >= b
	}
}

func binI32(op byte, a, b int32) (int32, error) {
	switch op {
	case wasm.OpI32Add:
		return a + b, nil
	case wasm.OpI32Sub:
		return a - b, nil
	case wasm.OpI32Mul:
		return a * b, nil
	case wasm.OpI32DivS:
		if b == 0 {
			return 0, errors.Trap("integer divide by zero")
		}
		if a == math.MinInt32 && b == -1 {
			return 0, errors.Trap("integer overflow")
		}
		return a / b, nil
	case wasm.OpI32DivU:
		if b == 0 {
			return 0, errors.Trap("integer divide by zero")
		}
		return int32(uint32(a) / uint32(b)), nil
	case wasm.OpI32RemS:
		if b == 0 {
			return 0, errors.Trap("integer divide by zero")
		}
		if a == math.MinInt32 && b == -1 {
			return 0, nil
		}
		return a % b, nil
	case wasm.OpI32RemU:
		if b == 0 {
			return 0, errors.Trap("integer divide by zero")
		}
		return int32(uint32(a) % uint32(b)), nil
	case wasm.OpI32And:
		return a & b, nil
	case wasm.OpI32Or:
		return a | b, nil
	case wasm.OpI32Xor:
		return a ^ b, nil
	case wasm.OpI32Shl:
		return a << (uint32(b) & 31), nil
	case wasm.OpI32ShrS:
		return a >> (uint32(b) & 31), nil
	case wasm.OpI32ShrU:
		return int32(uint32(a) >> (uint32(b) & 31)), nil
	case wasm.OpI32Rotl:
		return int32(bits.RotateLeft32(uint32(a), int(uint32(b)&31))), nil
	default: // OpI32Rotr
		return int32(bits.RotateLeft32(uint32(a), -int(uint32(b)&31))), nil
	}
}

func binI64(op byte, a, b int64) (int64, error) {
	switch op {
	case wasm.OpI64Add:
		return a + b, nil
	case wasm.OpI64Sub:
		return a - b, nil
	case wasm.OpI64Mul:
		return a * b, nil
	case wasm.OpI64DivS:
		if b == 0 {
			return 0, errors.Trap("integer divide by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return 0, errors.Trap("integer overflow")
		}
		return a / b, nil
	case wasm.OpI64DivU:
		if b == 0 {
			return 0, errors.Trap("integer divide by zero")
		}
		return int64(uint64(a) / uint64(b)), nil
	case wasm.OpI64RemS:
		if b == 0 {
			return 0, errors.Trap("integer divide by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return 0, nil
		}
		return a % b, nil
	case wasm.OpI64RemU:
		if b == 0 {
			return 0, errors.Trap("integer divide by zero")
		}
		return int64(uint64(a) % uint64(b)), nil
	case wasm.OpI64And:
		return a & b, nil
	case wasm.OpI64Or:
		return a | b, nil
	case wasm.OpI64Xor:
		return a ^ b, nil
	case wasm.OpI64Shl:
		return a << (uint64(b) & 63), nil
	case wasm.OpI64ShrS:
		return a >> (uint64(b) & 63), nil
	case wasm.OpI64ShrU:
		return int64(uint64(a) >> (uint64(b) & 63)), nil
	case wasm.OpI64Rotl:
		return int64(bits.RotateLeft64(uint64(a), int(uint64(b)&63))), nil
	default: // OpI64Rotr
		return int64(bits.RotateLeft64(uint64(a), -int(uint64(b)&63))), nil
	}
}

// unF64 evaluates the f64 unary family; f32 unaries are routed through it
// since rounding an f32-representable value never introduces double
// rounding (results below 2^24 are exact integers, above it the input is
// already integral).
func unF64(op byte, a float64) float64 {
	switch op {
	case wasm.OpF64Abs:
		return math.Abs(a)
	case wasm.OpF64Neg:
		return -a
	case wasm.OpF64Ceil:
		return math.Ceil(a)
	case wasm.OpF64Floor:
		return math.Floor(a)
	case wasm.OpF64Trunc:
		return math.Trunc(a)
	case wasm.OpF64Nearest:
		return math.RoundToEven(a)
	default: // OpF64Sqrt
		return math.Sqrt(a)
	}
}

// binF32 keeps add/sub/mul/div in float32 so rounding is single
// precision; min/max/copysign have exact results and go through float64.
func binF32(op byte, a, b float32) float32 {
	switch op {
	case wasm.OpF32Add:
		return a + b
	case wasm.OpF32Sub:
		return a - b
	case wasm.OpF32Mul:
		return a * b
	case wasm.OpF32Div:
		return a / b
	case wasm.OpF32Min:
		return float32(fmin(float64(a), float64(b)))
	case wasm.OpF32Max:
		return float32(fmax(float64(a), float64(b)))
	default: // OpF32Copysign
		return float32(math.Copysign(float64(a), float64(b)))
	}
}

func binF64(op byte, a, b float64) float64 {
	switch op {
	case wasm.OpF64Add:
		return a + b
	case wasm.OpF64Sub:
		return a - b
	case wasm.OpF64Mul:
		return a * b
	case wasm.OpF64Div:
		return a / b
	case wasm.OpF64Min:
		return fmin(a, b)
	case wasm.OpF64Max:
		return fmax(a, b)
	default: // OpF64Copysign
		return math.Copysign(a, b)
	}
}

// fmin implements wasm min: NaN if either operand is NaN, and -0 beats +0.
func fmin(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == b {
		if math.Signbit(a) {
			return a
		}
		return b
	}
	if a < b {
		return a
	}
	return b
}

func fmax(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == b {
		if math.Signbit(a) {
			return b
		}
		return a
	}
	if a > b {
		return a
	}
	return b
}

// stepConvert handles the 0xA7..0xC4 conversion and sign-extension range.
// Trapping float-to-int truncations and reinterprets mark the run
// nondeterministic: their results depend on exact bit patterns, which
// conforming engines may legitimately disagree on for NaNs.
func (r *runner) stepConvert(f *frame, op byte) error {
	switch op {
	case wasm.OpI32WrapI64:
		a, err := f.popI64()
		if err != nil {
			return err
		}
		f.push(I32(int32(a)))

	case wasm.OpI32TruncF32S, wasm.OpI32TruncF64S:
		a, err := popFloat(f, op == wasm.OpI32TruncF32S)
		if err != nil {
			return err
		}
		r.nondet = true
		t, err := checkedTrunc(a, math.MinInt32, math.MaxInt32+1)
		if err != nil {
			return err
		}
		f.push(I32(int32(t)))

	case wasm.OpI32TruncF32U, wasm.OpI32TruncF64U:
		a, err := popFloat(f, op == wasm.OpI32TruncF32U)
		if err != nil {
			return err
		}
		r.nondet = true
		t, err := checkedTrunc(a, 0, math.MaxUint32+1)
		if err != nil {
			return err
		}
		f.push(I32(int32(uint32(t))))

	case wasm.OpI64ExtendI32S:
		a, err := f.popI32()
		if err != nil {
			return err
		}
		f.push(I64(int64(a)))

	case wasm.OpI64ExtendI32U:
		a, err := f.popI32()
		if err != nil {
			return err
		}
		f.push(I64(int64(uint32(a))))

	case wasm.OpI64TruncF32S, wasm.OpI64TruncF64S:
		a, err := popFloat(f, op == wasm.OpI64TruncF32S)
		if err != nil {
			return err
		}
		r.nondet = true
		t, err := checkedTrunc(a, math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		f.push(I64(int64(t)))

	case wasm.OpI64TruncF32U, wasm.OpI64TruncF64U:
		a, err := popFloat(f, op == wasm.OpI64TruncF32U)
		if err != nil {
			return err
		}
		r.nondet = true
		t, err := checkedTrunc(a, 0, math.MaxUint64)
		if err != nil {
			return err
		}
		f.push(I64(int64(uint64(t))))

	case wasm.OpF32ConvertI32S:
		a, err := f.popI32()
		if err != nil {
			return err
		}
		f.push(F32(float32(a)))
	case wasm.OpF32ConvertI32U:
		a, err := f.popI32()
		if err != nil {
			return err
		}
		f.push(F32(float32(uint32(a))))
	case wasm.OpF32ConvertI64S:
		a, err := f.popI64()
		if err != nil {
			return err
		}
		f.push(F32(float32(a)))
	case wasm.OpF32ConvertI64U:
		a, err := f.popI64()
		if err != nil {
			return err
		}
		f.push(F32(float32(uint64(a))))

	case wasm.OpF32DemoteF64:
		a, err := f.popF64()
		if err != nil {
			return err
		}
		r.pushF32(f, float32(a))

	case wasm.OpF64ConvertI32S:
		a, err := f.popI32()
		if err != nil {
			return err
		}
		f.push(F64(float64(a)))
	case wasm.OpF64ConvertI32U:
		a, err := f.popI32()
		if err != nil {
			return err
		}
		f.push(F64(float64(uint32(a))))
	case wasm.OpF64ConvertI64S:
		a, err := f.popI64()
		if err != nil {
			return err
		}
		f.push(F64(float64(a)))
	case wasm.OpF64ConvertI64U:
		a, err := f.popI64()
		if err != nil {
			return err
		}
		f.push(F64(float64(uint64(a))))

	case wasm.OpF64PromoteF32:
		a, err := f.popF32()
		if err != nil {
			return err
		}
		r.pushF64(f, float64(a))

	case wasm.OpI32ReinterpretF32:
		a, err := f.popF32()
		if err != nil {
			return err
		}
		r.nondet = true
		f.push(I32(int32(math.Float32bits(a))))
	case wasm.OpI64ReinterpretF64:
		a, err := f.popF64()
		if err != nil {
			return err
		}
		r.nondet = true
		f.push(I64(int64(math.Float64bits(a))))
	case wasm.OpF32ReinterpretI32:
		a, err := f.popI32()
		if err != nil {
			return err
		}
		r.nondet = true
		f.push(F32(math.Float32frombits(uint32(a))))
	case wasm.OpF64ReinterpretI64:
		a, err := f.popI64()
		if err != nil {
			return err
		}
		r.nondet = true
		f.push(F64(math.Float64frombits(uint64(a))))

	case wasm.OpI32Extend8S:
		a, err := f.popI32()
		if err != nil {
			return err
		}
		f.push(I32(int32(int8(a))))
	case wasm.OpI32Extend16S:
		a, err := f.popI32()
		if err != nil {
			return err
		}
		f.push(I32(int32(int16(a))))
	case wasm.OpI64Extend8S:
		a, err := f.popI64()
		if err != nil {
			return err
		}
		f.push(I64(int64(int8(a))))
	case wasm.OpI64Extend16S:
		a, err := f.popI64()
		if err != nil {
			return err
		}
		f.push(I64(int64(int16(a))))
	case wasm.OpI64Extend32S:
		a, err := f.popI64()
		if err != nil {
			return err
		}
		f.push(I64(int64(int32(a))))

	default:
		return errors.Unsupported(errors.PhaseInterpret, "conversion opcode")
	}
	return nil
}

func popFloat(f *frame, single bool) (float64, error) {
	if single {
		v, err := f.popF32()
		return float64(v), err
	}
	return f.popF64()
}

// checkedTrunc truncates toward zero and traps on NaN or results outside
// [lo, hi). hi is exclusive because the upper bounds (2^31, 2^32, 2^63,
// 2^64) are exactly representable while the max integers are not; for
// the i64 cases hi is the nearest representable float at or below the
// true bound, making the comparison t >= hi correct.
func checkedTrunc(a, lo, hi float64) (float64, error) {
	if math.IsNaN(a) {
		return 0, errors.Trap("invalid conversion to integer")
	}
	t := math.Trunc(a)
	if t < lo || t >= hi {
		return 0, errors.Trap("integer overflow")
	}
	return t, nil
}

// stepTruncSat evaluates the 0xFC saturating truncations: NaN yields 0,
// out-of-range values clamp instead of trapping.
func (r *runner) stepTruncSat(f *frame, sub uint32) error {
	single := sub == wasm.MiscI32TruncSatF32S || sub == wasm.MiscI32TruncSatF32U ||
		sub == wasm.MiscI64TruncSatF32S || sub == wasm.MiscI64TruncSatF32U

	switch sub {
	case wasm.MiscI32TruncSatF32S, wasm.MiscI32TruncSatF32U,
		wasm.MiscI32TruncSatF64S, wasm.MiscI32TruncSatF64U,
		wasm.MiscI64TruncSatF32S, wasm.MiscI64TruncSatF32U,
		wasm.MiscI64TruncSatF64S, wasm.MiscI64TruncSatF64U:
	default:
		return errors.Unsupported(errors.PhaseInterpret, "0xFC sub-opcode")
	}

	a, err := popFloat(f, single)
	if err != nil {
		return err
	}
	r.nondet = true

	switch sub {
	case wasm.MiscI32TruncSatF32S, wasm.MiscI32TruncSatF64S:
		f.push(I32(TruncateToI32(a)))
	case wasm.MiscI32TruncSatF32U, wasm.MiscI32TruncSatF64U:
		f.push(I32(int32(truncSatU32(a))))
	case wasm.MiscI64TruncSatF32S, wasm.MiscI64TruncSatF64S:
		f.push(I64(truncSatS64(a)))
	default:
		f.push(I64(int64(truncSatU64(a))))
	}
	return nil
}

func truncSatU32(a float64) uint32 {
	if math.IsNaN(a) {
		return 0
	}
	t := math.Trunc(a)
	if t <= 0 {
		return 0
	}
	if t >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(t)
}

func truncSatS64(a float64) int64 {
	if math.IsNaN(a) {
		return 0
	}
	t := math.Trunc(a)
	if t >= math.MaxInt64 {
		return math.MaxInt64
	}
	if t <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(t)
}

func truncSatU64(a float64) uint64 {
	if math.IsNaN(a) {
		return 0
	}
	t := math.Trunc(a)
	if t <= 0 {
		return 0
	}
	if t >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(t)
}
