package interp

import "math"

// TruncateToI32 reduces a float to a signed 32-bit integer with the
// harness's fixed cast convention: truncate toward zero; NaN maps to 0;
// values outside the i32 range, including infinities, saturate to
// math.MinInt32 / math.MaxInt32.
//
// Both execution paths classify return values through this one function.
// The compiled path and the interpreter must stay bit-for-bit comparable,
// so any change here changes the harness's observable contract.
func TruncateToI32(f float64) int32 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	if t >= math.MaxInt32 {
		return math.MaxInt32
	}
	if t <= math.MinInt32 {
		return math.MinInt32
	}
	return int32(t)
}

// CoerceI32 reduces a surface value to the i32 used for differential
// comparison: i32 passes through, i64 keeps its low 32 bits, floats go
// through TruncateToI32. References have no numeric image and map to 0.
func CoerceI32(v Value) int32 {
	switch v.Kind() {
	case KindI32:
		return v.AsI32()
	case KindI64:
		return int32(v.AsI64())
	case KindF32:
		return TruncateToI32(float64(v.AsF32()))
	case KindF64:
		return TruncateToI32(v.AsF64())
	default:
		return 0
	}
}
