package interp

import (
	stderrors "errors"
	"fmt"
	"math"

	"github.com/wasmdiff/harness/errors"
	"github.com/wasmdiff/harness/wasm"
)

// StepBudget is the fixed number of instruction evaluations one run may
// perform. It is the sole mechanism bounding execution time of untrusted
// input and is deliberately not configurable by callers.
const StepBudget = 16 * 1024

// maxCallDepth bounds wasm-level recursion. Go cannot recover from a real
// goroutine stack overflow, so the driver enforces its own ceiling and
// classifies hitting it as an inconclusive Failed run.
const maxCallDepth = 128

// Run interprets the given function of inst with the given arguments
// under the step budget and classifies the outcome.
//
// Every run terminates within StepBudget instruction evaluations plus
// constant overhead, regardless of the function body. Trap is kept
// strictly distinct from budget or call-depth exhaustion: the former is a
// semantic outcome, the latter two are inconclusive.
func Run(inst *Instance, funcIdx uint32, args []Value) Result {
	if int(funcIdx) >= len(inst.funcs) {
		return Failed()
	}
	fn := &inst.funcs[funcIdx]

	if len(args) != len(fn.sig.Params) {
		return Failed()
	}
	for i, arg := range args {
		if arg.Kind() != fn.sig.Params[i] {
			return Failed()
		}
	}

	r := &runner{inst: inst, steps: StepBudget}
	if err := r.pushFrame(fn, args); err != nil {
		return Failed()
	}

	for len(r.frames) > 0 {
		if err := r.step(); err != nil {
			if isTrap(err) {
				return Trapped(r.nondet)
			}
			return Failed()
		}
	}

	if len(fn.sig.Results) > 0 {
		if len(r.retVals) == 0 {
			return Failed()
		}
		return Finished(CoerceI32(r.retVals[0]), r.nondet)
	}
	return Finished(-1, r.nondet)
}

// runner holds the transient state of one interpretation run. It is
// created per invocation and discarded after classification; nothing
// leaks across fuzz iterations.
type runner struct {
	inst    *Instance
	frames  []*frame
	retVals []Value
	steps   int
	nondet  bool
}

// frame is the execution state of one wasm-level call.
type frame struct {
	fn     *function
	locals []Value
	stack  []Value
	ctrl   []ctrlFrame
	pc     int
}

// ctrlFrame is an entered structured-control region.
type ctrlFrame struct {
	opener int // instruction index of the block/loop/if
	height int // value stack height at entry
}

func isTrap(err error) bool {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Kind == errors.KindTrap
	}
	return false
}

func (r *runner) pushFrame(fn *function, args []Value) error {
	if len(r.frames) >= maxCallDepth {
		return errors.StackExhausted(maxCallDepth)
	}

	locals := make([]Value, len(fn.localKinds))
	copy(locals, args)
	for i := len(args); i < len(fn.localKinds); i++ {
		zero, ok := Zero(fn.localKinds[i])
		if !ok {
			return errors.Unsupported(errors.PhaseInterpret,
				fmt.Sprintf("local of kind %s", fn.localKinds[i]))
		}
		locals[i] = zero
	}

	r.frames = append(r.frames, &frame{fn: fn, locals: locals})
	return nil
}

// returnFrame pops the active frame, transferring its result values to
// the caller (or stashing them when the outermost frame returns).
func (r *runner) returnFrame() error {
	f := r.frames[len(r.frames)-1]
	n := len(f.fn.sig.Results)
	if len(f.stack) < n {
		return errUnderflow()
	}
	rets := f.stack[len(f.stack)-n:]

	r.frames = r.frames[:len(r.frames)-1]
	if len(r.frames) > 0 {
		caller := r.frames[len(r.frames)-1]
		caller.stack = append(caller.stack, rets...)
	} else {
		r.retVals = append([]Value(nil), rets...)
	}
	return nil
}

func errUnderflow() error {
	return errors.InvalidData(errors.PhaseInterpret, "value stack underflow")
}

func (f *frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() (Value, error) {
	if len(f.stack) == 0 {
		return Value{}, errUnderflow()
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) popI32() (int32, error) {
	v, err := f.pop()
	return v.AsI32(), err
}

func (f *frame) popI64() (int64, error) {
	v, err := f.pop()
	return v.AsI64(), err
}

func (f *frame) popF32() (float32, error) {
	v, err := f.pop()
	return v.AsF32(), err
}

func (f *frame) popF64() (float64, error) {
	v, err := f.pop()
	return v.AsF64(), err
}

func (f *frame) pop2I32() (int32, int32, error) {
	b, err := f.popI32()
	if err != nil {
		return 0, 0, err
	}
	a, err := f.popI32()
	return a, b, err
}

func (f *frame) pop2I64() (int64, int64, error) {
	b, err := f.popI64()
	if err != nil {
		return 0, 0, err
	}
	a, err := f.popI64()
	return a, b, err
}

func (f *frame) pop2F32() (float32, float32, error) {
	b, err := f.popF32()
	if err != nil {
		return 0, 0, err
	}
	a, err := f.popF32()
	return a, b, err
}

func (f *frame) pop2F64() (float64, float64, error) {
	b, err := f.popF64()
	if err != nil {
		return 0, 0, err
	}
	a, err := f.popF64()
	return a, b, err
}

func boolToI32(b bool) Value {
	if b {
		return I32(1)
	}
	return I32(0)
}

// pushF32 pushes an f32 result, noting possible nondeterminism when the
// operation produced a NaN (conforming engines may differ in NaN bit
// patterns).
func (r *runner) pushF32(f *frame, v float32) {
	if v != v {
		r.nondet = true
	}
	f.push(F32(v))
}

func (r *runner) pushF64(f *frame, v float64) {
	if v != v {
		r.nondet = true
	}
	f.push(F64(v))
}

// branch transfers control to the label at the given relative depth.
// Depth equal to the number of open blocks targets the function body
// label, which is a return.
func (r *runner) branch(f *frame, depth uint32) error {
	if int(depth) > len(f.ctrl) {
		return errors.InvalidData(errors.PhaseInterpret, "branch depth out of range")
	}
	if int(depth) == len(f.ctrl) {
		return r.returnFrame()
	}

	idx := len(f.ctrl) - 1 - int(depth)
	cf := f.ctrl[idx]
	target := f.fn.ctrl[cf.opener]

	if f.fn.body[cf.opener].Opcode == wasm.OpLoop {
		// A branch to a loop label restarts the loop body; the loop's own
		// control entry stays open.
		f.ctrl = f.ctrl[:idx+1]
		if len(f.stack) < cf.height {
			return errUnderflow()
		}
		f.stack = f.stack[:cf.height]
		f.pc = cf.opener + 1
		return nil
	}

	if len(f.stack) < cf.height+target.arity {
		return errUnderflow()
	}
	carried := append([]Value(nil), f.stack[len(f.stack)-target.arity:]...)
	f.stack = append(f.stack[:cf.height], carried...)
	f.ctrl = f.ctrl[:idx]
	f.pc = target.end + 1
	return nil
}

// step decodes and evaluates exactly one instruction of the active frame,
// charging it against the remaining budget.
func (r *runner) step() error {
	if r.steps == 0 {
		return errors.Budget(StepBudget)
	}
	r.steps--

	f := r.frames[len(r.frames)-1]
	if f.pc >= len(f.fn.body) {
		return r.returnFrame()
	}
	instr := f.fn.body[f.pc]

	switch instr.Opcode {
	case wasm.OpUnreachable:
		return errors.Trap("unreachable executed")

	case wasm.OpNop:
		f.pc++

	case wasm.OpBlock, wasm.OpLoop:
		f.ctrl = append(f.ctrl, ctrlFrame{opener: f.pc, height: len(f.stack)})
		f.pc++

	case wasm.OpIf:
		cond, err := f.popI32()
		if err != nil {
			return err
		}
		target := f.fn.ctrl[f.pc]
		if cond != 0 {
			f.ctrl = append(f.ctrl, ctrlFrame{opener: f.pc, height: len(f.stack)})
			f.pc++
		} else if target.elseIdx >= 0 {
			f.ctrl = append(f.ctrl, ctrlFrame{opener: f.pc, height: len(f.stack)})
			f.pc = target.elseIdx + 1
		} else {
			f.pc = target.end + 1
		}

	case wasm.OpElse:
		// Fallthrough from the then-branch: skip to the matching end.
		if len(f.ctrl) == 0 {
			return errors.InvalidData(errors.PhaseInterpret, "else outside if")
		}
		cf := f.ctrl[len(f.ctrl)-1]
		target := f.fn.ctrl[cf.opener]
		if len(f.stack) < cf.height+target.arity {
			return errUnderflow()
		}
		carried := append([]Value(nil), f.stack[len(f.stack)-target.arity:]...)
		f.stack = append(f.stack[:cf.height], carried...)
		f.ctrl = f.ctrl[:len(f.ctrl)-1]
		f.pc = target.end + 1

	case wasm.OpEnd:
		if len(f.ctrl) == 0 {
			return r.returnFrame()
		}
		f.ctrl = f.ctrl[:len(f.ctrl)-1]
		f.pc++

	case wasm.OpBr:
		return r.branch(f, instr.Imm.(wasm.BranchImm).LabelIdx)

	case wasm.OpBrIf:
		cond, err := f.popI32()
		if err != nil {
			return err
		}
		if cond != 0 {
			return r.branch(f, instr.Imm.(wasm.BranchImm).LabelIdx)
		}
		f.pc++

	case wasm.OpBrTable:
		imm := instr.Imm.(wasm.BrTableImm)
		idx, err := f.popI32()
		if err != nil {
			return err
		}
		label := imm.Default
		if idx >= 0 && int(idx) < len(imm.Labels) {
			label = imm.Labels[idx]
		}
		return r.branch(f, label)

	case wasm.OpReturn:
		return r.returnFrame()

	case wasm.OpCall:
		return r.call(f, instr.Imm.(wasm.CallImm).FuncIdx)

	case wasm.OpCallIndirect:
		imm := instr.Imm.(wasm.CallIndirectImm)
		idx, err := f.popI32()
		if err != nil {
			return err
		}
		if r.inst.table == nil || idx < 0 || int(idx) >= len(r.inst.table) {
			return errors.Trap("undefined table element")
		}
		entry := r.inst.table[idx]
		if entry < 0 {
			return errors.Trap("uninitialized table element")
		}
		funcIdx := uint32(entry)
		if int(imm.TypeIdx) >= len(r.inst.module.Types) {
			return errors.InvalidData(errors.PhaseInterpret, "call_indirect type index out of range")
		}
		want := SignatureOf(&r.inst.module.Types[imm.TypeIdx])
		got := r.inst.funcs[funcIdx].sig
		if !signaturesEqual(want, got) {
			return errors.Trap("indirect call type mismatch")
		}
		return r.call(f, funcIdx)

	case wasm.OpDrop:
		if _, err := f.pop(); err != nil {
			return err
		}
		f.pc++

	case wasm.OpSelect, wasm.OpSelectType:
		cond, err := f.popI32()
		if err != nil {
			return err
		}
		b, err := f.pop()
		if err != nil {
			return err
		}
		a, err := f.pop()
		if err != nil {
			return err
		}
		if cond != 0 {
			f.push(a)
		} else {
			f.push(b)
		}
		f.pc++

	case wasm.OpLocalGet:
		idx := instr.Imm.(wasm.LocalImm).LocalIdx
		if int(idx) >= len(f.locals) {
			return errors.InvalidData(errors.PhaseInterpret, "local index out of range")
		}
		f.push(f.locals[idx])
		f.pc++

	case wasm.OpLocalSet:
		idx := instr.Imm.(wasm.LocalImm).LocalIdx
		if int(idx) >= len(f.locals) {
			return errors.InvalidData(errors.PhaseInterpret, "local index out of range")
		}
		v, err := f.pop()
		if err != nil {
			return err
		}
		f.locals[idx] = v
		f.pc++

	case wasm.OpLocalTee:
		idx := instr.Imm.(wasm.LocalImm).LocalIdx
		if int(idx) >= len(f.locals) {
			return errors.InvalidData(errors.PhaseInterpret, "local index out of range")
		}
		if len(f.stack) == 0 {
			return errUnderflow()
		}
		f.locals[idx] = f.stack[len(f.stack)-1]
		f.pc++

	case wasm.OpGlobalGet:
		idx := instr.Imm.(wasm.GlobalImm).GlobalIdx
		if int(idx) >= len(r.inst.globals) {
			return errors.InvalidData(errors.PhaseInterpret, "global index out of range")
		}
		f.push(r.inst.globals[idx])
		f.pc++

	case wasm.OpGlobalSet:
		idx := instr.Imm.(wasm.GlobalImm).GlobalIdx
		if int(idx) >= len(r.inst.globals) {
			return errors.InvalidData(errors.PhaseInterpret, "global index out of range")
		}
		v, err := f.pop()
		if err != nil {
			return err
		}
		r.inst.globals[idx] = v
		f.pc++

	case wasm.OpRefNull:
		f.push(NullRef())
		f.pc++

	case wasm.OpRefIsNull:
		v, err := f.pop()
		if err != nil {
			return err
		}
		f.push(boolToI32(v.IsNullRef()))
		f.pc++

	case wasm.OpRefFunc:
		f.push(FuncRef(instr.Imm.(wasm.RefFuncImm).FuncIdx))
		f.pc++

	case wasm.OpI32Const:
		f.push(I32(instr.Imm.(wasm.I32Imm).Value))
		f.pc++

	case wasm.OpI64Const:
		f.push(I64(instr.Imm.(wasm.I64Imm).Value))
		f.pc++

	case wasm.OpF32Const:
		f.push(F32(instr.Imm.(wasm.F32Imm).Value))
		f.pc++

	case wasm.OpF64Const:
		f.push(F64(instr.Imm.(wasm.F64Imm).Value))
		f.pc++

	case wasm.OpMemorySize:
		f.push(I32(int32(len(r.inst.memory) / PageSize)))
		f.pc++

	case wasm.OpMemoryGrow:
		delta, err := f.popI32()
		if err != nil {
			return err
		}
		old := uint32(len(r.inst.memory) / PageSize)
		want := uint64(old) + uint64(uint32(delta))
		if uint32(delta) > maxMemoryPages || want > uint64(r.inst.memMax) {
			f.push(I32(-1))
		} else {
			r.inst.memory = append(r.inst.memory, make([]byte, uint32(delta)*PageSize)...)
			f.push(I32(int32(old)))
		}
		f.pc++

	default:
		if done, err := r.stepMemoryAccess(f, instr); done || err != nil {
			if err != nil {
				return err
			}
			f.pc++
			return nil
		}
		if done, err := r.stepNumeric(f, instr); done || err != nil {
			if err != nil {
				return err
			}
			f.pc++
			return nil
		}
		return errors.Unsupported(errors.PhaseInterpret,
			fmt.Sprintf("opcode 0x%02X", instr.Opcode))
	}

	return nil
}

func (r *runner) call(f *frame, funcIdx uint32) error {
	if int(funcIdx) >= len(r.inst.funcs) {
		return errors.InvalidData(errors.PhaseInterpret, "call target out of range")
	}
	callee := &r.inst.funcs[funcIdx]

	n := len(callee.sig.Params)
	if len(f.stack) < n {
		return errUnderflow()
	}
	args := append([]Value(nil), f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]

	f.pc++ // resume past the call on return
	return r.pushFrame(callee, args)
}

func signaturesEqual(a, b Signature) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}

// stepMemoryAccess handles load and store opcodes. Returns done=false
// when the opcode is not a memory access.
func (r *runner) stepMemoryAccess(f *frame, instr wasm.Instruction) (bool, error) {
	op := instr.Opcode
	if op < wasm.OpI32Load || op > wasm.OpI64Store32 {
		return false, nil
	}
	imm := instr.Imm.(wasm.MemoryImm)

	if op <= wasm.OpI64Load32U {
		base, err := f.popI32()
		if err != nil {
			return true, err
		}
		buf, err := r.memRange(base, imm.Offset, loadStoreWidth(op))
		if err != nil {
			return true, err
		}
		f.push(loadValue(op, buf))
		return true, nil
	}

	v, err := f.pop()
	if err != nil {
		return true, err
	}
	base, err := f.popI32()
	if err != nil {
		return true, err
	}
	buf, err := r.memRange(base, imm.Offset, loadStoreWidth(op))
	if err != nil {
		return true, err
	}
	storeValue(op, buf, v)
	return true, nil
}

// memRange bounds-checks an access and returns the backing slice.
func (r *runner) memRange(base int32, offset uint64, width int) ([]byte, error) {
	addr := uint64(uint32(base)) + offset
	if addr+uint64(width) > uint64(len(r.inst.memory)) {
		return nil, errors.Trap("out of bounds memory access")
	}
	return r.inst.memory[addr : addr+uint64(width)], nil
}

func loadStoreWidth(op byte) int {
	switch op {
	case wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI64Load8S, wasm.OpI64Load8U,
		wasm.OpI32Store8, wasm.OpI64Store8:
		return 1
	case wasm.OpI32Load16S, wasm.OpI32Load16U, wasm.OpI64Load16S, wasm.OpI64Load16U,
		wasm.OpI32Store16, wasm.OpI64Store16:
		return 2
	case wasm.OpI32Load, wasm.OpF32Load, wasm.OpI64Load32S, wasm.OpI64Load32U,
		wasm.OpI32Store, wasm.OpF32Store, wasm.OpI64Store32:
		return 4
	default:
		return 8
	}
}

func loadValue(op byte, buf []byte) Value {
	switch op {
	case wasm.OpI32Load:
		return I32(int32(le32(buf)))
	case wasm.OpI64Load:
		return I64(int64(le64(buf)))
	case wasm.OpF32Load:
		return F32(math.Float32frombits(le32(buf)))
	case wasm.OpF64Load:
		return F64(math.Float64frombits(le64(buf)))
	case wasm.OpI32Load8S:
		return I32(int32(int8(buf[0])))
	case wasm.OpI32Load8U:
		return I32(int32(uint32(buf[0])))
	case wasm.OpI32Load16S:
		return I32(int32(int16(le16(buf))))
	case wasm.OpI32Load16U:
		return I32(int32(uint32(le16(buf))))
	case wasm.OpI64Load8S:
		return I64(int64(int8(buf[0])))
	case wasm.OpI64Load8U:
		return I64(int64(uint64(buf[0])))
	case wasm.OpI64Load16S:
		return I64(int64(int16(le16(buf))))
	case wasm.OpI64Load16U:
		return I64(int64(uint64(le16(buf))))
	case wasm.OpI64Load32S:
		return I64(int64(int32(le32(buf))))
	default: // OpI64Load32U
		return I64(int64(uint64(le32(buf))))
	}
}

func storeValue(op byte, buf []byte, v Value) {
	switch op {
	case wasm.OpI32Store:
		putLE32(buf, uint32(v.AsI32()))
	case wasm.OpI64Store:
		putLE64(buf, uint64(v.AsI64()))
	case wasm.OpF32Store:
		putLE32(buf, math.Float32bits(v.AsF32()))
	case wasm.OpF64Store:
		putLE64(buf, math.Float64bits(v.AsF64()))
	case wasm.OpI32Store8:
		buf[0] = byte(v.AsI32())
	case wasm.OpI32Store16:
		putLE16(buf, uint16(v.AsI32()))
	case wasm.OpI64Store8:
		buf[0] = byte(v.AsI64())
	case wasm.OpI64Store16:
		putLE16(buf, uint16(v.AsI64()))
	default: // OpI64Store32
		putLE32(buf, uint32(v.AsI64()))
	}
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le64(b []byte) uint64 {
	return uint64(le32(b)) | uint64(le32(b[4:]))<<32
}
func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func putLE64(b []byte, v uint64) {
	putLE32(b, uint32(v))
	putLE32(b[4:], uint32(v>>32))
}
