package interp

import (
	"fmt"

	"github.com/wasmdiff/harness/errors"
	"github.com/wasmdiff/harness/wasm"
)

// PageSize is the wasm linear memory page size in bytes.
const PageSize = 65536

// maxMemoryPages caps interpreter memory regardless of what the module
// declares, so a fuzzed module cannot make the harness allocate without
// bound.
const maxMemoryPages = 1024 // 64 MiB

// Instance is a live binding of a decoded module to interpreter-owned
// storage: linear memory, globals, and the function table. It holds no
// per-invocation state; each Run owns its own frames.
type Instance struct {
	module  *wasm.Module
	funcs   []function
	globals []Value
	memory  []byte
	table   []int64 // function index per slot, -1 for null
	memMax  uint32  // in pages
}

// function is a declared function with its body decoded and control
// structure resolved up front.
type function struct {
	ctrl       map[int]ctrlTarget
	body       []wasm.Instruction
	localKinds []Kind // params first, then declared locals
	sig        Signature
}

// ctrlTarget records the matching end (and else, for if) of a structured
// control instruction, plus the label's result arity.
type ctrlTarget struct {
	end     int
	elseIdx int // -1 when absent
	arity   int
}

// NewInstance instantiates a decoded module for interpretation: decodes
// every function body, builds memory and globals, applies data and
// element segments, and runs the start function if present.
//
// Modules with imports are rejected; the reference path executes
// self-contained modules only.
func NewInstance(m *wasm.Module) (*Instance, error) {
	if len(m.Imports) > 0 {
		return nil, errors.Unsupported(errors.PhaseInstantiate, "modules with imports")
	}

	inst := &Instance{module: m}

	for i, typeIdx := range m.Funcs {
		ft := m.GetFuncType(uint32(i))
		if ft == nil {
			return nil, errors.InvalidData(errors.PhaseInstantiate,
				fmt.Sprintf("function %d references missing type %d", i, typeIdx))
		}
		fn, err := buildFunction(ft, &m.Code[i])
		if err != nil {
			return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidData).
				Path("code", fmt.Sprintf("func[%d]", i)).
				Cause(err).
				Build()
		}
		inst.funcs = append(inst.funcs, fn)
	}

	for i, g := range m.Globals {
		v, err := evalConstExpr(g.Init, KindOf(g.Type.ValType))
		if err != nil {
			return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidData).
				Path("global", fmt.Sprintf("[%d]", i)).
				Cause(err).
				Build()
		}
		inst.globals = append(inst.globals, v)
	}

	if len(m.Memories) > 0 {
		limits := m.Memories[0].Limits
		pages := limits.Min
		if pages > maxMemoryPages {
			return nil, errors.InvalidData(errors.PhaseInstantiate,
				fmt.Sprintf("memory min %d pages exceeds harness ceiling %d", pages, maxMemoryPages))
		}
		inst.memory = make([]byte, pages*PageSize)
		inst.memMax = maxMemoryPages
		if limits.Max != nil && *limits.Max < maxMemoryPages {
			inst.memMax = *limits.Max
		}
	}

	for i, seg := range m.Data {
		off, err := evalConstExpr(seg.Offset, KindI32)
		if err != nil {
			return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidData).
				Path("data", fmt.Sprintf("[%d]", i)).
				Cause(err).
				Build()
		}
		base := uint64(uint32(off.AsI32()))
		if base+uint64(len(seg.Init)) > uint64(len(inst.memory)) {
			return nil, errors.OutOfBounds(errors.PhaseInstantiate, int(base), len(inst.memory))
		}
		copy(inst.memory[base:], seg.Init)
	}

	if len(m.Tables) > 0 {
		size := m.Tables[0].Limits.Min
		if size > 1<<20 {
			return nil, errors.InvalidData(errors.PhaseInstantiate, "table too large")
		}
		inst.table = make([]int64, size)
		for i := range inst.table {
			inst.table[i] = -1
		}
	}

	for i, el := range m.Elements {
		off, err := evalConstExpr(el.Offset, KindI32)
		if err != nil {
			return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidData).
				Path("elem", fmt.Sprintf("[%d]", i)).
				Cause(err).
				Build()
		}
		base := int(uint32(off.AsI32()))
		if base+len(el.FuncIdxs) > len(inst.table) {
			return nil, errors.OutOfBounds(errors.PhaseInstantiate, base, len(inst.table))
		}
		for j, funcIdx := range el.FuncIdxs {
			if int(funcIdx) >= len(inst.funcs) {
				return nil, errors.OutOfBounds(errors.PhaseInstantiate, int(funcIdx), len(inst.funcs))
			}
			inst.table[base+j] = int64(funcIdx)
		}
	}

	if m.Start != nil {
		res := Run(inst, *m.Start, nil)
		if res.Outcome() != OutcomeFinished {
			return nil, errors.InvalidData(errors.PhaseInstantiate,
				fmt.Sprintf("start function %s", res.Outcome()))
		}
	}

	return inst, nil
}

// Module returns the decoded module this instance is bound to.
func (inst *Instance) Module() *wasm.Module {
	return inst.module
}

// NumFuncs returns the number of declared functions.
func (inst *Instance) NumFuncs() int {
	return len(inst.funcs)
}

// FuncSignature returns the signature of a declared function.
func (inst *Instance) FuncSignature(funcIdx uint32) (Signature, bool) {
	if int(funcIdx) >= len(inst.funcs) {
		return Signature{}, false
	}
	return inst.funcs[funcIdx].sig, true
}

func buildFunction(ft *wasm.FuncType, body *wasm.FuncBody) (function, error) {
	var fn function
	fn.sig = SignatureOf(ft)

	fn.localKinds = make([]Kind, 0, len(ft.Params))
	for _, p := range ft.Params {
		fn.localKinds = append(fn.localKinds, KindOf(p))
	}
	for _, entry := range body.Locals {
		k := KindOf(entry.ValType)
		for i := uint32(0); i < entry.Count; i++ {
			fn.localKinds = append(fn.localKinds, k)
		}
	}

	instrs, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		return fn, err
	}
	fn.body = instrs

	fn.ctrl, err = resolveControl(instrs)
	return fn, err
}

// resolveControl matches every block, loop, and if to its end (and else)
// so branches are O(1) at run time.
func resolveControl(instrs []wasm.Instruction) (map[int]ctrlTarget, error) {
	targets := make(map[int]ctrlTarget)
	var open []int

	for i, instr := range instrs {
		switch instr.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			imm := instr.Imm.(wasm.BlockImm)
			arity, err := blockArity(imm.Type)
			if err != nil {
				return nil, err
			}
			targets[i] = ctrlTarget{elseIdx: -1, arity: arity}
			open = append(open, i)

		case wasm.OpElse:
			if len(open) == 0 {
				return nil, fmt.Errorf("else without matching if at instruction %d", i)
			}
			opener := open[len(open)-1]
			if instrs[opener].Opcode != wasm.OpIf {
				return nil, fmt.Errorf("else without matching if at instruction %d", i)
			}
			t := targets[opener]
			t.elseIdx = i
			targets[opener] = t

		case wasm.OpEnd:
			if len(open) == 0 {
				// Implicit end of the function body; must be last.
				if i != len(instrs)-1 {
					return nil, fmt.Errorf("unbalanced end at instruction %d", i)
				}
				continue
			}
			opener := open[len(open)-1]
			open = open[:len(open)-1]
			t := targets[opener]
			t.end = i
			targets[opener] = t
		}
	}

	if len(open) > 0 {
		return nil, fmt.Errorf("unterminated block at instruction %d", open[len(open)-1])
	}
	return targets, nil
}

// blockArity returns the result arity of a block type. Only void and
// single value types are supported; type-index block types (multi-value)
// are not part of the interpreted subset.
func blockArity(blockType int32) (int, error) {
	if blockType == wasm.BlockTypeVoid {
		return 0, nil
	}
	if blockType >= 0 {
		return 0, fmt.Errorf("type-index block types are not supported")
	}
	switch wasm.ValType(blockType & 0x7F) {
	case wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64, wasm.ValFuncRef, wasm.ValExtern:
		return 1, nil
	default:
		return 0, fmt.Errorf("invalid block type %d", blockType)
	}
}

// evalConstExpr evaluates a constant initializer expression and checks
// the produced value against the expected kind.
func evalConstExpr(expr []byte, want Kind) (Value, error) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil {
		return Value{}, err
	}
	if len(instrs) != 2 || instrs[1].Opcode != wasm.OpEnd {
		return Value{}, fmt.Errorf("unsupported constant expression shape")
	}

	var v Value
	switch imm := instrs[0].Imm.(type) {
	case wasm.I32Imm:
		v = I32(imm.Value)
	case wasm.I64Imm:
		v = I64(imm.Value)
	case wasm.F32Imm:
		v = F32(imm.Value)
	case wasm.F64Imm:
		v = F64(imm.Value)
	case wasm.RefNullImm:
		v = NullRef()
	case wasm.RefFuncImm:
		v = FuncRef(imm.FuncIdx)
	default:
		return Value{}, fmt.Errorf("opcode 0x%02X not supported in constant expression", instrs[0].Opcode)
	}

	if v.Kind() != want {
		return Value{}, fmt.Errorf("constant expression yields %s, want %s", v.Kind(), want)
	}
	return v, nil
}
