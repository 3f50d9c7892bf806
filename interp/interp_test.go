package interp

import (
	"math"
	"testing"

	"github.com/wasmdiff/harness/wasm"
)

func ins(op byte, imm any) wasm.Instruction {
	return wasm.Instruction{Opcode: op, Imm: imm}
}

func bare(op byte) wasm.Instruction {
	return wasm.Instruction{Opcode: op}
}

func constExpr(instr wasm.Instruction) []byte {
	return wasm.EncodeInstructions([]wasm.Instruction{instr, bare(wasm.OpEnd)})
}

// singleFunc builds an instance around one function with the given
// signature and body. The body must include its terminating end.
func singleFunc(t *testing.T, ft wasm.FuncType, locals []wasm.LocalEntry, body []wasm.Instruction) *Instance {
	t.Helper()
	m := &wasm.Module{
		Types: []wasm.FuncType{ft},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{{
			Locals: locals,
			Code:   wasm.EncodeInstructions(body),
		}},
	}
	inst, err := NewInstance(m)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	return inst
}

func TestRunArithmetic(t *testing.T) {
	tests := []struct {
		name string
		body []wasm.Instruction
		want int32
	}{
		{
			name: "i32 add",
			body: []wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 2}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 3}),
				bare(wasm.OpI32Add),
				bare(wasm.OpEnd),
			},
			want: 5,
		},
		{
			name: "i32 signed division rounds toward zero",
			body: []wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: -7}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 2}),
				bare(wasm.OpI32DivS),
				bare(wasm.OpEnd),
			},
			want: -3,
		},
		{
			name: "i32 min rem -1 is zero not a trap",
			body: []wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: math.MinInt32}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: -1}),
				bare(wasm.OpI32RemS),
				bare(wasm.OpEnd),
			},
			want: 0,
		},
		{
			name: "i32 shift count is masked",
			body: []wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 1}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 33}),
				bare(wasm.OpI32Shl),
				bare(wasm.OpEnd),
			},
			want: 2,
		},
		{
			name: "i32 rotl",
			body: []wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: int32(-0x80000000)}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 1}),
				bare(wasm.OpI32Rotl),
				bare(wasm.OpEnd),
			},
			want: 1,
		},
		{
			name: "i32 clz of zero",
			body: []wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 0}),
				bare(wasm.OpI32Clz),
				bare(wasm.OpEnd),
			},
			want: 32,
		},
		{
			name: "unsigned comparison",
			body: []wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: -1}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 1}),
				bare(wasm.OpI32GtU),
				bare(wasm.OpEnd),
			},
			want: 1,
		},
		{
			name: "sign extension",
			body: []wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 0x80}),
				bare(wasm.OpI32Extend8S),
				bare(wasm.OpEnd),
			},
			want: -128,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := singleFunc(t, wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}, nil, tt.body)
			res := Run(inst, 0, nil)
			if res.Outcome() != OutcomeFinished {
				t.Fatalf("outcome = %s, want finished", res.Outcome())
			}
			if res.Value() != tt.want {
				t.Errorf("value = %d, want %d", res.Value(), tt.want)
			}
			if res.Nondeterministic() {
				t.Errorf("integer-only run flagged nondeterministic")
			}
		})
	}
}

func TestRunResultCoercion(t *testing.T) {
	tests := []struct {
		name   string
		result wasm.ValType
		body   []wasm.Instruction
		want   int32
	}{
		{
			name:   "i64 result keeps low 32 bits",
			result: wasm.ValI64,
			body: []wasm.Instruction{
				ins(wasm.OpI64Const, wasm.I64Imm{Value: 0x100000005}),
				bare(wasm.OpEnd),
			},
			want: 5,
		},
		{
			name:   "f64 result truncates toward zero",
			result: wasm.ValF64,
			body: []wasm.Instruction{
				ins(wasm.OpF64Const, wasm.F64Imm{Value: 3.9}),
				bare(wasm.OpEnd),
			},
			want: 3,
		},
		{
			name:   "f32 negative result truncates toward zero",
			result: wasm.ValF32,
			body: []wasm.Instruction{
				ins(wasm.OpF32Const, wasm.F32Imm{Value: -3.9}),
				bare(wasm.OpEnd),
			},
			want: -3,
		},
		{
			name:   "f64 infinity saturates",
			result: wasm.ValF64,
			body: []wasm.Instruction{
				ins(wasm.OpF64Const, wasm.F64Imm{Value: math.Inf(1)}),
				bare(wasm.OpEnd),
			},
			want: math.MaxInt32,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := singleFunc(t, wasm.FuncType{Results: []wasm.ValType{tt.result}}, nil, tt.body)
			res := Run(inst, 0, nil)
			if res.Outcome() != OutcomeFinished {
				t.Fatalf("outcome = %s, want finished", res.Outcome())
			}
			if res.Value() != tt.want {
				t.Errorf("value = %d, want %d", res.Value(), tt.want)
			}
		})
	}
}

func TestRunVoidFunctionYieldsMinusOne(t *testing.T) {
	inst := singleFunc(t, wasm.FuncType{}, nil, []wasm.Instruction{
		bare(wasm.OpNop),
		bare(wasm.OpEnd),
	})
	res := Run(inst, 0, nil)
	if res.Outcome() != OutcomeFinished || res.Value() != -1 {
		t.Fatalf("got %s, want finished(-1)", res)
	}
}

func TestRunTraps(t *testing.T) {
	tests := []struct {
		name string
		body []wasm.Instruction
	}{
		{
			name: "unreachable",
			body: []wasm.Instruction{bare(wasm.OpUnreachable), bare(wasm.OpEnd)},
		},
		{
			name: "divide by zero",
			body: []wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 1}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 0}),
				bare(wasm.OpI32DivS),
				bare(wasm.OpDrop),
				bare(wasm.OpEnd),
			},
		},
		{
			name: "signed division overflow",
			body: []wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: math.MinInt32}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: -1}),
				bare(wasm.OpI32DivS),
				bare(wasm.OpDrop),
				bare(wasm.OpEnd),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := singleFunc(t, wasm.FuncType{}, nil, tt.body)
			res := Run(inst, 0, nil)
			if res.Outcome() != OutcomeTrapped {
				t.Fatalf("outcome = %s, want trapped", res.Outcome())
			}
		})
	}
}

func TestRunInfiniteLoopFailsWithinBudget(t *testing.T) {
	inst := singleFunc(t, wasm.FuncType{}, nil, []wasm.Instruction{
		ins(wasm.OpLoop, wasm.BlockImm{Type: wasm.BlockTypeVoid}),
		ins(wasm.OpBr, wasm.BranchImm{LabelIdx: 0}),
		bare(wasm.OpEnd),
		bare(wasm.OpEnd),
	})
	res := Run(inst, 0, nil)
	if res.Outcome() != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome())
	}
}

// countingLoop builds a function that increments a local until it reaches
// n, then returns it. Each iteration costs seven steps.
func countingLoop(t *testing.T, n int32) *Instance {
	t.Helper()
	return singleFunc(t,
		wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}},
		[]wasm.LocalEntry{{Count: 1, ValType: wasm.ValI32}},
		[]wasm.Instruction{
			ins(wasm.OpLoop, wasm.BlockImm{Type: wasm.BlockTypeVoid}),
			ins(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
			ins(wasm.OpI32Const, wasm.I32Imm{Value: 1}),
			bare(wasm.OpI32Add),
			ins(wasm.OpLocalTee, wasm.LocalImm{LocalIdx: 0}),
			ins(wasm.OpI32Const, wasm.I32Imm{Value: n}),
			bare(wasm.OpI32LtS),
			ins(wasm.OpBrIf, wasm.BranchImm{LabelIdx: 0}),
			bare(wasm.OpEnd),
			ins(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
			bare(wasm.OpEnd),
		})
}

func TestRunBudgetBoundary(t *testing.T) {
	short := Run(countingLoop(t, 1000), 0, nil)
	if short.Outcome() != OutcomeFinished || short.Value() != 1000 {
		t.Fatalf("short loop: got %s, want finished(1000)", short)
	}

	long := Run(countingLoop(t, 5000), 0, nil)
	if long.Outcome() != OutcomeFailed {
		t.Fatalf("long loop: outcome = %s, want failed", long.Outcome())
	}
}

func TestRunIsRepeatable(t *testing.T) {
	// Same instance, side-effect-free body: the classification must be
	// byte-identical across invocations.
	inst := countingLoop(t, 500)
	first := Run(inst, 0, nil)
	for i := 0; i < 5; i++ {
		if got := Run(inst, 0, nil); got != first {
			t.Fatalf("run %d: got %s, want %s", i, got, first)
		}
	}
}

func TestRunNondeterminismFlag(t *testing.T) {
	tests := []struct {
		name string
		body []wasm.Instruction
		want int32
	}{
		{
			name: "NaN-producing division",
			body: []wasm.Instruction{
				ins(wasm.OpF64Const, wasm.F64Imm{Value: 0}),
				ins(wasm.OpF64Const, wasm.F64Imm{Value: 0}),
				bare(wasm.OpF64Div),
				bare(wasm.OpDrop),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 1}),
				bare(wasm.OpEnd),
			},
			want: 1,
		},
		{
			name: "saturating truncation",
			body: []wasm.Instruction{
				ins(wasm.OpF64Const, wasm.F64Imm{Value: 3.9}),
				ins(wasm.OpMiscPrefix, wasm.MiscImm{SubOpcode: wasm.MiscI32TruncSatF64S}),
				bare(wasm.OpEnd),
			},
			want: 3,
		},
		{
			name: "reinterpret",
			body: []wasm.Instruction{
				ins(wasm.OpF32Const, wasm.F32Imm{Value: 1}),
				bare(wasm.OpI32ReinterpretF32),
				bare(wasm.OpEnd),
			},
			want: 0x3F800000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := singleFunc(t, wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}, nil, tt.body)
			res := Run(inst, 0, nil)
			if res.Outcome() != OutcomeFinished {
				t.Fatalf("outcome = %s, want finished", res.Outcome())
			}
			if res.Value() != tt.want {
				t.Errorf("value = %d, want %d", res.Value(), tt.want)
			}
			if !res.Nondeterministic() {
				t.Errorf("run not flagged nondeterministic")
			}
		})
	}
}

func TestRunTrappingTruncation(t *testing.T) {
	inst := singleFunc(t, wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}, nil,
		[]wasm.Instruction{
			ins(wasm.OpF64Const, wasm.F64Imm{Value: math.NaN()}),
			bare(wasm.OpI32TruncF64S),
			bare(wasm.OpEnd),
		})
	res := Run(inst, 0, nil)
	if res.Outcome() != OutcomeTrapped {
		t.Fatalf("outcome = %s, want trapped", res.Outcome())
	}
	if !res.Nondeterministic() {
		t.Errorf("trapping truncation not flagged nondeterministic")
	}

	inst = singleFunc(t, wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}, nil,
		[]wasm.Instruction{
			ins(wasm.OpF64Const, wasm.F64Imm{Value: 3.9}),
			bare(wasm.OpI32TruncF64S),
			bare(wasm.OpEnd),
		})
	res = Run(inst, 0, nil)
	if res.Outcome() != OutcomeFinished || res.Value() != 3 {
		t.Fatalf("got %s, want finished(3)", res)
	}
}

func TestRunIfElseAndBranches(t *testing.T) {
	// abs(x) via if/else with an i32 result block.
	abs := singleFunc(t,
		wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		nil,
		[]wasm.Instruction{
			ins(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
			ins(wasm.OpI32Const, wasm.I32Imm{Value: 0}),
			bare(wasm.OpI32LtS),
			ins(wasm.OpIf, wasm.BlockImm{Type: -1}),
			ins(wasm.OpI32Const, wasm.I32Imm{Value: 0}),
			ins(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
			bare(wasm.OpI32Sub),
			bare(wasm.OpElse),
			ins(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
			bare(wasm.OpEnd),
			bare(wasm.OpEnd),
		})

	for _, tc := range []struct{ in, want int32 }{{5, 5}, {-5, 5}, {0, 0}, {math.MinInt32, math.MinInt32}} {
		res := Run(abs, 0, []Value{I32(tc.in)})
		if res.Outcome() != OutcomeFinished || res.Value() != tc.want {
			t.Errorf("abs(%d): got %s, want finished(%d)", tc.in, res, tc.want)
		}
	}
}

func TestRunBrTable(t *testing.T) {
	inst := singleFunc(t,
		wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		nil,
		[]wasm.Instruction{
			ins(wasm.OpBlock, wasm.BlockImm{Type: wasm.BlockTypeVoid}),
			ins(wasm.OpBlock, wasm.BlockImm{Type: wasm.BlockTypeVoid}),
			ins(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
			ins(wasm.OpBrTable, wasm.BrTableImm{Labels: []uint32{0, 1}, Default: 1}),
			bare(wasm.OpEnd),
			ins(wasm.OpI32Const, wasm.I32Imm{Value: 10}),
			bare(wasm.OpReturn),
			bare(wasm.OpEnd),
			ins(wasm.OpI32Const, wasm.I32Imm{Value: 20}),
			bare(wasm.OpEnd),
		})

	for _, tc := range []struct{ in, want int32 }{{0, 10}, {1, 20}, {7, 20}, {-1, 20}} {
		res := Run(inst, 0, []Value{I32(tc.in)})
		if res.Outcome() != OutcomeFinished || res.Value() != tc.want {
			t.Errorf("dispatch(%d): got %s, want finished(%d)", tc.in, res, tc.want)
		}
	}
}

func TestRunCalls(t *testing.T) {
	// fac(n) = n < 2 ? 1 : n * fac(n-1)
	m := &wasm.Module{
		Types: []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{{
			Code: wasm.EncodeInstructions([]wasm.Instruction{
				ins(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 2}),
				bare(wasm.OpI32LtS),
				ins(wasm.OpIf, wasm.BlockImm{Type: -1}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 1}),
				bare(wasm.OpElse),
				ins(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
				ins(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 1}),
				bare(wasm.OpI32Sub),
				ins(wasm.OpCall, wasm.CallImm{FuncIdx: 0}),
				bare(wasm.OpI32Mul),
				bare(wasm.OpEnd),
				bare(wasm.OpEnd),
			}),
		}},
	}
	inst, err := NewInstance(m)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}

	res := Run(inst, 0, []Value{I32(5)})
	if res.Outcome() != OutcomeFinished || res.Value() != 120 {
		t.Fatalf("fac(5): got %s, want finished(120)", res)
	}
}

func TestRunUnboundedRecursionFails(t *testing.T) {
	inst := singleFunc(t, wasm.FuncType{}, nil, []wasm.Instruction{
		ins(wasm.OpCall, wasm.CallImm{FuncIdx: 0}),
		bare(wasm.OpEnd),
	})
	res := Run(inst, 0, nil)
	if res.Outcome() != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome())
	}
}

func TestRunCallIndirect(t *testing.T) {
	voidType := wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}
	m := &wasm.Module{
		Types: []wasm.FuncType{
			voidType,
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Funcs: []uint32{0, 0, 1},
		Tables: []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 4}}},
		Elements: []wasm.Element{{
			Offset:   constExpr(ins(wasm.OpI32Const, wasm.I32Imm{Value: 0})),
			FuncIdxs: []uint32{0, 1},
		}},
		Code: []wasm.FuncBody{
			{Code: wasm.EncodeInstructions([]wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 11}),
				bare(wasm.OpEnd),
			})},
			{Code: wasm.EncodeInstructions([]wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 22}),
				bare(wasm.OpEnd),
			})},
			// dispatcher: call through the table with the given index
			{Code: wasm.EncodeInstructions([]wasm.Instruction{
				ins(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
				ins(wasm.OpCallIndirect, wasm.CallIndirectImm{TypeIdx: 0}),
				bare(wasm.OpEnd),
			})},
		},
	}
	inst, err := NewInstance(m)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}

	for _, tc := range []struct{ in, want int32 }{{0, 11}, {1, 22}} {
		res := Run(inst, 2, []Value{I32(tc.in)})
		if res.Outcome() != OutcomeFinished || res.Value() != tc.want {
			t.Errorf("dispatch(%d): got %s, want finished(%d)", tc.in, res, tc.want)
		}
	}

	// Uninitialized slot and out-of-range index both trap.
	for _, idx := range []int32{2, 100, -1} {
		res := Run(inst, 2, []Value{I32(idx)})
		if res.Outcome() != OutcomeTrapped {
			t.Errorf("dispatch(%d): outcome = %s, want trapped", idx, res.Outcome())
		}
	}
}

func TestRunMemoryOps(t *testing.T) {
	m := &wasm.Module{
		Types:    []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Code: []wasm.FuncBody{{
			Code: wasm.EncodeInstructions([]wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 16}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 0x11223344}),
				ins(wasm.OpI32Store, wasm.MemoryImm{}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 17}),
				ins(wasm.OpI32Load8U, wasm.MemoryImm{}),
				bare(wasm.OpEnd),
			}),
		}},
	}
	inst, err := NewInstance(m)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}

	res := Run(inst, 0, nil)
	if res.Outcome() != OutcomeFinished || res.Value() != 0x33 {
		t.Fatalf("got %s, want finished(51)", res)
	}
}

func TestRunMemoryOutOfBoundsTraps(t *testing.T) {
	m := &wasm.Module{
		Types:    []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Code: []wasm.FuncBody{{
			Code: wasm.EncodeInstructions([]wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: PageSize - 2}),
				ins(wasm.OpI32Load, wasm.MemoryImm{}),
				bare(wasm.OpEnd),
			}),
		}},
	}
	inst, err := NewInstance(m)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}

	res := Run(inst, 0, nil)
	if res.Outcome() != OutcomeTrapped {
		t.Fatalf("outcome = %s, want trapped", res.Outcome())
	}
}

func TestRunMemoryGrow(t *testing.T) {
	max := uint32(2)
	m := &wasm.Module{
		Types:    []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Funcs:    []uint32{0, 0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: &max}}},
		Code: []wasm.FuncBody{
			// grow by one page, return the new size
			{Code: wasm.EncodeInstructions([]wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 1}),
				ins(wasm.OpMemoryGrow, wasm.MemoryIdxImm{}),
				bare(wasm.OpDrop),
				ins(wasm.OpMemorySize, wasm.MemoryIdxImm{}),
				bare(wasm.OpEnd),
			})},
			// grow past the declared max, return the grow result
			{Code: wasm.EncodeInstructions([]wasm.Instruction{
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 100}),
				ins(wasm.OpMemoryGrow, wasm.MemoryIdxImm{}),
				bare(wasm.OpEnd),
			})},
		},
	}
	inst, err := NewInstance(m)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}

	if res := Run(inst, 0, nil); res.Outcome() != OutcomeFinished || res.Value() != 2 {
		t.Fatalf("grow: got %s, want finished(2)", res)
	}
	if res := Run(inst, 1, nil); res.Outcome() != OutcomeFinished || res.Value() != -1 {
		t.Fatalf("grow past max: got %s, want finished(-1)", res)
	}
}

func TestRunGlobals(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Funcs: []uint32{0},
		Globals: []wasm.Global{{
			Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
			Init: constExpr(ins(wasm.OpI32Const, wasm.I32Imm{Value: 7})),
		}},
		Code: []wasm.FuncBody{{
			Code: wasm.EncodeInstructions([]wasm.Instruction{
				ins(wasm.OpGlobalGet, wasm.GlobalImm{GlobalIdx: 0}),
				ins(wasm.OpI32Const, wasm.I32Imm{Value: 1}),
				bare(wasm.OpI32Add),
				ins(wasm.OpGlobalSet, wasm.GlobalImm{GlobalIdx: 0}),
				ins(wasm.OpGlobalGet, wasm.GlobalImm{GlobalIdx: 0}),
				bare(wasm.OpEnd),
			}),
		}},
	}
	inst, err := NewInstance(m)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}

	if res := Run(inst, 0, nil); res.Outcome() != OutcomeFinished || res.Value() != 8 {
		t.Fatalf("got %s, want finished(8)", res)
	}
	// Globals persist across runs on the same instance.
	if res := Run(inst, 0, nil); res.Outcome() != OutcomeFinished || res.Value() != 9 {
		t.Fatalf("second run: got %s, want finished(9)", res)
	}
}

func TestRunArgumentMismatchFails(t *testing.T) {
	inst := singleFunc(t,
		wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		nil,
		[]wasm.Instruction{
			ins(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
			bare(wasm.OpEnd),
		})

	if res := Run(inst, 0, nil); res.Outcome() != OutcomeFailed {
		t.Errorf("missing args: outcome = %s, want failed", res.Outcome())
	}
	if res := Run(inst, 0, []Value{F64(1)}); res.Outcome() != OutcomeFailed {
		t.Errorf("wrong kind: outcome = %s, want failed", res.Outcome())
	}
	if res := Run(inst, 5, []Value{I32(1)}); res.Outcome() != OutcomeFailed {
		t.Errorf("bad func index: outcome = %s, want failed", res.Outcome())
	}
}
