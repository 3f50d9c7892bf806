package engine

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/wasmdiff/harness/wasm"
)

// testModule builds a module exporting "add" (i32,i32)->i32 and
// "crash" ()->() which hits unreachable.
func testModule(t *testing.T) []byte {
	t.Helper()
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{},
		},
		Funcs: []uint32{0, 1},
		Exports: []wasm.Export{
			{Name: "add", Kind: wasm.KindFunc, Idx: 0},
			{Name: "crash", Kind: wasm.KindFunc, Idx: 1},
		},
		Code: []wasm.FuncBody{
			{Code: wasm.EncodeInstructions([]wasm.Instruction{
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 1}},
				{Opcode: wasm.OpI32Add},
				{Opcode: wasm.OpEnd},
			})},
			{Code: wasm.EncodeInstructions([]wasm.Instruction{
				{Opcode: wasm.OpUnreachable},
				{Opcode: wasm.OpEnd},
			})},
		},
	}
	return m.Encode()
}

func TestCompileAndCall(t *testing.T) {
	ctx := context.Background()
	e := New(ctx)
	defer e.Close(ctx)

	mod, err := e.Compile(ctx, testModule(t))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	fn := inst.ExportedFunction("add")
	if fn == nil {
		t.Fatal("add not exported")
	}
	results, err := inst.Call(ctx, fn, api.EncodeI32(40), api.EncodeI32(2))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(results) != 1 || api.DecodeI32(results[0]) != 42 {
		t.Fatalf("results = %v, want [42]", results)
	}
}

func TestMissingExportIsNil(t *testing.T) {
	ctx := context.Background()
	e := New(ctx)
	defer e.Close(ctx)

	mod, err := e.Compile(ctx, testModule(t))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	if fn := inst.ExportedFunction("no_such_export"); fn != nil {
		t.Fatal("expected nil for missing export")
	}
}

func TestTrapSurfacesAsError(t *testing.T) {
	ctx := context.Background()
	e := New(ctx)
	defer e.Close(ctx)

	mod, err := e.Compile(ctx, testModule(t))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	fn := inst.ExportedFunction("crash")
	if fn == nil {
		t.Fatal("crash not exported")
	}
	if _, err := inst.Call(ctx, fn); err == nil {
		t.Fatal("expected trap error")
	}
}

func TestCompileRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	e := New(ctx)
	defer e.Close(ctx)

	if _, err := e.Compile(ctx, []byte{0xDE, 0xAD, 0xBE, 0xEF}); err == nil {
		t.Fatal("expected compile error for garbage bytes")
	}
}
