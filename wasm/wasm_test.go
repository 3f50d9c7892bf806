package wasm

import (
	"bytes"
	"math"
	"reflect"
	"testing"
)

// fullModule exercises every section the encoder emits.
func fullModule() *Module {
	max := uint32(4)
	start := uint32(1)
	return &Module{
		Types: []FuncType{
			{Params: []ValType{ValI32, ValI64}, Results: []ValType{ValI32}},
			{Params: []ValType{}, Results: []ValType{}},
		},
		Funcs:    []uint32{0, 1},
		Tables:   []TableType{{ElemType: ValFuncRef, Limits: Limits{Min: 2, Max: &max}}},
		Memories: []MemoryType{{Limits: Limits{Min: 1}}},
		Globals: []Global{{
			Type: GlobalType{ValType: ValI32, Mutable: true},
			Init: EncodeInstructions([]Instruction{
				{Opcode: OpI32Const, Imm: I32Imm{Value: 7}},
				{Opcode: OpEnd},
			}),
		}},
		Exports: []Export{
			{Name: "main", Kind: KindFunc, Idx: 0},
			{Name: "memory", Kind: KindMemory, Idx: 0},
		},
		Start: &start,
		Elements: []Element{{
			Offset: EncodeInstructions([]Instruction{
				{Opcode: OpI32Const, Imm: I32Imm{Value: 0}},
				{Opcode: OpEnd},
			}),
			FuncIdxs: []uint32{0},
		}},
		Code: []FuncBody{
			{
				Locals: []LocalEntry{{Count: 2, ValType: ValI64}},
				Code: EncodeInstructions([]Instruction{
					{Opcode: OpLocalGet, Imm: LocalImm{LocalIdx: 0}},
					{Opcode: OpEnd},
				}),
			},
			{Code: EncodeInstructions([]Instruction{{Opcode: OpEnd}})},
		},
		Data: []DataSegment{{
			Offset: EncodeInstructions([]Instruction{
				{Opcode: OpI32Const, Imm: I32Imm{Value: 8}},
				{Opcode: OpEnd},
			}),
			Init: []byte{1, 2, 3},
		}},
	}
}

func TestModuleRoundTrip(t *testing.T) {
	want := fullModule()
	got, err := ParseModule(want.Encode())
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}

	if !reflect.DeepEqual(got.Types, want.Types) {
		t.Errorf("Types = %+v, want %+v", got.Types, want.Types)
	}
	if !reflect.DeepEqual(got.Funcs, want.Funcs) {
		t.Errorf("Funcs = %v, want %v", got.Funcs, want.Funcs)
	}
	if !reflect.DeepEqual(got.Tables, want.Tables) {
		t.Errorf("Tables = %+v, want %+v", got.Tables, want.Tables)
	}
	if !reflect.DeepEqual(got.Memories, want.Memories) {
		t.Errorf("Memories = %+v, want %+v", got.Memories, want.Memories)
	}
	if !reflect.DeepEqual(got.Globals, want.Globals) {
		t.Errorf("Globals = %+v, want %+v", got.Globals, want.Globals)
	}
	if !reflect.DeepEqual(got.Exports, want.Exports) {
		t.Errorf("Exports = %+v, want %+v", got.Exports, want.Exports)
	}
	if got.Start == nil || *got.Start != *want.Start {
		t.Errorf("Start = %v, want %v", got.Start, want.Start)
	}
	if !reflect.DeepEqual(got.Elements, want.Elements) {
		t.Errorf("Elements = %+v, want %+v", got.Elements, want.Elements)
	}
	if !reflect.DeepEqual(got.Code, want.Code) {
		t.Errorf("Code = %+v, want %+v", got.Code, want.Code)
	}
	if !reflect.DeepEqual(got.Data, want.Data) {
		t.Errorf("Data = %+v, want %+v", got.Data, want.Data)
	}
}

func TestParseModuleHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", []byte{1, 2, 3, 4, 1, 0, 0, 0}},
		{"bad version", []byte{0x00, 0x61, 0x73, 0x6D, 9, 0, 0, 0}},
		{"truncated header", []byte{0x00, 0x61, 0x73}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseModule(tt.data); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseModuleRejectsOutOfOrderSections(t *testing.T) {
	// Function section (3) before type section (1).
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x61, 0x73, 0x6D, 1, 0, 0, 0})
	buf.Write([]byte{SectionFunction, 2, 1, 0})
	buf.Write([]byte{SectionType, 1, 0})
	if _, err := ParseModule(buf.Bytes()); err == nil {
		t.Fatal("expected out-of-order section error")
	}
}

func TestParseModuleRejectsDuplicateExports(t *testing.T) {
	m := fullModule()
	m.Exports = append(m.Exports, Export{Name: "main", Kind: KindFunc, Idx: 1})
	if _, err := ParseModule(m.Encode()); err == nil {
		t.Fatal("expected duplicate export error")
	}
}

func TestParseModuleRejectsCountMismatch(t *testing.T) {
	m := fullModule()
	m.Code = m.Code[:1] // two declared funcs, one body
	if _, err := ParseModule(m.Encode()); err == nil {
		t.Fatal("expected func/code count mismatch error")
	}
}

func TestInstructionRoundTrip(t *testing.T) {
	instrs := []Instruction{
		{Opcode: OpBlock, Imm: BlockImm{Type: BlockTypeVoid}},
		{Opcode: OpI32Const, Imm: I32Imm{Value: -1}},
		{Opcode: OpBrIf, Imm: BranchImm{LabelIdx: 0}},
		{Opcode: OpEnd},
		{Opcode: OpLoop, Imm: BlockImm{Type: -1}},
		{Opcode: OpI64Const, Imm: I64Imm{Value: math.MinInt64}},
		{Opcode: OpI32WrapI64},
		{Opcode: OpBrTable, Imm: BrTableImm{Labels: []uint32{0, 1}, Default: 0}},
		{Opcode: OpEnd},
		{Opcode: OpF32Const, Imm: F32Imm{Value: -2.5}},
		{Opcode: OpF64Const, Imm: F64Imm{Value: 6.02e23}},
		{Opcode: OpF64PromoteF32},
		{Opcode: OpF64Max},
		{Opcode: OpDrop},
		{Opcode: OpI32Const, Imm: I32Imm{Value: 3}},
		{Opcode: OpI32Load16U, Imm: MemoryImm{Offset: 8, Align: 1}},
		{Opcode: OpCall, Imm: CallImm{FuncIdx: 2}},
		{Opcode: OpCallIndirect, Imm: CallIndirectImm{TypeIdx: 1}},
		{Opcode: OpLocalTee, Imm: LocalImm{LocalIdx: 4}},
		{Opcode: OpGlobalSet, Imm: GlobalImm{GlobalIdx: 0}},
		{Opcode: OpMiscPrefix, Imm: MiscImm{SubOpcode: MiscI64TruncSatF64U}},
		{Opcode: OpRefNull, Imm: RefNullImm{HeapType: -0x10}}, // funcref
		{Opcode: OpRefFunc, Imm: RefFuncImm{FuncIdx: 1}},
		{Opcode: OpMemoryGrow, Imm: MemoryIdxImm{}},
		{Opcode: OpEnd},
	}

	decoded, err := DecodeInstructions(EncodeInstructions(instrs))
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	if len(decoded) != len(instrs) {
		t.Fatalf("decoded %d instructions, want %d", len(decoded), len(instrs))
	}
	for i := range instrs {
		if decoded[i].Opcode != instrs[i].Opcode {
			t.Errorf("instr %d opcode = 0x%02X, want 0x%02X", i, decoded[i].Opcode, instrs[i].Opcode)
		}
		if !reflect.DeepEqual(decoded[i].Imm, instrs[i].Imm) {
			t.Errorf("instr %d imm = %+v, want %+v", i, decoded[i].Imm, instrs[i].Imm)
		}
	}
}

func TestDecodeInstructionsRejectsUnknownOpcode(t *testing.T) {
	if _, err := DecodeInstructions([]byte{0xD5, OpEnd}); err == nil {
		t.Fatal("expected unknown opcode error")
	}
}

func TestFindExport(t *testing.T) {
	m := fullModule()
	if exp := m.FindExport("main"); exp == nil || exp.Kind != KindFunc {
		t.Errorf("FindExport(main) = %+v", exp)
	}
	if exp := m.FindExport("absent"); exp != nil {
		t.Errorf("FindExport(absent) = %+v, want nil", exp)
	}
}

func TestGetFuncType(t *testing.T) {
	m := fullModule()
	ft := m.GetFuncType(0)
	if ft == nil || len(ft.Params) != 2 {
		t.Fatalf("GetFuncType(0) = %+v", ft)
	}
	if m.GetFuncType(9) != nil {
		t.Error("GetFuncType(9) should be nil")
	}

	// With an imported function, index 0 resolves through the imports.
	m.Imports = []Import{{
		Module: "env", Name: "f",
		Desc: ImportDesc{Kind: KindFunc, TypeIdx: 1},
	}}
	if ft := m.GetFuncType(0); ft == nil || len(ft.Params) != 0 {
		t.Errorf("imported GetFuncType(0) = %+v", ft)
	}
	if ft := m.GetFuncType(1); ft == nil || len(ft.Params) != 2 {
		t.Errorf("declared GetFuncType(1) = %+v", ft)
	}
}

func TestAddTypeReusesEqualTypes(t *testing.T) {
	m := &Module{}
	a := m.AddType(FuncType{Params: []ValType{ValI32}})
	b := m.AddType(FuncType{Params: []ValType{ValI32}})
	c := m.AddType(FuncType{Params: []ValType{ValI64}})
	if a != b {
		t.Errorf("equal types got distinct indices %d, %d", a, b)
	}
	if c == a {
		t.Error("distinct types share an index")
	}
	if len(m.Types) != 2 {
		t.Errorf("len(Types) = %d, want 2", len(m.Types))
	}
}
