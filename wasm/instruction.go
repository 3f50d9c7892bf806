package wasm

import (
	"fmt"

	"github.com/wasmdiff/harness/wasm/internal/binary"
)

// Instruction represents a decoded WebAssembly instruction
type Instruction struct {
	Imm    any
	Opcode byte
}

// BlockImm holds the block type for block, loop, and if instructions.
type BlockImm struct {
	Type int32 // -64=void, -1=i32, -2=i64, -3=f32, -4=f64, >=0=type index
}

// BranchImm holds the label index for br and br_if instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call instruction.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint64
	Align  uint32
}

// MemoryIdxImm holds the memory index for memory.size and memory.grow.
type MemoryIdxImm struct {
	MemIdx uint32
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the constant value for f32.const instruction.
type F32Imm struct {
	Value float32
}

// F64Imm holds the constant value for f64.const instruction.
type F64Imm struct {
	Value float64
}

// MiscImm holds the sub-opcode for 0xFC prefix instructions.
type MiscImm struct {
	SubOpcode uint32
}

// RefNullImm holds the heap type for ref.null.
type RefNullImm struct {
	HeapType int64
}

// RefFuncImm holds the function index for ref.func.
type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm holds value types for typed select.
type SelectTypeImm struct {
	Types []ValType
}

// DecodeInstructions decodes a function body's raw bytes into a flat
// instruction sequence, including the trailing end opcode.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	var instrs []Instruction

	for r.Remaining() > 0 {
		op, err := r.Byte()
		if err != nil {
			return nil, err
		}

		instr := Instruction{Opcode: op}

		switch op {
		case OpBlock, OpLoop, OpIf:
			bt, err := r.S33()
			if err != nil {
				return nil, fmt.Errorf("block type: %w", err)
			}
			instr.Imm = BlockImm{Type: int32(bt)}

		case OpBr, OpBrIf:
			label, err := r.U32()
			if err != nil {
				return nil, fmt.Errorf("branch label: %w", err)
			}
			instr.Imm = BranchImm{LabelIdx: label}

		case OpBrTable:
			count, err := r.U32()
			if err != nil {
				return nil, fmt.Errorf("br_table count: %w", err)
			}
			labels := make([]uint32, count)
			for i := range labels {
				if labels[i], err = r.U32(); err != nil {
					return nil, fmt.Errorf("br_table label: %w", err)
				}
			}
			def, err := r.U32()
			if err != nil {
				return nil, fmt.Errorf("br_table default: %w", err)
			}
			instr.Imm = BrTableImm{Labels: labels, Default: def}

		case OpCall:
			idx, err := r.U32()
			if err != nil {
				return nil, fmt.Errorf("call target: %w", err)
			}
			instr.Imm = CallImm{FuncIdx: idx}

		case OpCallIndirect:
			typeIdx, err := r.U32()
			if err != nil {
				return nil, fmt.Errorf("call_indirect type: %w", err)
			}
			tableIdx, err := r.U32()
			if err != nil {
				return nil, fmt.Errorf("call_indirect table: %w", err)
			}
			instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

		case OpLocalGet, OpLocalSet, OpLocalTee:
			idx, err := r.U32()
			if err != nil {
				return nil, fmt.Errorf("local index: %w", err)
			}
			instr.Imm = LocalImm{LocalIdx: idx}

		case OpGlobalGet, OpGlobalSet:
			idx, err := r.U32()
			if err != nil {
				return nil, fmt.Errorf("global index: %w", err)
			}
			instr.Imm = GlobalImm{GlobalIdx: idx}

		case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
			OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
			OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U,
			OpI64Load32S, OpI64Load32U,
			OpI32Store, OpI64Store, OpF32Store, OpF64Store,
			OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
			align, err := r.U32()
			if err != nil {
				return nil, fmt.Errorf("memarg align: %w", err)
			}
			offset, err := r.U64()
			if err != nil {
				return nil, fmt.Errorf("memarg offset: %w", err)
			}
			instr.Imm = MemoryImm{Align: align, Offset: offset}

		case OpMemorySize, OpMemoryGrow:
			idx, err := r.U32()
			if err != nil {
				return nil, fmt.Errorf("memory index: %w", err)
			}
			instr.Imm = MemoryIdxImm{MemIdx: idx}

		case OpI32Const:
			v, err := r.S32()
			if err != nil {
				return nil, fmt.Errorf("i32.const: %w", err)
			}
			instr.Imm = I32Imm{Value: v}

		case OpI64Const:
			v, err := r.S64()
			if err != nil {
				return nil, fmt.Errorf("i64.const: %w", err)
			}
			instr.Imm = I64Imm{Value: v}

		case OpF32Const:
			v, err := r.F32()
			if err != nil {
				return nil, fmt.Errorf("f32.const: %w", err)
			}
			instr.Imm = F32Imm{Value: v}

		case OpF64Const:
			v, err := r.F64()
			if err != nil {
				return nil, fmt.Errorf("f64.const: %w", err)
			}
			instr.Imm = F64Imm{Value: v}

		case OpRefNull:
			ht, err := r.S33()
			if err != nil {
				return nil, fmt.Errorf("ref.null heap type: %w", err)
			}
			instr.Imm = RefNullImm{HeapType: ht}

		case OpRefFunc:
			idx, err := r.U32()
			if err != nil {
				return nil, fmt.Errorf("ref.func index: %w", err)
			}
			instr.Imm = RefFuncImm{FuncIdx: idx}

		case OpSelectType:
			count, err := r.U32()
			if err != nil {
				return nil, fmt.Errorf("select type count: %w", err)
			}
			types := make([]ValType, count)
			for i := range types {
				b, err := r.Byte()
				if err != nil {
					return nil, fmt.Errorf("select type: %w", err)
				}
				types[i] = ValType(b)
			}
			instr.Imm = SelectTypeImm{Types: types}

		case OpMiscPrefix:
			sub, err := r.U32()
			if err != nil {
				return nil, fmt.Errorf("misc sub-opcode: %w", err)
			}
			if sub > MiscI64TruncSatF64U {
				return nil, fmt.Errorf("unsupported 0xFC sub-opcode %d", sub)
			}
			instr.Imm = MiscImm{SubOpcode: sub}

		default:
			if !isBareOpcode(op) {
				return nil, fmt.Errorf("unknown opcode 0x%02X at offset %d", op, r.Position()-1)
			}
		}

		instrs = append(instrs, instr)
	}

	return instrs, nil
}

// isBareOpcode reports whether op is a known opcode with no immediates.
func isBareOpcode(op byte) bool {
	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect, OpRefIsNull:
		return true
	}
	// Comparisons, arithmetic, conversions, and sign extensions occupy the
	// contiguous range 0x45..0xC4 with no immediates.
	return op >= OpI32Eqz && op <= OpI64Extend32S
}

// EncodeInstructions encodes instructions back into raw body bytes.
// Inverse of DecodeInstructions; used by the module encoder and tests.
func EncodeInstructions(instrs []Instruction) []byte {
	w := binary.NewWriter()
	for _, instr := range instrs {
		w.Byte(instr.Opcode)
		switch imm := instr.Imm.(type) {
		case BlockImm:
			w.S64(int64(imm.Type))
		case BranchImm:
			w.U32(imm.LabelIdx)
		case BrTableImm:
			w.U32(uint32(len(imm.Labels)))
			for _, l := range imm.Labels {
				w.U32(l)
			}
			w.U32(imm.Default)
		case CallImm:
			w.U32(imm.FuncIdx)
		case CallIndirectImm:
			w.U32(imm.TypeIdx)
			w.U32(imm.TableIdx)
		case LocalImm:
			w.U32(imm.LocalIdx)
		case GlobalImm:
			w.U32(imm.GlobalIdx)
		case MemoryImm:
			w.U32(imm.Align)
			w.U64(imm.Offset)
		case MemoryIdxImm:
			w.U32(imm.MemIdx)
		case I32Imm:
			w.S32(imm.Value)
		case I64Imm:
			w.S64(imm.Value)
		case F32Imm:
			w.F32(imm.Value)
		case F64Imm:
			w.F64(imm.Value)
		case RefNullImm:
			w.S64(imm.HeapType)
		case RefFuncImm:
			w.U32(imm.FuncIdx)
		case SelectTypeImm:
			w.U32(uint32(len(imm.Types)))
			for _, t := range imm.Types {
				w.Byte(byte(t))
			}
		case MiscImm:
			w.U32(imm.SubOpcode)
		}
	}
	return w.Bytes()
}
