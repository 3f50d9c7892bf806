package wasm

import (
	"errors"
	"fmt"

	"github.com/wasmdiff/harness/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule parses a core WebAssembly binary module.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.U32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	version, err := r.U32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}

	// Non-custom sections must appear in canonical order:
	// Type(1), Import(2), Function(3), Table(4), Memory(5), Global(6),
	// Export(7), Start(8), Element(9), DataCount(12), Code(10), Data(11)
	var lastOrder int

	for r.Remaining() > 0 {
		sectionID, err := r.Byte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}

		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order < 0 {
				return nil, fmt.Errorf("unknown section id %d", sectionID)
			}
			if order <= lastOrder {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastOrder = order
		}

		sectionSize, err := r.U32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		sectionData, err := r.Bytes(int(sectionSize))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		sr := binary.NewReader(sectionData)

		switch sectionID {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			err = parseStartSection(sr, m)
		case SectionElement:
			err = parseElementSection(sr, m)
		case SectionCode:
			err = parseCodeSection(sr, m)
		case SectionData:
			err = parseDataSection(sr, m)
		case SectionDataCount:
			var count uint32
			if count, err = sr.U32(); err == nil {
				m.DataCount = &count
			}
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", sectionID, err)
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function section declares %d functions, code section has %d bodies",
			len(m.Funcs), len(m.Code))
	}

	return m, nil
}

func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	default:
		return -1
	}
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.Name()
	if err != nil {
		return err
	}
	data, err := r.Bytes(r.Remaining())
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: data})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.U32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		form, err := r.Byte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: unsupported type form 0x%02X", i, form)
		}
		ft, err := parseFuncType(r)
		if err != nil {
			return fmt.Errorf("type %d: %w", i, err)
		}
		m.Types = append(m.Types, ft)
	}
	return nil
}

func parseFuncType(r *binary.Reader) (FuncType, error) {
	var ft FuncType
	var err error
	if ft.Params, err = parseValTypes(r); err != nil {
		return ft, err
	}
	ft.Results, err = parseValTypes(r)
	return ft, err
}

func parseValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.U32()
	if err != nil {
		return nil, err
	}
	types := make([]ValType, count)
	for i := range types {
		b, err := r.Byte()
		if err != nil {
			return nil, err
		}
		vt := ValType(b)
		if vt.String() == "unknown" {
			return nil, fmt.Errorf("invalid value type 0x%02X", b)
		}
		types[i] = vt
	}
	return types, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.U32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var imp Import
		if imp.Module, err = r.Name(); err != nil {
			return err
		}
		if imp.Name, err = r.Name(); err != nil {
			return err
		}
		kind, err := r.Byte()
		if err != nil {
			return err
		}
		imp.Desc.Kind = kind
		switch kind {
		case KindFunc:
			if imp.Desc.TypeIdx, err = r.U32(); err != nil {
				return err
			}
		case KindTable:
			tt, err := parseTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &tt
		case KindMemory:
			limits, err := parseLimits(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &MemoryType{Limits: limits}
		case KindGlobal:
			gt, err := parseGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &gt
		default:
			return fmt.Errorf("import %d: unknown kind %d", i, kind)
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.U32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = r.U32(); err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := r.U32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		tt, err := parseTableType(r)
		if err != nil {
			return fmt.Errorf("table %d: %w", i, err)
		}
		m.Tables = append(m.Tables, tt)
	}
	return nil
}

func parseTableType(r *binary.Reader) (TableType, error) {
	var tt TableType
	b, err := r.Byte()
	if err != nil {
		return tt, err
	}
	tt.ElemType = ValType(b)
	if tt.ElemType != ValFuncRef && tt.ElemType != ValExtern {
		return tt, fmt.Errorf("invalid table element type 0x%02X", b)
	}
	tt.Limits, err = parseLimits(r)
	return tt, err
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.U32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		limits, err := parseLimits(r)
		if err != nil {
			return fmt.Errorf("memory %d: %w", i, err)
		}
		m.Memories = append(m.Memories, MemoryType{Limits: limits})
	}
	return nil
}

func parseLimits(r *binary.Reader) (Limits, error) {
	var l Limits
	flags, err := r.Byte()
	if err != nil {
		return l, err
	}
	switch flags {
	case 0:
		l.Min, err = r.U32()
	case 1:
		if l.Min, err = r.U32(); err != nil {
			return l, err
		}
		var max uint32
		if max, err = r.U32(); err == nil {
			l.Max = &max
		}
	default:
		return l, fmt.Errorf("unsupported limits flags 0x%02X", flags)
	}
	return l, err
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.U32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		gt, err := parseGlobalType(r)
		if err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
		init, err := parseConstExpr(r)
		if err != nil {
			return fmt.Errorf("global %d init: %w", i, err)
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
	}
	return nil
}

func parseGlobalType(r *binary.Reader) (GlobalType, error) {
	var gt GlobalType
	b, err := r.Byte()
	if err != nil {
		return gt, err
	}
	gt.ValType = ValType(b)
	mut, err := r.Byte()
	if err != nil {
		return gt, err
	}
	if mut > 1 {
		return gt, fmt.Errorf("invalid mutability flag 0x%02X", mut)
	}
	gt.Mutable = mut == 1
	return gt, nil
}

// parseConstExpr reads the raw bytes of a constant expression up to and
// including the end opcode. Constant expressions carry only const,
// global.get, and ref instructions, all with scalar immediates, so a flat
// scan suffices.
func parseConstExpr(r *binary.Reader) ([]byte, error) {
	start := r.Position()
	for {
		op, err := r.Byte()
		if err != nil {
			return nil, err
		}
		switch op {
		case OpEnd:
			return r.Range(start, r.Position()), nil
		case OpI32Const:
			if _, err = r.S32(); err != nil {
				return nil, err
			}
		case OpI64Const:
			if _, err = r.S64(); err != nil {
				return nil, err
			}
		case OpF32Const:
			if _, err = r.F32(); err != nil {
				return nil, err
			}
		case OpF64Const:
			if _, err = r.F64(); err != nil {
				return nil, err
			}
		case OpGlobalGet, OpRefFunc:
			if _, err = r.U32(); err != nil {
				return nil, err
			}
		case OpRefNull:
			if _, err = r.S33(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("opcode 0x%02X not allowed in constant expression", op)
		}
	}
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.U32()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, count)
	for i := uint32(0); i < count; i++ {
		var exp Export
		if exp.Name, err = r.Name(); err != nil {
			return err
		}
		if seen[exp.Name] {
			return fmt.Errorf("duplicate export name %q", exp.Name)
		}
		seen[exp.Name] = true
		if exp.Kind, err = r.Byte(); err != nil {
			return err
		}
		if exp.Kind > KindGlobal {
			return fmt.Errorf("export %q: unknown kind %d", exp.Name, exp.Kind)
		}
		if exp.Idx, err = r.U32(); err != nil {
			return err
		}
		m.Exports = append(m.Exports, exp)
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.U32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := r.U32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		flags, err := r.U32()
		if err != nil {
			return err
		}
		if flags != 0 {
			return fmt.Errorf("element %d: unsupported segment flags %d", i, flags)
		}
		offset, err := parseConstExpr(r)
		if err != nil {
			return fmt.Errorf("element %d offset: %w", i, err)
		}
		n, err := r.U32()
		if err != nil {
			return err
		}
		idxs := make([]uint32, n)
		for j := range idxs {
			if idxs[j], err = r.U32(); err != nil {
				return err
			}
		}
		m.Elements = append(m.Elements, Element{Offset: offset, FuncIdxs: idxs})
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.U32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.U32()
		if err != nil {
			return err
		}
		body, err := r.Bytes(int(bodySize))
		if err != nil {
			return err
		}
		br := binary.NewReader(body)

		localCount, err := br.U32()
		if err != nil {
			return fmt.Errorf("func %d locals: %w", i, err)
		}
		var locals []LocalEntry
		var total uint64
		for j := uint32(0); j < localCount; j++ {
			n, err := br.U32()
			if err != nil {
				return fmt.Errorf("func %d locals: %w", i, err)
			}
			b, err := br.Byte()
			if err != nil {
				return fmt.Errorf("func %d locals: %w", i, err)
			}
			total += uint64(n)
			if total > 50000 {
				return fmt.Errorf("func %d declares too many locals", i)
			}
			locals = append(locals, LocalEntry{Count: n, ValType: ValType(b)})
		}

		code, err := br.Bytes(br.Remaining())
		if err != nil {
			return err
		}
		if len(code) == 0 || code[len(code)-1] != OpEnd {
			return fmt.Errorf("func %d body does not end with end opcode", i)
		}
		m.Code = append(m.Code, FuncBody{Locals: locals, Code: code})
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.U32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		flags, err := r.U32()
		if err != nil {
			return err
		}
		var seg DataSegment
		switch flags {
		case 0:
		case 2:
			if seg.MemIdx, err = r.U32(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("data %d: unsupported segment flags %d", i, flags)
		}
		if seg.Offset, err = parseConstExpr(r); err != nil {
			return fmt.Errorf("data %d offset: %w", i, err)
		}
		n, err := r.U32()
		if err != nil {
			return err
		}
		if seg.Init, err = r.Bytes(int(n)); err != nil {
			return err
		}
		m.Data = append(m.Data, seg)
	}
	return nil
}
