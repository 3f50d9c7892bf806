package wasm

import (
	"github.com/wasmdiff/harness/wasm/internal/binary"
)

// Encode serializes the module into WebAssembly binary format.
// Sections are emitted in canonical order; empty sections are omitted.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.U32LE(Magic)
	w.U32LE(Version)

	if len(m.Types) > 0 {
		s := binary.NewWriter()
		s.U32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			writeFuncType(s, ft)
		}
		writeSection(w, SectionType, s.Bytes())
	}

	if len(m.Imports) > 0 {
		s := binary.NewWriter()
		s.U32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			s.Name(imp.Module)
			s.Name(imp.Name)
			s.Byte(imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				s.U32(imp.Desc.TypeIdx)
			case KindTable:
				writeTableType(s, *imp.Desc.Table)
			case KindMemory:
				writeLimits(s, imp.Desc.Memory.Limits)
			case KindGlobal:
				writeGlobalType(s, *imp.Desc.Global)
			}
		}
		writeSection(w, SectionImport, s.Bytes())
	}

	if len(m.Funcs) > 0 {
		s := binary.NewWriter()
		s.U32(uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			s.U32(typeIdx)
		}
		writeSection(w, SectionFunction, s.Bytes())
	}

	if len(m.Tables) > 0 {
		s := binary.NewWriter()
		s.U32(uint32(len(m.Tables)))
		for _, t := range m.Tables {
			writeTableType(s, t)
		}
		writeSection(w, SectionTable, s.Bytes())
	}

	if len(m.Memories) > 0 {
		s := binary.NewWriter()
		s.U32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeLimits(s, mem.Limits)
		}
		writeSection(w, SectionMemory, s.Bytes())
	}

	if len(m.Globals) > 0 {
		s := binary.NewWriter()
		s.U32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			writeGlobalType(s, g.Type)
			s.WriteBytes(g.Init)
		}
		writeSection(w, SectionGlobal, s.Bytes())
	}

	if len(m.Exports) > 0 {
		s := binary.NewWriter()
		s.U32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			s.Name(exp.Name)
			s.Byte(exp.Kind)
			s.U32(exp.Idx)
		}
		writeSection(w, SectionExport, s.Bytes())
	}

	if m.Start != nil {
		s := binary.NewWriter()
		s.U32(*m.Start)
		writeSection(w, SectionStart, s.Bytes())
	}

	if len(m.Elements) > 0 {
		s := binary.NewWriter()
		s.U32(uint32(len(m.Elements)))
		for _, el := range m.Elements {
			s.U32(0) // flags: active, table 0
			s.WriteBytes(el.Offset)
			s.U32(uint32(len(el.FuncIdxs)))
			for _, idx := range el.FuncIdxs {
				s.U32(idx)
			}
		}
		writeSection(w, SectionElement, s.Bytes())
	}

	if m.DataCount != nil {
		s := binary.NewWriter()
		s.U32(*m.DataCount)
		writeSection(w, SectionDataCount, s.Bytes())
	}

	if len(m.Code) > 0 {
		s := binary.NewWriter()
		s.U32(uint32(len(m.Code)))
		for _, body := range m.Code {
			b := binary.NewWriter()
			b.U32(uint32(len(body.Locals)))
			for _, l := range body.Locals {
				b.U32(l.Count)
				b.Byte(byte(l.ValType))
			}
			b.WriteBytes(body.Code)
			s.U32(uint32(b.Len()))
			s.WriteBytes(b.Bytes())
		}
		writeSection(w, SectionCode, s.Bytes())
	}

	if len(m.Data) > 0 {
		s := binary.NewWriter()
		s.U32(uint32(len(m.Data)))
		for _, seg := range m.Data {
			if seg.MemIdx != 0 {
				s.U32(2)
				s.U32(seg.MemIdx)
			} else {
				s.U32(0)
			}
			s.WriteBytes(seg.Offset)
			s.U32(uint32(len(seg.Init)))
			s.WriteBytes(seg.Init)
		}
		writeSection(w, SectionData, s.Bytes())
	}

	for _, cs := range m.CustomSections {
		s := binary.NewWriter()
		s.Name(cs.Name)
		s.WriteBytes(cs.Data)
		writeSection(w, SectionCustom, s.Bytes())
	}

	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.U32(uint32(len(data)))
	w.WriteBytes(data)
}

func writeFuncType(w *binary.Writer, ft FuncType) {
	w.Byte(FuncTypeByte)
	w.U32(uint32(len(ft.Params)))
	for _, p := range ft.Params {
		w.Byte(byte(p))
	}
	w.U32(uint32(len(ft.Results)))
	for _, r := range ft.Results {
		w.Byte(byte(r))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	if l.Max != nil {
		w.Byte(1)
		w.U32(l.Min)
		w.U32(*l.Max)
	} else {
		w.Byte(0)
		w.U32(l.Min)
	}
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(byte(t.ElemType))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}
