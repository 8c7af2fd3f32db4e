package encoder

import (
	"github.com/wippyai/wasm-async/wat/internal/ast"
)

var header = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

// Encode writes m as a binary module. Empty sections are omitted.
func Encode(m *ast.Module) []byte {
	buf := &Buffer{}
	buf.WriteBytes(header)

	if len(m.Types) > 0 {
		section(buf, ast.SectionType, len(m.Types), func(sec *Buffer, i int) {
			ft := m.Types[i]
			sec.AppendByte(ast.FuncTypeMarker)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		})
	}
	if len(m.Imports) > 0 {
		section(buf, ast.SectionImport, len(m.Imports), func(sec *Buffer, i int) {
			imp := m.Imports[i]
			sec.WriteString(imp.Module)
			sec.WriteString(imp.Name)
			sec.AppendByte(imp.Kind)
			if imp.Kind == ast.KindMemory {
				sec.WriteLimits(*imp.Mem)
			} else {
				sec.WriteU32(imp.TypeIdx)
			}
		})
	}
	if len(m.Funcs) > 0 {
		section(buf, ast.SectionFunc, len(m.Funcs), func(sec *Buffer, i int) {
			sec.WriteU32(m.Funcs[i])
		})
	}
	if len(m.Memories) > 0 {
		section(buf, ast.SectionMemory, len(m.Memories), func(sec *Buffer, i int) {
			sec.WriteLimits(m.Memories[i])
		})
	}
	if len(m.Exports) > 0 {
		section(buf, ast.SectionExport, len(m.Exports), func(sec *Buffer, i int) {
			e := m.Exports[i]
			sec.WriteString(e.Name)
			sec.AppendByte(e.Kind)
			sec.WriteU32(e.Idx)
		})
	}
	if len(m.Code) > 0 {
		section(buf, ast.SectionCode, len(m.Code), func(sec *Buffer, i int) {
			body := encodeBody(m.Code[i])
			sec.WriteU32(uint32(len(body.Bytes)))
			sec.WriteBytes(body.Bytes)
		})
	}
	if len(m.Data) > 0 {
		section(buf, ast.SectionData, len(m.Data), func(sec *Buffer, i int) {
			d := m.Data[i]
			sec.AppendByte(0x00) // active, memory 0
			encodeExpr(sec, d.Offset)
			sec.WriteU32(uint32(len(d.Init)))
			sec.WriteBytes(d.Init)
		})
	}
	return buf.Bytes
}

// section writes a vector section of n entries produced by entry.
func section(buf *Buffer, id byte, n int, entry func(sec *Buffer, i int)) {
	sec := &Buffer{}
	sec.WriteU32(uint32(n))
	for i := range n {
		entry(sec, i)
	}
	buf.AppendByte(id)
	buf.WriteU32(uint32(len(sec.Bytes)))
	buf.WriteBytes(sec.Bytes)
}

func writeValTypes(buf *Buffer, types []ast.ValType) {
	buf.WriteU32(uint32(len(types)))
	for _, t := range types {
		buf.AppendByte(byte(t))
	}
}

func encodeBody(fb ast.FuncBody) *Buffer {
	body := &Buffer{}

	// runs of equal local types share one entry
	type run struct {
		vt    ast.ValType
		count uint32
	}
	var runs []run
	for _, l := range fb.Locals {
		if n := len(runs); n > 0 && runs[n-1].vt == l {
			runs[n-1].count++
			continue
		}
		runs = append(runs, run{vt: l, count: 1})
	}
	body.WriteU32(uint32(len(runs)))
	for _, r := range runs {
		body.WriteU32(r.count)
		body.AppendByte(byte(r.vt))
	}

	encodeExpr(body, fb.Code)
	return body
}

func encodeExpr(buf *Buffer, code []ast.Instr) {
	for _, ins := range code {
		EncodeInstr(buf, ins)
	}
}

// EncodeInstr writes the opcode followed by its immediate, if any.
func EncodeInstr(buf *Buffer, ins ast.Instr) {
	buf.AppendByte(ins.Opcode)
	switch imm := ins.Imm.(type) {
	case uint32:
		buf.WriteU32(imm)
	case int32:
		buf.WriteI64(int64(imm))
	case int64:
		buf.WriteI64(imm)
	case ast.Memarg:
		buf.WriteU32(imm.Align)
		buf.WriteU32(imm.Offset)
	}
}
