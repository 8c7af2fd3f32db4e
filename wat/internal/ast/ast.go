package ast

type ValType byte

const (
	ValTypeI32 ValType = 0x7F
	ValTypeI64 ValType = 0x7E
	ValTypeF32 ValType = 0x7D
	ValTypeF64 ValType = 0x7C
)

const (
	KindFunc   byte = 0
	KindMemory byte = 2
)

const (
	SectionType   byte = 1
	SectionImport byte = 2
	SectionFunc   byte = 3
	SectionMemory byte = 5
	SectionExport byte = 7
	SectionCode   byte = 10
	SectionData   byte = 11
)

const (
	FuncTypeMarker byte = 0x60
	OpEnd          byte = 0x0B
	OpCall         byte = 0x10
	OpI32Const     byte = 0x41
	OpI64Const     byte = 0x42
)

type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32
	Memories []Limits
	Exports  []Export
	Code     []FuncBody
	Data     []DataSegment
}

type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (ft FuncType) Equal(other FuncType) bool {
	return equalTypes(ft.Params, other.Params) && equalTypes(ft.Results, other.Results)
}

func equalTypes(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Import is a function (Kind 0, TypeIdx set) or memory (Kind 2, Mem set) import.
type Import struct {
	Mem     *Limits
	Module  string
	Name    string
	TypeIdx uint32
	Kind    byte
}

type Limits struct {
	Max *uint32
	Min uint32
}

type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

type FuncBody struct {
	Locals []ValType
	Code   []Instr
}

type DataSegment struct {
	Offset []Instr
	Init   []byte
}

// Instr is one instruction. Imm is nil, uint32, int32, int64 or Memarg.
type Instr struct {
	Imm    any
	Opcode byte
}

type Memarg struct {
	Align  uint32
	Offset uint32
}
