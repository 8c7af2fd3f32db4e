package canon

import (
	"strings"

	"go.bytecodealliance.org/wit"
)

// WITName renders t in WIT syntax. Named type definitions use their name.
func WITName(t wit.Type) string {
	switch typ := t.(type) {
	case nil:
		return "_"
	case wit.Bool:
		return "bool"
	case wit.S8:
		return "s8"
	case wit.U8:
		return "u8"
	case wit.S16:
		return "s16"
	case wit.U16:
		return "u16"
	case wit.S32:
		return "s32"
	case wit.U32:
		return "u32"
	case wit.S64:
		return "s64"
	case wit.U64:
		return "u64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if typ.Name != nil {
			return *typ.Name
		}
		return typeDefName(typ)
	}
	return "unknown"
}

func typeDefName(t *wit.TypeDef) string {
	switch kind := t.Kind.(type) {
	case *wit.List:
		return "list<" + WITName(kind.Type) + ">"
	case *wit.Option:
		return "option<" + WITName(kind.Type) + ">"
	case *wit.Result:
		return "result<" + WITName(kind.OK) + ", " + WITName(kind.Err) + ">"
	case *wit.Tuple:
		names := make([]string, len(kind.Types))
		for i, typ := range kind.Types {
			names[i] = WITName(typ)
		}
		return "tuple<" + strings.Join(names, ", ") + ">"
	case *wit.Record:
		return "record"
	case *wit.Variant:
		return "variant"
	case *wit.Enum:
		return "enum"
	case *wit.Flags:
		return "flags"
	case *wit.Own:
		return "own"
	case *wit.Borrow:
		return "borrow"
	case wit.Type:
		return WITName(kind)
	}
	return "unknown"
}
