package host

import (
	"reflect"

	"github.com/wippyai/wasm-async/canon"
	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/transport"
	"go.bytecodealliance.org/wit"
)

var (
	mapAny   = reflect.TypeFor[map[string]any]()
	sliceAny = reflect.TypeFor[[]any]()
	runeType = reflect.TypeFor[rune]()
)

// checkElem reports a type_mismatch unless Go values of type t can carry
// payloads of WIT type elem through the canon codec. Interface types carry
// anything.
func checkElem(t reflect.Type, elem wit.Type) error {
	if t.Kind() == reflect.Interface || elemFits(t, elem) {
		return nil
	}
	return errors.TypeMismatch(errors.PhaseHost, canon.WITName(elem), t.String())
}

func elemFits(t reflect.Type, elem wit.Type) bool {
	// the codec stores predeclared types only, not named ones
	builtin := t.PkgPath() == ""
	switch e := elem.(type) {
	case nil:
		return t.Kind() == reflect.Struct && t.NumField() == 0
	case wit.Bool:
		return builtin && t.Kind() == reflect.Bool
	case wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.U64, wit.S64:
		return builtin && family(t.Kind()) == 1
	case wit.F32, wit.F64:
		return builtin && family(t.Kind()) == 2
	case wit.Char:
		return t == runeType
	case wit.String:
		return builtin && t.Kind() == reflect.String
	case *wit.TypeDef:
		switch k := e.Kind.(type) {
		case *wit.Record, *wit.Variant, *wit.Result:
			return t == mapAny
		case *wit.Tuple, *wit.List:
			return t == sliceAny
		case *wit.Enum, *wit.Flags:
			return builtin && family(t.Kind()) == 1
		case wit.Type:
			return elemFits(t, k)
		}
	}
	// options and handles need an interface type
	return false
}

// bind checks T against the payload of rep and records it as the host type.
func bind[T any](store *transport.Store, rep uint32) error {
	_, elem, err := store.Payload(rep)
	if err != nil {
		return err
	}
	t := reflect.TypeFor[T]()
	if err := checkElem(t, elem); err != nil {
		return err
	}
	return store.CheckHostType(rep, t)
}
