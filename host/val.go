package host

import (
	"reflect"

	"github.com/wippyai/wasm-async/canon"
	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/waitable"
)

// Val is the dynamic form of a stream, future or error-context end, used
// on dynamically typed call paths.
type Val struct {
	Kind waitable.Kind
	Rep  uint32
	// Writer marks the write end of a stream or future.
	Writer bool
}

// IntoVal converts a payload value into the dynamic representation used by
// the canon codec.
func IntoVal[T any](v T) any {
	return v
}

// FromVal converts a dynamic payload value back into T. Numeric values are
// converted between Go numeric types of the same family.
func FromVal[T any](v any) (T, error) {
	if tv, ok := v.(T); ok {
		return tv, nil
	}

	var zero T
	want := reflect.TypeFor[T]()
	// unit payloads arrive as nil
	if v == nil && want.Kind() == reflect.Struct && want.NumField() == 0 {
		return zero, nil
	}
	if v != nil {
		rv := reflect.ValueOf(v)
		if sameFamily(rv.Kind(), want.Kind()) && rv.CanConvert(want) {
			return rv.Convert(want).Interface().(T), nil
		}
	}
	return zero, errors.TypeMismatch(errors.PhaseHost, want.String(), canon.TypeName(v))
}

func sameFamily(a, b reflect.Kind) bool {
	return family(a) != 0 && family(a) == family(b)
}

func family(k reflect.Kind) int {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return 1
	case reflect.Float32, reflect.Float64:
		return 2
	case reflect.String:
		return 3
	case reflect.Bool:
		return 4
	}
	return 0
}

func checkVal(v Val, kind waitable.Kind, writer bool) error {
	if v.Kind != kind || v.Writer != writer {
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).Rep(v.Rep).
			Detail("transmit type mismatch: value is not a %s %s end", kind, endName(writer)).Build()
	}
	return nil
}

func endName(writer bool) string {
	if writer {
		return "write"
	}
	return "read"
}
