package canon

import (
	"math"
	"unicode/utf8"

	wasmasync "github.com/wippyai/wasm-async"
	"github.com/wippyai/wasm-async/errors"
	"go.bytecodealliance.org/wit"
)

// Safety limits to prevent memory exhaustion from hostile lengths.
const (
	MaxStringSize = 1 << 30
	MaxListLength = 1 << 27
)

// StringEncoding is the string encoding canonical option.
type StringEncoding byte

const (
	StringEncodingUTF8 StringEncoding = iota
	StringEncodingUTF16
	StringEncodingLatin1
)

// Options holds the canonical options of one side of a copy: the memory
// values live in, the allocator used for strings and lists, and the string
// encoding.
type Options struct {
	Memory   wasmasync.LinearMemory
	Realloc  wasmasync.Allocator
	Encoding StringEncoding
}

// Lifter reads values out of linear memory.
type Lifter interface {
	Load(t wit.Type, opts *Options, addr uint32) (any, error)
	LoadList(t wit.Type, opts *Options, addr, count uint32) ([]any, error)
}

// Lowerer writes values into linear memory.
type Lowerer interface {
	Store(t wit.Type, opts *Options, addr uint32, v any) error
	StoreList(t wit.Type, opts *Options, addr uint32, values []any) error
}

// ValueCodec is the Lift/Lower capability consumed by the copy engine.
type ValueCodec interface {
	Lifter
	Lowerer
}

// Codec is the default ValueCodec.
type Codec struct {
	calc *Calculator
}

func NewCodec(calc *Calculator) *Codec {
	if calc == nil {
		calc = NewCalculator()
	}
	return &Codec{calc: calc}
}

// LoadList loads count consecutive elements starting at addr.
func (c *Codec) LoadList(t wit.Type, opts *Options, addr, count uint32) ([]any, error) {
	size := c.calc.Calculate(t).Size
	out := make([]any, count)
	for i := uint32(0); i < count; i++ {
		v, err := c.Load(t, opts, addr+i*size)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// StoreList stores values consecutively starting at addr.
func (c *Codec) StoreList(t wit.Type, opts *Options, addr uint32, values []any) error {
	size := c.calc.Calculate(t).Size
	for i, v := range values {
		if err := c.Store(t, opts, addr+uint32(i)*size, v); err != nil {
			return err
		}
	}
	return nil
}

// Load reads one value of type t from addr.
func (c *Codec) Load(t wit.Type, opts *Options, addr uint32) (any, error) {
	mem := opts.Memory
	switch typ := t.(type) {
	case wit.Bool:
		v, err := mem.ReadU8(addr)
		if err != nil {
			return nil, err
		}
		return v != 0, nil

	case wit.U8:
		return mem.ReadU8(addr)

	case wit.S8:
		v, err := mem.ReadU8(addr)
		return int8(v), err

	case wit.U16:
		return mem.ReadU16(addr)

	case wit.S16:
		v, err := mem.ReadU16(addr)
		return int16(v), err

	case wit.U32:
		return mem.ReadU32(addr)

	case wit.S32:
		v, err := mem.ReadU32(addr)
		return int32(v), err

	case wit.U64:
		return mem.ReadU64(addr)

	case wit.S64:
		v, err := mem.ReadU64(addr)
		return int64(v), err

	case wit.F32:
		bits, err := mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		// NaN payloads are kept so element copies match a flat copy
		return math.Float32frombits(bits), nil

	case wit.F64:
		bits, err := mem.ReadU64(addr)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(bits), nil

	case wit.Char:
		v, err := mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		r := rune(v)
		if !validChar(r) {
			return nil, errors.InvalidData(errors.PhaseCopy, "invalid Unicode scalar value")
		}
		return r, nil

	case wit.String:
		ptr, err := mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		length, err := mem.ReadU32(addr + 4)
		if err != nil {
			return nil, err
		}
		return c.LoadString(opts, ptr, length)

	case *wit.TypeDef:
		return c.loadTypeDef(typ, opts, addr)
	}

	return nil, errors.Unsupported(errors.PhaseCopy, "WIT type for load")
}

func (c *Codec) loadTypeDef(t *wit.TypeDef, opts *Options, addr uint32) (any, error) {
	mem := opts.Memory
	switch kind := t.Kind.(type) {
	case *wit.Record:
		result := make(map[string]any, len(kind.Fields))
		offset := uint32(0)
		for _, field := range kind.Fields {
			l := c.calc.Calculate(field.Type)
			offset = AlignTo(offset, l.Align)
			v, err := c.Load(field.Type, opts, addr+offset)
			if err != nil {
				return nil, err
			}
			result[field.Name] = v
			offset += l.Size
		}
		return result, nil

	case *wit.Tuple:
		result := make([]any, len(kind.Types))
		offset := uint32(0)
		for i, et := range kind.Types {
			l := c.calc.Calculate(et)
			offset = AlignTo(offset, l.Align)
			v, err := c.Load(et, opts, addr+offset)
			if err != nil {
				return nil, err
			}
			result[i] = v
			offset += l.Size
		}
		return result, nil

	case *wit.List:
		ptr, err := mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		length, err := mem.ReadU32(addr + 4)
		if err != nil {
			return nil, err
		}
		if length > MaxListLength {
			return nil, errors.InvalidData(errors.PhaseCopy, "list length exceeds maximum")
		}
		return c.LoadList(kind.Type, opts, ptr, length)

	case *wit.Option:
		disc, err := mem.ReadU8(addr)
		if err != nil {
			return nil, err
		}
		if disc == 0 {
			return nil, nil
		}
		return c.Load(kind.Type, opts, addr+AlignTo(1, c.calc.Calculate(t).Align))

	case *wit.Result:
		disc, err := mem.ReadU8(addr)
		if err != nil {
			return nil, err
		}
		payload := addr + AlignTo(1, c.calc.Calculate(t).Align)
		key, typ := "ok", kind.OK
		if disc != 0 {
			key, typ = "err", kind.Err
		}
		if typ == nil {
			return map[string]any{key: nil}, nil
		}
		v, err := c.Load(typ, opts, payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{key: v}, nil

	case *wit.Variant:
		discSize := DiscriminantSize(len(kind.Cases))
		disc, err := readDisc(mem, addr, discSize)
		if err != nil {
			return nil, err
		}
		if disc >= uint32(len(kind.Cases)) {
			return nil, errors.InvalidData(errors.PhaseCopy, "variant discriminant out of range")
		}
		cs := kind.Cases[disc]
		if cs.Type == nil {
			return map[string]any{cs.Name: nil}, nil
		}
		v, err := c.Load(cs.Type, opts, addr+AlignTo(discSize, c.calc.Calculate(t).Align))
		if err != nil {
			return nil, err
		}
		return map[string]any{cs.Name: v}, nil

	case *wit.Enum:
		disc, err := readDisc(mem, addr, DiscriminantSize(len(kind.Cases)))
		if err != nil {
			return nil, err
		}
		if disc >= uint32(len(kind.Cases)) {
			return nil, errors.InvalidData(errors.PhaseCopy, "enum discriminant out of range")
		}
		return disc, nil

	case *wit.Flags:
		switch flagsInfo(len(kind.Flags)).Size {
		case 0:
			return uint64(0), nil
		case 1:
			v, err := mem.ReadU8(addr)
			return uint64(v), err
		case 2:
			v, err := mem.ReadU16(addr)
			return uint64(v), err
		case 4:
			v, err := mem.ReadU32(addr)
			return uint64(v), err
		case 8:
			return mem.ReadU64(addr)
		}
		return nil, errors.Unsupported(errors.PhaseCopy, "flags with more than 64 members")

	case wit.Type:
		return c.Load(kind, opts, addr)
	}

	return nil, errors.Unsupported(errors.PhaseCopy, "TypeDef kind for load")
}

// LoadString reads a string of length code units at ptr.
func (c *Codec) LoadString(opts *Options, ptr, length uint32) (string, error) {
	if opts.Encoding != StringEncodingUTF8 {
		return "", errors.Unsupported(errors.PhaseCopy, "only UTF-8 string encoding is supported")
	}
	if length > MaxStringSize {
		return "", errors.InvalidData(errors.PhaseCopy, "string length exceeds maximum")
	}
	if length == 0 {
		return "", nil
	}
	data, err := opts.Memory.Read(ptr, length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.InvalidData(errors.PhaseCopy, "invalid UTF-8 string")
	}
	return string(data), nil
}

// StoreString allocates space for s through opts.Realloc and copies it in.
func (c *Codec) StoreString(opts *Options, s string) (ptr, length uint32, err error) {
	if opts.Encoding != StringEncodingUTF8 {
		return 0, 0, errors.Unsupported(errors.PhaseCopy, "only UTF-8 string encoding is supported")
	}
	if len(s) == 0 {
		return 0, 0, nil
	}
	if len(s) > MaxStringSize {
		return 0, 0, errors.InvalidData(errors.PhaseCopy, "string length exceeds maximum")
	}
	if opts.Realloc == nil {
		return 0, 0, errors.New(errors.PhaseCopy, errors.KindAllocation).
			Detail("string lowering requires realloc").
			Build()
	}
	ptr, err = opts.Realloc.Alloc(uint32(len(s)), 1)
	if err != nil {
		return 0, 0, errors.Wrap(errors.PhaseCopy, errors.KindAllocation, err, "allocate string")
	}
	if err := opts.Memory.Write(ptr, []byte(s)); err != nil {
		return 0, 0, err
	}
	return ptr, uint32(len(s)), nil
}

// Store writes v as a value of type t at addr.
func (c *Codec) Store(t wit.Type, opts *Options, addr uint32, v any) error {
	mem := opts.Memory
	switch typ := t.(type) {
	case wit.Bool:
		b, ok := v.(bool)
		if !ok {
			return mismatch("bool", v)
		}
		var u uint8
		if b {
			u = 1
		}
		return mem.WriteU8(addr, u)

	case wit.U8, wit.S8:
		n, ok := toUint64(v)
		if !ok {
			return mismatch("8-bit integer", v)
		}
		return mem.WriteU8(addr, uint8(n))

	case wit.U16, wit.S16:
		n, ok := toUint64(v)
		if !ok {
			return mismatch("16-bit integer", v)
		}
		return mem.WriteU16(addr, uint16(n))

	case wit.U32, wit.S32:
		n, ok := toUint64(v)
		if !ok {
			return mismatch("32-bit integer", v)
		}
		return mem.WriteU32(addr, uint32(n))

	case wit.U64, wit.S64:
		n, ok := toUint64(v)
		if !ok {
			return mismatch("64-bit integer", v)
		}
		return mem.WriteU64(addr, n)

	case wit.F32:
		if f, ok := v.(float32); ok {
			return mem.WriteU32(addr, math.Float32bits(f))
		}
		f, ok := toFloat64(v)
		if !ok {
			return mismatch("f32", v)
		}
		return mem.WriteU32(addr, math.Float32bits(float32(f)))

	case wit.F64:
		f, ok := toFloat64(v)
		if !ok {
			return mismatch("f64", v)
		}
		return mem.WriteU64(addr, math.Float64bits(f))

	case wit.Char:
		r, ok := v.(rune)
		if !ok || !validChar(r) {
			return mismatch("char", v)
		}
		return mem.WriteU32(addr, uint32(r))

	case wit.String:
		s, ok := v.(string)
		if !ok {
			return mismatch("string", v)
		}
		ptr, length, err := c.StoreString(opts, s)
		if err != nil {
			return err
		}
		if err := mem.WriteU32(addr, ptr); err != nil {
			return err
		}
		return mem.WriteU32(addr+4, length)

	case *wit.TypeDef:
		return c.storeTypeDef(typ, opts, addr, v)
	}

	return errors.Unsupported(errors.PhaseCopy, "WIT type for store")
}

func (c *Codec) storeTypeDef(t *wit.TypeDef, opts *Options, addr uint32, v any) error {
	mem := opts.Memory
	switch kind := t.Kind.(type) {
	case *wit.Record:
		fields, ok := v.(map[string]any)
		if !ok {
			return mismatch("record", v)
		}
		offset := uint32(0)
		for _, field := range kind.Fields {
			l := c.calc.Calculate(field.Type)
			offset = AlignTo(offset, l.Align)
			fv, ok := fields[field.Name]
			if !ok {
				return errors.InvalidData(errors.PhaseCopy, "record field "+field.Name+" missing")
			}
			if err := c.Store(field.Type, opts, addr+offset, fv); err != nil {
				return err
			}
			offset += l.Size
		}
		return nil

	case *wit.Tuple:
		elems, ok := v.([]any)
		if !ok || len(elems) != len(kind.Types) {
			return mismatch("tuple", v)
		}
		offset := uint32(0)
		for i, et := range kind.Types {
			l := c.calc.Calculate(et)
			offset = AlignTo(offset, l.Align)
			if err := c.Store(et, opts, addr+offset, elems[i]); err != nil {
				return err
			}
			offset += l.Size
		}
		return nil

	case *wit.List:
		elems, ok := v.([]any)
		if !ok {
			return mismatch("list", v)
		}
		var ptr uint32
		if len(elems) > 0 {
			if opts.Realloc == nil {
				return errors.New(errors.PhaseCopy, errors.KindAllocation).
					Detail("list lowering requires realloc").
					Build()
			}
			l := c.calc.Calculate(kind.Type)
			var err error
			ptr, err = opts.Realloc.Alloc(l.Size*uint32(len(elems)), l.Align)
			if err != nil {
				return errors.Wrap(errors.PhaseCopy, errors.KindAllocation, err, "allocate list")
			}
			if err := c.StoreList(kind.Type, opts, ptr, elems); err != nil {
				return err
			}
		}
		if err := mem.WriteU32(addr, ptr); err != nil {
			return err
		}
		return mem.WriteU32(addr+4, uint32(len(elems)))

	case *wit.Option:
		if v == nil {
			return mem.WriteU8(addr, 0)
		}
		if err := mem.WriteU8(addr, 1); err != nil {
			return err
		}
		return c.Store(kind.Type, opts, addr+AlignTo(1, c.calc.Calculate(t).Align), v)

	case *wit.Result:
		m, ok := v.(map[string]any)
		if !ok || len(m) != 1 {
			return mismatch("result", v)
		}
		payload := addr + AlignTo(1, c.calc.Calculate(t).Align)
		if okv, isOK := m["ok"]; isOK {
			if err := mem.WriteU8(addr, 0); err != nil {
				return err
			}
			if kind.OK == nil {
				return nil
			}
			return c.Store(kind.OK, opts, payload, okv)
		}
		errv, isErr := m["err"]
		if !isErr {
			return mismatch("result", v)
		}
		if err := mem.WriteU8(addr, 1); err != nil {
			return err
		}
		if kind.Err == nil {
			return nil
		}
		return c.Store(kind.Err, opts, payload, errv)

	case *wit.Variant:
		m, ok := v.(map[string]any)
		if !ok || len(m) != 1 {
			return mismatch("variant", v)
		}
		discSize := DiscriminantSize(len(kind.Cases))
		for i, cs := range kind.Cases {
			pv, present := m[cs.Name]
			if !present {
				continue
			}
			if err := writeDisc(mem, addr, discSize, uint32(i)); err != nil {
				return err
			}
			if cs.Type == nil {
				return nil
			}
			return c.Store(cs.Type, opts, addr+AlignTo(discSize, c.calc.Calculate(t).Align), pv)
		}
		return errors.InvalidData(errors.PhaseCopy, "unknown variant case")

	case *wit.Enum:
		n, ok := toUint64(v)
		if !ok || n >= uint64(len(kind.Cases)) {
			return mismatch("enum", v)
		}
		return writeDisc(mem, addr, DiscriminantSize(len(kind.Cases)), uint32(n))

	case *wit.Flags:
		n, ok := toUint64(v)
		if !ok {
			return mismatch("flags", v)
		}
		switch flagsInfo(len(kind.Flags)).Size {
		case 0:
			return nil
		case 1:
			return mem.WriteU8(addr, uint8(n))
		case 2:
			return mem.WriteU16(addr, uint16(n))
		case 4:
			return mem.WriteU32(addr, uint32(n))
		case 8:
			return mem.WriteU64(addr, n)
		}
		return errors.Unsupported(errors.PhaseCopy, "flags with more than 64 members")

	case wit.Type:
		return c.Store(kind, opts, addr, v)
	}

	return errors.Unsupported(errors.PhaseCopy, "TypeDef kind for store")
}

func readDisc(mem wasmasync.Memory, addr, size uint32) (uint32, error) {
	switch size {
	case 1:
		v, err := mem.ReadU8(addr)
		return uint32(v), err
	case 2:
		v, err := mem.ReadU16(addr)
		return uint32(v), err
	default:
		return mem.ReadU32(addr)
	}
}

func writeDisc(mem wasmasync.Memory, addr, size, disc uint32) error {
	switch size {
	case 1:
		return mem.WriteU8(addr, uint8(disc))
	case 2:
		return mem.WriteU16(addr, uint16(disc))
	default:
		return mem.WriteU32(addr, disc)
	}
}

func validChar(r rune) bool {
	if r >= 0xD800 && r <= 0xDFFF {
		return false
	}
	return r >= 0 && r < 0x110000
}

func mismatch(want string, v any) error {
	return errors.TypeMismatch(errors.PhaseCopy, want, TypeName(v))
}
