package canon

import (
	"sync"

	"go.bytecodealliance.org/wit"
)

// Info is the memory layout of a type.
type Info struct {
	Size  uint32
	Align uint32
}

// AlignTo rounds offset up to a multiple of align.
func AlignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// DiscriminantSize returns the byte width of a discriminant for n cases.
func DiscriminantSize(n int) uint32 {
	switch {
	case n <= 1<<8:
		return 1
	case n <= 1<<16:
		return 2
	default:
		return 4
	}
}

// Calculator computes layouts and caches them per type definition.
type Calculator struct {
	cache map[*wit.TypeDef]Info
	mu    sync.RWMutex
}

func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[*wit.TypeDef]Info),
	}
}

func (c *Calculator) Calculate(t wit.Type) Info {
	switch typ := t.(type) {
	case wit.U8, wit.S8, wit.Bool:
		return Info{Size: 1, Align: 1}
	case wit.U16, wit.S16:
		return Info{Size: 2, Align: 2}
	case wit.U32, wit.S32, wit.F32, wit.Char:
		return Info{Size: 4, Align: 4}
	case wit.U64, wit.S64, wit.F64:
		return Info{Size: 8, Align: 8}
	case wit.String:
		return Info{Size: 8, Align: 4}
	case *wit.TypeDef:
		return c.calculateTypeDef(typ)
	default:
		return Info{Size: 0, Align: 1}
	}
}

func (c *Calculator) calculateTypeDef(t *wit.TypeDef) Info {
	c.mu.RLock()
	cached, ok := c.cache[t]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	var info Info

	switch kind := t.Kind.(type) {
	case *wit.Record:
		types := make([]wit.Type, len(kind.Fields))
		for i, f := range kind.Fields {
			types[i] = f.Type
		}
		info = c.sequence(types)
	case *wit.Tuple:
		info = c.sequence(kind.Types)
	case *wit.Variant:
		types := make([]wit.Type, len(kind.Cases))
		for i, cs := range kind.Cases {
			types[i] = cs.Type
		}
		info = c.tagged(DiscriminantSize(len(kind.Cases)), types)
	case *wit.Enum:
		size := DiscriminantSize(len(kind.Cases))
		info = Info{Size: size, Align: size}
	case *wit.Option:
		info = c.tagged(1, []wit.Type{kind.Type})
	case *wit.Result:
		info = c.tagged(1, []wit.Type{kind.OK, kind.Err})
	case *wit.Flags:
		info = flagsInfo(len(kind.Flags))
	case *wit.List:
		info = Info{Size: 8, Align: 4}
	case *wit.Own, *wit.Borrow:
		info = Info{Size: 4, Align: 4}
	case wit.Type:
		info = c.Calculate(kind)
	default:
		info = Info{Size: 0, Align: 1}
	}

	c.mu.Lock()
	c.cache[t] = info
	c.mu.Unlock()
	return info
}

func (c *Calculator) sequence(types []wit.Type) Info {
	if len(types) == 0 {
		return Info{Size: 0, Align: 1}
	}

	maxAlign := uint32(1)
	offset := uint32(0)
	for _, typ := range types {
		l := c.Calculate(typ)
		offset = AlignTo(offset, l.Align)
		if l.Align > maxAlign {
			maxAlign = l.Align
		}
		offset += l.Size
	}

	return Info{Size: AlignTo(offset, maxAlign), Align: maxAlign}
}

// tagged lays out a discriminant followed by the largest payload. Nil
// payload types occupy no space.
func (c *Calculator) tagged(discSize uint32, payloads []wit.Type) Info {
	maxAlign := discSize
	maxSize := uint32(0)
	for _, p := range payloads {
		if p == nil {
			continue
		}
		l := c.Calculate(p)
		if l.Align > maxAlign {
			maxAlign = l.Align
		}
		if l.Size > maxSize {
			maxSize = l.Size
		}
	}

	payloadOffset := AlignTo(discSize, maxAlign)
	return Info{Size: AlignTo(payloadOffset+maxSize, maxAlign), Align: maxAlign}
}

func flagsInfo(n int) Info {
	switch {
	case n == 0:
		return Info{Size: 0, Align: 1}
	case n <= 8:
		return Info{Size: 1, Align: 1}
	case n <= 16:
		return Info{Size: 2, Align: 2}
	case n <= 32:
		return Info{Size: 4, Align: 4}
	case n <= 64:
		return Info{Size: 8, Align: 8}
	}
	return Info{Size: uint32((n + 31) / 32 * 4), Align: 4}
}
