package canon

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"go.bytecodealliance.org/wit"
)

// DefaultFlatCacheSize bounds the number of payload types whose flat
// element info is remembered.
const DefaultFlatCacheSize = 256

// FlatInfo describes a payload type whose values can be copied with memcpy.
type FlatInfo struct {
	Size  uint32
	Align uint32
	Flat  bool
}

// FlatTable answers FlatElementInfo queries and caches the result per type.
type FlatTable struct {
	calc  *Calculator
	cache *lru.Cache[wit.Type, FlatInfo]
}

// NewFlatTable creates a table caching up to size entries.
func NewFlatTable(calc *Calculator, size int) (*FlatTable, error) {
	if size <= 0 {
		size = DefaultFlatCacheSize
	}
	cache, err := lru.New[wit.Type, FlatInfo](size)
	if err != nil {
		return nil, err
	}
	return &FlatTable{calc: calc, cache: cache}, nil
}

// FlatElementInfo reports whether elements of t can be copied byte for byte,
// along with their size and alignment. A nil type (unit payload) is flat
// with size zero.
//
// A type is flat only when lifting and lowering it reproduces every bit
// pattern. bool, char and enum are not: lifting normalizes or validates
// them.
func (f *FlatTable) FlatElementInfo(t wit.Type) FlatInfo {
	if t == nil {
		return FlatInfo{Size: 0, Align: 1, Flat: true}
	}
	if info, ok := f.cache.Get(t); ok {
		return info
	}

	info := FlatInfo{Flat: isFlat(t)}
	if info.Flat {
		l := f.calc.Calculate(t)
		info.Size = l.Size
		info.Align = l.Align
	}
	f.cache.Add(t, info)
	return info
}

// Len returns the number of cached entries.
func (f *FlatTable) Len() int {
	return f.cache.Len()
}

func isFlat(t wit.Type) bool {
	switch typ := t.(type) {
	case wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32,
		wit.U64, wit.S64, wit.F32, wit.F64:
		return true
	case *wit.TypeDef:
		switch kind := typ.Kind.(type) {
		case *wit.Record:
			for _, f := range kind.Fields {
				if !isFlat(f.Type) {
					return false
				}
			}
			return true
		case *wit.Tuple:
			for _, et := range kind.Types {
				if !isFlat(et) {
					return false
				}
			}
			return true
		case *wit.Flags:
			return len(kind.Flags) <= 64
		case wit.Type:
			return isFlat(kind)
		}
	}
	return false
}
