// Package canon implements the canonical ABI pieces the stream/future
// transport consumes: payload layout, flat element detection and a dynamic
// value codec.
//
// # Layout
//
//	Type            Size    Alignment
//	──────────────────────────────────
//	bool            1       1
//	u8/s8           1       1
//	u16/s16         2       2
//	u32/s32/f32     4       4
//	u64/s64/f64     8       8
//	char            4       4
//	string          8       4 (ptr + len)
//	list<T>         8       4 (ptr + len)
//	record/tuple    sum     max field align
//	variant         varies  max case align
//	option<T>       1+size  max(1, T align)
//	flags           1/2/4/8 per bit count
//
// # Flat elements
//
// A payload type is flat when its memory image can be copied byte for byte
// between two linear memories: primitives, and records, tuples, enums and
// flags built only from primitives. FlatElementInfo reports the size and
// alignment of such types and caches the answer per type.
//
// # Values
//
// Load and Store move a single value between linear memory and its dynamic
// Go representation:
//
//	bool, u8..u64, s8..s64   bool, uint8..uint64, int8..int64
//	f32, f64                 float32, float64 (NaNs canonicalized on load)
//	char                     rune
//	string                   string
//	list<T>                  []any
//	record                   map[string]any keyed by field name
//	tuple                    []any
//	option<T>                nil or the payload
//	result<T, E>             map[string]any{"ok": v} or {"err": v}
//	variant                  map[string]any{case: payload}
//	enum                     uint32 case index
//	flags                    uint64 bit set
//
// Storing strings and lists requires an allocator (cabi_realloc).
package canon
