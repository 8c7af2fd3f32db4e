package encoder

import "github.com/wippyai/wasm-async/wat/internal/ast"

type Buffer struct {
	Bytes []byte
}

func (b *Buffer) AppendByte(v byte) {
	b.Bytes = append(b.Bytes, v)
}

func (b *Buffer) WriteBytes(v []byte) {
	b.Bytes = append(b.Bytes, v...)
}

// WriteU32 writes unsigned LEB128.
func (b *Buffer) WriteU32(v uint32) {
	for {
		c := byte(v & 0x7F)
		v >>= 7
		if v == 0 {
			b.AppendByte(c)
			return
		}
		b.AppendByte(c | 0x80)
	}
}

// WriteI64 writes signed LEB128. i32 immediates use it too.
func (b *Buffer) WriteI64(v int64) {
	for {
		c := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			b.AppendByte(c)
			return
		}
		b.AppendByte(c | 0x80)
	}
}

func (b *Buffer) WriteString(s string) {
	b.WriteU32(uint32(len(s)))
	b.WriteBytes([]byte(s))
}

func (b *Buffer) WriteLimits(lim ast.Limits) {
	if lim.Max == nil {
		b.AppendByte(0x00)
		b.WriteU32(lim.Min)
		return
	}
	b.AppendByte(0x01)
	b.WriteU32(lim.Min)
	b.WriteU32(*lim.Max)
}
