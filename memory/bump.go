package memory

import "fmt"

// Bump is a bump allocator over a fixed region [base, limit) of a memory.
// Free is a no-op; Reset reclaims everything at once.
type Bump struct {
	base  uint32
	next  uint32
	limit uint32
}

// NewBump creates an allocator handing out addresses in [base, limit).
func NewBump(base, limit uint32) *Bump {
	return &Bump{base: base, next: base, limit: limit}
}

// Alloc returns an address aligned to align with size bytes available.
func (b *Bump) Alloc(size, align uint32) (uint32, error) {
	if align == 0 {
		align = 1
	}
	ptr := (uint64(b.next) + uint64(align) - 1) &^ (uint64(align) - 1)
	end := ptr + uint64(size)
	if end > uint64(b.limit) {
		return 0, fmt.Errorf("bump allocator exhausted: need %d bytes at %d, limit %d", size, ptr, b.limit)
	}
	b.next = uint32(end)
	return uint32(ptr), nil
}

// Free is a no-op.
func (b *Bump) Free(ptr, size, align uint32) {}

// Reset releases every allocation.
func (b *Bump) Reset() {
	b.next = b.base
}

// Used reports the number of bytes handed out, including padding.
func (b *Bump) Used() uint32 {
	return b.next - b.base
}
