package memory

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	wasmasync "github.com/wippyai/wasm-async"
)

// Wrapper is a wasmasync.LinearMemory backed by a wazero memory. Views
// returned by Read alias the guest memory and are invalidated by Grow.
type Wrapper struct {
	words
	mem api.Memory
}

// WrapMemory returns nil for a nil memory so callers can pass
// mod.Memory() straight through.
func WrapMemory(mem api.Memory) wasmasync.LinearMemory {
	if mem == nil {
		return nil
	}
	w := &Wrapper{mem: mem}
	w.span = w.Read
	return w
}

func (m *Wrapper) Size() uint32 { return m.mem.Size() }

func (m *Wrapper) Read(offset uint32, length uint32) ([]byte, error) {
	if b, ok := m.mem.Read(offset, length); ok {
		return b, nil
	}
	return nil, outOfBounds(offset, uint64(length))
}

func (m *Wrapper) Write(offset uint32, data []byte) error {
	if m.mem.Write(offset, data) {
		return nil
	}
	return outOfBounds(offset, uint64(len(data)))
}

// AllocatorWrapper allocates through a guest's exported cabi_realloc.
type AllocatorWrapper struct {
	ctx     context.Context
	realloc api.Function
}

// WrapAllocator returns nil when the guest exports no realloc function.
// Calls into the guest run under ctx.
func WrapAllocator(ctx context.Context, realloc api.Function) wasmasync.Allocator {
	if realloc == nil {
		return nil
	}
	return &AllocatorWrapper{ctx: ctx, realloc: realloc}
}

func (a *AllocatorWrapper) Alloc(size, align uint32) (uint32, error) {
	ret, err := a.realloc.Call(a.ctx, 0, 0, uint64(align), uint64(size))
	switch {
	case err != nil:
		return 0, fmt.Errorf("cabi_realloc(%d, %d): %w", size, align, err)
	case len(ret) != 1:
		return 0, fmt.Errorf("cabi_realloc returned %d results", len(ret))
	}
	return uint32(ret[0]), nil
}

// Free hands the block back with a zero new size. Errors are dropped since
// a failed free leaves nothing to undo.
func (a *AllocatorWrapper) Free(ptr, size, align uint32) {
	_, _ = a.realloc.Call(a.ctx, uint64(ptr), uint64(size), uint64(align), 0)
}
