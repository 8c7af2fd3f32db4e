package memory

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/wasm-async/wat"
)

// PageSize is the size of one WASM memory page.
const PageSize = 65536

// standaloneWAT declares one growable page exported as "memory".
const standaloneWAT = `(module (memory (export "memory") 1))`

// Standalone instantiates a module named name in rt that exports nothing
// but a linear memory of pages pages, and returns that memory.
func Standalone(ctx context.Context, rt wazero.Runtime, name string, pages uint32) (api.Memory, error) {
	wasm, err := wat.Compile(standaloneWAT)
	if err != nil {
		return nil, fmt.Errorf("compile memory module: %w", err)
	}
	cfg := wazero.NewModuleConfig().WithName(name)
	mod, err := rt.InstantiateWithConfig(ctx, wasm, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate memory module %q: %w", name, err)
	}
	mem := mod.ExportedMemory("memory")
	if mem == nil {
		return nil, fmt.Errorf("memory module %q exports no memory", name)
	}
	if pages > 1 {
		if _, ok := mem.Grow(pages - 1); !ok {
			return nil, fmt.Errorf("grow memory %q to %d pages", name, pages)
		}
	}
	return mem, nil
}
