// Package wasmtest provides wazero-backed fixtures for tests.
package wasmtest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/wasm-async/memory"
)

var seq atomic.Uint32

// Memory instantiates a one page memory in a fresh runtime and returns it.
// The runtime is closed when the test finishes.
func Memory(t testing.TB) api.Memory {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { rt.Close(ctx) })

	mem, err := memory.Standalone(ctx, rt, fmt.Sprintf("mem%d", seq.Add(1)), 1)
	if err != nil {
		t.Fatalf("failed to create memory: %v", err)
	}
	return mem
}
