// Package wasmasync implements the concurrent stream/future transport of the
// WebAssembly Component Model in Go.
//
// Components exchange data asynchronously through first-class stream<T>,
// future<T> and error-context handles. This module provides the state
// machine that arbitrates which party (guest or host) may read or write a
// channel, parks operations that cannot complete immediately, copies values
// between the two ends once both are ready, and notifies the task scheduler
// so a blocked guest call can resume.
//
// # Architecture Overview
//
//	wasmasync/            Root package with Memory and Allocator capabilities
//	├── transport/        Store, transmit state machine, copy engine
//	│   └── intrinsics/   wazero host module exposing the canonical built-ins
//	├── host/             Typed StreamWriter/StreamReader/FutureWriter/... façades
//	├── task/             Task registry, child tracking, event queues
//	├── waitable/         Per-instance handle tables
//	├── canon/            Payload layout, flat element info, value codec
//	├── memory/           wazero memory and allocator adapters
//	├── errors/           Structured error types
//	└── cmd/streamctl/    Scenario runner and interactive inspector
//
// # Quick Start
//
//	store, err := transport.New(transport.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	inst := store.NewInstance(memory.WrapMemory(mod.Memory()), alloc)
//	ty := inst.DefineStream(wit.U32{})
//
//	w, r, err := host.NewStream[uint32](store, wit.U32{})
//	handle, err := r.LowerToIndex(inst, ty)
//
//	// guest code now calls stream.read on handle while the host writes
//	p, err := w.Write([]uint32{1, 2, 3})
//	res, err := p.Get(ctx)
//
// # Status Codes
//
// Guest intrinsics return a u32 status: the number of elements transferred,
// BLOCKED (0xFFFF_FFFF) when the operation was parked, or CLOSED
// (0x8000_0000) when the opposite end has been closed.
//
// # Thread Safety
//
// A Store serializes every transition behind one mutex, so host goroutines
// may drive host ends while guest code runs. Ordering between a single
// reader and writer is the order in which they become ready.
package wasmasync
