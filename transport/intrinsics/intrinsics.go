// Package intrinsics exposes the stream, future and error-context built-ins
// of one component instance as a wazero host module.
//
// Every function takes and returns i32 values following the canonical ABI.
// Type-indexed built-ins take the instance's type index as their first
// parameter. The calling task is read from the context with
// task.FromContext. Failures trap: the host function panics with the
// *errors.Error and wazero surfaces it as the call's error.
package intrinsics

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/task"
	"github.com/wippyai/wasm-async/transport"
	"github.com/wippyai/wasm-async/waitable"
)

// DefaultModuleName is the import module guest code links the built-ins from.
const DefaultModuleName = "$async"

var (
	i32  = api.ValueTypeI32
	none []api.ValueType
)

// Binding ties the built-ins to one instance of a store.
type Binding struct {
	store *transport.Store
	inst  *transport.Instance
}

// New binds the built-ins to inst.
func New(store *transport.Store, inst *transport.Instance) *Binding {
	return &Binding{store: store, inst: inst}
}

type export struct {
	fn      api.GoModuleFunc
	name    string
	params  []api.ValueType
	results []api.ValueType
}

// Instantiate builds the host module and instantiates it in rt.
func (b *Binding) Instantiate(ctx context.Context, rt wazero.Runtime, name string) (api.Module, error) {
	if name == "" {
		name = DefaultModuleName
	}
	builder := rt.NewHostModuleBuilder(name)
	for _, exp := range b.exports() {
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(exp.fn, exp.params, exp.results).
			Export(exp.name)
	}
	return builder.Instantiate(ctx)
}

// Names lists the exported built-ins.
func (b *Binding) Names() []string {
	exps := b.exports()
	names := make([]string, len(exps))
	for i, exp := range exps {
		names[i] = exp.name
	}
	return names
}

func (b *Binding) exports() []export {
	var exps []export
	for _, kind := range []waitable.Kind{waitable.KindStream, waitable.KindFuture} {
		exps = append(exps, b.transmitExports(kind)...)
	}
	return append(exps,
		export{name: "error-context.new", fn: b.errorContextNew, params: []api.ValueType{i32, i32}, results: []api.ValueType{i32}},
		export{name: "error-context.debug-message", fn: b.errorContextDebugMessage, params: []api.ValueType{i32, i32}, results: none},
		export{name: "error-context.drop", fn: b.errorContextDrop, params: []api.ValueType{i32}, results: none},
	)
}

func (b *Binding) transmitExports(kind waitable.Kind) []export {
	prefix := kind.String()
	// futures carry no count
	rw := []api.ValueType{i32, i32, i32, i32}
	if kind == waitable.KindFuture {
		rw = []api.ValueType{i32, i32, i32}
	}
	return []export{
		{name: prefix + ".new", fn: b.newFn(kind), params: []api.ValueType{i32}, results: []api.ValueType{i32}},
		{name: prefix + ".read", fn: b.opFn(kind, false), params: rw, results: []api.ValueType{i32}},
		{name: prefix + ".write", fn: b.opFn(kind, true), params: rw, results: []api.ValueType{i32}},
		{name: prefix + ".cancel-read", fn: b.cancelFn(kind, false), params: []api.ValueType{i32, i32}, results: []api.ValueType{i32}},
		{name: prefix + ".cancel-write", fn: b.cancelFn(kind, true), params: []api.ValueType{i32, i32}, results: []api.ValueType{i32}},
		{name: prefix + ".close-readable", fn: b.closeReadableFn(kind), params: []api.ValueType{i32, i32}, results: none},
		{name: prefix + ".close-writable", fn: b.closeWritableFn(kind), params: []api.ValueType{i32, i32, i32}, results: none},
	}
}

// trap aborts the guest call with err.
func trap(err error) {
	panic(err)
}

func (b *Binding) checkType(kind waitable.Kind, typeIdx uint32) {
	got, ok := b.inst.TypeKind(typeIdx)
	if !ok || got != kind {
		trap(errors.New(errors.PhaseTransfer, errors.KindInvalidData).
			Detail("type index %d is not a %s type", typeIdx, kind).Build())
	}
}

func (b *Binding) newFn(kind waitable.Kind) api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		typeIdx := api.DecodeU32(stack[0])
		b.checkType(kind, typeIdx)
		h, err := b.store.GuestNew(b.inst, typeIdx)
		if err != nil {
			trap(err)
		}
		stack[0] = api.EncodeU32(h)
	}
}

func (b *Binding) opFn(kind waitable.Kind, writing bool) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		typeIdx := api.DecodeU32(stack[0])
		h := api.DecodeU32(stack[1])
		addr := api.DecodeU32(stack[2])
		count := uint32(1)
		if kind == waitable.KindStream {
			count = api.DecodeU32(stack[3])
		}
		b.checkType(kind, typeIdx)

		caller := task.FromContext(ctx)
		var code uint32
		var err error
		if writing {
			code, err = b.store.GuestWrite(caller, b.inst, typeIdx, h, addr, count)
		} else {
			code, err = b.store.GuestRead(caller, b.inst, typeIdx, h, addr, count)
		}
		if err != nil {
			trap(err)
		}
		stack[0] = api.EncodeU32(code)
	}
}

func (b *Binding) cancelFn(kind waitable.Kind, writing bool) api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		typeIdx := api.DecodeU32(stack[0])
		h := api.DecodeU32(stack[1])
		b.checkType(kind, typeIdx)

		var done uint32
		var err error
		if writing {
			done, err = b.store.GuestCancelWrite(b.inst, typeIdx, h)
		} else {
			done, err = b.store.GuestCancelRead(b.inst, typeIdx, h)
		}
		if err != nil {
			trap(err)
		}
		stack[0] = api.EncodeU32(done)
	}
}

func (b *Binding) closeReadableFn(kind waitable.Kind) api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		typeIdx := api.DecodeU32(stack[0])
		b.checkType(kind, typeIdx)
		if err := b.store.GuestCloseReadable(b.inst, typeIdx, api.DecodeU32(stack[1])); err != nil {
			trap(err)
		}
	}
}

func (b *Binding) closeWritableFn(kind waitable.Kind) api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		typeIdx := api.DecodeU32(stack[0])
		b.checkType(kind, typeIdx)
		err := b.store.GuestCloseWritable(b.inst, typeIdx, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
		if err != nil {
			trap(err)
		}
	}
}

func (b *Binding) errorContextNew(_ context.Context, _ api.Module, stack []uint64) {
	h, err := b.store.ErrorContextNew(b.inst, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	if err != nil {
		trap(err)
	}
	stack[0] = api.EncodeU32(h)
}

func (b *Binding) errorContextDebugMessage(_ context.Context, _ api.Module, stack []uint64) {
	if err := b.store.ErrorContextDebugMessage(b.inst, api.DecodeU32(stack[0]), api.DecodeU32(stack[1])); err != nil {
		trap(err)
	}
}

func (b *Binding) errorContextDrop(_ context.Context, _ api.Module, stack []uint64) {
	if err := b.store.ErrorContextDrop(b.inst, api.DecodeU32(stack[0])); err != nil {
		trap(err)
	}
}

// String describes the binding for logs.
func (b *Binding) String() string {
	return fmt.Sprintf("intrinsics(instance %d)", b.inst.ID())
}
