package host

import (
	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/transport"
	"github.com/wippyai/wasm-async/waitable"
)

// ErrorContext is a host reference to an error context.
type ErrorContext struct {
	end
}

// NewErrorContext creates an error context carrying msg.
func NewErrorContext(store *transport.Store, msg string) (*ErrorContext, error) {
	rep, err := store.HostErrorContextNew(msg)
	if err != nil {
		return nil, err
	}
	return &ErrorContext{end{store: store, rep: rep}}, nil
}

// Rep returns the error context rep.
func (e *ErrorContext) Rep() uint32 { return e.rep }

// Message returns the debug message.
func (e *ErrorContext) Message() (string, error) {
	if err := e.check(errors.PhaseErrorContext); err != nil {
		return "", err
	}
	return e.store.HostErrorContextMessage(e.rep)
}

// Drop releases the host reference. Dropping twice is a no-op.
func (e *ErrorContext) Drop() error {
	if e.gone.Swap(true) {
		return nil
	}
	return e.store.HostErrorContextDrop(e.rep)
}

// LowerToIndex gives inst its own reference and returns the guest handle.
// The host keeps its reference.
func (e *ErrorContext) LowerToIndex(inst *transport.Instance) (uint32, error) {
	if err := e.check(errors.PhaseErrorContext); err != nil {
		return 0, err
	}
	return e.store.ErrorContextLowerToIndex(inst, e.rep)
}

// IntoVal returns the dynamic form of the error context.
func (e *ErrorContext) IntoVal() Val {
	return Val{Kind: waitable.KindErrorContext, Rep: e.rep}
}

// LiftErrorContext takes a host reference to the error context held by
// handle h in inst.
func LiftErrorContext(store *transport.Store, inst *transport.Instance, h uint32) (*ErrorContext, error) {
	rep, err := store.ErrorContextLiftFromIndex(inst, h)
	if err != nil {
		return nil, err
	}
	return &ErrorContext{end{store: store, rep: rep}}, nil
}
