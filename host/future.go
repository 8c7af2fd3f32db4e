package host

import (
	"reflect"

	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/transport"
	"github.com/wippyai/wasm-async/waitable"
	"go.bytecodealliance.org/wit"
)

// FutureWriter is the host-owned write end of a future<T>.
type FutureWriter[T any] struct {
	end
}

// FutureReader is a host-owned read end of a future<T>.
type FutureReader[T any] struct {
	end
}

// NewFuture creates a future whose value has WIT type elem and Go type T.
func NewFuture[T any](store *transport.Store, elem wit.Type) (*FutureWriter[T], *FutureReader[T], error) {
	if err := checkElem(reflect.TypeFor[T](), elem); err != nil {
		return nil, nil, err
	}
	rep, err := store.HostNew(waitable.KindFuture, elem, reflect.TypeFor[T]())
	if err != nil {
		return nil, nil, err
	}
	return &FutureWriter[T]{end{store: store, rep: rep}}, &FutureReader[T]{end{store: store, rep: rep}}, nil
}

// Rep returns the transmit rep.
func (w *FutureWriter[T]) Rep() uint32 { return w.rep }

// Write delivers v. A future accepts exactly one value; later writes
// resolve as closed.
func (w *FutureWriter[T]) Write(v T) (*Promise[WriteResult], error) {
	if err := w.check(errors.PhaseWrite); err != nil {
		return nil, err
	}
	ch, err := w.store.HostWrite(w.rep, []any{IntoVal(v)})
	if err != nil {
		return nil, err
	}
	return newPromise(ch, writeResult), nil
}

// Cancel cancels the pending write.
func (w *FutureWriter[T]) Cancel() (WriteResult, error) {
	res, err := w.store.HostCancelWrite(w.rep)
	if err != nil {
		return WriteResult{}, err
	}
	return writeResult(res)
}

// Close closes the write end.
func (w *FutureWriter[T]) Close() error {
	if w.gone.Swap(true) {
		return nil
	}
	return w.store.HostCloseWriter(w.rep)
}

// IntoVal returns the dynamic form of the write end.
func (w *FutureWriter[T]) IntoVal() Val {
	return Val{Kind: waitable.KindFuture, Rep: w.rep, Writer: true}
}

// FutureWriterFromVal adopts the write end described by v.
func FutureWriterFromVal[T any](store *transport.Store, v Val) (*FutureWriter[T], error) {
	if err := checkVal(v, waitable.KindFuture, true); err != nil {
		return nil, err
	}
	if err := bind[T](store, v.Rep); err != nil {
		return nil, err
	}
	return &FutureWriter[T]{end{store: store, rep: v.Rep}}, nil
}

// Rep returns the transmit rep.
func (r *FutureReader[T]) Rep() uint32 { return r.rep }

// Read waits for the value.
func (r *FutureReader[T]) Read() (*Promise[FutureResult[T]], error) {
	if err := r.check(errors.PhaseRead); err != nil {
		return nil, err
	}
	ch, err := r.store.HostRead(r.rep, 1)
	if err != nil {
		return nil, err
	}
	return newPromise(ch, futureResult[T]), nil
}

// Cancel cancels the pending read.
func (r *FutureReader[T]) Cancel() (FutureResult[T], error) {
	res, err := r.store.HostCancelRead(r.rep)
	if err != nil {
		return FutureResult[T]{}, err
	}
	return futureResult[T](res)
}

// Close closes the read end.
func (r *FutureReader[T]) Close() error {
	if r.gone.Swap(true) {
		return nil
	}
	return r.store.HostCloseReader(r.rep)
}

// LowerToIndex hands the read end to inst and returns the guest handle.
func (r *FutureReader[T]) LowerToIndex(inst *transport.Instance, typeIdx uint32) (uint32, error) {
	if err := r.check(errors.PhaseTransfer); err != nil {
		return 0, err
	}
	h, err := r.store.LowerToIndex(inst, typeIdx, r.rep)
	if err != nil {
		return 0, err
	}
	r.gone.Store(true)
	return h, nil
}

// IntoVal returns the dynamic form of the read end.
func (r *FutureReader[T]) IntoVal() Val {
	return Val{Kind: waitable.KindFuture, Rep: r.rep}
}

// FutureReaderFromVal adopts the read end described by v.
func FutureReaderFromVal[T any](store *transport.Store, v Val) (*FutureReader[T], error) {
	if err := checkVal(v, waitable.KindFuture, false); err != nil {
		return nil, err
	}
	if err := bind[T](store, v.Rep); err != nil {
		return nil, err
	}
	return &FutureReader[T]{end{store: store, rep: v.Rep}}, nil
}

// LiftFutureReader takes the read end held by handle h out of inst.
func LiftFutureReader[T any](store *transport.Store, inst *transport.Instance, typeIdx, h uint32) (*FutureReader[T], error) {
	rep, err := lift[T](store, inst, typeIdx, h)
	if err != nil {
		return nil, err
	}
	return &FutureReader[T]{end{store: store, rep: rep}}, nil
}
