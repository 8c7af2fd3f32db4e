package host

import (
	"reflect"
	"sync/atomic"

	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/transport"
	"github.com/wippyai/wasm-async/waitable"
	"go.bytecodealliance.org/wit"
)

// end is the state shared by every typed end.
type end struct {
	store *transport.Store
	rep   uint32
	// gone is set once the end is closed or handed to a guest.
	gone atomic.Bool
}

func (e *end) check(phase errors.Phase) error {
	if e.gone.Load() {
		return errors.New(phase, errors.KindClosed).Rep(e.rep).
			Detail("end already closed or transferred").Build()
	}
	return nil
}

// lift adopts the read end held by handle h in inst once the transmit has
// been bound to T.
func lift[T any](store *transport.Store, inst *transport.Instance, typeIdx, h uint32) (uint32, error) {
	e, ok := inst.Handle(h)
	if !ok {
		return 0, errors.InvalidHandle(errors.PhaseTransfer, h)
	}
	if err := bind[T](store, e.Rep); err != nil {
		return 0, err
	}
	return store.LiftFromIndex(inst, typeIdx, h)
}

// StreamWriter is the host-owned write end of a stream<T>.
type StreamWriter[T any] struct {
	end
}

// StreamReader is a host-owned read end of a stream<T>.
type StreamReader[T any] struct {
	end
}

// NewStream creates a stream whose elements have WIT type elem and Go type T.
func NewStream[T any](store *transport.Store, elem wit.Type) (*StreamWriter[T], *StreamReader[T], error) {
	if err := checkElem(reflect.TypeFor[T](), elem); err != nil {
		return nil, nil, err
	}
	rep, err := store.HostNew(waitable.KindStream, elem, reflect.TypeFor[T]())
	if err != nil {
		return nil, nil, err
	}
	return &StreamWriter[T]{end{store: store, rep: rep}}, &StreamReader[T]{end{store: store, rep: rep}}, nil
}

// Rep returns the transmit rep.
func (w *StreamWriter[T]) Rep() uint32 { return w.rep }

// Write offers values to the reader. The promise resolves once every value
// has been taken, the reader closes, or the write is cancelled.
func (w *StreamWriter[T]) Write(values []T) (*Promise[WriteResult], error) {
	if err := w.check(errors.PhaseWrite); err != nil {
		return nil, err
	}
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = IntoVal(v)
	}
	ch, err := w.store.HostWrite(w.rep, vals)
	if err != nil {
		return nil, err
	}
	return newPromise(ch, writeResult), nil
}

// Cancel cancels the pending write.
func (w *StreamWriter[T]) Cancel() (WriteResult, error) {
	res, err := w.store.HostCancelWrite(w.rep)
	if err != nil {
		return WriteResult{}, err
	}
	return writeResult(res)
}

// Close closes the write end. Closing twice is a no-op.
func (w *StreamWriter[T]) Close() error {
	if w.gone.Swap(true) {
		return nil
	}
	return w.store.HostCloseWriter(w.rep)
}

// IntoVal returns the dynamic form of the write end.
func (w *StreamWriter[T]) IntoVal() Val {
	return Val{Kind: waitable.KindStream, Rep: w.rep, Writer: true}
}

// StreamWriterFromVal adopts the write end described by v.
func StreamWriterFromVal[T any](store *transport.Store, v Val) (*StreamWriter[T], error) {
	if err := checkVal(v, waitable.KindStream, true); err != nil {
		return nil, err
	}
	if err := bind[T](store, v.Rep); err != nil {
		return nil, err
	}
	return &StreamWriter[T]{end{store: store, rep: v.Rep}}, nil
}

// Rep returns the transmit rep.
func (r *StreamReader[T]) Rep() uint32 { return r.rep }

// Read asks for up to max elements. The promise resolves as soon as any
// element is delivered, the writer closes, or the read is cancelled.
func (r *StreamReader[T]) Read(max uint32) (*Promise[ReadResult[T]], error) {
	if err := r.check(errors.PhaseRead); err != nil {
		return nil, err
	}
	ch, err := r.store.HostRead(r.rep, max)
	if err != nil {
		return nil, err
	}
	return newPromise(ch, readResult[T]), nil
}

// Cancel cancels the pending read.
func (r *StreamReader[T]) Cancel() (ReadResult[T], error) {
	res, err := r.store.HostCancelRead(r.rep)
	if err != nil {
		return ReadResult[T]{}, err
	}
	return readResult[T](res)
}

// Close closes the read end. Closing twice is a no-op.
func (r *StreamReader[T]) Close() error {
	if r.gone.Swap(true) {
		return nil
	}
	return r.store.HostCloseReader(r.rep)
}

// LowerToIndex hands the read end to inst and returns the guest handle.
// The reader cannot be used by host code afterwards.
func (r *StreamReader[T]) LowerToIndex(inst *transport.Instance, typeIdx uint32) (uint32, error) {
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
func (r *StreamReader[T]) IntoVal() Val {
	return Val{Kind: waitable.KindStream, Rep: r.rep}
}

// StreamReaderFromVal adopts the read end described by v.
func StreamReaderFromVal[T any](store *transport.Store, v Val) (*StreamReader[T], error) {
	if err := checkVal(v, waitable.KindStream, false); err != nil {
		return nil, err
	}
	if err := bind[T](store, v.Rep); err != nil {
		return nil, err
	}
	return &StreamReader[T]{end{store: store, rep: v.Rep}}, nil
}

// LiftStreamReader takes the read end held by handle h out of inst.
func LiftStreamReader[T any](store *transport.Store, inst *transport.Instance, typeIdx, h uint32) (*StreamReader[T], error) {
	rep, err := lift[T](store, inst, typeIdx, h)
	if err != nil {
		return nil, err
	}
	return &StreamReader[T]{end{store: store, rep: rep}}, nil
}
