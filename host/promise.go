package host

import (
	"context"
	"sync"

	"github.com/wippyai/wasm-async/transport"
)

// Promise is the eventual result of a host read or write. It may be
// awaited any number of times.
type Promise[T any] struct {
	ch      <-chan transport.HostResult
	convert func(transport.HostResult) (T, error)
	res     transport.HostResult
	mu      sync.Mutex
	done    bool
}

func newPromise[T any](ch <-chan transport.HostResult, convert func(transport.HostResult) (T, error)) *Promise[T] {
	return &Promise[T]{ch: ch, convert: convert}
}

// Get blocks until the operation completes or ctx is done.
func (p *Promise[T]) Get(ctx context.Context) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.done {
		select {
		case res := <-p.ch:
			p.res, p.done = res, true
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
	return p.convert(p.res)
}

// TryGet returns the result if the operation has completed.
func (p *Promise[T]) TryGet() (T, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.done {
		select {
		case res := <-p.ch:
			p.res, p.done = res, true
		default:
			var zero T
			return zero, false, nil
		}
	}
	v, err := p.convert(p.res)
	return v, true, err
}

// WriteResult is the outcome of a write.
type WriteResult struct {
	Count     uint32
	Closed    bool
	Cancelled bool
}

func writeResult(res transport.HostResult) (WriteResult, error) {
	return WriteResult{Count: res.Count, Closed: res.Closed, Cancelled: res.Cancelled}, nil
}

// ReadResult is the outcome of a stream read.
type ReadResult[T any] struct {
	Values    []T
	Closed    bool
	Cancelled bool
}

func readResult[T any](res transport.HostResult) (ReadResult[T], error) {
	out := ReadResult[T]{Closed: res.Closed, Cancelled: res.Cancelled}
	if len(res.Values) > 0 {
		out.Values = make([]T, len(res.Values))
		for i, v := range res.Values {
			tv, err := FromVal[T](v)
			if err != nil {
				return ReadResult[T]{}, err
			}
			out.Values[i] = tv
		}
	}
	return out, nil
}

// FutureResult is the outcome of a future read. Ok reports whether Value
// was delivered.
type FutureResult[T any] struct {
	Value     T
	Ok        bool
	Closed    bool
	Cancelled bool
}

func futureResult[T any](res transport.HostResult) (FutureResult[T], error) {
	out := FutureResult[T]{Closed: res.Closed, Cancelled: res.Cancelled}
	if len(res.Values) == 1 {
		v, err := FromVal[T](res.Values[0])
		if err != nil {
			return FutureResult[T]{}, err
		}
		out.Value, out.Ok = v, true
	}
	return out, nil
}
