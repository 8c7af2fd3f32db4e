package transport

import (
	"reflect"

	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/waitable"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"
)

// HostNew creates a stream or future owned by host code and returns its
// rep. hostType is the Go type host code exchanges through it; it may be
// nil when unknown.
func (s *Store) HostNew(kind waitable.Kind, elem wit.Type, hostType reflect.Type) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseHost); err != nil {
		return 0, err
	}
	if kind != waitable.KindStream && kind != waitable.KindFuture {
		return 0, errors.New(errors.PhaseHost, errors.KindInvalidData).
			Detail("%s is not a stream or future", kind).Build()
	}
	tx, err := s.newTransmit(kind, elem)
	if err != nil {
		return 0, err
	}
	tx.hostType = hostType
	return tx.rep, nil
}

func (s *Store) hostTransmit(rep uint32) (*transmit, error) {
	if err := s.checkOpen(errors.PhaseHost); err != nil {
		return nil, err
	}
	tx, ok := s.transmit(rep)
	if !ok {
		return nil, errors.New(errors.PhaseHost, errors.KindInvalidHandle).
			Rep(rep).Detail("unknown stream or future").Build()
	}
	return tx, nil
}

// HostWrite offers values to the reader of rep. The returned channel
// receives exactly one HostResult once every value has been taken, the
// reader is closed, or the write is cancelled. A future takes exactly one
// value.
func (s *Store) HostWrite(rep uint32, values []any) (<-chan HostResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.hostTransmit(rep)
	if err != nil {
		return nil, err
	}
	if tx.kind == waitable.KindFuture && len(values) != 1 {
		return nil, errors.New(errors.PhaseWrite, errors.KindInvalidData).
			Rep(rep).Detail("future write takes exactly one value, got %d", len(values)).Build()
	}
	op := newHostOp(values, uint32(len(values)))
	if err := s.hostArrive(tx, op, true); err != nil {
		return nil, err
	}
	return op.result, nil
}

// HostRead asks for up to max elements from the writer of rep. The result
// resolves as soon as any element has been delivered.
func (s *Store) HostRead(rep uint32, max uint32) (<-chan HostResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.hostTransmit(rep)
	if err != nil {
		return nil, err
	}
	if tx.kind == waitable.KindFuture {
		max = 1
	}
	op := newHostOp(nil, max)
	if err := s.hostArrive(tx, op, false); err != nil {
		return nil, err
	}
	return op.result, nil
}

func (s *Store) hostArrive(tx *transmit, op *hostOp, writing bool) error {
	phase, role := errors.PhaseRead, "read"
	if writing {
		phase, role = errors.PhaseWrite, "write"
	}
	own, peer := s.own(tx, writing), s.peer(tx, writing)

	switch own.state {
	case SideClosed:
		op.resolve(HostResult{Closed: true})
		return nil
	case SideGuestReady, SideHostReady:
		return errors.New(phase, errors.KindBusy).Rep(tx.rep).
			Detail("%s already pending", role).Build()
	}

	if op.count == 0 {
		op.resolve(HostResult{Closed: peer.state == SideClosed})
		return nil
	}

	p := pending{host: op}
	switch peer.state {
	case SideGuestReady, SideHostReady:
		if _, err := s.match(tx, p, writing); err != nil {
			return err
		}
		if writing && op.count > 0 && own.state == SideOpen {
			own.park(p)
			break
		}
		op.resolve(HostResult{Values: op.received, Count: op.done})
	case SideOpen:
		own.park(p)
	case SideClosed:
		op.resolve(HostResult{Closed: true})
	}

	s.log.Debug("host "+role,
		zap.Uint32("rep", tx.rep),
		zap.Uint32("done", op.done),
		zap.Bool("resolved", op.resolved))
	return nil
}

// HostCancelWrite cancels the host write parked on rep. The pending
// channel resolves with the returned result.
func (s *Store) HostCancelWrite(rep uint32) (HostResult, error) {
	return s.hostCancel(rep, true)
}

// HostCancelRead cancels the host read parked on rep.
func (s *Store) HostCancelRead(rep uint32) (HostResult, error) {
	return s.hostCancel(rep, false)
}

func (s *Store) hostCancel(rep uint32, writing bool) (HostResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role := "read"
	if writing {
		role = "write"
	}
	tx, err := s.hostTransmit(rep)
	if err != nil {
		return HostResult{}, err
	}
	sd := s.own(tx, writing)
	h := sd.op.host
	if sd.state != SideHostReady || h == nil {
		return HostResult{}, errors.NotPending(errors.PhaseCancel, role)
	}

	sd.clear()
	res := HostResult{Values: h.received, Count: h.done, Cancelled: true}
	h.resolve(res)
	s.log.Debug("host cancel "+role, zap.Uint32("rep", rep), zap.Uint32("done", h.done))
	return res, nil
}

// HostCloseWriter closes the write end of rep. A parked reader is
// unblocked with a closed result.
func (s *Store) HostCloseWriter(rep uint32) error {
	return s.hostClose(rep, true)
}

// HostCloseReader closes the read end of rep.
func (s *Store) HostCloseReader(rep uint32) error {
	return s.hostClose(rep, false)
}

func (s *Store) hostClose(rep uint32, writer bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseClose); err != nil {
		return err
	}
	tx, ok := s.transmit(rep)
	if !ok {
		// both ends already closed
		return nil
	}
	if g := s.own(tx, writer).op.guest; g != nil {
		return errors.Busy(errors.PhaseClose, g.handle)
	}
	s.closeSide(tx, writer)
	return nil
}

// CheckHostType binds rep to the Go type t, or verifies an earlier binding.
func (s *Store) CheckHostType(rep uint32, t reflect.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.hostTransmit(rep)
	if err != nil {
		return err
	}
	switch {
	case tx.hostType == nil:
		tx.hostType = t
	case tx.hostType != t:
		return errors.TypeMismatch(errors.PhaseHost, tx.hostType.String(), t.String())
	}
	return nil
}

// Payload returns the kind and payload type of rep.
func (s *Store) Payload(rep uint32) (waitable.Kind, wit.Type, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.hostTransmit(rep)
	if err != nil {
		return 0, nil, err
	}
	return tx.kind, tx.elem, nil
}
