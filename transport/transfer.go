package transport

import (
	"github.com/wippyai/wasm-async/canon"
	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/waitable"
	"go.uber.org/zap"
)

// LowerToIndex gives inst the read end of rep and returns the new handle.
// typeIdx must declare the same kind and payload as rep.
func (s *Store) LowerToIndex(inst *Instance, typeIdx, rep uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseTransfer); err != nil {
		return 0, err
	}
	return s.lower(inst, typeIdx, rep)
}

func (s *Store) lower(inst *Instance, typeIdx, rep uint32) (uint32, error) {
	tx, err := s.checkLower(inst, typeIdx, rep)
	if err != nil {
		return 0, err
	}

	h := inst.table.Insert(waitable.Entry{
		Kind:  tx.kind,
		State: waitable.StateRead,
		Type:  typeIdx,
		Rep:   rep,
	})
	s.log.Debug("read end lowered",
		zap.Uint32("instance", inst.id),
		zap.Uint32("handle", h),
		zap.Uint32("rep", rep))
	return h, nil
}

// checkLower reports why rep cannot be lowered into inst as typeIdx.
func (s *Store) checkLower(inst *Instance, typeIdx, rep uint32) (*transmit, error) {
	tx, ok := s.transmit(rep)
	if !ok {
		return nil, errors.New(errors.PhaseTransfer, errors.KindInvalidHandle).
			Rep(rep).Detail("unknown stream or future").Build()
	}
	te, ok := inst.typeAt(typeIdx)
	if !ok {
		return nil, errors.New(errors.PhaseTransfer, errors.KindInvalidData).
			Detail("unknown stream/future type index %d", typeIdx).Build()
	}
	if te.kind != tx.kind || te.elem != tx.elem {
		return nil, errors.TypeMismatch(errors.PhaseTransfer, tx.typeName(),
			te.kind.String()+"<"+canon.WITName(te.elem)+">")
	}
	switch tx.read.state {
	case SideClosed:
		return nil, errors.New(errors.PhaseTransfer, errors.KindClosed).
			Rep(rep).Detail("read end already closed").Build()
	case SideHostReady:
		return nil, errors.New(errors.PhaseTransfer, errors.KindBusy).
			Rep(rep).Detail("cannot transfer read end with a pending host read").Build()
	}
	return tx, nil
}

// LiftFromIndex takes the read end held by h out of inst and returns its
// rep. A Read handle is consumed; a Local handle keeps its write end and
// becomes a Write handle. Write ends cannot be transferred.
func (s *Store) LiftFromIndex(inst *Instance, typeIdx, h uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseTransfer); err != nil {
		return 0, err
	}
	return s.lift(inst, typeIdx, h)
}

func (s *Store) lift(inst *Instance, typeIdx, h uint32) (uint32, error) {
	_, e, err := s.lookup(inst, typeIdx, h, errors.PhaseTransfer)
	if err != nil {
		return 0, err
	}
	switch e.State {
	case waitable.StateRead:
		inst.table.Remove(h)
	case waitable.StateLocal:
		inst.table.SetState(h, waitable.StateWrite)
	case waitable.StateWrite:
		return 0, errors.TransferWriteEnd(h)
	default:
		return 0, errors.New(errors.PhaseTransfer, errors.KindBusy).Handle(h).
			Detail("cannot transfer busy stream or future").Build()
	}
	s.log.Debug("read end lifted",
		zap.Uint32("instance", inst.id),
		zap.Uint32("handle", h),
		zap.Uint32("rep", e.Rep))
	return e.Rep, nil
}

// Transfer moves the read end held by h in src to dst and returns the
// handle in dst.
func (s *Store) Transfer(src *Instance, srcType, h uint32, dst *Instance, dstType uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseTransfer); err != nil {
		return 0, err
	}
	e, ok := src.table.Get(h)
	if !ok {
		return 0, errors.InvalidHandle(errors.PhaseTransfer, h)
	}
	// validate the destination before consuming the source handle
	if _, err := s.checkLower(dst, dstType, e.Rep); err != nil {
		return 0, err
	}
	rep, err := s.lift(src, srcType, h)
	if err != nil {
		return 0, err
	}
	return s.lower(dst, dstType, rep)
}
