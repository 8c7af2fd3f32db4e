package transport

import (
	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/task"
	"github.com/wippyai/wasm-async/waitable"
	"go.uber.org/zap"
)

const closeWithErrorUnsupported = "closing writable streams/futures with errors not yet implemented"

// GuestNew creates a stream or future of the instance's type typeIdx. The
// returned handle holds both ends until the read end is transferred.
func (s *Store) GuestNew(inst *Instance, typeIdx uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseTransfer); err != nil {
		return 0, err
	}
	te, ok := inst.typeAt(typeIdx)
	if !ok {
		return 0, errors.New(errors.PhaseTransfer, errors.KindInvalidData).
			Detail("unknown stream/future type index %d", typeIdx).Build()
	}
	tx, err := s.newTransmit(te.kind, te.elem)
	if err != nil {
		return 0, err
	}
	h := inst.table.Insert(waitable.Entry{
		Kind:  te.kind,
		State: waitable.StateLocal,
		Type:  typeIdx,
		Rep:   tx.rep,
	})
	return h, nil
}

func (s *Store) lookup(inst *Instance, typeIdx, h uint32, phase errors.Phase) (typeEntry, waitable.Entry, error) {
	te, ok := inst.typeAt(typeIdx)
	if !ok {
		return typeEntry{}, waitable.Entry{}, errors.InvalidHandle(phase, h)
	}
	e, ok := inst.table.Lookup(h, te.kind, typeIdx)
	if !ok {
		return typeEntry{}, waitable.Entry{}, errors.InvalidHandle(phase, h)
	}
	return te, e, nil
}

// GuestWrite writes count elements at addr through the write end h. It
// returns the number of elements transferred, Blocked when the write was
// parked, or Closed when the read end is gone. A future always writes one
// element and count is ignored.
func (s *Store) GuestWrite(caller task.ID, inst *Instance, typeIdx, h, addr, count uint32) (uint32, error) {
	return s.guestOp(caller, inst, typeIdx, h, addr, count, true)
}

// GuestRead reads up to count elements into addr through the read end h.
func (s *Store) GuestRead(caller task.ID, inst *Instance, typeIdx, h, addr, count uint32) (uint32, error) {
	return s.guestOp(caller, inst, typeIdx, h, addr, count, false)
}

func (s *Store) guestOp(caller task.ID, inst *Instance, typeIdx, h, addr, count uint32, writing bool) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	phase, role := errors.PhaseRead, "read"
	if writing {
		phase, role = errors.PhaseWrite, "write"
	}
	if err := s.checkOpen(phase); err != nil {
		return 0, err
	}

	te, e, err := s.lookup(inst, typeIdx, h, phase)
	if err != nil {
		return 0, err
	}
	switch {
	case e.State == waitable.StateBusy:
		return 0, errors.New(phase, errors.KindBusy).Handle(h).Rep(e.Rep).
			Detail("%s while another operation is in flight", role).Build()
	case writing && e.State == waitable.StateRead,
		!writing && e.State != waitable.StateRead:
		return 0, errors.InvalidHandle(phase, h)
	}
	if te.kind == waitable.KindFuture {
		count = 1
	}

	tx, ok := s.transmit(e.Rep)
	if !ok || s.own(tx, writing).state == SideClosed {
		return Closed, nil
	}
	if tx.size > 0 && addr%tx.align != 0 {
		return 0, errors.Unaligned(phase, role, addr, tx.align)
	}

	op := &guestOp{
		inst:    inst,
		prior:   e.State,
		handle:  h,
		addr:    addr,
		count:   count,
		caller:  caller,
		typeIdx: typeIdx,
	}
	inst.table.SetState(h, waitable.StateBusy)

	code, err := s.guestArrive(tx, op, writing)
	if err != nil || code != Blocked {
		inst.table.SetState(h, e.State)
	}
	if err != nil {
		return 0, err
	}
	if code == Blocked {
		s.sched.AddChild(caller, tx.rep)
	}

	s.log.Debug("guest "+role,
		zap.Uint32("instance", inst.id),
		zap.Uint32("handle", h),
		zap.Uint32("rep", tx.rep),
		zap.Uint32("count", count),
		zap.Uint32("status", code))
	return code, nil
}

func (s *Store) own(tx *transmit, writing bool) *side {
	if writing {
		return &tx.write
	}
	return &tx.read
}

func (s *Store) peer(tx *transmit, writing bool) *side {
	if writing {
		return &tx.read
	}
	return &tx.write
}

func (s *Store) guestArrive(tx *transmit, op *guestOp, writing bool) (uint32, error) {
	p := pending{guest: op}
	peer := s.peer(tx, writing)

	if op.count == 0 {
		if peer.state == SideClosed {
			return Closed, nil
		}
		return 0, nil
	}

	switch peer.state {
	case SideGuestReady, SideHostReady:
		n, err := s.match(tx, p, writing)
		if err != nil {
			return 0, err
		}
		return n, nil
	case SideOpen:
		s.own(tx, writing).park(p)
		return Blocked, nil
	}
	return Closed, nil
}

// match runs the copy between the arriving op and the op parked on the
// opposite side and returns the number of elements moved. The arriving op
// moves min(own count, parked count). A parked reader completes on delivery;
// a parked writer stays parked until its count is drained.
func (s *Store) match(tx *transmit, arriving pending, writing bool) (uint32, error) {
	peer := s.peer(tx, writing)
	w, r := arriving, peer.op
	if !writing {
		w, r = peer.op, arriving
	}

	n := min(w.remaining(), r.remaining())
	if err := s.transfer(tx, w, r, n); err != nil {
		return 0, err
	}
	advance(tx, w, n)
	advance(tx, r, n)

	if writing || peer.op.remaining() == 0 {
		s.complete(tx, peer, !writing, false)
	}
	if tx.kind == waitable.KindFuture {
		// A delivered future cannot be written again.
		tx.write.clear()
		tx.write.state = SideClosed
	}

	s.log.Debug("matched",
		zap.Uint32("rep", tx.rep),
		zap.Uint32("count", n),
		zap.Stringer("read", tx.read.state),
		zap.Stringer("write", tx.write.state))
	return n, nil
}

// complete finishes the op parked on sd. A guest op gets its handle back
// and an event carrying its progress; a host op resolves its promise.
func (s *Store) complete(tx *transmit, sd *side, parkedWriter, closed bool) {
	op := sd.op
	sd.clear()

	if g := op.guest; g != nil {
		code := g.done
		if closed {
			code |= Closed
		}
		restore(g)
		s.sched.RemoveChild(g.caller, tx.rep)
		s.sched.PushEvent(task.Event{
			Kind:   tx.eventKind(!parkedWriter),
			Task:   g.caller,
			Handle: g.handle,
			Rep:    tx.rep,
			Code:   code,
		})
		return
	}
	if h := op.host; h != nil {
		h.resolve(HostResult{Values: h.received, Count: h.done, Closed: closed})
	}
}

// GuestCancelWrite cancels the write parked on h and returns the number
// of elements it had already transferred.
func (s *Store) GuestCancelWrite(inst *Instance, typeIdx, h uint32) (uint32, error) {
	return s.guestCancel(inst, typeIdx, h, true)
}

// GuestCancelRead cancels the read parked on h.
func (s *Store) GuestCancelRead(inst *Instance, typeIdx, h uint32) (uint32, error) {
	return s.guestCancel(inst, typeIdx, h, false)
}

func (s *Store) guestCancel(inst *Instance, typeIdx, h uint32, writing bool) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role := "read"
	if writing {
		role = "write"
	}
	if err := s.checkOpen(errors.PhaseCancel); err != nil {
		return 0, err
	}
	_, e, err := s.lookup(inst, typeIdx, h, errors.PhaseCancel)
	if err != nil {
		return 0, err
	}
	if e.State != waitable.StateBusy {
		return 0, errors.NotPending(errors.PhaseCancel, role)
	}
	tx, ok := s.transmit(e.Rep)
	if !ok {
		return 0, errors.NotPending(errors.PhaseCancel, role)
	}
	sd := s.own(tx, writing)
	g := sd.op.guest
	if sd.state != SideGuestReady || g == nil || g.inst != inst || g.handle != h {
		return 0, errors.NotPending(errors.PhaseCancel, role)
	}

	sd.clear()
	restore(g)
	s.sched.RemoveChild(g.caller, tx.rep)

	s.log.Debug("guest cancel "+role,
		zap.Uint32("handle", h),
		zap.Uint32("rep", tx.rep),
		zap.Uint32("done", g.done))
	return g.done, nil
}

// GuestCloseWritable drops the write end h. errCtx must be zero: closing
// with an error context is not supported.
func (s *Store) GuestCloseWritable(inst *Instance, typeIdx, h, errCtx uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if errCtx != 0 {
		return errors.Unsupported(errors.PhaseClose, closeWithErrorUnsupported)
	}
	if err := s.checkOpen(errors.PhaseClose); err != nil {
		return err
	}
	_, e, err := s.lookup(inst, typeIdx, h, errors.PhaseClose)
	if err != nil {
		return err
	}
	switch e.State {
	case waitable.StateBusy:
		return errors.Busy(errors.PhaseClose, h)
	case waitable.StateRead:
		return errors.InvalidHandle(errors.PhaseClose, h)
	}

	s.dropEnd(inst, h, e)
	return nil
}

// GuestCloseReadable drops the read end h.
func (s *Store) GuestCloseReadable(inst *Instance, typeIdx, h uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseClose); err != nil {
		return err
	}
	_, e, err := s.lookup(inst, typeIdx, h, errors.PhaseClose)
	if err != nil {
		return err
	}
	switch e.State {
	case waitable.StateBusy:
		return errors.Busy(errors.PhaseClose, h)
	case waitable.StateRead:
	default:
		return errors.InvalidHandle(errors.PhaseClose, h)
	}

	s.dropEnd(inst, h, e)
	return nil
}

// closeWriter marks the write side closed and unblocks a parked reader.
func (s *Store) closeWriter(tx *transmit) {
	s.closeSide(tx, true)
}

// closeReader marks the read side closed and unblocks a parked writer.
func (s *Store) closeReader(tx *transmit) {
	s.closeSide(tx, false)
}

func (s *Store) closeSide(tx *transmit, writer bool) {
	own, peer := s.own(tx, writer), s.peer(tx, writer)
	if own.state != SideClosed {
		if h := own.op.host; h != nil {
			h.resolve(HostResult{Values: h.received, Count: h.done, Closed: true})
		}
		own.op = pending{}
		own.state = SideClosed
		if peer.state == SideGuestReady || peer.state == SideHostReady {
			s.complete(tx, peer, !writer, true)
		}
		s.log.Debug("side closed",
			zap.Uint32("rep", tx.rep),
			zap.Bool("writer", writer),
			zap.Stringer("peer", peer.state))
	}
	s.maybeDelete(tx)
}
