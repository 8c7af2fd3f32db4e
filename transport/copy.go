package transport

import (
	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/waitable"
)

// checkGuest validates n elements at g's current address against the
// instance memory as it is now. Memory may have grown since g was parked.
func checkGuest(tx *transmit, g *guestOp, n uint32, side string) error {
	if tx.size == 0 || n == 0 {
		return nil
	}
	if g.addr%tx.align != 0 {
		return errors.Unaligned(errors.PhaseCopy, side, g.addr, tx.align)
	}
	total := uint64(tx.size) * uint64(n)
	if uint64(g.addr)+total > uint64(g.inst.opts.Memory.Size()) {
		return errors.OutOfBounds(errors.PhaseCopy, side, g.addr, uint32(total))
	}
	return nil
}

// transfer moves n elements from writer w to reader r. Bounds, alignment
// and lifting are checked before anything is stored, so those failures
// leave the reader untouched. A failure while lowering can leave a prefix
// of the elements stored in the reader's memory.
func (s *Store) transfer(tx *transmit, w, r pending, n uint32) error {
	if n == 0 {
		return nil
	}

	switch {
	case w.guest != nil && r.guest != nil:
		if err := checkGuest(tx, w.guest, n, "write"); err != nil {
			return err
		}
		if err := checkGuest(tx, r.guest, n, "read"); err != nil {
			return err
		}
		return s.copyGuest(tx, w.guest, r.guest, n)

	case w.guest != nil:
		if err := checkGuest(tx, w.guest, n, "write"); err != nil {
			return err
		}
		values, err := s.liftGuest(tx, w.guest, n)
		if err != nil {
			return err
		}
		r.host.received = append(r.host.received, values...)
		return nil

	case r.guest != nil:
		if err := checkGuest(tx, r.guest, n, "read"); err != nil {
			return err
		}
		if tx.elem == nil {
			return nil
		}
		if err := s.codec.StoreList(tx.elem, &r.guest.inst.opts, r.guest.addr, w.host.values[:n]); err != nil {
			return errors.Wrap(errors.PhaseCopy, errors.KindInvalidData, err, "lower "+tx.typeName()+" payload")
		}
		return nil

	default:
		r.host.received = append(r.host.received, w.host.values[:n]...)
		return nil
	}
}

// copyGuest copies between two guest memories. Flat payloads are copied
// byte for byte. Everything else is lifted in full before the first
// element is lowered.
func (s *Store) copyGuest(tx *transmit, w, r *guestOp, n uint32) error {
	if tx.elem == nil || tx.size == 0 {
		return nil
	}

	src, dst := &w.inst.opts, &r.inst.opts
	if tx.flat && !s.noFastPath {
		data, err := src.Memory.Read(w.addr, tx.size*n)
		if err != nil {
			return errors.Wrap(errors.PhaseCopy, errors.KindOutOfBounds, err, "write pointer out of bounds")
		}
		if err := dst.Memory.Write(r.addr, data); err != nil {
			return errors.Wrap(errors.PhaseCopy, errors.KindOutOfBounds, err, "read pointer out of bounds")
		}
		return nil
	}

	values, err := s.liftGuest(tx, w, n)
	if err != nil {
		return err
	}
	if err := s.codec.StoreList(tx.elem, dst, r.addr, values); err != nil {
		return errors.Wrap(errors.PhaseCopy, errors.KindInvalidData, err, "lower "+tx.typeName()+" payload")
	}
	return nil
}

func (s *Store) liftGuest(tx *transmit, w *guestOp, n uint32) ([]any, error) {
	if tx.elem == nil {
		return make([]any, n), nil
	}
	values, err := s.codec.LoadList(tx.elem, &w.inst.opts, w.addr, n)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCopy, errors.KindInvalidData, err, "lift "+tx.typeName()+" payload")
	}
	return values, nil
}

// advance records that n elements of p have been transferred.
func advance(tx *transmit, p pending, n uint32) {
	if g := p.guest; g != nil {
		g.addr += n * tx.size
		g.count -= n
		g.done += n
		return
	}
	h := p.host
	if h.values != nil {
		h.values = h.values[n:]
	}
	h.count -= n
	h.done += n
}

// restore returns a guest handle to the state it had before its op.
func restore(g *guestOp) {
	if g.prior == waitable.StateBusy {
		return
	}
	g.inst.table.SetState(g.handle, g.prior)
}
