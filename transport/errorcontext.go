package transport

import (
	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/waitable"
	"go.uber.org/zap"
)

// errorContext is a global error context entry. refs is the sum of the
// local counts held by every instance table and by the host.
type errorContext struct {
	message string
	refs    uint32
}

func (s *Store) newContext(msg string) uint32 {
	c := &errorContext{message: msg}
	if n := len(s.freeCtx); n > 0 {
		rep := s.freeCtx[n-1]
		s.freeCtx = s.freeCtx[:n-1]
		s.contexts[rep-1] = c
		return rep
	}
	s.contexts = append(s.contexts, c)
	return uint32(len(s.contexts))
}

func (s *Store) context(rep uint32) (*errorContext, bool) {
	if rep == 0 || int(rep) > len(s.contexts) {
		return nil, false
	}
	c := s.contexts[rep-1]
	return c, c != nil
}

// addLocal records one more reference from inst to rep.
func (s *Store) addLocal(inst *Instance, rep uint32) uint32 {
	h, _ := inst.table.AddErrorContext(rep)
	s.contexts[rep-1].refs++
	return h
}

// releaseGlobal drops one global reference, deleting the message at zero.
func (s *Store) releaseGlobal(rep uint32) {
	c, ok := s.context(rep)
	if !ok {
		return
	}
	c.refs--
	if c.refs == 0 {
		s.contexts[rep-1] = nil
		s.freeCtx = append(s.freeCtx, rep)
		s.log.Debug("error context deleted", zap.Uint32("rep", rep))
	}
}

// ErrorContextNew creates an error context from the UTF-8 debug message of
// length bytes at addr in inst's memory and returns inst's handle to it.
func (s *Store) ErrorContextNew(inst *Instance, addr, length uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseErrorContext); err != nil {
		return 0, err
	}
	msg, err := s.strings.LoadString(&inst.opts, addr, length)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseErrorContext, errors.KindInvalidData, err, "lift debug message")
	}
	rep := s.newContext(msg)
	h := s.addLocal(inst, rep)
	s.log.Debug("error context created",
		zap.Uint32("instance", inst.id),
		zap.Uint32("handle", h),
		zap.Uint32("rep", rep))
	return h, nil
}

func (s *Store) localContext(inst *Instance, h uint32) (waitable.Entry, *errorContext, error) {
	e, ok := inst.table.Get(h)
	if !ok || e.Kind != waitable.KindErrorContext {
		return waitable.Entry{}, nil, errors.InvalidHandle(errors.PhaseErrorContext, h)
	}
	c, ok := s.context(e.Rep)
	if !ok {
		return waitable.Entry{}, nil, errors.New(errors.PhaseErrorContext, errors.KindRefCount).
			Handle(h).Rep(e.Rep).Detail("error context already deleted").Build()
	}
	return e, c, nil
}

// ErrorContextDebugMessage lowers the debug message of h into inst's
// memory through its allocator and writes (ptr, len) at retAddr.
func (s *Store) ErrorContextDebugMessage(inst *Instance, h, retAddr uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseErrorContext); err != nil {
		return err
	}
	_, c, err := s.localContext(inst, h)
	if err != nil {
		return err
	}
	if retAddr%4 != 0 {
		return errors.Unaligned(errors.PhaseErrorContext, "write", retAddr, 4)
	}
	if uint64(retAddr)+8 > uint64(inst.opts.Memory.Size()) {
		return errors.OutOfBounds(errors.PhaseErrorContext, "write", retAddr, 8)
	}
	ptr, length, err := s.strings.StoreString(&inst.opts, c.message)
	if err != nil {
		return errors.Wrap(errors.PhaseErrorContext, errors.KindAllocation, err, "lower debug message")
	}
	if err := inst.opts.Memory.WriteU32(retAddr, ptr); err != nil {
		return err
	}
	return inst.opts.Memory.WriteU32(retAddr+4, length)
}

// ErrorContextDrop releases one reference held by h. The message is deleted
// once no instance and no host code references it.
func (s *Store) ErrorContextDrop(inst *Instance, h uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseErrorContext); err != nil {
		return err
	}
	e, ok := inst.table.Get(h)
	if !ok {
		return errors.New(errors.PhaseErrorContext, errors.KindRefCount).Handle(h).
			Detail("error context dropped more times than referenced").Build()
	}
	if e.Kind != waitable.KindErrorContext {
		return errors.InvalidHandle(errors.PhaseErrorContext, h)
	}
	rep, remaining, _ := inst.table.ReleaseErrorContext(h)
	s.releaseGlobal(rep)
	s.log.Debug("error context dropped",
		zap.Uint32("instance", inst.id),
		zap.Uint32("handle", h),
		zap.Uint32("local", remaining))
	return nil
}

// TransferErrorContext gives dst a reference to the error context held by
// h in src and returns dst's handle. src keeps its reference.
func (s *Store) TransferErrorContext(src *Instance, h uint32, dst *Instance) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseErrorContext); err != nil {
		return 0, err
	}
	e, _, err := s.localContext(src, h)
	if err != nil {
		return 0, err
	}
	return s.addLocal(dst, e.Rep), nil
}

// HostErrorContextNew creates an error context referenced by host code.
func (s *Store) HostErrorContextNew(msg string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseErrorContext); err != nil {
		return 0, err
	}
	rep := s.newContext(msg)
	s.contexts[rep-1].refs++
	s.hostRefs[rep]++
	return rep, nil
}

// HostErrorContextMessage returns the debug message of rep.
func (s *Store) HostErrorContextMessage(rep uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hostRefs[rep] == 0 {
		return "", errors.New(errors.PhaseErrorContext, errors.KindInvalidHandle).
			Rep(rep).Detail("error context not held by host").Build()
	}
	c, _ := s.context(rep)
	return c.message, nil
}

// HostErrorContextDrop releases one host reference to rep.
func (s *Store) HostErrorContextDrop(rep uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseErrorContext); err != nil {
		return err
	}
	if s.hostRefs[rep] == 0 {
		return errors.New(errors.PhaseErrorContext, errors.KindRefCount).
			Rep(rep).Detail("error context dropped more times than referenced").Build()
	}
	s.hostRefs[rep]--
	if s.hostRefs[rep] == 0 {
		delete(s.hostRefs, rep)
	}
	s.releaseGlobal(rep)
	return nil
}

// ErrorContextLowerToIndex gives inst a reference to the host-held rep.
func (s *Store) ErrorContextLowerToIndex(inst *Instance, rep uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseErrorContext); err != nil {
		return 0, err
	}
	if s.hostRefs[rep] == 0 {
		return 0, errors.New(errors.PhaseErrorContext, errors.KindInvalidHandle).
			Rep(rep).Detail("error context not held by host").Build()
	}
	return s.addLocal(inst, rep), nil
}

// ErrorContextLiftFromIndex gives host code a reference to the error
// context held by h in inst.
func (s *Store) ErrorContextLiftFromIndex(inst *Instance, h uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(errors.PhaseErrorContext); err != nil {
		return 0, err
	}
	e, c, err := s.localContext(inst, h)
	if err != nil {
		return 0, err
	}
	c.refs++
	s.hostRefs[e.Rep]++
	return e.Rep, nil
}

// ErrorContextRefs returns the global reference count of rep.
func (s *Store) ErrorContextRefs(rep uint32) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.context(rep)
	if !ok {
		return 0, false
	}
	return c.refs, true
}

// ErrorContexts returns the number of live error contexts.
func (s *Store) ErrorContexts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts) - len(s.freeCtx)
}

// VerifyErrorContexts checks that every global count equals the sum of the
// local counts held by instances and host code.
func (s *Store) VerifyErrorContexts() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sums := make(map[uint32]uint32, len(s.contexts))
	for rep, n := range s.hostRefs {
		sums[rep] += n
	}
	for _, inst := range s.instances {
		inst.table.Each(func(_ uint32, e waitable.Entry) bool {
			if e.Kind == waitable.KindErrorContext {
				sums[e.Rep] += e.Refs
			}
			return true
		})
	}

	for i, c := range s.contexts {
		rep := uint32(i + 1)
		if c == nil {
			if sums[rep] != 0 {
				return errors.New(errors.PhaseErrorContext, errors.KindRefCount).Rep(rep).
					Detail("%d local references to a deleted error context", sums[rep]).Build()
			}
			continue
		}
		if c.refs != sums[rep] {
			return errors.New(errors.PhaseErrorContext, errors.KindRefCount).Rep(rep).
				Detail("global count %d, local sum %d", c.refs, sums[rep]).Build()
		}
	}
	return nil
}
