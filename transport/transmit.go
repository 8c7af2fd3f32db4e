package transport

import (
	"fmt"
	"reflect"

	"github.com/wippyai/wasm-async/canon"
	"github.com/wippyai/wasm-async/task"
	"github.com/wippyai/wasm-async/waitable"
	"go.bytecodealliance.org/wit"
)

// Status words returned to guest code.
const (
	Blocked uint32 = 0xFFFF_FFFF
	Closed  uint32 = 0x8000_0000
)

// SideState is the state of one side (read or write) of a transmit.
type SideState uint8

const (
	SideOpen SideState = iota
	SideGuestReady
	SideHostReady
	SideClosed
)

func (s SideState) String() string {
	switch s {
	case SideOpen:
		return "open"
	case SideGuestReady:
		return "guest-ready"
	case SideHostReady:
		return "host-ready"
	case SideClosed:
		return "closed"
	}
	return fmt.Sprintf("side(%d)", uint8(s))
}

// guestOp is a guest read or write pointing into the instance's memory.
type guestOp struct {
	inst    *Instance
	prior   waitable.State
	handle  uint32
	addr    uint32
	count   uint32
	done    uint32
	caller  task.ID
	typeIdx uint32
}

// hostOp is a host read or write. A write carries the values still to be
// delivered; a read collects received values until its capacity is used.
type hostOp struct {
	result   chan HostResult
	values   []any
	received []any
	count    uint32
	done     uint32
	resolved bool
}

func newHostOp(values []any, count uint32) *hostOp {
	return &hostOp{
		result: make(chan HostResult, 1),
		values: values,
		count:  count,
	}
}

func (h *hostOp) resolve(r HostResult) {
	if h.resolved {
		return
	}
	h.resolved = true
	h.result <- r
	close(h.result)
}

// pending is a parked or arriving operation: exactly one of guest or host
// is set.
type pending struct {
	guest *guestOp
	host  *hostOp
}

func (p pending) remaining() uint32 {
	if p.guest != nil {
		return p.guest.count
	}
	return p.host.count
}

type side struct {
	op    pending
	state SideState
}

func (s *side) park(op pending) {
	s.op = op
	if op.guest != nil {
		s.state = SideGuestReady
	} else {
		s.state = SideHostReady
	}
}

func (s *side) clear() {
	s.op = pending{}
	if s.state != SideClosed {
		s.state = SideOpen
	}
}

// HostResult is the outcome of a host read or write.
type HostResult struct {
	// Values holds the received values of a read.
	Values []any
	// Count is the number of elements transferred by the operation.
	Count uint32
	// Closed reports that the opposite end was closed.
	Closed bool
	// Cancelled reports that the operation was cancelled.
	Cancelled bool
}

type transmit struct {
	elem     wit.Type
	hostType reflect.Type
	read     side
	write    side
	rep      uint32
	size     uint32
	align    uint32
	kind     waitable.Kind
	flat     bool
}

func (t *transmit) eventKind(read bool) task.EventKind {
	switch {
	case t.kind == waitable.KindFuture && read:
		return task.EventFutureRead
	case t.kind == waitable.KindFuture:
		return task.EventFutureWrite
	case read:
		return task.EventStreamRead
	}
	return task.EventStreamWrite
}

func (t *transmit) typeName() string {
	if t.elem == nil {
		return t.kind.String()
	}
	return fmt.Sprintf("%s<%s>", t.kind, canon.WITName(t.elem))
}

// Snapshot is a read-only view of a transmit's state.
type Snapshot struct {
	Payload string
	Rep     uint32
	Kind    waitable.Kind
	Read    SideState
	Write   SideState
	// ReadPending and WritePending are the remaining counts of parked ops.
	ReadPending  uint32
	WritePending uint32
}
