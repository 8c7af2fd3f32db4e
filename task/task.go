// Package task tracks guest tasks for the stream/future transport.
//
// When a guest read or write parks, the transport records the channel rep as
// a child of the calling task so the task is not reaped while the opposite
// party still expects to signal it. When the operation completes, the
// transport pushes an Event onto the task's queue; the embedder's executor
// drains it with Poll or Wait and resumes the guest.
package task

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wippyai/wasm-async/errors"
	"go.uber.org/zap"
)

// ID identifies a guest task. Zero means "no task".
type ID uint32

// EventKind is the canonical ABI event code delivered to a waiting task.
type EventKind uint32

const (
	EventNone        EventKind = 0
	EventStreamRead  EventKind = 2
	EventStreamWrite EventKind = 3
	EventFutureRead  EventKind = 4
	EventFutureWrite EventKind = 5
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventStreamRead:
		return "stream-read"
	case EventStreamWrite:
		return "stream-write"
	case EventFutureRead:
		return "future-read"
	case EventFutureWrite:
		return "future-write"
	}
	return fmt.Sprintf("event(%d)", uint32(k))
}

// Event is a completion notification for a parked stream or future operation.
// Code is the element count, possibly or-ed with the CLOSED bit.
type Event struct {
	Kind   EventKind
	Task   ID
	Handle uint32
	Rep    uint32
	Code   uint32
}

// Scheduler is the task collaborator the transport pushes into.
type Scheduler interface {
	PushEvent(ev Event)
	AddChild(parent ID, rep uint32)
	RemoveChild(parent ID, rep uint32)
}

type state struct {
	children map[uint32]struct{}
	notify   chan struct{}
	events   []Event
	parent   ID
}

// Manager is an in-memory Scheduler with per-task event queues.
type Manager struct {
	tasks map[ID]*state
	mu    sync.Mutex
	next  ID
}

func NewManager() *Manager {
	return &Manager{tasks: make(map[ID]*state)}
}

// New registers a task and returns its id. parent may be zero.
func (m *Manager) New(parent ID) ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	id := m.next
	m.tasks[id] = &state{
		parent:   parent,
		children: make(map[uint32]struct{}),
		notify:   make(chan struct{}, 1),
	}
	return id
}

// Parent returns the parent of id.
func (m *Manager) Parent(id ID) (ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return 0, false
	}
	return st.parent, true
}

// PushEvent queues ev for ev.Task. Events for unknown tasks are dropped.
func (m *Manager) PushEvent(ev Event) {
	m.mu.Lock()
	st, ok := m.tasks[ev.Task]
	if !ok {
		m.mu.Unlock()
		Logger().Warn("event for unknown task dropped",
			zap.Uint32("task", uint32(ev.Task)),
			zap.Stringer("event", ev.Kind),
			zap.Uint32("rep", ev.Rep))
		return
	}
	st.events = append(st.events, ev)
	m.mu.Unlock()

	select {
	case st.notify <- struct{}{}:
	default:
	}
}

// AddChild records that parent waits on the channel rep.
func (m *Manager) AddChild(parent ID, rep uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.tasks[parent]; ok {
		st.children[rep] = struct{}{}
	}
}

// RemoveChild forgets the parent/child link.
func (m *Manager) RemoveChild(parent ID, rep uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.tasks[parent]; ok {
		delete(st.children, rep)
	}
}

// Children returns the channel reps id is waiting on, sorted.
func (m *Manager) Children(id ID) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return nil
	}
	reps := make([]uint32, 0, len(st.children))
	for rep := range st.children {
		reps = append(reps, rep)
	}
	sort.Slice(reps, func(i, j int) bool { return reps[i] < reps[j] })
	return reps
}

// Pending returns the number of queued events for id.
func (m *Manager) Pending(id ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.tasks[id]; ok {
		return len(st.events)
	}
	return 0
}

// Poll pops the oldest event for id without blocking.
func (m *Manager) Poll(id ID) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok || len(st.events) == 0 {
		return Event{}, false
	}
	ev := st.events[0]
	st.events = st.events[1:]
	return ev, true
}

// Wait blocks until an event for id is available or ctx is done.
func (m *Manager) Wait(ctx context.Context, id ID) (Event, error) {
	for {
		m.mu.Lock()
		st, ok := m.tasks[id]
		if !ok {
			m.mu.Unlock()
			return Event{}, notFound(id)
		}
		if len(st.events) > 0 {
			ev := st.events[0]
			st.events = st.events[1:]
			m.mu.Unlock()
			return ev, nil
		}
		notify := st.notify
		m.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Finish removes a task. A task that still has children cannot be reaped
// because a counterpart may yet signal it.
func (m *Manager) Finish(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[id]
	if !ok {
		return notFound(id)
	}
	if len(st.children) > 0 {
		return errors.New(errors.PhaseTask, errors.KindBusy).
			Detail("task %d still waits on %d stream/future operation(s)", id, len(st.children)).Build()
	}
	delete(m.tasks, id)
	return nil
}

func notFound(id ID) error {
	return errors.New(errors.PhaseTask, errors.KindInvalidHandle).
		Detail("task %d not found", id).Build()
}

// Len returns the number of live tasks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

type ctxKey struct{}

// WithTask returns a context carrying the calling task id. Intrinsics read
// it to know which task to resume.
func WithTask(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the task id stored by WithTask, or zero.
func FromContext(ctx context.Context) ID {
	id, _ := ctx.Value(ctxKey{}).(ID)
	return id
}
