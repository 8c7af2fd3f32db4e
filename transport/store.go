package transport

import (
	"sync"

	wasmasync "github.com/wippyai/wasm-async"
	"github.com/wippyai/wasm-async/canon"
	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/task"
	"github.com/wippyai/wasm-async/waitable"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"
)

// Store owns every transmit, error context and instance of one component
// store. All transitions are serialized by a single mutex.
type Store struct {
	log        *zap.Logger
	sched      task.Scheduler
	codec      canon.ValueCodec
	strings    *canon.Codec
	calc       *canon.Calculator
	flat       *canon.FlatTable
	transmits  []*transmit
	freeReps   []uint32
	contexts   []*errorContext
	freeCtx    []uint32
	hostRefs   map[uint32]uint32
	instances  map[uint32]*Instance
	nextInst   uint32
	live       int
	maxLive    int
	mu         sync.Mutex
	closed     bool
	noFastPath bool
}

// New creates a Store.
func New(opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	calc := canon.NewCalculator()
	flat, err := canon.NewFlatTable(calc, cfg.flatCacheSize)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindLimit, err, "create flat element cache")
	}

	s := &Store{
		log:       cfg.logger,
		sched:     cfg.scheduler,
		codec:     cfg.codec,
		strings:   canon.NewCodec(calc),
		calc:      calc,
		flat:      flat,
		hostRefs:  make(map[uint32]uint32),
		instances: make(map[uint32]*Instance),
		maxLive:   cfg.maxTransmits,
	}
	if s.log == nil {
		s.log = Logger()
	}
	if s.sched == nil {
		s.sched = task.NewManager()
	}
	if s.codec == nil {
		s.codec = canon.NewCodec(calc)
	}
	return s, nil
}

// Scheduler returns the task collaborator events are pushed to.
func (s *Store) Scheduler() task.Scheduler {
	return s.sched
}

// Instance is one component instance attached to a store: its memory,
// allocator, handle table and the stream/future types it declares.
type Instance struct {
	store *Store
	table *waitable.Table
	opts  canon.Options
	types []typeEntry
	id    uint32
}

type typeEntry struct {
	elem wit.Type
	kind waitable.Kind
}

// NewInstance attaches an instance with the given memory and realloc.
// realloc may be nil when the instance never receives strings or lists.
func (s *Store) NewInstance(mem wasmasync.LinearMemory, realloc wasmasync.Allocator) *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextInst++
	inst := &Instance{
		store: s,
		id:    s.nextInst,
		table: waitable.NewTable(),
		opts: canon.Options{
			Memory:   mem,
			Realloc:  realloc,
			Encoding: canon.StringEncodingUTF8,
		},
	}
	s.instances[inst.id] = inst
	s.log.Debug("instance added", zap.Uint32("instance", inst.id))
	return inst
}

// ID returns the instance id within its store.
func (i *Instance) ID() uint32 {
	return i.id
}

// DefineStream declares a stream<elem> type and returns its type index.
// elem is nil for a stream without payload.
func (i *Instance) DefineStream(elem wit.Type) uint32 {
	return i.define(waitable.KindStream, elem)
}

// DefineFuture declares a future<elem> type and returns its type index.
func (i *Instance) DefineFuture(elem wit.Type) uint32 {
	return i.define(waitable.KindFuture, elem)
}

func (i *Instance) define(kind waitable.Kind, elem wit.Type) uint32 {
	i.store.mu.Lock()
	defer i.store.mu.Unlock()

	i.types = append(i.types, typeEntry{kind: kind, elem: elem})
	return uint32(len(i.types) - 1)
}

func (i *Instance) typeAt(idx uint32) (typeEntry, bool) {
	if int(idx) >= len(i.types) {
		return typeEntry{}, false
	}
	return i.types[idx], true
}

// Handles returns a copy of the instance's live handles keyed by handle.
func (i *Instance) Handles() map[uint32]waitable.Entry {
	i.store.mu.Lock()
	defer i.store.mu.Unlock()

	out := make(map[uint32]waitable.Entry, i.table.Len())
	i.table.Each(func(h uint32, e waitable.Entry) bool {
		out[h] = e
		return true
	})
	return out
}

// Handle returns the entry for h.
func (i *Instance) Handle(h uint32) (waitable.Entry, bool) {
	i.store.mu.Lock()
	defer i.store.mu.Unlock()
	return i.table.Get(h)
}

func (s *Store) checkOpen(phase errors.Phase) error {
	if s.closed {
		return errors.New(phase, errors.KindClosed).Detail("store closed").Build()
	}
	return nil
}

func (s *Store) newTransmit(kind waitable.Kind, elem wit.Type) (*transmit, error) {
	if s.live >= s.maxLive {
		return nil, errors.New(errors.PhaseHost, errors.KindLimit).
			Detail("too many streams and futures (limit %d)", s.maxLive).Build()
	}

	tx := &transmit{kind: kind, elem: elem}
	info := s.flat.FlatElementInfo(elem)
	if info.Flat {
		tx.flat, tx.size, tx.align = true, info.Size, info.Align
	} else {
		l := s.calc.Calculate(elem)
		tx.size, tx.align = l.Size, l.Align
	}
	if tx.align == 0 {
		tx.align = 1
	}

	if n := len(s.freeReps); n > 0 {
		tx.rep = s.freeReps[n-1]
		s.freeReps = s.freeReps[:n-1]
		s.transmits[tx.rep-1] = tx
	} else {
		s.transmits = append(s.transmits, tx)
		tx.rep = uint32(len(s.transmits))
	}
	s.live++

	s.log.Debug("transmit created",
		zap.Uint32("rep", tx.rep),
		zap.String("type", tx.typeName()),
		zap.Bool("flat", tx.flat))
	return tx, nil
}

func (s *Store) transmit(rep uint32) (*transmit, bool) {
	if rep == 0 || int(rep) > len(s.transmits) {
		return nil, false
	}
	tx := s.transmits[rep-1]
	return tx, tx != nil
}

// maybeDelete removes tx once both sides are closed.
func (s *Store) maybeDelete(tx *transmit) {
	if tx.read.state != SideClosed || tx.write.state != SideClosed {
		return
	}
	s.transmits[tx.rep-1] = nil
	s.freeReps = append(s.freeReps, tx.rep)
	s.live--
	s.log.Debug("transmit deleted", zap.Uint32("rep", tx.rep))
}

// Snapshot returns the state of the transmit rep.
func (s *Store) Snapshot(rep uint32) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transmit(rep)
	if !ok {
		return Snapshot{}, false
	}
	return tx.snapshot(), true
}

// Snapshots returns every live transmit ordered by rep.
func (s *Store) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, 0, s.live)
	for _, tx := range s.transmits {
		if tx != nil {
			out = append(out, tx.snapshot())
		}
	}
	return out
}

// Len returns the number of live transmits.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (t *transmit) snapshot() Snapshot {
	snap := Snapshot{
		Rep:     t.rep,
		Kind:    t.kind,
		Payload: t.typeName(),
		Read:    t.read.state,
		Write:   t.write.state,
	}
	if t.read.state == SideGuestReady || t.read.state == SideHostReady {
		snap.ReadPending = t.read.op.remaining()
	}
	if t.write.state == SideGuestReady || t.write.state == SideHostReady {
		snap.WritePending = t.write.op.remaining()
	}
	return snap
}

// RemoveInstance detaches inst. Every stream or future end it still holds
// is closed, so peers observe CLOSED, and its error context references
// are released.
func (s *Store) RemoveInstance(inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.id]; !ok {
		return errors.New(errors.PhaseClose, errors.KindInvalidHandle).
			Detail("instance %d not attached", inst.id).Build()
	}

	type held struct {
		e waitable.Entry
		h uint32
	}
	var ends []held
	inst.table.Each(func(h uint32, e waitable.Entry) bool {
		ends = append(ends, held{h: h, e: e})
		return true
	})

	for _, end := range ends {
		switch end.e.Kind {
		case waitable.KindErrorContext:
			for i := uint32(0); i < end.e.Refs; i++ {
				s.releaseGlobal(end.e.Rep)
			}
			inst.table.Remove(end.h)
		default:
			s.dropEnd(inst, end.h, end.e)
		}
	}

	delete(s.instances, inst.id)
	s.log.Debug("instance removed", zap.Uint32("instance", inst.id), zap.Int("ends", len(ends)))
	return nil
}

// dropEnd cancels any op parked on h and closes the side(s) it holds.
func (s *Store) dropEnd(inst *Instance, h uint32, e waitable.Entry) {
	inst.table.Remove(h)
	tx, ok := s.transmit(e.Rep)
	if !ok {
		return
	}

	state := e.State
	if state == waitable.StateBusy {
		for _, sd := range []*side{&tx.write, &tx.read} {
			if g := sd.op.guest; g != nil && g.inst == inst && g.handle == h {
				s.sched.RemoveChild(g.caller, tx.rep)
				state = g.prior
				sd.clear()
			}
		}
	}

	switch state {
	case waitable.StateRead:
		s.closeReader(tx)
	case waitable.StateWrite:
		s.closeWriter(tx)
	case waitable.StateLocal:
		s.closeWriter(tx)
		if _, ok := s.transmit(e.Rep); ok {
			s.closeReader(tx)
		}
	}
}

// Close shuts the store down. Pending host operations resolve as closed
// and all tables are cleared.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, tx := range s.transmits {
		if tx == nil {
			continue
		}
		for _, sd := range []*side{&tx.read, &tx.write} {
			if h := sd.op.host; h != nil {
				h.resolve(HostResult{Values: h.received, Count: h.done, Closed: true})
			}
			if g := sd.op.guest; g != nil {
				s.sched.RemoveChild(g.caller, tx.rep)
			}
		}
	}

	s.transmits = nil
	s.freeReps = nil
	s.contexts = nil
	s.freeCtx = nil
	s.hostRefs = make(map[uint32]uint32)
	s.instances = make(map[uint32]*Instance)
	s.live = 0
	s.log.Debug("store closed")
	return nil
}

// TypeKind returns whether type index idx declares a stream or a future.
func (i *Instance) TypeKind(idx uint32) (waitable.Kind, bool) {
	i.store.mu.Lock()
	defer i.store.mu.Unlock()

	te, ok := i.typeAt(idx)
	return te.kind, ok
}
