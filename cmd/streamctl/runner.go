package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/wippyai/wasm-async/canon"
	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/memory"
	"github.com/wippyai/wasm-async/task"
	"github.com/wippyai/wasm-async/transport"
	"github.com/wippyai/wasm-async/waitable"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"
)

// Guest memory layout: element buffers are carved from the scratch region,
// strings and lists from the heap.
const (
	scratchBase = 1024
	heapBase    = 16384
)

type guest struct {
	name    string
	inst    *transport.Instance
	opts    canon.Options
	scratch *memory.Bump
	task    task.ID
	types   []wit.Type
}

// binding is a name given to a guest handle or a host rep by a step.
type binding struct {
	g    *guest
	typ  uint32
	id   uint32
	elem wit.Type
	read struct {
		addr    uint32
		pending bool
	}
	host     <-chan transport.HostResult
	hostRead bool
}

type stepResult struct {
	Index  int
	Op     string
	Status string
	Notes  []string
	Err    error
}

func (r stepResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%3d %-18s %s", r.Index, r.Op, r.Status)
	if r.Err != nil {
		fmt.Fprintf(&b, " (%v)", r.Err)
	}
	for _, n := range r.Notes {
		b.WriteString("\n      ")
		b.WriteString(n)
	}
	return b.String()
}

type runner struct {
	log    *zap.Logger
	sc     *Scenario
	rt     wazero.Runtime
	store  *transport.Store
	tasks  *task.Manager
	codec  *canon.Codec
	guests map[string]*guest
	order  []string
	binds  map[string]*binding
	next   int
}

func newRunner(ctx context.Context, sc *Scenario, log *zap.Logger) (*runner, error) {
	tasks := task.NewManager()
	opts := []transport.Option{transport.WithLogger(log), transport.WithScheduler(tasks)}
	if sc.MaxTransmits > 0 {
		opts = append(opts, transport.WithMaxTransmits(sc.MaxTransmits))
	}
	store, err := transport.New(opts...)
	if err != nil {
		return nil, err
	}

	r := &runner{
		log:    log,
		sc:     sc,
		rt:     wazero.NewRuntime(ctx),
		store:  store,
		tasks:  tasks,
		codec:  canon.NewCodec(nil),
		guests: make(map[string]*guest),
		binds:  make(map[string]*binding),
	}
	for _, spec := range sc.Instances {
		raw, err := memory.Standalone(ctx, r.rt, spec.Name, sc.MemoryPages)
		if err != nil {
			r.Close(ctx)
			return nil, err
		}
		mem := memory.WrapMemory(raw)
		heap := memory.NewBump(heapBase, raw.Size())
		g := &guest{
			name:    spec.Name,
			inst:    store.NewInstance(mem, heap),
			opts:    canon.Options{Memory: mem, Realloc: heap, Encoding: canon.StringEncodingUTF8},
			scratch: memory.NewBump(scratchBase, heapBase),
			task:    tasks.New(0),
		}
		r.guests[spec.Name] = g
		r.order = append(r.order, spec.Name)
	}
	for _, ty := range sc.Types {
		g := r.guests[ty.Instance]
		elem := elemType(ty.Elem)
		if ty.Kind == "future" {
			g.inst.DefineFuture(elem)
		} else {
			g.inst.DefineStream(elem)
		}
		g.types = append(g.types, elem)
	}
	return r, nil
}

// Close releases the store and the wazero runtime.
func (r *runner) Close(ctx context.Context) error {
	r.store.Close()
	return r.rt.Close(ctx)
}

// Done reports whether every step has run.
func (r *runner) Done() bool {
	return r.next >= len(r.sc.Steps)
}

// Step runs the next step. An unmet expectation is reported in Err.
func (r *runner) Step() stepResult {
	st := r.sc.Steps[r.next]
	r.next++

	res := stepResult{Index: r.next, Op: st.Op}
	status, err := r.exec(st)
	switch {
	case err != nil && st.Expect == "error":
		res.Status = "error"
		res.Notes = append(res.Notes, err.Error())
	case err != nil:
		res.Status, res.Err = "error", err
	default:
		res.Status = status
		if !matches(st.Expect, status) {
			res.Err = fmt.Errorf("expected %s, got %s", st.Expect, status)
		}
	}
	res.Notes = append(res.Notes, r.drain()...)
	r.log.Debug("step", zap.Int("index", res.Index), zap.String("op", st.Op), zap.String("status", res.Status))
	return res
}

// Run executes the remaining steps and stops at the first failure.
func (r *runner) Run(report func(stepResult)) error {
	for !r.Done() {
		res := r.Step()
		report(res)
		if res.Err != nil {
			return fmt.Errorf("step %d (%s): %w", res.Index, res.Op, res.Err)
		}
	}
	return nil
}

func (r *runner) exec(st Step) (string, error) {
	switch st.Op {
	case "new":
		g := r.guests[st.Instance]
		h, err := r.store.GuestNew(g.inst, st.Type)
		if err != nil {
			return "", err
		}
		r.bindGuest(st.Bind, g, st.Type, h)
		return handleStatus(h), nil

	case "transfer":
		b, err := r.guestEnd(st.Handle)
		if err != nil {
			return "", err
		}
		dst := r.guests[st.To]
		h, err := r.store.Transfer(b.g.inst, b.typ, b.id, dst.inst, st.ToType)
		if err != nil {
			return "", err
		}
		r.bindGuest(st.Bind, dst, st.ToType, h)
		return handleStatus(h), nil

	case "lower":
		b, err := r.hostEnd(st.Handle)
		if err != nil {
			return "", err
		}
		dst := r.guests[st.To]
		h, err := r.store.LowerToIndex(dst.inst, st.ToType, b.id)
		if err != nil {
			return "", err
		}
		r.bindGuest(st.Bind, dst, st.ToType, h)
		return handleStatus(h), nil

	case "lift":
		b, err := r.guestEnd(st.Handle)
		if err != nil {
			return "", err
		}
		rep, err := r.store.LiftFromIndex(b.g.inst, b.typ, b.id)
		if err != nil {
			return "", err
		}
		if st.Bind != "" {
			r.binds[st.Bind] = &binding{id: rep, elem: b.elem}
		}
		return "rep " + strconv.FormatUint(uint64(rep), 10), nil

	case "write":
		b, err := r.guestEnd(st.Handle)
		if err != nil {
			return "", err
		}
		values, err := convertValues(b.elem, st.Values)
		if err != nil {
			return "", err
		}
		addr, err := r.buffer(b, uint32(len(values)))
		if err != nil {
			return "", err
		}
		if len(values) > 0 {
			if err := r.codec.StoreList(b.elem, &b.g.opts, addr, values); err != nil {
				return "", err
			}
		}
		code, err := r.store.GuestWrite(b.g.task, b.g.inst, b.typ, b.id, addr, uint32(len(values)))
		if err != nil {
			return "", err
		}
		return formatStatus(code), nil

	case "read":
		b, err := r.guestEnd(st.Handle)
		if err != nil {
			return "", err
		}
		addr, err := r.buffer(b, max(st.Count, 1))
		if err != nil {
			return "", err
		}
		code, err := r.store.GuestRead(b.g.task, b.g.inst, b.typ, b.id, addr, st.Count)
		if err != nil {
			return "", err
		}
		b.read.addr = addr
		b.read.pending = code == transport.Blocked
		return r.withValues(b, formatStatus(code), code), nil

	case "cancel-read", "cancel-write":
		b, err := r.guestEnd(st.Handle)
		if err != nil {
			return "", err
		}
		cancel := r.store.GuestCancelWrite
		if st.Op == "cancel-read" {
			cancel = r.store.GuestCancelRead
		}
		n, err := cancel(b.g.inst, b.typ, b.id)
		if err != nil {
			return "", err
		}
		if st.Op == "cancel-read" {
			b.read.pending = false
			return r.withValues(b, formatStatus(n), n), nil
		}
		return formatStatus(n), nil

	case "close-readable":
		b, err := r.guestEnd(st.Handle)
		if err != nil {
			return "", err
		}
		return "ok", r.store.GuestCloseReadable(b.g.inst, b.typ, b.id)

	case "close-writable":
		b, err := r.guestEnd(st.Handle)
		if err != nil {
			return "", err
		}
		var errCtx uint32
		if st.ErrCtx != "" {
			errCtx = r.binds[st.ErrCtx].id
		}
		return "ok", r.store.GuestCloseWritable(b.g.inst, b.typ, b.id, errCtx)

	case "host-new":
		kind := waitable.KindStream
		if st.Kind == "future" {
			kind = waitable.KindFuture
		}
		elem := elemType(st.Elem)
		rep, err := r.store.HostNew(kind, elem, nil)
		if err != nil {
			return "", err
		}
		if st.Bind != "" {
			r.binds[st.Bind] = &binding{id: rep, elem: elem}
		}
		return "rep " + strconv.FormatUint(uint64(rep), 10), nil

	case "host-write":
		b, err := r.hostEnd(st.Handle)
		if err != nil {
			return "", err
		}
		values, err := convertValues(b.elem, st.Values)
		if err != nil {
			return "", err
		}
		ch, err := r.store.HostWrite(b.id, values)
		if err != nil {
			return "", err
		}
		b.host, b.hostRead = ch, false
		return "pending", nil

	case "host-read":
		b, err := r.hostEnd(st.Handle)
		if err != nil {
			return "", err
		}
		ch, err := r.store.HostRead(b.id, st.Count)
		if err != nil {
			return "", err
		}
		b.host, b.hostRead = ch, true
		return "pending", nil

	case "host-cancel-read", "host-cancel-write":
		b, err := r.hostEnd(st.Handle)
		if err != nil {
			return "", err
		}
		cancel := r.store.HostCancelWrite
		if st.Op == "host-cancel-read" {
			cancel = r.store.HostCancelRead
		}
		res, err := cancel(b.id)
		if err != nil {
			return "", err
		}
		return formatStatus(res.Count), nil

	case "host-close-reader", "host-close-writer":
		b, err := r.hostEnd(st.Handle)
		if err != nil {
			return "", err
		}
		if st.Op == "host-close-reader" {
			return "ok", r.store.HostCloseReader(b.id)
		}
		return "ok", r.store.HostCloseWriter(b.id)

	case "error-context":
		g := r.guests[st.Instance]
		addr, err := g.scratch.Alloc(uint32(len(st.Message)), 1)
		if err != nil {
			return "", err
		}
		if err := g.opts.Memory.Write(addr, []byte(st.Message)); err != nil {
			return "", err
		}
		h, err := r.store.ErrorContextNew(g.inst, addr, uint32(len(st.Message)))
		if err != nil {
			return "", err
		}
		r.bindGuest(st.Bind, g, 0, h)
		return handleStatus(h), nil

	case "error-context-drop":
		b, err := r.guestEnd(st.Handle)
		if err != nil {
			return "", err
		}
		if err := r.store.ErrorContextDrop(b.g.inst, b.id); err != nil {
			return "", err
		}
		return "ok", r.store.VerifyErrorContexts()

	case "remove-instance":
		return "ok", r.store.RemoveInstance(r.guests[st.Instance].inst)
	}
	return "", errors.Unsupported(errors.PhaseConfig, "scenario op "+st.Op)
}

func (r *runner) bindGuest(name string, g *guest, typ, h uint32) {
	if name == "" {
		return
	}
	var elem wit.Type
	if int(typ) < len(g.types) {
		elem = g.types[typ]
	}
	r.binds[name] = &binding{g: g, typ: typ, id: h, elem: elem}
}

func (r *runner) guestEnd(name string) (*binding, error) {
	b := r.binds[name]
	if b == nil || b.g == nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Detail("%q is not a guest handle", name).Build()
	}
	return b, nil
}

func (r *runner) hostEnd(name string) (*binding, error) {
	b := r.binds[name]
	if b == nil || b.g != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Detail("%q is not a host rep", name).Build()
	}
	return b, nil
}

// buffer reserves room for n elements of b's payload in its instance.
func (r *runner) buffer(b *binding, n uint32) (uint32, error) {
	var l canon.Info
	if b.elem != nil {
		l = canon.NewCalculator().Calculate(b.elem)
	}
	return b.g.scratch.Alloc(max(l.Size*n, 1), max(l.Align, 1))
}

// withValues appends the elements a completed guest read delivered.
func (r *runner) withValues(b *binding, status string, code uint32) string {
	n := code &^ transport.Closed
	if code == transport.Blocked || n == 0 || b.elem == nil {
		return status
	}
	values, err := r.codec.LoadList(b.elem, &b.g.opts, b.read.addr, n)
	if err != nil {
		return status + " <" + err.Error() + ">"
	}
	return status + " " + fmt.Sprint(values)
}

// drain collects task events and resolved host operations.
func (r *runner) drain() []string {
	var notes []string
	for _, name := range r.order {
		g := r.guests[name]
		for {
			ev, ok := r.tasks.Poll(g.task)
			if !ok {
				break
			}
			note := fmt.Sprintf("%s: %s handle %d %s", name, ev.Kind, ev.Handle, formatStatus(ev.Code))
			if ev.Kind == task.EventStreamRead || ev.Kind == task.EventFutureRead {
				if b := r.readBinding(g, ev.Handle); b != nil {
					b.read.pending = false
					note = r.withValues(b, note, ev.Code)
				}
			}
			notes = append(notes, note)
		}
	}

	names := make([]string, 0, len(r.binds))
	for name, b := range r.binds {
		if b.host != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b := r.binds[name]
		select {
		case res, ok := <-b.host:
			if !ok {
				b.host = nil
				continue
			}
			role := "write"
			if b.hostRead {
				role = "read"
			}
			note := fmt.Sprintf("host %s %s: count %d", role, name, res.Count)
			if len(res.Values) > 0 {
				note += " " + fmt.Sprint(res.Values)
			}
			switch {
			case res.Cancelled:
				note += " cancelled"
			case res.Closed:
				note += " closed"
			}
			notes = append(notes, note)
			b.host = nil
		default:
		}
	}
	return notes
}

func (r *runner) readBinding(g *guest, h uint32) *binding {
	for _, b := range r.binds {
		if b.g == g && b.id == h && b.read.pending {
			return b
		}
	}
	return nil
}

// Transmits returns the live transmit states.
func (r *runner) Transmits() []transport.Snapshot {
	return r.store.Snapshots()
}

func formatStatus(code uint32) string {
	switch {
	case code == transport.Blocked:
		return "blocked"
	case code == transport.Closed:
		return "closed"
	case code&transport.Closed != 0:
		return fmt.Sprintf("closed|%d", code&^transport.Closed)
	}
	return strconv.FormatUint(uint64(code), 10)
}

func handleStatus(h uint32) string {
	return "handle " + strconv.FormatUint(uint64(h), 10)
}

// convertValues adapts TOML values to the Go types the codec expects.
func convertValues(elem wit.Type, in []any) ([]any, error) {
	out := make([]any, len(in))
	for i, v := range in {
		switch elem.(type) {
		case wit.Char:
			s, ok := v.(string)
			if !ok || len([]rune(s)) != 1 {
				return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
					Value(v).Detail("char value must be a one-rune string").Build()
			}
			out[i] = []rune(s)[0]
		case wit.F32, wit.F64:
			if n, ok := v.(int64); ok {
				out[i] = float64(n)
				continue
			}
			out[i] = v
		default:
			out[i] = v
		}
	}
	return out, nil
}
