package transport

import (
	"strings"
	"testing"

	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/task"
	"github.com/wippyai/wasm-async/waitable"
	"go.bytecodealliance.org/wit"
)

func TestGuest_PartialWriteStaysParked(t *testing.T) {
	f := newFixture(t)
	a, amem := f.instance(t)
	b, bmem := f.instance(t)
	aType, w, bType, r := f.pair(t, a, b, waitable.KindStream, wit.U32{})
	writer, reader := f.tasks.New(0), f.tasks.New(0)

	writeU32s(t, amem, 64, 10, 20, 30, 40, 50)
	code, err := f.store.GuestWrite(writer, a, aType, w, 64, 5)
	if err != nil || code != Blocked {
		t.Fatalf("GuestWrite = %#x, %v; want BLOCKED", code, err)
	}
	if e, _ := a.Handle(w); e.State != waitable.StateBusy {
		t.Errorf("parked writer handle state = %s, want busy", e.State)
	}
	if children := f.tasks.Children(writer); len(children) != 1 {
		t.Errorf("writer children = %v, want one", children)
	}

	code, err = f.store.GuestRead(reader, b, bType, r, 256, 3)
	if err != nil || code != 3 {
		t.Fatalf("GuestRead = %#x, %v; want 3", code, err)
	}
	if got := readU32s(t, bmem, 256, 3); !equalU32s(got, []uint32{10, 20, 30}) {
		t.Errorf("reader memory = %v", got)
	}

	snap, _ := f.store.Snapshot(1)
	if snap.Write != SideGuestReady || snap.WritePending != 2 {
		t.Fatalf("snapshot = %+v, want writer parked with 2 remaining", snap)
	}
	if _, ok := f.tasks.Poll(writer); ok {
		t.Fatal("writer must not be signalled before its count is drained")
	}
	if e, _ := b.Handle(r); e.State != waitable.StateRead {
		t.Errorf("reader handle state = %s, want read", e.State)
	}

	code, err = f.store.GuestRead(reader, b, bType, r, 512, 4)
	if err != nil || code != 2 {
		t.Fatalf("second GuestRead = %#x, %v; want 2", code, err)
	}
	if got := readU32s(t, bmem, 512, 2); !equalU32s(got, []uint32{40, 50}) {
		t.Errorf("reader memory = %v", got)
	}

	ev, ok := f.tasks.Poll(writer)
	if !ok {
		t.Fatal("writer was not signalled")
	}
	want := task.Event{Kind: task.EventStreamWrite, Task: writer, Handle: w, Rep: snap.Rep, Code: 5}
	if ev != want {
		t.Errorf("event = %+v, want %+v", ev, want)
	}
	if e, _ := a.Handle(w); e.State != waitable.StateWrite {
		t.Errorf("writer handle state = %s, want write", e.State)
	}
	if children := f.tasks.Children(writer); len(children) != 0 {
		t.Errorf("writer children = %v, want none", children)
	}
}

func TestGuest_ParkedReadCompletesOnDelivery(t *testing.T) {
	f := newFixture(t)
	a, amem := f.instance(t)
	b, bmem := f.instance(t)
	aType, w, bType, r := f.pair(t, a, b, waitable.KindStream, wit.U32{})
	writer, reader := f.tasks.New(0), f.tasks.New(0)

	code, err := f.store.GuestRead(reader, b, bType, r, 128, 4)
	if err != nil || code != Blocked {
		t.Fatalf("GuestRead = %#x, %v; want BLOCKED", code, err)
	}

	writeU32s(t, amem, 64, 7, 8)
	code, err = f.store.GuestWrite(writer, a, aType, w, 64, 2)
	if err != nil || code != 2 {
		t.Fatalf("GuestWrite = %#x, %v; want 2", code, err)
	}
	if got := readU32s(t, bmem, 128, 2); !equalU32s(got, []uint32{7, 8}) {
		t.Errorf("reader memory = %v", got)
	}

	ev, ok := f.tasks.Poll(reader)
	if !ok || ev.Kind != task.EventStreamRead || ev.Code != 2 || ev.Handle != r {
		t.Fatalf("event = %+v, %v; want stream-read with code 2", ev, ok)
	}
	if f.tasks.Pending(writer) != 0 {
		t.Error("the arriving writer must not receive an event")
	}
}

func TestGuest_CancelThenRetry(t *testing.T) {
	f := newFixture(t)
	a, amem := f.instance(t)
	b, bmem := f.instance(t)
	aType, w, bType, r := f.pair(t, a, b, waitable.KindStream, wit.U32{})
	writer, reader := f.tasks.New(0), f.tasks.New(0)
	writeU32s(t, amem, 64, 1, 2, 3)

	code, err := f.store.GuestWrite(writer, a, aType, w, 64, 3)
	if err != nil || code != Blocked {
		t.Fatalf("GuestWrite = %#x, %v; want BLOCKED", code, err)
	}
	done, err := f.store.GuestCancelWrite(a, aType, w)
	if err != nil || done != 0 {
		t.Fatalf("GuestCancelWrite = %d, %v; want 0", done, err)
	}

	snap, _ := f.store.Snapshot(1)
	if snap.Write != SideOpen || snap.Read != SideOpen {
		t.Fatalf("snapshot after cancel = %+v, want both sides open", snap)
	}
	if e, _ := a.Handle(w); e.State != waitable.StateWrite {
		t.Errorf("handle state after cancel = %s, want write", e.State)
	}
	if children := f.tasks.Children(writer); len(children) != 0 {
		t.Errorf("children after cancel = %v, want none", children)
	}
	if err := f.tasks.Finish(writer); err != nil {
		t.Errorf("Finish after cancel failed: %v", err)
	}
	writer = f.tasks.New(0)

	code, err = f.store.GuestWrite(writer, a, aType, w, 64, 3)
	if err != nil || code != Blocked {
		t.Fatalf("retried GuestWrite = %#x, %v; want BLOCKED", code, err)
	}
	code, err = f.store.GuestRead(reader, b, bType, r, 256, 3)
	if err != nil || code != 3 {
		t.Fatalf("GuestRead = %#x, %v; want 3", code, err)
	}
	if got := readU32s(t, bmem, 256, 3); !equalU32s(got, []uint32{1, 2, 3}) {
		t.Errorf("reader memory = %v", got)
	}
	if ev, ok := f.tasks.Poll(writer); !ok || ev.Code != 3 {
		t.Errorf("event = %+v, %v; want code 3", ev, ok)
	}
}

func TestGuest_CancelReportsProgress(t *testing.T) {
	f := newFixture(t)
	a, _ := f.instance(t)
	b, _ := f.instance(t)
	aType, w, bType, r := f.pair(t, a, b, waitable.KindStream, wit.U8{})
	writer, reader := f.tasks.New(0), f.tasks.New(0)

	if code, _ := f.store.GuestWrite(writer, a, aType, w, 64, 10); code != Blocked {
		t.Fatalf("GuestWrite = %#x, want BLOCKED", code)
	}
	if code, _ := f.store.GuestRead(reader, b, bType, r, 256, 4); code != 4 {
		t.Fatalf("GuestRead = %#x, want 4", code)
	}
	done, err := f.store.GuestCancelWrite(a, aType, w)
	if err != nil || done != 4 {
		t.Fatalf("GuestCancelWrite = %d, %v; want 4", done, err)
	}
}

func TestGuest_CancelNotPending(t *testing.T) {
	f := newFixture(t)
	a, _ := f.instance(t)
	b, _ := f.instance(t)
	aType, w, bType, r := f.pair(t, a, b, waitable.KindStream, wit.U32{})
	reader := f.tasks.New(0)

	_, err := f.store.GuestCancelWrite(a, aType, w)
	if !errors.Is(err, errors.ErrNotPending) {
		t.Fatalf("got %v, want not_pending", err)
	}
	if !strings.Contains(err.Error(), "write canceled when no write is pending") {
		t.Errorf("unexpected message: %v", err)
	}

	// a parked read does not make a write cancellable
	if code, _ := f.store.GuestRead(reader, b, bType, r, 0, 1); code != Blocked {
		t.Fatalf("GuestRead = %#x, want BLOCKED", code)
	}
	if _, err := f.store.GuestCancelWrite(a, aType, w); !errors.Is(err, errors.ErrNotPending) {
		t.Errorf("got %v, want not_pending", err)
	}
	if _, err := f.store.GuestCancelRead(b, bType, r); err != nil {
		t.Errorf("GuestCancelRead failed: %v", err)
	}
	_, err = f.store.GuestCancelRead(b, bType, r)
	if err == nil || !strings.Contains(err.Error(), "read canceled when no read is pending") {
		t.Errorf("second cancel: got %v", err)
	}
}

func TestGuest_CloseUnblocksPeer(t *testing.T) {
	f := newFixture(t)
	a, _ := f.instance(t)
	b, _ := f.instance(t)
	aType, w, bType, r := f.pair(t, a, b, waitable.KindStream, wit.U32{})
	reader := f.tasks.New(0)

	if code, _ := f.store.GuestRead(reader, b, bType, r, 128, 4); code != Blocked {
		t.Fatalf("GuestRead = %#x, want BLOCKED", code)
	}
	if err := f.store.GuestCloseWritable(a, aType, w, 0); err != nil {
		t.Fatalf("GuestCloseWritable failed: %v", err)
	}

	ev, ok := f.tasks.Poll(reader)
	if !ok {
		t.Fatal("reader was not signalled on close")
	}
	if ev.Kind != task.EventStreamRead || ev.Code != Closed {
		t.Errorf("event = %+v, want stream-read CLOSED", ev)
	}
	if e, _ := b.Handle(r); e.State != waitable.StateRead {
		t.Errorf("reader handle state = %s, want read", e.State)
	}

	code, err := f.store.GuestRead(reader, b, bType, r, 128, 4)
	if err != nil || code != Closed {
		t.Errorf("read after close = %#x, %v; want CLOSED", code, err)
	}
	if err := f.store.GuestCloseReadable(b, bType, r); err != nil {
		t.Fatalf("GuestCloseReadable failed: %v", err)
	}
	if n := f.store.Len(); n != 0 {
		t.Errorf("Len() = %d, want transmit deleted", n)
	}
}

func TestGuest_CloseAfterPartialProgress(t *testing.T) {
	f := newFixture(t)
	a, _ := f.instance(t)
	b, _ := f.instance(t)
	aType, w, bType, r := f.pair(t, a, b, waitable.KindStream, wit.U8{})
	writer, reader := f.tasks.New(0), f.tasks.New(0)

	if code, _ := f.store.GuestWrite(writer, a, aType, w, 64, 6); code != Blocked {
		t.Fatalf("GuestWrite = %#x, want BLOCKED", code)
	}
	if code, _ := f.store.GuestRead(reader, b, bType, r, 256, 2); code != 2 {
		t.Fatalf("GuestRead = %#x, want 2", code)
	}
	if err := f.store.GuestCloseReadable(b, bType, r); err != nil {
		t.Fatalf("GuestCloseReadable failed: %v", err)
	}
	ev, ok := f.tasks.Poll(writer)
	if !ok || ev.Code != Closed|2 {
		t.Errorf("event = %+v, %v; want CLOSED|2", ev, ok)
	}
}

func TestGuest_ClosedIsMonotone(t *testing.T) {
	f := newFixture(t)
	a, _ := f.instance(t)
	b, _ := f.instance(t)
	aType, w, bType, r := f.pair(t, a, b, waitable.KindStream, wit.U32{})
	writer := f.tasks.New(0)

	if err := f.store.GuestCloseReadable(b, bType, r); err != nil {
		t.Fatalf("GuestCloseReadable failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		code, err := f.store.GuestWrite(writer, a, aType, w, 64, 1)
		if err != nil || code != Closed {
			t.Fatalf("write %d = %#x, %v; want CLOSED", i, code, err)
		}
		if _, err := f.store.GuestCancelWrite(a, aType, w); !errors.Is(err, errors.ErrNotPending) {
			t.Fatalf("cancel %d: got %v", i, err)
		}
		snap, _ := f.store.Snapshot(1)
		if snap.Read != SideClosed {
			t.Fatalf("read side = %s, want closed", snap.Read)
		}
	}
	if _, err := f.store.LowerToIndex(b, bType, 1); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("lowering a closed read end: got %v", err)
	}
}

func TestGuest_CloseBusyAndWithError(t *testing.T) {
	f := newFixture(t)
	a, _ := f.instance(t)
	b, _ := f.instance(t)
	aType, w, _, _ := f.pair(t, a, b, waitable.KindStream, wit.U32{})
	writer := f.tasks.New(0)

	if code, _ := f.store.GuestWrite(writer, a, aType, w, 64, 1); code != Blocked {
		t.Fatalf("GuestWrite = %#x, want BLOCKED", code)
	}

	err := f.store.GuestCloseWritable(a, aType, w, 0)
	if !errors.Is(err, errors.ErrBusy) || !strings.Contains(err.Error(), "cannot drop busy stream or future") {
		t.Errorf("closing busy handle: got %v", err)
	}
	if _, err := f.store.GuestWrite(writer, a, aType, w, 64, 1); !errors.Is(err, errors.ErrBusy) {
		t.Errorf("second write on busy handle: got %v", err)
	}

	err = f.store.GuestCloseWritable(a, aType, w, 1)
	if !errors.Is(err, errors.ErrUnsupported) ||
		!strings.Contains(err.Error(), "closing writable streams/futures with errors not yet implemented") {
		t.Errorf("closing with error: got %v", err)
	}
}

func TestGuest_Unaligned(t *testing.T) {
	f := newFixture(t)
	a, _ := f.instance(t)
	b, _ := f.instance(t)
	aType, w, _, _ := f.pair(t, a, b, waitable.KindStream, wit.U32{})

	_, err := f.store.GuestWrite(f.tasks.New(0), a, aType, w, 66, 1)
	if !errors.Is(err, errors.ErrUnaligned) {
		t.Fatalf("got %v, want unaligned", err)
	}
	if e, _ := a.Handle(w); e.State != waitable.StateWrite {
		t.Errorf("handle state = %s, want write restored", e.State)
	}
}

func TestGuest_BoundsCheckedAtMatch(t *testing.T) {
	f := newFixture(t)
	a, _ := f.instance(t)
	b, braw := f.instance(t)
	aType, w, bType, r := f.pair(t, a, b, waitable.KindStream, wit.U32{})
	writer, reader := f.tasks.New(0), f.tasks.New(0)

	// parks pointing past the end of a one-page memory
	code, err := f.store.GuestRead(reader, b, bType, r, 65536, 2)
	if err != nil || code != Blocked {
		t.Fatalf("GuestRead = %#x, %v; want BLOCKED", code, err)
	}

	_, err = f.store.GuestWrite(writer, a, aType, w, 64, 2)
	if !errors.Is(err, errors.ErrOutOfBounds) || !strings.Contains(err.Error(), "read pointer out of bounds") {
		t.Fatalf("got %v, want read pointer out of bounds", err)
	}
	snap, _ := f.store.Snapshot(1)
	if snap.Read != SideGuestReady || snap.ReadPending != 2 {
		t.Fatalf("snapshot = %+v, reader should stay parked", snap)
	}

	if _, ok := braw.Grow(1); !ok {
		t.Fatal("memory grow failed")
	}
	code, err = f.store.GuestWrite(writer, a, aType, w, 64, 2)
	if err != nil || code != 2 {
		t.Fatalf("GuestWrite after grow = %#x, %v; want 2", code, err)
	}
}

func TestGuest_Future(t *testing.T) {
	f := newFixture(t)
	a, amem := f.instance(t)
	b, bmem := f.instance(t)
	aType, w, bType, r := f.pair(t, a, b, waitable.KindFuture, wit.U32{})
	writer, reader := f.tasks.New(0), f.tasks.New(0)

	writeU32s(t, amem, 64, 42)
	code, err := f.store.GuestWrite(writer, a, aType, w, 64, 0)
	if err != nil || code != Blocked {
		t.Fatalf("GuestWrite = %#x, %v; want BLOCKED", code, err)
	}
	code, err = f.store.GuestRead(reader, b, bType, r, 128, 0)
	if err != nil || code != 1 {
		t.Fatalf("GuestRead = %#x, %v; want 1", code, err)
	}
	if got := readU32s(t, bmem, 128, 1); got[0] != 42 {
		t.Errorf("future value = %d, want 42", got[0])
	}
	if ev, ok := f.tasks.Poll(writer); !ok || ev.Kind != task.EventFutureWrite || ev.Code != 1 {
		t.Errorf("event = %+v, %v; want future-write 1", ev, ok)
	}

	if code, _ := f.store.GuestWrite(writer, a, aType, w, 64, 1); code != Closed {
		t.Errorf("second future write = %#x, want CLOSED", code)
	}
	if code, _ := f.store.GuestRead(reader, b, bType, r, 128, 1); code != Closed {
		t.Errorf("second future read = %#x, want CLOSED", code)
	}

	if err := f.store.GuestCloseWritable(a, aType, w, 0); err != nil {
		t.Fatalf("GuestCloseWritable failed: %v", err)
	}
	if err := f.store.GuestCloseReadable(b, bType, r); err != nil {
		t.Fatalf("GuestCloseReadable failed: %v", err)
	}
	if n := f.store.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
}

func TestGuest_ZeroCount(t *testing.T) {
	f := newFixture(t)
	a, _ := f.instance(t)
	b, _ := f.instance(t)
	aType, w, _, _ := f.pair(t, a, b, waitable.KindStream, wit.U32{})

	code, err := f.store.GuestWrite(f.tasks.New(0), a, aType, w, 64, 0)
	if err != nil || code != 0 {
		t.Fatalf("zero-length write = %#x, %v; want 0", code, err)
	}
	if snap, _ := f.store.Snapshot(1); snap.Write != SideOpen {
		t.Errorf("zero-length write must not park, write side = %s", snap.Write)
	}
}
