package transport

import (
	"reflect"
	"testing"

	"github.com/wippyai/wasm-async/errors"
	"github.com/wippyai/wasm-async/task"
	"github.com/wippyai/wasm-async/waitable"
	"go.bytecodealliance.org/wit"
)

func recv(t *testing.T, ch <-chan HostResult) HostResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	default:
		t.Fatal("host operation has not resolved")
		return HostResult{}
	}
}

func TestHost_WriteToGuest(t *testing.T) {
	f := newFixture(t)
	b, bmem := f.instance(t)
	bType := b.DefineStream(wit.U32{})
	reader := f.tasks.New(0)

	rep, err := f.store.HostNew(waitable.KindStream, wit.U32{}, reflect.TypeFor[uint32]())
	if err != nil {
		t.Fatalf("HostNew failed: %v", err)
	}
	r, err := f.store.LowerToIndex(b, bType, rep)
	if err != nil {
		t.Fatalf("LowerToIndex failed: %v", err)
	}

	ch, err := f.store.HostWrite(rep, []any{uint32(1), uint32(2), uint32(3)})
	if err != nil {
		t.Fatalf("HostWrite failed: %v", err)
	}
	if snap, _ := f.store.Snapshot(rep); snap.Write != SideHostReady || snap.WritePending != 3 {
		t.Fatalf("snapshot = %+v, want host write parked", snap)
	}

	code, err := f.store.GuestRead(reader, b, bType, r, 128, 2)
	if err != nil || code != 2 {
		t.Fatalf("GuestRead = %#x, %v; want 2", code, err)
	}
	select {
	case <-ch:
		t.Fatal("host write resolved before all values were taken")
	default:
	}

	code, err = f.store.GuestRead(reader, b, bType, r, 136, 4)
	if err != nil || code != 1 {
		t.Fatalf("GuestRead = %#x, %v; want 1", code, err)
	}
	if got := readU32s(t, bmem, 128, 3); !equalU32s(got, []uint32{1, 2, 3}) {
		t.Errorf("reader memory = %v", got)
	}
	if res := recv(t, ch); res.Count != 3 || res.Closed {
		t.Errorf("result = %+v, want count 3", res)
	}
}

func TestHost_WriteLeftoverParks(t *testing.T) {
	f := newFixture(t)
	b, _ := f.instance(t)
	bType := b.DefineStream(wit.U8{})
	reader := f.tasks.New(0)

	rep, _ := f.store.HostNew(waitable.KindStream, wit.U8{}, nil)
	r, _ := f.store.LowerToIndex(b, bType, rep)

	if code, _ := f.store.GuestRead(reader, b, bType, r, 128, 2); code != Blocked {
		t.Fatalf("GuestRead = %#x, want BLOCKED", code)
	}
	ch, err := f.store.HostWrite(rep, []any{uint8(1), uint8(2), uint8(3), uint8(4)})
	if err != nil {
		t.Fatalf("HostWrite failed: %v", err)
	}
	if ev, ok := f.tasks.Poll(reader); !ok || ev.Code != 2 {
		t.Fatalf("event = %+v, %v; want code 2", ev, ok)
	}
	if snap, _ := f.store.Snapshot(rep); snap.Write != SideHostReady || snap.WritePending != 2 {
		t.Fatalf("snapshot = %+v, want 2 values still parked", snap)
	}

	res, err := f.store.HostCancelWrite(rep)
	if err != nil || !res.Cancelled || res.Count != 2 {
		t.Fatalf("HostCancelWrite = %+v, %v; want cancelled with count 2", res, err)
	}
	if got := recv(t, ch); got.Count != 2 || !got.Cancelled {
		t.Errorf("promise result = %+v", got)
	}
	if _, err := f.store.HostCancelWrite(rep); !errors.Is(err, errors.ErrNotPending) {
		t.Errorf("second cancel: got %v, want not_pending", err)
	}
}

func TestHost_ReadFromGuest(t *testing.T) {
	f := newFixture(t)
	a, amem := f.instance(t)
	aType := a.DefineStream(wit.U32{})
	writer := f.tasks.New(0)

	w, _ := f.store.GuestNew(a, aType)
	rep, err := f.store.LiftFromIndex(a, aType, w)
	if err != nil {
		t.Fatalf("LiftFromIndex failed: %v", err)
	}

	ch, err := f.store.HostRead(rep, 10)
	if err != nil {
		t.Fatalf("HostRead failed: %v", err)
	}
	writeU32s(t, amem, 64, 5, 6, 7)
	code, err := f.store.GuestWrite(writer, a, aType, w, 64, 3)
	if err != nil || code != 3 {
		t.Fatalf("GuestWrite = %#x, %v; want 3", code, err)
	}

	res := recv(t, ch)
	want := []any{uint32(5), uint32(6), uint32(7)}
	if !reflect.DeepEqual(res.Values, want) || res.Count != 3 {
		t.Errorf("result = %+v, want %v", res, want)
	}
}

func TestHost_ReadTakesFromParkedWriter(t *testing.T) {
	f := newFixture(t)
	a, amem := f.instance(t)
	aType := a.DefineStream(wit.U32{})
	writer := f.tasks.New(0)

	w, _ := f.store.GuestNew(a, aType)
	rep, _ := f.store.LiftFromIndex(a, aType, w)

	writeU32s(t, amem, 64, 1, 2, 3)
	if code, _ := f.store.GuestWrite(writer, a, aType, w, 64, 3); code != Blocked {
		t.Fatalf("GuestWrite = %#x, want BLOCKED", code)
	}

	ch, _ := f.store.HostRead(rep, 2)
	if res := recv(t, ch); !reflect.DeepEqual(res.Values, []any{uint32(1), uint32(2)}) {
		t.Errorf("first read = %+v", res)
	}
	if f.tasks.Pending(writer) != 0 {
		t.Fatal("writer still has one value and must stay parked")
	}

	ch, _ = f.store.HostRead(rep, 2)
	if res := recv(t, ch); !reflect.DeepEqual(res.Values, []any{uint32(3)}) {
		t.Errorf("second read = %+v", res)
	}
	ev, ok := f.tasks.Poll(writer)
	if !ok || ev.Kind != task.EventStreamWrite || ev.Code != 3 {
		t.Errorf("event = %+v, %v; want stream-write 3", ev, ok)
	}
}

func TestHost_HostToHost(t *testing.T) {
	f := newFixture(t)
	rep, _ := f.store.HostNew(waitable.KindFuture, wit.String{}, reflect.TypeFor[string]())

	rch, err := f.store.HostRead(rep, 1)
	if err != nil {
		t.Fatalf("HostRead failed: %v", err)
	}
	wch, err := f.store.HostWrite(rep, []any{"done"})
	if err != nil {
		t.Fatalf("HostWrite failed: %v", err)
	}
	if res := recv(t, wch); res.Count != 1 {
		t.Errorf("write result = %+v", res)
	}
	if res := recv(t, rch); len(res.Values) != 1 || res.Values[0] != "done" {
		t.Errorf("read result = %+v", res)
	}

	wch, _ = f.store.HostWrite(rep, []any{"again"})
	if res := recv(t, wch); !res.Closed {
		t.Errorf("second future write = %+v, want closed", res)
	}
	if _, err := f.store.HostWrite(rep, []any{"a", "b"}); err == nil {
		t.Error("future write with two values should fail")
	}
}

func TestHost_CloseUnblocksGuest(t *testing.T) {
	f := newFixture(t)
	b, _ := f.instance(t)
	bType := b.DefineFuture(wit.U32{})
	reader := f.tasks.New(0)

	rep, _ := f.store.HostNew(waitable.KindFuture, wit.U32{}, nil)
	r, _ := f.store.LowerToIndex(b, bType, rep)
	if code, _ := f.store.GuestRead(reader, b, bType, r, 128, 1); code != Blocked {
		t.Fatalf("GuestRead = %#x, want BLOCKED", code)
	}
	if err := f.store.HostCloseWriter(rep); err != nil {
		t.Fatalf("HostCloseWriter failed: %v", err)
	}
	ev, ok := f.tasks.Poll(reader)
	if !ok || ev.Kind != task.EventFutureRead || ev.Code != Closed {
		t.Errorf("event = %+v, %v; want future-read CLOSED", ev, ok)
	}
	if err := f.store.HostCloseWriter(rep); err != nil {
		t.Errorf("closing twice should be a no-op, got %v", err)
	}
}

func TestHost_CloseReaderResolvesWriter(t *testing.T) {
	f := newFixture(t)
	rep, _ := f.store.HostNew(waitable.KindStream, wit.U32{}, nil)

	ch, _ := f.store.HostWrite(rep, []any{uint32(1)})
	if err := f.store.HostCloseReader(rep); err != nil {
		t.Fatalf("HostCloseReader failed: %v", err)
	}
	if res := recv(t, ch); !res.Closed || res.Count != 0 {
		t.Errorf("result = %+v, want closed", res)
	}
	if err := f.store.HostCloseWriter(rep); err != nil {
		t.Fatalf("HostCloseWriter failed: %v", err)
	}
	if f.store.Len() != 0 {
		t.Error("transmit should be deleted once both ends are closed")
	}
}

func TestHost_LowerTypeMismatch(t *testing.T) {
	f := newFixture(t)
	b, _ := f.instance(t)
	bType := b.DefineStream(wit.String{})
	rep, _ := f.store.HostNew(waitable.KindStream, wit.U32{}, nil)

	if _, err := f.store.LowerToIndex(b, bType, rep); !errors.Is(err, errors.ErrTypeMismatch) {
		t.Errorf("got %v, want type_mismatch", err)
	}
	if err := f.store.CheckHostType(rep, reflect.TypeFor[uint32]()); err != nil {
		t.Fatalf("binding host type failed: %v", err)
	}
	err := f.store.CheckHostType(rep, reflect.TypeFor[string]())
	if !errors.Is(err, errors.ErrTypeMismatch) {
		t.Errorf("got %v, want type_mismatch", err)
	}
}

func TestHost_WriteWrongValueType(t *testing.T) {
	f := newFixture(t)
	b, _ := f.instance(t)
	bType := b.DefineStream(wit.U32{})
	rep, _ := f.store.HostNew(waitable.KindStream, wit.U32{}, nil)
	r, _ := f.store.LowerToIndex(b, bType, rep)

	if code, _ := f.store.GuestRead(f.tasks.New(0), b, bType, r, 128, 1); code != Blocked {
		t.Fatalf("GuestRead = %#x, want BLOCKED", code)
	}
	_, err := f.store.HostWrite(rep, []any{"not a number"})
	if !errors.Is(err, errors.ErrTypeMismatch) {
		t.Errorf("got %v, want type_mismatch", err)
	}
}
