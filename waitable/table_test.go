package waitable

import "testing"

func TestTable_Basic(t *testing.T) {
	table := NewTable()

	h := table.Insert(Entry{Kind: KindStream, Type: 2, Rep: 7, State: StateRead})
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}

	e, ok := table.Get(h)
	if !ok {
		t.Fatal("Get failed")
	}
	if e.Rep != 7 || e.State != StateRead {
		t.Fatalf("unexpected entry %+v", e)
	}

	if _, ok := table.Lookup(h, KindStream, 2); !ok {
		t.Fatal("Lookup with correct kind and type failed")
	}
	if _, ok := table.Lookup(h, KindFuture, 2); ok {
		t.Fatal("Lookup with wrong kind should fail")
	}
	if _, ok := table.Lookup(h, KindStream, 3); ok {
		t.Fatal("Lookup with wrong type should fail")
	}

	if !table.SetState(h, StateBusy) {
		t.Fatal("SetState failed")
	}
	e, _ = table.Get(h)
	if e.State != StateBusy {
		t.Fatalf("State = %s, want busy", e.State)
	}

	if _, ok := table.Remove(h); !ok {
		t.Fatal("Remove failed")
	}
	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Remove")
	}
	if _, ok := table.Get(h); ok {
		t.Fatal("Get after Remove should fail")
	}
	if table.SetState(h, StateRead) {
		t.Fatal("SetState on removed handle should fail")
	}
}

func TestTable_ZeroHandleInvalid(t *testing.T) {
	table := NewTable()
	table.Insert(Entry{Kind: KindFuture})
	if _, ok := table.Get(0); ok {
		t.Fatal("handle 0 must be invalid")
	}
	if _, ok := table.Get(99); ok {
		t.Fatal("out of range handle must be invalid")
	}
}

func TestTable_SlotReuse(t *testing.T) {
	table := NewTable()
	a := table.Insert(Entry{Kind: KindStream, Rep: 1})
	b := table.Insert(Entry{Kind: KindStream, Rep: 2})
	table.Remove(a)

	c := table.Insert(Entry{Kind: KindStream, Rep: 3})
	if c != a {
		t.Fatalf("expected freed handle %d to be reused, got %d", a, c)
	}
	if table.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", table.Len())
	}

	var reps []uint32
	table.Each(func(h uint32, e Entry) bool {
		reps = append(reps, e.Rep)
		return true
	})
	if len(reps) != 2 || reps[0] != 3 || reps[1] != 2 {
		t.Fatalf("Each visited %v", reps)
	}
	_ = b
}

func TestTable_ErrorContexts(t *testing.T) {
	table := NewTable()

	h, created := table.AddErrorContext(5)
	if !created {
		t.Fatal("first add should create a handle")
	}
	h2, created := table.AddErrorContext(5)
	if created || h2 != h {
		t.Fatal("second add should reuse the handle")
	}

	rep, remaining, ok := table.ReleaseErrorContext(h)
	if !ok || rep != 5 || remaining != 1 {
		t.Fatalf("release = (%d, %d, %v)", rep, remaining, ok)
	}
	_, remaining, ok = table.ReleaseErrorContext(h)
	if !ok || remaining != 0 {
		t.Fatalf("final release = (%d, %v)", remaining, ok)
	}
	if _, ok := table.ErrorContextHandle(5); ok {
		t.Fatal("rep should no longer be mapped")
	}
	if _, _, ok := table.ReleaseErrorContext(h); ok {
		t.Fatal("release past zero should fail")
	}
}

func TestStrings(t *testing.T) {
	if StateBusy.String() != "busy" || KindErrorContext.String() != "error-context" {
		t.Fatal("unexpected String() output")
	}
}
