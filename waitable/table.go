package waitable

// Kind identifies what a handle refers to.
type Kind uint8

const (
	KindStream Kind = iota + 1
	KindFuture
	KindErrorContext
)

func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindFuture:
		return "future"
	case KindErrorContext:
		return "error-context"
	}
	return "unknown"
}

// State is the permission an instance holds on a stream or future end.
type State uint8

const (
	StateLocal State = iota
	StateRead
	StateWrite
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateLocal:
		return "local"
	case StateRead:
		return "read"
	case StateWrite:
		return "write"
	case StateBusy:
		return "busy"
	}
	return "unknown"
}

// Entry is one handle table slot.
type Entry struct {
	Kind  Kind
	State State
	Type  uint32
	Rep   uint32
	Refs  uint32
}

type slot struct {
	entry Entry
	valid bool
}

// Table maps handles to entries.
type Table struct {
	slots         []slot
	freeList      []uint32
	errorContexts map[uint32]uint32
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		slots:         make([]slot, 0, 16),
		freeList:      make([]uint32, 0, 8),
		errorContexts: make(map[uint32]uint32),
	}
}

// Insert stores e and returns its handle.
func (t *Table) Insert(e Entry) uint32 {
	if len(t.freeList) > 0 {
		h := t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		t.slots[h-1] = slot{entry: e, valid: true}
		return h
	}
	t.slots = append(t.slots, slot{entry: e, valid: true})
	return uint32(len(t.slots))
}

// Get returns the entry for h.
func (t *Table) Get(h uint32) (Entry, bool) {
	if h == 0 || int(h) > len(t.slots) {
		return Entry{}, false
	}
	s := t.slots[h-1]
	if !s.valid {
		return Entry{}, false
	}
	return s.entry, true
}

// Lookup returns the entry for h only if it has the given kind and type.
func (t *Table) Lookup(h uint32, kind Kind, typeIdx uint32) (Entry, bool) {
	e, ok := t.Get(h)
	if !ok || e.Kind != kind || e.Type != typeIdx {
		return Entry{}, false
	}
	return e, true
}

// SetState updates the state of a live handle.
func (t *Table) SetState(h uint32, state State) bool {
	if h == 0 || int(h) > len(t.slots) || !t.slots[h-1].valid {
		return false
	}
	t.slots[h-1].entry.State = state
	return true
}

// Remove frees h and returns its entry.
func (t *Table) Remove(h uint32) (Entry, bool) {
	e, ok := t.Get(h)
	if !ok {
		return Entry{}, false
	}
	t.slots[h-1] = slot{}
	t.freeList = append(t.freeList, h)
	if e.Kind == KindErrorContext {
		delete(t.errorContexts, e.Rep)
	}
	return e, true
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	return len(t.slots) - len(t.freeList)
}

// Each calls fn for every live handle in ascending order until fn returns false.
func (t *Table) Each(fn func(h uint32, e Entry) bool) {
	for i, s := range t.slots {
		if s.valid && !fn(uint32(i+1), s.entry) {
			return
		}
	}
}

// AddErrorContext records one more local reference to the error context
// rep and returns its handle. created reports whether a new handle was
// allocated.
func (t *Table) AddErrorContext(rep uint32) (h uint32, created bool) {
	if h, ok := t.errorContexts[rep]; ok {
		t.slots[h-1].entry.Refs++
		return h, false
	}
	h = t.Insert(Entry{Kind: KindErrorContext, Rep: rep, Refs: 1})
	t.errorContexts[rep] = h
	return h, true
}

// ErrorContextHandle returns the handle holding rep, if any.
func (t *Table) ErrorContextHandle(rep uint32) (uint32, bool) {
	h, ok := t.errorContexts[rep]
	return h, ok
}

// ReleaseErrorContext drops one local reference held by h. It returns the
// rep, the remaining local count, and false if h is not an error context.
// The handle is removed when the count reaches zero.
func (t *Table) ReleaseErrorContext(h uint32) (rep uint32, remaining uint32, ok bool) {
	e, ok := t.Get(h)
	if !ok || e.Kind != KindErrorContext {
		return 0, 0, false
	}
	e.Refs--
	if e.Refs == 0 {
		t.Remove(h)
		return e.Rep, 0, true
	}
	t.slots[h-1].entry.Refs = e.Refs
	return e.Rep, e.Refs, true
}
