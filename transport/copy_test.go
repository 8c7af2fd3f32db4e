package transport

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/wippyai/wasm-async/waitable"
	"go.bytecodealliance.org/wit"
)

// copyStream writes n elements of elem from src memory at 64 into a reader
// at 1024 and returns the reader's bytes.
func copyStream(t *testing.T, elem wit.Type, src []byte, n uint32, fast bool) []byte {
	t.Helper()
	f := newFixture(t)
	f.store.noFastPath = !fast
	a, amem := f.instance(t)
	b, bmem := f.instance(t)
	aType, w, bType, r := f.pair(t, a, b, waitable.KindStream, elem)

	if !amem.Write(64, src) {
		t.Fatal("source write failed")
	}
	if code, err := f.store.GuestRead(f.tasks.New(0), b, bType, r, 1024, n); err != nil || code != Blocked {
		t.Fatalf("GuestRead = %#x, %v", code, err)
	}
	code, err := f.store.GuestWrite(f.tasks.New(0), a, aType, w, 64, n)
	if err != nil || code != n {
		t.Fatalf("GuestWrite = %#x, %v; want %d", code, err, n)
	}
	out, ok := bmem.Read(1024, uint32(len(src)))
	if !ok {
		t.Fatal("destination read failed")
	}
	return bytes.Clone(out)
}

func TestCopy_FlatPathEquivalence(t *testing.T) {
	pair := &wit.TypeDef{Kind: &wit.Record{Fields: []wit.Field{
		{Name: "a", Type: wit.U32{}},
		{Name: "b", Type: wit.U32{}},
	}}}

	f64s := make([]byte, 0, 32)
	for _, v := range []float64{1.5, -2.25, math.Inf(1), 1e300} {
		f64s = binary.LittleEndian.AppendUint64(f64s, math.Float64bits(v))
	}

	tests := []struct {
		name string
		elem wit.Type
		src  []byte
		n    uint32
		want []byte // nil means src
	}{
		{"u8", wit.U8{}, []byte{1, 2, 3, 255, 0, 9}, 6, nil},
		{"s16", wit.S16{}, []byte{0xff, 0x7f, 0x00, 0x80, 0x34, 0x12}, 3, nil},
		{"u32", wit.U32{}, []byte{1, 0, 0, 0, 0xef, 0xbe, 0xad, 0xde}, 2, nil},
		{"f64", wit.F64{}, f64s, 4, nil},
		{"record", pair, []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 4, 0, 0, 0}, 2, nil},
		// signalling and payload-carrying NaNs keep their bits
		{"f32 nan", wit.F32{}, []byte{0x01, 0x00, 0x80, 0x7f, 0x01, 0x00, 0xc0, 0xff}, 2, nil},
		{"f64 nan", wit.F64{}, []byte{0x01, 0, 0, 0, 0, 0, 0xf0, 0x7f}, 1, nil},
		// bool is lifted, so both paths normalize to 0 and 1
		{"bool", wit.Bool{}, []byte{2, 1, 0, 0xff}, 4, []byte{1, 1, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := tt.want
			if want == nil {
				want = tt.src
			}
			fast := copyStream(t, tt.elem, tt.src, tt.n, true)
			slow := copyStream(t, tt.elem, tt.src, tt.n, false)
			if !bytes.Equal(fast, slow) {
				t.Errorf("flat copy %x differs from element copy %x", fast, slow)
			}
			if !bytes.Equal(fast, want) {
				t.Errorf("copy %x, want %x", fast, want)
			}
		})
	}
}

func TestCopy_Strings(t *testing.T) {
	f := newFixture(t)
	a, amem := f.instance(t)
	b, bmem := f.instance(t)
	aType, w, bType, r := f.pair(t, a, b, waitable.KindStream, wit.String{})

	amem.Write(1000, []byte("hello"))
	amem.Write(1010, []byte("wasm"))
	writeU32s(t, amem, 64, 1000, 5, 1010, 4)

	if code, err := f.store.GuestWrite(f.tasks.New(0), a, aType, w, 64, 2); err != nil || code != Blocked {
		t.Fatalf("GuestWrite = %#x, %v", code, err)
	}
	code, err := f.store.GuestRead(f.tasks.New(0), b, bType, r, 256, 8)
	if err != nil || code != 2 {
		t.Fatalf("GuestRead = %#x, %v; want 2", code, err)
	}

	for i, want := range []string{"hello", "wasm"} {
		words := readU32s(t, bmem, 256+uint32(i)*8, 2)
		if words[0] < heapBase {
			t.Errorf("string %d at %d, want it allocated in the reader's heap", i, words[0])
		}
		got, ok := bmem.Read(words[0], words[1])
		if !ok || string(got) != want {
			t.Errorf("string %d = %q, want %q", i, got, want)
		}
	}
}

func TestCopy_InvalidPayload(t *testing.T) {
	f := newFixture(t)
	a, amem := f.instance(t)
	b, bmem := f.instance(t)
	aType, w, bType, r := f.pair(t, a, b, waitable.KindStream, wit.Char{})
	reader := f.tasks.New(0)

	// a surrogate is not a Unicode scalar value; the valid chars ahead of
	// it must not reach the reader either
	writeU32s(t, amem, 64, 'o', 'k', 0xD800)
	if code, _ := f.store.GuestRead(reader, b, bType, r, 256, 3); code != Blocked {
		t.Fatalf("GuestRead = %#x, want BLOCKED", code)
	}
	if _, err := f.store.GuestWrite(f.tasks.New(0), a, aType, w, 64, 3); err == nil {
		t.Fatal("expected invalid char to fail the copy")
	}
	if got := readU32s(t, bmem, 256, 3); got[0] != 0 || got[1] != 0 || got[2] != 0 {
		t.Errorf("reader buffer modified by a failed copy: %v", got)
	}
	if snap, _ := f.store.Snapshot(1); snap.Read != SideGuestReady {
		t.Errorf("reader should remain parked after a failed copy, got %s", snap.Read)
	}
}
