package slab

import (
	"bytes"
	"math/rand"
	"testing"

	set3 "github.com/TomTonic/Set3"

	"github.com/brelkirk/pagekit/bufmgr"
	"github.com/brelkirk/pagekit/device"
)

type record struct {
	A uint32
	B uint32
	C uint32
}

func encodeRecord(r record) []byte {
	buf := make([]byte, 12)
	put := func(off int, v uint32) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v >> 16)
		buf[off+3] = byte(v >> 24)
	}
	put(0, r.A)
	put(4, r.B)
	put(8, r.C)
	return buf
}

func decodeRecord(b []byte) record {
	get := func(off int) uint32 {
		return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
	}
	return record{A: get(0), B: get(4), C: get(8)}
}

func newTestStore(t *testing.T, frames int) *Store {
	t.Helper()
	dev := device.NewMemoryDevice(4096)
	mgr := bufmgr.New(dev, frames)
	return New(NewBufModel(mgr), DefaultConfig(12))
}

func TestInsertGetDestroy(t *testing.T) {
	s := newTestStore(t, 32)
	id, ok := s.Insert(encodeRecord(record{1, 2, 3}))
	if !ok {
		t.Fatalf("insert failed")
	}
	got, ok := s.Get(id)
	if !ok || decodeRecord(got) != (record{1, 2, 3}) {
		t.Fatalf("get = %v, %v; want {1,2,3}, true", decodeRecord(got), ok)
	}
	if !s.Destroy(id) {
		t.Fatalf("destroy failed")
	}
	if _, ok := s.Get(id); ok {
		t.Fatalf("get after destroy should fail")
	}
	if s.Destroy(id) {
		t.Fatalf("destroying an already-destroyed id should report false")
	}
}

func TestPutOverwrites(t *testing.T) {
	s := newTestStore(t, 32)
	id, _ := s.Insert(encodeRecord(record{1, 1, 1}))
	if !s.Put(id, encodeRecord(record{9, 9, 9})) {
		t.Fatalf("put failed")
	}
	got, _ := s.Get(id)
	if decodeRecord(got) != (record{9, 9, 9}) {
		t.Fatalf("get after put = %v, want {9,9,9}", decodeRecord(got))
	}
}

func TestManyObjectsShareFewPages(t *testing.T) {
	s := newTestStore(t, 32)
	var ids []ID
	for i := 0; i < 50; i++ {
		id, ok := s.Insert(encodeRecord(record{uint32(i), uint32(i * 2), uint32(i * 3)}))
		if !ok {
			t.Fatalf("insert %d failed", i)
		}
		ids = append(ids, id)
	}
	pages := set3.Empty[bufmgr.PID]()
	for _, id := range ids {
		pages.Add(id.PID)
	}
	if pages.Size() >= 50 {
		t.Fatalf("expected objects to share pages, got %d distinct pages for 50 objects", pages.Size())
	}
	for i, id := range ids {
		got, ok := s.Get(id)
		if !ok || decodeRecord(got) != (record{uint32(i), uint32(i * 2), uint32(i * 3)}) {
			t.Fatalf("object %d mismatch: %v, %v", i, decodeRecord(got), ok)
		}
	}
}

// TestSlabStress implements spec §8 scenario 5, scaled down: insert many
// fixed-size objects, verify each by its returned id, destroy them in a
// random order, and check the underlying page allocator's allocate and
// destroy counts end up equal.
func TestSlabStress(t *testing.T) {
	dev := device.NewMemoryDevice(4096)
	mgr := bufmgr.New(dev, 64)
	counted := &countingModel{inner: NewBufModel(mgr)}
	s := New(counted, DefaultConfig(12))

	const n = 2000
	ids := make([]ID, n)
	want := make([]record, n)
	for i := 0; i < n; i++ {
		want[i] = record{uint32(i), uint32(i * 7), uint32(i * 13)}
		id, ok := s.Insert(encodeRecord(want[i]))
		if !ok {
			t.Fatalf("insert %d failed", i)
		}
		ids[i] = id
	}
	for i := 0; i < n; i++ {
		got, ok := s.Get(ids[i])
		if !ok || !bytes.Equal(got, encodeRecord(want[i])) {
			t.Fatalf("object %d mismatch after insert phase", i)
		}
	}

	order := rand.New(rand.NewSource(0xC0FFEE)).Perm(n)
	for _, i := range order {
		if !s.Destroy(ids[i]) {
			t.Fatalf("destroy %d failed", i)
		}
	}
	if counted.allocs != counted.frees {
		t.Fatalf("page allocate count %d != destroy count %d", counted.allocs, counted.frees)
	}
}

type countingModel struct {
	inner         Model
	allocs, frees int
}

func (m *countingModel) Alloc() bufmgr.Handle {
	m.allocs++
	return m.inner.Alloc()
}
func (m *countingModel) Fetch(pid bufmgr.PID) bufmgr.Handle { return m.inner.Fetch(pid) }
func (m *countingModel) Free(pid bufmgr.PID) {
	m.frees++
	m.inner.Free(pid)
}
