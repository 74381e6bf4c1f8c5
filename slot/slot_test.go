package slot

import (
	"bytes"
	"testing"
)

func newBody(n int) []byte { return make([]byte, n) }

func TestVariadicInsertGetErase(t *testing.T) {
	body := newBody(256)
	d := NewVariadicDirectory(body)
	d.Init()

	if !d.Insert(0, []byte("hello")) {
		t.Fatalf("insert 0 failed")
	}
	if !d.Insert(1, []byte("world!!")) {
		t.Fatalf("insert 1 failed")
	}
	if got := d.GetSlot(0); !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("slot 0 = %q", got)
	}
	if got := d.GetSlot(1); !bytes.Equal(got, []byte("world!!")) {
		t.Fatalf("slot 1 = %q", got)
	}
	if !d.Validate() {
		t.Fatalf("directory invalid after inserts")
	}

	if !d.Erase(0) {
		t.Fatalf("erase 0 failed")
	}
	if d.Size() != 1 {
		t.Fatalf("size after erase = %d, want 1", d.Size())
	}
	if got := d.GetSlot(0); !bytes.Equal(got, []byte("world!!")) {
		t.Fatalf("slot 0 after erase = %q", got)
	}
	if !d.Validate() {
		t.Fatalf("directory invalid after erase")
	}
}

// TestVariadicCompactOnUpdate implements spec §8 scenario 4: fill a
// directory until update-in-place no longer fits, verify the three-tier
// strategy still completes via compaction, and that the result validates.
func TestVariadicCompactOnUpdate(t *testing.T) {
	body := newBody(128)
	d := NewVariadicDirectory(body)
	d.Init()

	payload := bytes.Repeat([]byte{0xAA}, 8)
	n := 0
	for d.CanInsert(len(payload)) {
		if !d.Insert(n, payload) {
			break
		}
		n++
	}
	if n == 0 {
		t.Fatalf("could not insert any slot")
	}

	// Erase every other slot to fragment the free space, then grow the
	// first remaining slot beyond what fits without compaction.
	for i := n - 2; i >= 0; i -= 2 {
		d.Erase(i)
	}
	if !d.Validate() {
		t.Fatalf("directory invalid after fragmenting erases")
	}

	big := bytes.Repeat([]byte{0xBB}, 40)
	if d.CanUpdate(0, len(big)) {
		if !d.Update(0, big) {
			t.Fatalf("Update reported CanUpdate=true but failed")
		}
		if got := d.GetSlot(0); !bytes.Equal(got, big) {
			t.Fatalf("slot 0 after grow-update = %v", got)
		}
	}
	if !d.Validate() {
		t.Fatalf("directory invalid after update")
	}
}

func TestVariadicMerge(t *testing.T) {
	dstBody := newBody(256)
	srcBody := newBody(256)
	dst := NewVariadicDirectory(dstBody)
	src := NewVariadicDirectory(srcBody)
	dst.Init()
	src.Init()

	src.Insert(0, []byte("a"))
	src.Insert(1, []byte("bb"))
	src.Insert(2, []byte("ccc"))

	if !dst.CanMerge(src) {
		t.Fatalf("CanMerge should succeed for empty dst and tiny src")
	}

	pos := dst.Size()
	for i := 0; i < src.Size(); i++ {
		data := src.GetSlot(i)
		if !dst.Insert(pos, data) {
			t.Fatalf("merge insert %d failed", i)
		}
		pos++
	}
	if dst.Size() != 3 {
		t.Fatalf("dst size after merge = %d, want 3", dst.Size())
	}
	if !dst.Validate() {
		t.Fatalf("dst invalid after merge")
	}
}

func TestFixedInsertGetEraseReuse(t *testing.T) {
	body := newBody(128)
	d := NewFixedDirectory(body, 12)
	d.Init()

	for i := 0; i < 3; i++ {
		if !d.Insert(i, []byte{byte(i), byte(i), byte(i)}) {
			t.Fatalf("insert %d failed", i)
		}
	}
	if !d.Validate() {
		t.Fatalf("fixed directory invalid after inserts")
	}

	if !d.Erase(1) {
		t.Fatalf("erase 1 failed")
	}
	if d.Size() != 2 {
		t.Fatalf("size after erase = %d, want 2", d.Size())
	}

	freeBefore := d.Available()
	if !d.Insert(1, []byte{9, 9, 9}) {
		t.Fatalf("re-insert after erase failed")
	}
	if d.Available() != freeBefore-1 {
		t.Fatalf("free-list reuse not reflected in Available()")
	}
	if !d.Validate() {
		t.Fatalf("fixed directory invalid after reuse")
	}
}

func TestFixedCapacityExhaustion(t *testing.T) {
	body := newBody(64)
	d := NewFixedDirectory(body, 8)
	d.Init()

	count := 0
	for d.CanInsert() {
		if !d.Insert(count, []byte("x")) {
			t.Fatalf("Insert failed while CanInsert was true")
		}
		count++
	}
	if count == 0 {
		t.Fatalf("directory accepted zero slots")
	}
	if d.Insert(count, []byte("overflow")) {
		t.Fatalf("Insert succeeded past reported capacity")
	}
}

func TestStableSetClearFirstFree(t *testing.T) {
	body := newBody(64)
	cap := 0
	{
		probe := NewStableDirectory(body, 6)
		cap = probe.Capacity()
	}
	d := NewStableDirectory(body, 6)
	d.Init(cap)

	idx, ok := d.FirstFree()
	if !ok || idx != 0 {
		t.Fatalf("FirstFree on empty = (%d, %v), want (0, true)", idx, ok)
	}
	if !d.Set(idx, []byte("object")) {
		t.Fatalf("Set failed")
	}
	if got := d.Get(idx); !bytes.Equal(got, []byte("object")) {
		t.Fatalf("Get(%d) = %q", idx, got)
	}
	if d.Size() != 1 {
		t.Fatalf("size = %d, want 1", d.Size())
	}

	next, ok := d.FirstFree()
	if !ok || next != idx+1 {
		t.Fatalf("FirstFree after one Set = (%d, %v), want (%d, true)", next, ok, idx+1)
	}

	if !d.Clear(idx) {
		t.Fatalf("Clear failed")
	}
	if d.Get(idx) != nil {
		t.Fatalf("Get after Clear should be nil")
	}
	back, ok := d.FirstFree()
	if !ok || back != idx {
		t.Fatalf("FirstFree after Clear = (%d, %v), want (%d, true)", back, ok, idx)
	}
	if !d.Validate() {
		t.Fatalf("stable directory invalid")
	}
}

func TestStableFullReportsNoFree(t *testing.T) {
	body := newBody(32)
	d := NewStableDirectory(body, 4)
	cap := d.Capacity()
	d.Init(cap)

	for i := 0; i < cap; i++ {
		if !d.Set(i, []byte{byte(i)}) {
			t.Fatalf("Set(%d) failed", i)
		}
	}
	if !d.Full() {
		t.Fatalf("expected Full() after filling capacity")
	}
	if _, ok := d.FirstFree(); ok {
		t.Fatalf("FirstFree should fail when full")
	}
}
