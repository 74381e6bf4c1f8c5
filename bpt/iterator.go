package bpt

import (
	"github.com/brelkirk/pagekit/bufmgr"
)

// Iterator walks a Tree's leaf sibling chain in key order, per spec
// §4.5's "Leaf next/prev links support bidirectional in-order traversal
// without parent walks." A positioned-past-the-end iterator holds the
// sentinel End: (invalid_id, 0).
type Iterator struct {
	t   *Tree
	pid bufmgr.PID
	pos int
}

// End returns a sentinel iterator positioned past the last record.
func End(t *Tree) *Iterator {
	return &Iterator{t: t, pid: invalidPID, pos: 0}
}

// First positions the iterator at the tree's smallest key, or End if the
// tree is empty.
func First(t *Tree) *Iterator {
	it := &Iterator{t: t, pid: t.leftmostLeaf(), pos: 0}
	it.normalizeForward()
	return it
}

// Last positions the iterator at the tree's largest key, or End if the
// tree is empty.
func Last(t *Tree) *Iterator {
	pid := t.rightmostLeaf()
	h := t.model.Fetch(pid)
	pos := newLeafNode(h).Size() - 1
	h.Unpin()
	it := &Iterator{t: t, pid: pid, pos: pos}
	it.normalizeBackward()
	return it
}

// Seek positions the iterator at the first key >= target, or End if no
// such key exists.
func Seek(t *Tree, target []byte) *Iterator {
	leafPID := t.descendToLeaf(target)
	h := t.model.Fetch(leafPID)
	pos := newLeafNode(h).LowerBound(target, t.cfg.Less)
	h.Unpin()
	it := &Iterator{t: t, pid: leafPID, pos: pos}
	it.normalizeForward()
	return it
}

// Valid reports whether the iterator is positioned at a live record.
func (it *Iterator) Valid() bool { return it.pid != invalidPID }

// Key returns the current record's key. Valid() must be true.
func (it *Iterator) Key() []byte {
	h := it.t.model.Fetch(it.pid)
	defer h.Unpin()
	return append([]byte(nil), newLeafNode(h).Key(it.pos)...)
}

// Value returns the current record's value. Valid() must be true.
func (it *Iterator) Value() []byte {
	h := it.t.model.Fetch(it.pid)
	defer h.Unpin()
	return append([]byte(nil), newLeafNode(h).Value(it.pos)...)
}

// Next advances to the following key in order, reporting whether the
// iterator is still valid afterward.
func (it *Iterator) Next() bool {
	if !it.Valid() {
		return false
	}
	it.pos++
	it.normalizeForward()
	return it.Valid()
}

// Prev retreats to the preceding key in order, reporting whether the
// iterator is still valid afterward.
func (it *Iterator) Prev() bool {
	if !it.Valid() {
		return false
	}
	it.pos--
	it.normalizeBackward()
	return it.Valid()
}

// Delete erases the record the iterator is positioned at and advances to
// what was the following key. Per spec §9's noted inefficiency, this
// performs a fresh key lookup inside Remove rather than erasing at the
// iterator's cached leaf position directly; the iterator then reseeks
// to restore its place in the chain.
func (it *Iterator) Delete() bool {
	if !it.Valid() {
		return false
	}
	key := it.Key()
	removed, _ := it.t.Remove(key)
	if !removed {
		return false
	}
	*it = *Seek(it.t, key)
	return true
}

// normalizeForward walks forward through exhausted leaves until pos
// lands on a live slot or the sibling chain ends.
func (it *Iterator) normalizeForward() {
	for it.pid != invalidPID {
		h := it.t.model.Fetch(it.pid)
		leaf := newLeafNode(h)
		size := leaf.Size()
		next := leaf.Next()
		h.Unpin()
		if it.pos < size {
			return
		}
		it.pos -= size
		it.pid = bufmgr.PID(next)
	}
	it.pos = 0
}

// normalizeBackward walks backward through leading leaves until pos
// lands on a live slot or the sibling chain ends.
func (it *Iterator) normalizeBackward() {
	for it.pid != invalidPID {
		if it.pos >= 0 {
			return
		}
		h := it.t.model.Fetch(it.pid)
		prev := newLeafNode(h).Prev()
		h.Unpin()
		if prev == invalidPID {
			it.pid = invalidPID
			it.pos = 0
			return
		}
		ph := it.t.model.Fetch(bufmgr.PID(prev))
		prevSize := newLeafNode(ph).Size()
		ph.Unpin()
		it.pos += prevSize
		it.pid = bufmgr.PID(prev)
	}
}
