package bpt

import (
	pagekit "github.com/brelkirk/pagekit"
	"github.com/brelkirk/pagekit/bufmgr"
)

// Remove erases key, propagating underflow handling (merge-then-borrow)
// up the parent chain per spec §4.5. It reports whether key was present.
func (t *Tree) Remove(key []byte) (removed bool, err *pagekit.Error) {
	defer func() {
		if r := recover(); r != nil {
			if ae, ok := r.(abortErr); ok {
				err = ae.err
				return
			}
			panic(r)
		}
	}()
	removed = t.remove(key)
	return
}

func (t *Tree) remove(key []byte) bool {
	leafPID := t.descendToLeaf(key)
	h := t.model.Fetch(leafPID)
	leaf := newLeafNode(h)
	pos := leaf.LowerBound(key, t.cfg.Less)
	if pos >= leaf.Size() || t.cfg.Less(leaf.Key(pos), key) != 0 {
		h.Unpin()
		return false
	}

	leaf.Erase(pos)
	leaf.h.MarkDirty()

	if pos == 0 && leaf.Size() > 0 {
		newFirst := append([]byte(nil), leaf.Key(0)...)
		parent := leaf.Parent()
		pid := leaf.PID()
		h.Unpin()
		t.fixAncestorKey(pid, parent, newFirst)
		h = t.model.Fetch(leafPID)
		leaf = newLeafNode(h)
	}

	if leaf.Parent() == pagekit.InvalidID {
		h.Unpin()
		return true
	}
	if leaf.IsUnderflow() || leaf.Size() == 0 {
		t.fixLeafUnderflow(leaf.PID())
	} else {
		h.Unpin()
		return true
	}
	h.Unpin()
	t.collapseRootIfNeeded()
	return true
}

// childIndex returns the slot index of pid within parent's child array
// (0..parent.Size() inclusive).
func childIndex(parent internalNode, pid bufmgr.PID) int {
	for i := 0; i <= parent.Size(); i++ {
		if parent.Child(i) == uint32(pid) {
			return i
		}
	}
	return -1
}

// fixLeafUnderflow merges or borrows to resolve an underflowing (or
// empty) leaf at pid, then recursively fixes its parent if the merge
// removed a child slot there.
func (t *Tree) fixLeafUnderflow(pid bufmgr.PID) {
	h := t.model.Fetch(pid)
	leaf := newLeafNode(h)
	parentPID := leaf.Parent()
	ph := t.model.Fetch(bufmgr.PID(parentPID))
	parent := newInternalNode(ph)
	idx := childIndex(parent, pid)
	if idx < 0 {
		h.Unpin()
		ph.Unpin()
		return
	}

	// The right sibling is tried first (merge, else borrow one record),
	// then the left sibling (merge, else borrow); a borrow from the right
	// is attempted before a merge with the left is considered.
	if idx < parent.Size() {
		rightPID := bufmgr.PID(parent.Child(idx + 1))
		rh := t.model.Fetch(rightPID)
		right := newLeafNode(rh)
		if leaf.dir.CanMerge(right.dir) {
			t.mergeLeaves(parent, idx, leaf, right)
			rh.Unpin()
			h.Unpin()
			t.finishParentUnderflow(ph, parent)
			return
		}
		if t.borrowLeafFromRight(parent, idx, leaf, right) {
			rh.Unpin()
			h.Unpin()
			ph.Unpin()
			return
		}
		rh.Unpin()
	}
	if idx > 0 {
		leftPID := bufmgr.PID(parent.Child(idx - 1))
		lh := t.model.Fetch(leftPID)
		left := newLeafNode(lh)
		if left.dir.CanMerge(leaf.dir) {
			t.mergeLeaves(parent, idx-1, left, leaf)
			lh.Unpin()
			h.Unpin()
			t.finishParentUnderflow(ph, parent)
			return
		}
		if t.borrowLeafFromLeft(parent, idx, left, leaf) {
			lh.Unpin()
			h.Unpin()
			ph.Unpin()
			return
		}
		lh.Unpin()
	}
	h.Unpin()
	ph.Unpin()
}

// mergeLeaves absorbs B's records into A (A is parent.Child(idxA), B is
// parent.Child(idxA+1)), frees B's page, and removes B from parent.
func (t *Tree) mergeLeaves(parent internalNode, idxA int, a, b leafNode) {
	base := a.Size()
	for i := 0; i < b.Size(); i++ {
		a.Insert(base+i, b.Key(i), b.Value(i))
	}
	a.SetNext(b.Next())
	a.h.MarkDirty()
	if b.Next() != pagekit.InvalidID {
		nh := t.model.Fetch(bufmgr.PID(b.Next()))
		nn := newLeafNode(nh)
		nn.SetPrev(uint32(a.PID()))
		nh.MarkDirty()
		nh.Unpin()
	}
	t.model.Free(b.PID())
	removeMergedChild(parent, idxA, a.PID())
}

// removeMergedChild drops the child at idxA+1 from parent (A at idxA now
// represents the merged node).
func removeMergedChild(parent internalNode, idxA int, aPID bufmgr.PID) {
	n := parent.Size()
	if idxA+1 == n {
		parent.Erase(idxA)
		parent.SetRightmostChild(uint32(aPID))
	} else {
		newSep := append([]byte(nil), parent.Key(idxA+1)...)
		parent.Erase(idxA + 1)
		if parent.dir.CanUpdate(idxA, 4+len(newSep)) {
			parent.dir.Update(idxA, internalSlotEncode(uint32(aPID), newSep))
		} else {
			parent.Erase(idxA)
			parent.Insert(idxA, uint32(aPID), newSep)
		}
	}
	parent.h.MarkDirty()
}

// borrowLeafFromRight moves right's first record into leaf (leaf is
// parent.Child(idx)), updating the separator at idx.
func (t *Tree) borrowLeafFromRight(parent internalNode, idx int, leaf, right leafNode) bool {
	if right.Size() <= 1 {
		return false
	}
	key := append([]byte(nil), right.Key(0)...)
	val := append([]byte(nil), right.Value(0)...)
	if !leaf.CanInsert(key, val) {
		return false
	}
	right.Erase(0)
	right.h.MarkDirty()
	leaf.Insert(leaf.Size(), key, val)
	leaf.h.MarkDirty()
	newSep := append([]byte(nil), right.Key(0)...)
	if parent.dir.CanUpdate(idx, 4+len(newSep)) {
		parent.dir.Update(idx, internalSlotEncode(uint32(leaf.PID()), newSep))
	} else {
		parent.Erase(idx)
		parent.Insert(idx, uint32(leaf.PID()), newSep)
	}
	parent.h.MarkDirty()
	return true
}

// borrowLeafFromLeft moves left's last record into leaf (leaf is
// parent.Child(idx), left is parent.Child(idx-1)).
func (t *Tree) borrowLeafFromLeft(parent internalNode, idx int, left, leaf leafNode) bool {
	if left.Size() <= 1 {
		return false
	}
	last := left.Size() - 1
	key := append([]byte(nil), left.Key(last)...)
	val := append([]byte(nil), left.Value(last)...)
	if !leaf.CanInsert(key, val) {
		return false
	}
	left.Erase(last)
	left.h.MarkDirty()
	leaf.Insert(0, key, val)
	leaf.h.MarkDirty()
	if parent.dir.CanUpdate(idx-1, 4+len(key)) {
		parent.dir.Update(idx-1, internalSlotEncode(uint32(left.PID()), key))
	} else {
		parent.Erase(idx - 1)
		parent.Insert(idx-1, uint32(left.PID()), key)
	}
	parent.h.MarkDirty()
	return true
}

// finishParentUnderflow checks whether removing a child from parent left
// it underflowing, and if so resolves that at the internal-node level.
// ph/parent are left pinned; this function unpins them.
func (t *Tree) finishParentUnderflow(ph bufmgr.Handle, parent internalNode) {
	if parent.Parent() == pagekit.InvalidID {
		ph.Unpin()
		return
	}
	if !parent.IsUnderflow() && parent.Size() > 0 {
		ph.Unpin()
		return
	}
	pid := parent.PID()
	ph.Unpin()
	t.fixInternalUnderflow(pid)
}

// fixInternalUnderflow is the internal-node analogue of fixLeafUnderflow:
// merge with a sibling (right preferred) pulling the parent separator
// down, or borrow one child across the parent.
func (t *Tree) fixInternalUnderflow(pid bufmgr.PID) {
	h := t.model.Fetch(pid)
	node := newInternalNode(h)
	parentPID := node.Parent()
	if parentPID == pagekit.InvalidID {
		h.Unpin()
		return
	}
	ph := t.model.Fetch(bufmgr.PID(parentPID))
	parent := newInternalNode(ph)
	idx := childIndex(parent, pid)
	if idx < 0 {
		h.Unpin()
		ph.Unpin()
		return
	}

	if idx < parent.Size() {
		rightPID := bufmgr.PID(parent.Child(idx + 1))
		rh := t.model.Fetch(rightPID)
		right := newInternalNode(rh)
		if t.canMergeInternal(node, right) {
			t.mergeInternals(parent, idx, node, right)
			rh.Unpin()
			h.Unpin()
			t.finishParentUnderflow(ph, parent)
			return
		}
		if t.borrowInternalFromRight(parent, idx, node, right) {
			rh.Unpin()
			h.Unpin()
			ph.Unpin()
			return
		}
		rh.Unpin()
	}
	if idx > 0 {
		leftPID := bufmgr.PID(parent.Child(idx - 1))
		lh := t.model.Fetch(leftPID)
		left := newInternalNode(lh)
		if t.canMergeInternal(left, node) {
			t.mergeInternals(parent, idx-1, left, node)
			lh.Unpin()
			h.Unpin()
			t.finishParentUnderflow(ph, parent)
			return
		}
		if t.borrowInternalFromLeft(parent, idx, left, node) {
			lh.Unpin()
			h.Unpin()
			ph.Unpin()
			return
		}
		lh.Unpin()
	}
	h.Unpin()
	ph.Unpin()
}

// canMergeInternal reserves an extra InodeMaxSlotSize of headroom beyond
// what the merge itself needs, per spec §9's can_merge_inodes note, to
// avoid cascading splits if the merged node's parent separator later
// grows to the configured maximum.
func (t *Tree) canMergeInternal(a, b internalNode) bool {
	need := a.dir.MergeNeedBytes(b.dir) + 4 + t.cfg.InodeMaxSlotSize
	return a.dir.AvailableAfterCompact() >= need
}

// mergeInternals absorbs B into A (A=parent.Child(idxA), B=parent.Child(idxA+1)),
// pulling the parent separator down as a real key.
func (t *Tree) mergeInternals(parent internalNode, idxA int, a, b internalNode) {
	sep := append([]byte(nil), parent.Key(idxA)...)
	base := a.Size()
	a.Insert(base, a.RightmostChild(), sep)
	for i := 0; i < b.Size(); i++ {
		a.Insert(base+1+i, b.Child(i), b.Key(i))
	}
	a.SetRightmostChild(b.RightmostChild())
	a.h.MarkDirty()

	t.setChildParent(bufmgr.PID(b.RightmostChild()), a.PID())
	for i := 0; i < b.Size(); i++ {
		t.setChildParent(bufmgr.PID(b.Child(i)), a.PID())
	}
	t.model.Free(b.PID())
	removeMergedChild(parent, idxA, a.PID())
}

// borrowInternalFromRight rotates right's first child/key through parent
// into node (node=parent.Child(idx)).
func (t *Tree) borrowInternalFromRight(parent internalNode, idx int, node, right internalNode) bool {
	if right.Size() == 0 {
		return false
	}
	sep := append([]byte(nil), parent.Key(idx)...)
	if !node.CanInsert(sep) {
		return false
	}
	movedChild := right.Child(0)
	newSep := append([]byte(nil), right.Key(0)...)
	right.Erase(0)
	right.h.MarkDirty()

	node.Insert(node.Size(), node.RightmostChild(), sep)
	node.SetRightmostChild(movedChild)
	node.h.MarkDirty()
	t.setChildParent(bufmgr.PID(movedChild), node.PID())

	if parent.dir.CanUpdate(idx, 4+len(newSep)) {
		parent.dir.Update(idx, internalSlotEncode(uint32(node.PID()), newSep))
	} else {
		parent.Erase(idx)
		parent.Insert(idx, uint32(node.PID()), newSep)
	}
	parent.h.MarkDirty()
	return true
}

// borrowInternalFromLeft rotates left's last child/key through parent
// into node (node=parent.Child(idx), left=parent.Child(idx-1)).
func (t *Tree) borrowInternalFromLeft(parent internalNode, idx int, left, node internalNode) bool {
	if left.Size() == 0 {
		return false
	}
	sep := append([]byte(nil), parent.Key(idx-1)...)
	if !node.CanInsert(sep) {
		return false
	}
	movedChild := left.RightmostChild()
	newSep := append([]byte(nil), left.Key(left.Size()-1)...)
	left.SetRightmostChild(left.Child(left.Size() - 1))
	left.Erase(left.Size() - 1)
	left.h.MarkDirty()

	node.Insert(0, movedChild, sep)
	node.h.MarkDirty()
	t.setChildParent(bufmgr.PID(movedChild), node.PID())

	if parent.dir.CanUpdate(idx-1, 4+len(newSep)) {
		parent.dir.Update(idx-1, internalSlotEncode(uint32(left.PID()), newSep))
	} else {
		parent.Erase(idx - 1)
		parent.Insert(idx-1, uint32(left.PID()), newSep)
	}
	parent.h.MarkDirty()
	return true
}

// collapseRootIfNeeded implements spec §4.5's terminal case: a root with
// a single child is replaced by that child; an empty leaf root just
// stays (the tree is empty).
func (t *Tree) collapseRootIfNeeded() {
	h := t.model.Fetch(t.root)
	kind := pagekit.ReadHeader(h.RWSpan()).Kind
	if kind != t.cfg.InternalKind {
		h.Unpin()
		return
	}
	node := newInternalNode(h)
	if node.Size() > 0 {
		h.Unpin()
		return
	}
	onlyChild := node.RightmostChild()
	h.Unpin()
	t.model.Free(t.root)
	t.setChildParent(bufmgr.PID(onlyChild), pagekit.InvalidID)
	t.root = bufmgr.PID(onlyChild)
}
