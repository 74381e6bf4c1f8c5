package bpt

import (
	pagekit "github.com/brelkirk/pagekit"
	"github.com/brelkirk/pagekit/bufmgr"
)

// setChildParent rewrites pid's Parent subheader field, regardless of
// whether pid names a leaf or an internal node.
func (t *Tree) setChildParent(pid bufmgr.PID, parent bufmgr.PID) {
	h := t.model.Fetch(pid)
	defer h.Unpin()
	kind := pagekit.ReadHeader(h.RWSpan()).Kind
	if kind == t.cfg.LeafKind {
		n := newLeafNode(h)
		n.SetParent(uint32(parent))
	} else {
		n := newInternalNode(h)
		n.SetParent(uint32(parent))
	}
	h.MarkDirty()
}

// splitLeaf moves the upper half of leaf's records into a freshly
// allocated right sibling, links it into the leaf chain, and returns its
// pid and its first key (the separator to propagate upward).
func (t *Tree) splitLeaf(leaf leafNode) (bufmgr.PID, []byte) {
	n := leaf.Size()
	mid := n / 2

	type kv struct{ key, val []byte }
	moved := make([]kv, 0, n-mid)
	for i := mid; i < n; i++ {
		moved = append(moved, kv{
			append([]byte(nil), leaf.Key(i)...),
			append([]byte(nil), leaf.Value(i)...),
		})
	}
	for i := n - 1; i >= mid; i-- {
		leaf.Erase(i)
	}

	rightH := mustAlloc("bpt.splitLeaf", t.model)
	right := initLeafNode(rightH, t.cfg.LeafKind, leaf.Parent(), uint32(leaf.PID()), leaf.Next())
	for i, m := range moved {
		if !right.Insert(i, m.key, m.val) {
			panic("bpt: new leaf could not absorb its half of a split")
		}
	}

	oldNext := leaf.Next()
	leaf.SetNext(uint32(right.PID()))
	right.h.MarkDirty()
	leaf.h.MarkDirty()
	if oldNext != pagekit.InvalidID {
		nh := t.model.Fetch(bufmgr.PID(oldNext))
		nn := newLeafNode(nh)
		nn.SetPrev(uint32(right.PID()))
		nh.MarkDirty()
		nh.Unpin()
	}

	separator := append([]byte(nil), right.Key(0)...)
	pid := right.PID()
	right.h.Unpin()
	return pid, separator
}

// splitInternal lifts internal's middle key out as the separator, moves
// the upper half of its children to a freshly allocated right sibling,
// and reparents every child that moved.
func (t *Tree) splitInternal(internal internalNode) (bufmgr.PID, []byte) {
	n := internal.Size()
	mid := n / 2

	separator := append([]byte(nil), internal.Key(mid)...)
	newLeftRightmost := internal.Child(mid)
	oldRightmost := internal.Child(n)

	type ck struct {
		child uint32
		key   []byte
	}
	moved := make([]ck, 0, n-mid-1)
	for i := mid + 1; i < n; i++ {
		moved = append(moved, ck{internal.Child(i), append([]byte(nil), internal.Key(i)...)})
	}

	for i := n - 1; i >= mid; i-- {
		internal.Erase(i)
	}
	internal.SetRightmostChild(newLeftRightmost)
	internal.h.MarkDirty()

	rightH := mustAlloc("bpt.splitInternal", t.model)
	right := initInternalNode(rightH, t.cfg.InternalKind, internal.Parent(), oldRightmost)
	for i, m := range moved {
		if !right.Insert(i, m.child, m.key) {
			panic("bpt: new internal node could not absorb its half of a split")
		}
	}
	right.h.MarkDirty()

	pid := right.PID()
	t.setChildParent(bufmgr.PID(oldRightmost), pid)
	for _, m := range moved {
		t.setChildParent(bufmgr.PID(m.child), pid)
	}
	right.h.Unpin()

	return pid, separator
}

// fixAncestorKey updates the separator for childPID after its first key
// changed to newKey, walking up through ancestors where childPID sits at
// position 0 of its parent (spec §4.5's parent-key maintenance).
func (t *Tree) fixAncestorKey(childPID bufmgr.PID, parentPID uint32, newKey []byte) {
	for parentPID != pagekit.InvalidID {
		ph := t.model.Fetch(bufmgr.PID(parentPID))
		parent := newInternalNode(ph)

		idx := -1
		for i := 0; i <= parent.Size(); i++ {
			if parent.Child(i) == uint32(childPID) {
				idx = i
				break
			}
		}
		if idx < 0 {
			ph.Unpin()
			return
		}
		if idx == 0 {
			// childPID is this parent's leftmost: the parent inherits
			// the same "first key" identity, keep climbing.
			next := parent.Parent()
			grandPID := bufmgr.PID(parentPID)
			ph.Unpin()
			childPID = grandPID
			parentPID = next
			continue
		}

		if !parent.dir.CanUpdate(idx-1, 4+len(newKey)) {
			child := parent.Child(idx - 1)
			ph.Unpin()
			t.splitAndRetryKeyFix(bufmgr.PID(parentPID), child, childPID, newKey)
			return
		}
		parent.dir.Update(idx-1, internalSlotEncode(parent.Child(idx-1), newKey))
		ph.MarkDirty()
		ph.Unpin()
		return
	}
}

// splitAndRetryKeyFix handles the rare case where updating a separator
// would overflow the parent: split the parent first (propagating that
// split upward as any other internal split), then retry the key fix
// against whichever side now holds childPID.
func (t *Tree) splitAndRetryKeyFix(parentPID, leftChild, childPID bufmgr.PID, newKey []byte) {
	ph := t.model.Fetch(parentPID)
	parent := newInternalNode(ph)
	rightPID, sep := t.splitInternal(parent)
	wasRoot := parent.Parent() == pagekit.InvalidID
	grandparent := parent.Parent()
	ph.Unpin()

	if wasRoot {
		t.growRoot(parentPID, rightPID, sep)
	} else {
		t.insertIntoParent(grandparent, parentPID, rightPID, sep)
	}

	rh := t.model.Fetch(rightPID)
	right := newInternalNode(rh)
	holdsChild := false
	for i := 0; i <= right.Size(); i++ {
		if right.Child(i) == uint32(childPID) {
			holdsChild = true
			break
		}
	}
	newParent := parentPID
	if holdsChild {
		newParent = rightPID
	}
	rh.Unpin()

	t.fixAncestorKey(childPID, uint32(newParent), newKey)
}

// growRoot allocates a fresh internal root over leftPID/rightPID.
func (t *Tree) growRoot(leftPID, rightPID bufmgr.PID, separator []byte) {
	rootH := mustAlloc("bpt.growRoot", t.model)
	root := initInternalNode(rootH, t.cfg.InternalKind, pagekit.InvalidID, uint32(rightPID))
	if !root.Insert(0, uint32(leftPID), separator) {
		panic("bpt: fresh root could not hold a single separator")
	}
	root.h.MarkDirty()
	pid := root.PID()
	t.setChildParent(leftPID, pid)
	t.setChildParent(rightPID, pid)
	root.h.Unpin()
	t.root = pid
}

// insertIntoParent inserts (separator -> rightPID) into parentPID, right
// after leftPID, splitting parentPID (recursively) if it is full.
func (t *Tree) insertIntoParent(parentPID, leftPID, rightPID bufmgr.PID, separator []byte) {
	ph := t.model.Fetch(parentPID)
	parent := newInternalNode(ph)

	pos := -1
	for i := 0; i <= parent.Size(); i++ {
		if parent.Child(i) == uint32(leftPID) {
			pos = i
			break
		}
	}
	if pos < 0 {
		ph.Unpin()
		panic("bpt: split child not found in its recorded parent")
	}

	if parent.CanInsert(separator) {
		if pos == parent.Size() {
			// leftPID was the rightmost child: it stays rightmost and
			// rightPID becomes the new rightmost.
			parent.Insert(pos, uint32(leftPID), separator)
			parent.SetRightmostChild(uint32(rightPID))
		} else {
			// leftPID keeps slot pos with the new separator; rightPID
			// takes over leftPID's old key in the slot right after it.
			parent.Insert(pos, uint32(leftPID), separator)
			parent.dir.Update(pos+1, internalSlotEncode(uint32(rightPID), parent.Key(pos+1)))
		}
		parent.h.MarkDirty()
		t.setChildParent(rightPID, parent.PID())
		ph.Unpin()
		return
	}

	rightSiblingPID, upSeparator := t.splitInternal(parent)
	wasRoot := parent.Parent() == pagekit.InvalidID
	grandparent := parent.Parent()
	parentPIDCopy := parent.PID()
	ph.Unpin()

	if wasRoot {
		t.growRoot(parentPIDCopy, rightSiblingPID, upSeparator)
	} else {
		t.insertIntoParent(grandparent, parentPIDCopy, rightSiblingPID, upSeparator)
	}

	// leftPID now lives in whichever of {parentPIDCopy, rightSiblingPID}
	// still claims it as a child; retry the insert there.
	rh := t.model.Fetch(rightSiblingPID)
	right := newInternalNode(rh)
	holds := false
	for i := 0; i <= right.Size(); i++ {
		if right.Child(i) == uint32(leftPID) {
			holds = true
			break
		}
	}
	rh.Unpin()
	if holds {
		t.insertIntoParent(rightSiblingPID, leftPID, rightPID, separator)
	} else {
		t.insertIntoParent(parentPIDCopy, leftPID, rightPID, separator)
	}
}
