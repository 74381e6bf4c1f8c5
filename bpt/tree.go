package bpt

import (
	pagekit "github.com/brelkirk/pagekit"
	"github.com/brelkirk/pagekit/bufmgr"
)

// Tree is a B+ tree over a Model, per spec §4.5.
type Tree struct {
	model Model
	cfg   Config
	root  bufmgr.PID
}

// abortErr wraps an allocator failure so deeply nested split/merge/borrow
// helpers can unwind to the top-level Insert/Remove call without
// threading an error return through every recursive step (spec §4.5's
// "allocation failures from the underlying allocator abort the current
// operation").
type abortErr struct{ err *pagekit.Error }

func mustAlloc(op string, model Model) bufmgr.Handle {
	h := model.Alloc()
	if !h.IsValid() {
		panic(abortErr{pagekit.NewError(pagekit.ErrPagesExhausted, op, nil)})
	}
	return h
}

// New creates an empty tree: a single empty leaf page as the root.
func New(model Model, cfg Config) *Tree {
	h := mustAlloc("bpt.New", model)
	root := initLeafNode(h, cfg.LeafKind, pagekit.InvalidID, pagekit.InvalidID, pagekit.InvalidID)
	root.h.MarkDirty()
	pid := root.PID()
	h.Unpin()
	return &Tree{model: model, cfg: cfg, root: pid}
}

// Open wraps an existing tree rooted at root.
func Open(model Model, cfg Config, root bufmgr.PID) *Tree {
	return &Tree{model: model, cfg: cfg, root: root}
}

// Root returns the current root page id.
func (t *Tree) Root() bufmgr.PID { return t.root }

func (t *Tree) descendToLeaf(key []byte) bufmgr.PID {
	pid := t.root
	for {
		h := t.model.Fetch(pid)
		kind := pagekit.ReadHeader(h.RWSpan()).Kind
		if kind == t.cfg.LeafKind {
			h.Unpin()
			return pid
		}
		n := newInternalNode(h)
		pos := n.UpperBound(key, t.cfg.Less)
		child := n.Child(pos)
		h.Unpin()
		pid = bufmgr.PID(child)
	}
}

// leftmostLeaf descends via child 0 at every internal node, reaching the
// leaf covering the smallest key in the tree.
func (t *Tree) leftmostLeaf() bufmgr.PID {
	pid := t.root
	for {
		h := t.model.Fetch(pid)
		kind := pagekit.ReadHeader(h.RWSpan()).Kind
		if kind == t.cfg.LeafKind {
			h.Unpin()
			return pid
		}
		n := newInternalNode(h)
		child := n.Child(0)
		h.Unpin()
		pid = bufmgr.PID(child)
	}
}

// rightmostLeaf descends via each node's rightmost child, reaching the
// leaf covering the largest key in the tree.
func (t *Tree) rightmostLeaf() bufmgr.PID {
	pid := t.root
	for {
		h := t.model.Fetch(pid)
		kind := pagekit.ReadHeader(h.RWSpan()).Kind
		if kind == t.cfg.LeafKind {
			h.Unpin()
			return pid
		}
		n := newInternalNode(h)
		child := n.Child(n.Size())
		h.Unpin()
		pid = bufmgr.PID(child)
	}
}

// Find looks up key, returning a copy of its value and whether it was
// present.
func (t *Tree) Find(key []byte) ([]byte, bool) {
	leafPID := t.descendToLeaf(key)
	h := t.model.Fetch(leafPID)
	defer h.Unpin()
	n := newLeafNode(h)
	pos := n.LowerBound(key, t.cfg.Less)
	if pos < n.Size() && t.cfg.Less(n.Key(pos), key) == 0 {
		return append([]byte(nil), n.Value(pos)...), true
	}
	return nil, false
}

// Insert adds (key, value) per the configured InsertPolicy. It reports
// whether the tree changed (false for an InsertOnly no-op duplicate) and
// any allocator failure.
func (t *Tree) Insert(key, value []byte) (inserted bool, err *pagekit.Error) {
	defer func() {
		if r := recover(); r != nil {
			if ae, ok := r.(abortErr); ok {
				err = ae.err
				return
			}
			panic(r)
		}
	}()
	inserted = t.insert(key, value)
	return
}

func (t *Tree) insert(key, value []byte) bool {
	leafPID := t.descendToLeaf(key)
	h := t.model.Fetch(leafPID)
	leaf := newLeafNode(h)
	pos := leaf.LowerBound(key, t.cfg.Less)
	found := pos < leaf.Size() && t.cfg.Less(leaf.Key(pos), key) == 0

	if found {
		if t.cfg.Insert == InsertOnly {
			h.Unpin()
			return false
		}
		if leaf.CanUpdateValue(pos, key, value) {
			leaf.UpdateValue(pos, key, value)
			leaf.h.MarkDirty()
			h.Unpin()
			return true
		}
		leaf.Erase(pos)
		leaf.h.MarkDirty()
	}

	if leaf.CanInsert(key, value) {
		leaf.Insert(pos, key, value)
		leaf.h.MarkDirty()
		if pos == 0 {
			newFirst := append([]byte(nil), leaf.Key(0)...)
			parent := leaf.Parent()
			pid := leaf.PID()
			h.Unpin()
			t.fixAncestorKey(pid, parent, newFirst)
			return true
		}
		h.Unpin()
		return true
	}

	if t.rebalanceOnFullLeaf(leaf, pos, key, value) {
		h.Unpin()
		return true
	}

	// Every configured policy falls back to an unconditional split.
	t.splitFullLeafAndInsert(leaf, pos, key, value)
	h.Unpin()
	return true
}

// rebalanceOnFullLeaf attempts NeighborShare/LocalRebalance before the
// ForceSplit fallback; ForceSplit itself reports false so the caller
// always performs the split.
func (t *Tree) rebalanceOnFullLeaf(leaf leafNode, pos int, key, value []byte) bool {
	if t.cfg.Rebalance == ForceSplit {
		return false
	}
	if leaf.Parent() == pagekit.InvalidID {
		return false // root leaf: nowhere to share with.
	}

	siblings := []uint32{leaf.Next()}
	if t.cfg.Rebalance == LocalRebalance {
		siblings = t.siblingChain(leaf)
	}
	for _, sib := range siblings {
		if sib == pagekit.InvalidID {
			continue
		}
		if t.tryBorrowOneToSibling(leaf, bufmgr.PID(sib)) {
			// Retry the insert now that leaf has room.
			newPos := leaf.LowerBound(key, t.cfg.Less)
			if leaf.CanInsert(key, value) {
				leaf.Insert(newPos, key, value)
				leaf.h.MarkDirty()
				if newPos == 0 {
					newFirst := append([]byte(nil), leaf.Key(0)...)
					t.fixAncestorKey(leaf.PID(), leaf.Parent(), newFirst)
				}
				return true
			}
		}
	}
	return false
}

// siblingChain returns up to a few of leaf's following siblings' pids,
// for LocalRebalance's cascading-shift attempt.
func (t *Tree) siblingChain(leaf leafNode) []uint32 {
	const maxHops = 4
	out := make([]uint32, 0, maxHops)
	next := leaf.Next()
	for i := 0; i < maxHops && next != pagekit.InvalidID; i++ {
		out = append(out, next)
		h := t.model.Fetch(bufmgr.PID(next))
		n := newLeafNode(h)
		next = n.Next()
		h.Unpin()
	}
	return out
}

// tryBorrowOneToSibling moves leaf's last record into sibPID if sibPID
// has room, fixing the sibling's separator. Returns whether it helped.
func (t *Tree) tryBorrowOneToSibling(leaf leafNode, sibPID bufmgr.PID) bool {
	if leaf.Size() == 0 {
		return false
	}
	sh := t.model.Fetch(sibPID)
	defer sh.Unpin()
	sib := newLeafNode(sh)

	last := leaf.Size() - 1
	key := append([]byte(nil), leaf.Key(last)...)
	val := append([]byte(nil), leaf.Value(last)...)
	if !sib.CanInsert(key, val) {
		return false
	}
	leaf.Erase(last)
	leaf.h.MarkDirty()
	sib.Insert(0, key, val)
	sib.h.MarkDirty()
	t.fixAncestorKey(sib.PID(), sib.Parent(), key)
	return true
}

func (t *Tree) splitFullLeafAndInsert(leaf leafNode, pos int, key, value []byte) {
	rightPID, separator := t.splitLeaf(leaf)
	wasRoot := leaf.Parent() == pagekit.InvalidID
	leftPID := leaf.PID()
	parentPID := leaf.Parent()

	if wasRoot {
		t.growRoot(leftPID, rightPID, separator)
	} else {
		t.insertIntoParent(parentPID, leftPID, rightPID, separator)
	}

	// Insert into whichever half now owns the key's position.
	targetPID := leftPID
	if t.cfg.Less(key, separator) >= 0 {
		targetPID = rightPID
	}
	th := t.model.Fetch(targetPID)
	target := newLeafNode(th)
	ipos := target.LowerBound(key, t.cfg.Less)
	if !target.CanInsert(key, value) {
		th.Unpin()
		panic("bpt: post-split half still cannot hold the inserted record")
	}
	target.Insert(ipos, key, value)
	target.h.MarkDirty()
	if ipos == 0 {
		newFirst := append([]byte(nil), target.Key(0)...)
		parent := target.Parent()
		pid := target.PID()
		th.Unpin()
		t.fixAncestorKey(pid, parent, newFirst)
		return
	}
	th.Unpin()
}
