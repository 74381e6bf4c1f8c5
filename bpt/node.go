package bpt

import (
	"encoding/binary"

	pagekit "github.com/brelkirk/pagekit"
	"github.com/brelkirk/pagekit/bufmgr"
	"github.com/brelkirk/pagekit/slot"
)

// LeafSubheader is spec §6.1's B+ tree leaf subheader.
type LeafSubheader struct {
	Parent   uint32
	Prev     uint32
	Next     uint32
	Reserved uint32
}

func (s *LeafSubheader) Size() int { return 16 }

func (s *LeafSubheader) Encode(dst []byte) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:4], s.Parent)
	le.PutUint32(dst[4:8], s.Prev)
	le.PutUint32(dst[8:12], s.Next)
	le.PutUint32(dst[12:16], s.Reserved)
}

func (s *LeafSubheader) Decode(src []byte) {
	le := binary.LittleEndian
	s.Parent = le.Uint32(src[0:4])
	s.Prev = le.Uint32(src[4:8])
	s.Next = le.Uint32(src[8:12])
	s.Reserved = le.Uint32(src[12:16])
}

// InternalSubheader is spec §6.1's B+ tree internal subheader. The
// rightmost child is stored here rather than in a slot, since an
// internal node with n keys has n+1 children.
type InternalSubheader struct {
	Parent         uint32
	RightmostChild uint32
}

func (s *InternalSubheader) Size() int { return 8 }

func (s *InternalSubheader) Encode(dst []byte) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:4], s.Parent)
	le.PutUint32(dst[4:8], s.RightmostChild)
}

func (s *InternalSubheader) Decode(src []byte) {
	le := binary.LittleEndian
	s.Parent = le.Uint32(src[0:4])
	s.RightmostChild = le.Uint32(src[4:8])
}

type leafView = pagekit.PageView[LeafSubheader, *LeafSubheader]
type internalView = pagekit.PageView[InternalSubheader, *InternalSubheader]

// leafNode is a typed view over a leaf page: the fixed header + leaf
// subheader, and a variadic slot directory whose slots are
// (key_len, value_off) followed by key bytes then value bytes.
type leafNode struct {
	h    bufmgr.Handle
	view leafView
	dir  slot.VariadicDirectory
}

// internalNode is a typed view over an internal page: slots are
// (child uint32) followed by key bytes; the rightmost child lives in the
// subheader.
type internalNode struct {
	h    bufmgr.Handle
	view internalView
	dir  slot.VariadicDirectory
}

func leafSlotEncode(key, value []byte) []byte {
	buf := make([]byte, 4+len(key)+len(value))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(key)))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(4+len(key)))
	copy(buf[4:], key)
	copy(buf[4+len(key):], value)
	return buf
}

func leafSlotKey(raw []byte) []byte {
	keyLen := binary.LittleEndian.Uint16(raw[0:2])
	return raw[4 : 4+keyLen]
}

func leafSlotValue(raw []byte) []byte {
	valueOff := binary.LittleEndian.Uint16(raw[2:4])
	return raw[valueOff:]
}

func internalSlotEncode(child uint32, key []byte) []byte {
	buf := make([]byte, 4+len(key))
	binary.LittleEndian.PutUint32(buf[0:4], child)
	copy(buf[4:], key)
	return buf
}

func internalSlotChild(raw []byte) uint32 {
	return binary.LittleEndian.Uint32(raw[0:4])
}

func internalSlotKey(raw []byte) []byte {
	return raw[4:]
}

func newLeafNode(h bufmgr.Handle) leafNode {
	view := pagekit.NewPageView[LeafSubheader, *LeafSubheader](h.RWSpan())
	return leafNode{h: h, view: view, dir: slot.NewVariadicDirectory(view.Body())}
}

func initLeafNode(h bufmgr.Handle, kind uint16, parent, prev, next uint32) leafNode {
	var sh LeafSubheader
	data := h.RWSpan()
	pagekit.InitHeader(data, kind, uint32(h.PID()), uint16(sh.Size()), 0)
	n := newLeafNode(h)
	n.view.SetSubheader(LeafSubheader{Parent: parent, Prev: prev, Next: next})
	n.dir.Init()
	return n
}

func (n leafNode) PID() bufmgr.PID { return n.h.PID() }
func (n leafNode) Size() int       { return n.dir.Size() }

func (n leafNode) sh() LeafSubheader      { return n.view.Subheader() }
func (n leafNode) setSH(sh LeafSubheader) { n.view.SetSubheader(sh) }

func (n leafNode) Parent() uint32 { return n.sh().Parent }
func (n leafNode) SetParent(p uint32) {
	sh := n.sh()
	sh.Parent = p
	n.setSH(sh)
}
func (n leafNode) Prev() uint32 { return n.sh().Prev }
func (n leafNode) SetPrev(p uint32) {
	sh := n.sh()
	sh.Prev = p
	n.setSH(sh)
}
func (n leafNode) Next() uint32 { return n.sh().Next }
func (n leafNode) SetNext(p uint32) {
	sh := n.sh()
	sh.Next = p
	n.setSH(sh)
}

func (n leafNode) Key(i int) []byte   { return leafSlotKey(n.dir.GetSlot(i)) }
func (n leafNode) Value(i int) []byte { return leafSlotValue(n.dir.GetSlot(i)) }

// LowerBound returns the first index whose key is >= target.
func (n leafNode) LowerBound(target []byte, less Comparator) int {
	lo, hi := 0, n.Size()
	for lo < hi {
		mid := (lo + hi) / 2
		if less(n.Key(mid), target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (n leafNode) CanInsert(key, value []byte) bool {
	return n.dir.CanInsert(4 + len(key) + len(value))
}

func (n leafNode) Insert(pos int, key, value []byte) bool {
	return n.dir.Insert(pos, leafSlotEncode(key, value))
}

func (n leafNode) CanUpdateValue(pos int, key, value []byte) bool {
	return n.dir.CanUpdate(pos, 4+len(key)+len(value))
}

func (n leafNode) UpdateValue(pos int, key, value []byte) bool {
	return n.dir.Update(pos, leafSlotEncode(key, value))
}

func (n leafNode) Erase(pos int) bool { return n.dir.Erase(pos) }

func (n leafNode) Validate() bool { return n.dir.Validate() }

// IsUnderflow reports whether the leaf's committed payload is below half
// of its available capacity (spec §4.5).
func (n leafNode) IsUnderflow() bool {
	return n.dir.UsedBytes()*2 < n.dir.TotalBytes()
}

func newInternalNode(h bufmgr.Handle) internalNode {
	view := pagekit.NewPageView[InternalSubheader, *InternalSubheader](h.RWSpan())
	return internalNode{h: h, view: view, dir: slot.NewVariadicDirectory(view.Body())}
}

func initInternalNode(h bufmgr.Handle, kind uint16, parent uint32, rightmost uint32) internalNode {
	var sh InternalSubheader
	data := h.RWSpan()
	pagekit.InitHeader(data, kind, uint32(h.PID()), uint16(sh.Size()), 0)
	n := newInternalNode(h)
	n.view.SetSubheader(InternalSubheader{Parent: parent, RightmostChild: rightmost})
	n.dir.Init()
	return n
}

func (n internalNode) PID() bufmgr.PID { return n.h.PID() }
func (n internalNode) Size() int       { return n.dir.Size() }

func (n internalNode) sh() InternalSubheader      { return n.view.Subheader() }
func (n internalNode) setSH(sh InternalSubheader) { n.view.SetSubheader(sh) }

func (n internalNode) Parent() uint32 { return n.sh().Parent }
func (n internalNode) SetParent(p uint32) {
	sh := n.sh()
	sh.Parent = p
	n.setSH(sh)
}
func (n internalNode) RightmostChild() uint32 { return n.sh().RightmostChild }
func (n internalNode) SetRightmostChild(c uint32) {
	sh := n.sh()
	sh.RightmostChild = c
	n.setSH(sh)
}

func (n internalNode) Key(i int) []byte { return internalSlotKey(n.dir.GetSlot(i)) }

// Child returns the i'th child (0..Size() inclusive); Child(Size())
// returns RightmostChild.
func (n internalNode) Child(i int) uint32 {
	if i >= n.Size() {
		return n.RightmostChild()
	}
	return internalSlotChild(n.dir.GetSlot(i))
}

// UpperBound returns the first index whose key is > target, i.e. the
// number of keys <= target: the child-descent index from spec §4.5.
func (n internalNode) UpperBound(target []byte, less Comparator) int {
	lo, hi := 0, n.Size()
	for lo < hi {
		mid := (lo + hi) / 2
		if less(target, n.Key(mid)) < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

func (n internalNode) CanInsert(key []byte) bool {
	return n.dir.CanInsert(4 + len(key))
}

func (n internalNode) Insert(pos int, child uint32, key []byte) bool {
	return n.dir.Insert(pos, internalSlotEncode(child, key))
}

func (n internalNode) Erase(pos int) bool { return n.dir.Erase(pos) }

func (n internalNode) Validate() bool { return n.dir.Validate() }

// IsUnderflow reports whether the internal node's committed payload is
// below half of its available capacity (spec §4.5).
func (n internalNode) IsUnderflow() bool {
	return n.dir.UsedBytes()*2 < n.dir.TotalBytes()
}
