// Package slab implements the many-objects-per-page allocator from spec
// §4.8 and §3: pages host a stable, bitmap-indexed slot directory of
// fixed-size objects, and pages with spare capacity form a doubly-linked
// free-page list rooted externally. Object identity is (page id, stable
// slot index); slot indices never move once assigned.
package slab

import (
	"encoding/binary"

	pagekit "github.com/brelkirk/pagekit"
	"github.com/brelkirk/pagekit/bufmgr"
	"github.com/brelkirk/pagekit/slot"
)

// PageSubheader is spec §6.1-adjacent: the slab page's free-list link
// (prev u32, next u32), mirroring the freed-page subheader's single
// `next` field but doubly linked since a slab page can be unlinked from
// the middle of the list when it fills up.
type PageSubheader struct {
	Prev uint32
	Next uint32
}

func (s *PageSubheader) Size() int { return 8 }

func (s *PageSubheader) Encode(dst []byte) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:4], s.Prev)
	le.PutUint32(dst[4:8], s.Next)
}

func (s *PageSubheader) Decode(src []byte) {
	le := binary.LittleEndian
	s.Prev = le.Uint32(src[0:4])
	s.Next = le.Uint32(src[4:8])
}

type pagePV = pagekit.PageView[PageSubheader, *PageSubheader]

func view(data []byte) pagePV {
	return pagekit.NewPageView[PageSubheader, *PageSubheader](data)
}

// Model is the page-allocation/access seam a Store works through,
// mirroring bpt.Model, longstore.Model and radix.Model.
type Model interface {
	Alloc() bufmgr.Handle
	Fetch(pid bufmgr.PID) bufmgr.Handle
	Free(pid bufmgr.PID)
}

type bufModel struct{ mgr *bufmgr.Manager }

// NewBufModel wraps a buffer manager as a slab.Model.
func NewBufModel(mgr *bufmgr.Manager) Model { return bufModel{mgr: mgr} }

func (m bufModel) Alloc() bufmgr.Handle               { return m.mgr.AllocatePage() }
func (m bufModel) Fetch(pid bufmgr.PID) bufmgr.Handle { return m.mgr.Fetch(pid) }
func (m bufModel) Free(pid bufmgr.PID)                { m.mgr.FreePage(pid) }

// Config holds the tunables spec §6.2 lists for this subsystem.
type Config struct {
	PageKind uint16
	SlotSize int
}

// DefaultConfig returns a Config for fixed-size objects of slotSize
// bytes each.
func DefaultConfig(slotSize int) Config { return Config{PageKind: 30, SlotSize: slotSize} }

const invalidPID = bufmgr.PID(pagekit.InvalidID)
const invalidU32 = pagekit.InvalidID

// ID identifies one slab object: the page it lives on plus its stable
// slot index within that page's bitmap (spec §3).
type ID struct {
	PID  bufmgr.PID
	Slot int
}

// InvalidID is the sentinel denoting "no object".
var InvalidID = ID{PID: invalidPID, Slot: -1}

// IsValid reports whether id could name a live object (does not check
// the store for actual liveness).
func (id ID) IsValid() bool { return id.PID != invalidPID && id.Slot >= 0 }

// Store is a fixed-object-size allocator sharing pages among many
// objects (spec §4.8).
type Store struct {
	model Model
	cfg   Config
	root  bufmgr.PID
}

// New returns an empty store for objects of cfg.SlotSize bytes.
func New(model Model, cfg Config) *Store {
	return &Store{model: model, cfg: cfg, root: invalidPID}
}

// Root returns the head of the free-page list, or the invalid sentinel
// if no page currently has spare capacity.
func (s *Store) Root() bufmgr.PID { return s.root }

func (s *Store) fetchDir(pid bufmgr.PID) (bufmgr.Handle, slot.StableDirectory) {
	h := s.model.Fetch(pid)
	v := view(h.RWSpan())
	return h, slot.NewStableDirectory(v.Body(), s.cfg.SlotSize)
}

func (s *Store) fetchView(pid bufmgr.PID) (bufmgr.Handle, pagePV) {
	h := s.model.Fetch(pid)
	return h, view(h.RWSpan())
}

func (s *Store) pushList(pid bufmgr.PID) {
	h, v := s.fetchView(pid)
	sh := v.Subheader()
	sh.Next = uint32(s.root)
	sh.Prev = invalidU32
	v.SetSubheader(sh)
	h.MarkDirty()
	h.Unpin()

	if s.root != invalidPID {
		rh, rv := s.fetchView(s.root)
		rsh := rv.Subheader()
		rsh.Prev = uint32(pid)
		rv.SetSubheader(rsh)
		rh.MarkDirty()
		rh.Unpin()
	}
	s.root = pid
}

func (s *Store) unlinkPage(pid bufmgr.PID) {
	h, v := s.fetchView(pid)
	sh := v.Subheader()
	prev, next := bufmgr.PID(sh.Prev), bufmgr.PID(sh.Next)
	sh.Prev, sh.Next = invalidU32, invalidU32
	v.SetSubheader(sh)
	h.MarkDirty()
	h.Unpin()

	if prev != invalidPID {
		ph, pv := s.fetchView(prev)
		psh := pv.Subheader()
		psh.Next = uint32(next)
		pv.SetSubheader(psh)
		ph.MarkDirty()
		ph.Unpin()
	}
	if next != invalidPID {
		nh, nv := s.fetchView(next)
		nsh := nv.Subheader()
		nsh.Prev = uint32(prev)
		nv.SetSubheader(nsh)
		nh.MarkDirty()
		nh.Unpin()
	}
	if s.root == pid {
		s.root = next
	}
}

// allocPage creates a fresh slab page, initializes its stable directory
// at full capacity, and links it at the head of the free-page list.
func (s *Store) allocPage() bufmgr.PID {
	h := s.model.Alloc()
	pid := h.PID()
	pagekit.InitHeader(h.RWSpan(), s.cfg.PageKind, uint32(pid), 8, 0)
	v := view(h.RWSpan())
	v.SetSubheader(PageSubheader{Prev: invalidU32, Next: invalidU32})
	dir := slot.NewStableDirectory(v.Body(), s.cfg.SlotSize)
	dir.Init(dir.Capacity())
	h.MarkDirty()
	h.Unpin()
	s.pushList(pid)
	return pid
}

// Insert allocates a new object initialized to data (zero-padded or
// truncated to the configured slot size) and returns its id.
func (s *Store) Insert(data []byte) (ID, bool) {
	if s.root == invalidPID {
		s.allocPage()
	}
	pid := s.root
	h, dir := s.fetchDir(pid)
	idx, ok := dir.FirstFree()
	if !ok {
		h.Unpin()
		return InvalidID, false
	}
	dir.Set(idx, data)
	full := dir.Full()
	h.MarkDirty()
	h.Unpin()
	if full {
		s.unlinkPage(pid)
	}
	return ID{PID: pid, Slot: idx}, true
}

// Get returns a copy of the object's payload.
func (s *Store) Get(id ID) ([]byte, bool) {
	if !id.IsValid() {
		return nil, false
	}
	h, dir := s.fetchDir(id.PID)
	defer h.Unpin()
	data := dir.Get(id.Slot)
	if data == nil {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Put overwrites an existing object's payload in place.
func (s *Store) Put(id ID, data []byte) bool {
	if !id.IsValid() {
		return false
	}
	h, dir := s.fetchDir(id.PID)
	defer h.Unpin()
	if !dir.IsSet(id.Slot) {
		return false
	}
	dir.Set(id.Slot, data)
	h.MarkDirty()
	return true
}

// Destroy releases an object. If its page becomes non-full, the page is
// relinked onto the free-page list; if the page becomes empty, it is
// returned to the underlying page allocator (spec §4.8).
func (s *Store) Destroy(id ID) bool {
	if !id.IsValid() {
		return false
	}
	h, dir := s.fetchDir(id.PID)
	wasFull := dir.Full()
	ok := dir.Clear(id.Slot)
	nowEmpty := ok && dir.Size() == 0
	h.MarkDirty()
	h.Unpin()
	if !ok {
		return false
	}

	if nowEmpty {
		if !wasFull {
			s.unlinkPage(id.PID)
		}
		s.model.Free(id.PID)
		return true
	}
	if wasFull {
		s.pushList(id.PID)
	}
	return true
}
