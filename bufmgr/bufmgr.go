// Package bufmgr implements the buffer manager from spec §4.2 and §5: a
// fixed-size pool of frames over a device.BlockDevice, with pin/unpin,
// dirty tracking, and LRU-with-a-freed-list eviction.
package bufmgr

import (
	pagekit "github.com/brelkirk/pagekit"
	"github.com/brelkirk/pagekit/device"
)

// PID identifies a page. It is redundant with the frame mapping but
// useful for verification (spec §3).
type PID = uint32

// InvalidPID is the sentinel denoting "no page".
const InvalidPID PID = 0xFFFFFFFF

const listNone = -1

// frame is one pool slot. Frames never move once allocated; cross-frame
// references are plain slice indices rather than pointers, since the
// frames slice itself never reallocates after New (capacity is fixed).
type frame struct {
	dirty    bool
	pid      PID
	refCount int
	gen      uint64
	data     []byte

	// used/freed intrusive doubly-linked list links, by frame index.
	prev, next int
}

func (f *frame) isValid() bool { return f.pid != InvalidPID }

func (f *frame) reset() {
	f.dirty = false
	f.pid = InvalidPID
	f.refCount = 0
}

func (f *frame) reinit(pid PID) {
	f.dirty = false
	f.pid = pid
	f.refCount = 0
	f.gen++
}

// Manager is a fixed-size pool of frames over a block device.
type Manager struct {
	device device.BlockDevice
	buffer []byte
	frames []frame
	cache  map[PID]int

	usedHead, usedTail int
	freedHead          int

	// freePageHead is the head of the on-disk free-page list threaded
	// through each freed page's "next" field (spec §6.1's freed-page
	// subheader). It lets higher-level stores (bpt, radix, slab) recycle
	// pages an operation frees, rather than growing the device forever.
	freePageHead PID
}

// New creates a buffer manager over dev with room for maxFrames resident
// pages.
func New(dev device.BlockDevice, maxFrames int) *Manager {
	blockSize := dev.BlockSize()
	m := &Manager{
		device: dev,
		buffer: make([]byte, blockSize*maxFrames),
		frames: make([]frame, maxFrames),
		cache:  make(map[PID]int, maxFrames),

		usedHead:     listNone,
		usedTail:     listNone,
		freedHead:    listNone,
		freePageHead: InvalidPID,
	}
	for i := range m.frames {
		m.frames[i].pid = InvalidPID
		m.frames[i].data = m.buffer[i*blockSize : (i+1)*blockSize]
		m.frames[i].prev = listNone
		m.frames[i].next = listNone
		m.pushFreed(i)
	}
	return m
}

// Handle is a scoped pin on a resident frame. While at least one live
// Handle for a pid exists, its frame cannot be evicted (spec §5). Unlike
// the teacher's C++ RAII pin, Go has no destructors: callers must call
// Unpin explicitly when done with a handle, exactly once per handle
// obtained from Create/Fetch/Clone.
type Handle struct {
	mgr *Manager
	idx int
	gen uint64
}

// IsValid reports whether the handle refers to a resident frame.
func (h Handle) IsValid() bool {
	return h.mgr != nil && h.idx != listNone && h.mgr.frames[h.idx].gen == h.gen
}

// PID returns the pinned page's id, or InvalidPID for a zero-value or
// invalidated handle.
func (h Handle) PID() PID {
	if !h.IsValid() {
		return InvalidPID
	}
	return h.mgr.frames[h.idx].pid
}

// RWSpan returns a writable view of the frame's bytes. Mutations through
// it are visible to every other live handle for the same pid immediately
// (spec §5); the caller is responsible for calling MarkDirty.
func (h Handle) RWSpan() []byte {
	if !h.IsValid() {
		return nil
	}
	return h.mgr.frames[h.idx].data
}

// ROSpan returns a read-only view of the frame's bytes.
func (h Handle) ROSpan() []byte {
	return h.RWSpan()
}

// MarkDirty flags the frame for write-back on eviction or flush.
func (h Handle) MarkDirty() {
	if h.IsValid() {
		h.mgr.frames[h.idx].dirty = true
	}
}

// Clone returns an independent pin on the same frame; the frame's ref
// count is incremented and must be released with its own Unpin.
func (h Handle) Clone() Handle {
	if !h.IsValid() {
		return Handle{}
	}
	h.mgr.frames[h.idx].refCount++
	return h
}

// Unpin releases this handle's pin. Unpinning an already-unpinned or
// invalid handle is a no-op.
func (h *Handle) Unpin() {
	if h.mgr == nil || h.idx == listNone {
		return
	}
	f := &h.mgr.frames[h.idx]
	if f.gen == h.gen && f.refCount > 0 {
		f.refCount--
	}
	h.mgr = nil
	h.idx = listNone
}

func (m *Manager) handleFor(idx int) Handle {
	f := &m.frames[idx]
	f.refCount++
	return Handle{mgr: m, idx: idx, gen: f.gen}
}

// Create allocates a new block on the device and installs a frame mapped
// to it, optionally marking it dirty. Returns an invalid Handle if no
// frame could be freed or the device allocation failed.
func (m *Manager) Create(markDirty bool) Handle {
	idx, ok := m.findFreeFrame()
	if !ok {
		return Handle{}
	}
	bid := m.device.AllocateBlock()
	if bid == device.InvalidBlockID {
		m.frames[idx].reset()
		m.pushFreed(idx)
		return Handle{}
	}
	pid := PID(bid)
	f := &m.frames[idx]
	f.reinit(pid)
	m.pushUsed(idx)
	m.cache[pid] = idx
	if markDirty {
		f.dirty = true
	}
	return m.handleFor(idx)
}

// AllocatePage returns a dirty handle on a fresh page: either recycled
// from the free-page list (spec §6.1's freed-page subheader) or newly
// allocated from the device. Callers overwrite the page's full content
// (header included) via the returned handle.
func (m *Manager) AllocatePage() Handle {
	if m.freePageHead != InvalidPID {
		pid := m.freePageHead
		h := m.Fetch(pid)
		if !h.IsValid() {
			return Handle{}
		}
		m.freePageHead = PID(pagekit.ReadFreedNext(h.RWSpan()))
		h.MarkDirty()
		return h
	}
	return m.Create(true)
}

// FreePage returns pid to the free-page list, overwriting its content
// with the freed-page subheader. The caller must not use pid again until
// it is reallocated.
func (m *Manager) FreePage(pid PID) {
	h := m.Fetch(pid)
	if !h.IsValid() {
		return
	}
	defer h.Unpin()
	data := h.RWSpan()
	pagekit.InitHeader(data, pagekit.KindFreed, uint32(pid), 4, 0)
	pagekit.WriteFreedNext(data, uint32(m.freePageHead))
	h.MarkDirty()
	m.freePageHead = pid
}

// Fetch returns a pin on pid, loading it from the device if not already
// resident. Returns an invalid Handle on I/O failure or pool exhaustion.
func (m *Manager) Fetch(pid PID) Handle {
	if pid == InvalidPID {
		return Handle{}
	}
	if idx, ok := m.cache[pid]; ok {
		m.unlink(idx)
		m.pushUsed(idx)
		return m.handleFor(idx)
	}

	idx, ok := m.findFreeFrame()
	if !ok {
		return Handle{}
	}
	f := &m.frames[idx]
	if !m.device.ReadBlock(device.BlockID(pid), f.data) {
		f.reset()
		m.pushFreed(idx)
		return Handle{}
	}
	f.reinit(pid)
	m.pushUsed(idx)
	m.cache[pid] = idx
	return m.handleFor(idx)
}

// findFreeFrame selects a victim for a new mapping: a frame already on
// the freed list, or else the least-recently-used unpinned frame from
// the used list (spec §4.2's replacement policy). Eviction of a dirty
// victim writes it back first.
func (m *Manager) findFreeFrame() (int, bool) {
	if m.freedHead != listNone {
		idx := m.freedHead
		m.unlink(idx)
		return idx, true
	}

	for idx := m.usedHead; idx != listNone; idx = m.frames[idx].next {
		f := &m.frames[idx]
		if f.refCount != 0 {
			continue
		}
		if f.dirty {
			if !m.device.WriteBlock(device.BlockID(f.pid), f.data) {
				// write failure: keep dirty, try the next victim.
				continue
			}
		}
		delete(m.cache, f.pid)
		m.unlink(idx)
		f.reset()
		return idx, true
	}
	return 0, false
}

// Flush writes pid back to the device if it is resident and dirty.
func (m *Manager) Flush(pid PID) bool {
	idx, ok := m.cache[pid]
	if !ok {
		return true
	}
	return m.flushFrame(idx)
}

func (m *Manager) flushFrame(idx int) bool {
	f := &m.frames[idx]
	if !f.dirty {
		return true
	}
	if !m.device.WriteBlock(device.BlockID(f.pid), f.data) {
		return false
	}
	f.dirty = false
	return true
}

// FlushAll writes back every dirty resident frame. Returns false if any
// write failed; frames that failed to write remain dirty.
func (m *Manager) FlushAll() bool {
	ok := true
	for idx := range m.frames {
		if m.frames[idx].isValid() {
			if !m.flushFrame(idx) {
				ok = false
			}
		}
	}
	return ok
}

// EvictInactive reclaims every currently unpinned resident frame,
// flushing dirty ones first. Returns the number of frames reclaimed.
func (m *Manager) EvictInactive() int {
	count := 0
	for idx := range m.frames {
		f := &m.frames[idx]
		if f.isValid() && f.refCount == 0 {
			if f.dirty {
				m.device.WriteBlock(device.BlockID(f.pid), f.data)
			}
			delete(m.cache, f.pid)
			m.unlink(idx)
			f.reset()
			m.pushFreed(idx)
			count++
		}
	}
	return count
}

// ResidentPages returns the number of frames currently holding a page.
func (m *Manager) ResidentPages() int {
	n := 0
	for i := range m.frames {
		if m.frames[i].isValid() {
			n++
		}
	}
	return n
}

// PageSize returns the device's block size.
func (m *Manager) PageSize() int { return m.device.BlockSize() }

// Device returns the underlying block device.
func (m *Manager) Device() device.BlockDevice { return m.device }

// --- intrusive list helpers, operating on frame indices ---

func (m *Manager) unlink(idx int) {
	f := &m.frames[idx]
	if f.prev != listNone {
		m.frames[f.prev].next = f.next
	} else if m.usedHead == idx {
		m.usedHead = f.next
	} else if m.freedHead == idx {
		m.freedHead = f.next
	}
	if f.next != listNone {
		m.frames[f.next].prev = f.prev
	} else if m.usedTail == idx {
		m.usedTail = f.prev
	}
	f.prev, f.next = listNone, listNone
}

func (m *Manager) pushUsed(idx int) {
	f := &m.frames[idx]
	f.prev = m.usedTail
	f.next = listNone
	if m.usedTail != listNone {
		m.frames[m.usedTail].next = idx
	} else {
		m.usedHead = idx
	}
	m.usedTail = idx
}

func (m *Manager) pushFreed(idx int) {
	f := &m.frames[idx]
	f.next = m.freedHead
	f.prev = listNone
	if m.freedHead != listNone {
		m.frames[m.freedHead].prev = idx
	}
	m.freedHead = idx
}
