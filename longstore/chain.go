package longstore

import (
	pagekit "github.com/brelkirk/pagekit"
	"github.com/brelkirk/pagekit/bufmgr"
)

type headPV = pagekit.PageView[HeadSubheader, *HeadSubheader]
type chunkPV = pagekit.PageView[ChunkSubheader, *ChunkSubheader]

// Chain is a handle on one long-store byte stream: a head page plus a
// run of chunk pages linked by prev/next ids, with independent read
// (gpid/goff) and write (spid/soff) cursors (spec §4.6).
type Chain struct {
	model Model
	cfg   Config
	head  bufmgr.PID

	gpid bufmgr.PID
	goff int
	spid bufmgr.PID
	soff int
}

// Create allocates a fresh, empty chain.
func Create(model Model, cfg Config) *Chain {
	h := model.Alloc()
	pagekit.InitHeader(h.RWSpan(), cfg.HeadKind, uint32(h.PID()), 16, 0)
	v := pagekit.NewPageView[HeadSubheader, *HeadSubheader](h.RWSpan())
	v.SetSubheader(HeadSubheader{Last: uint32(h.PID()), Next: pagekit.InvalidID})
	h.MarkDirty()
	pid := h.PID()
	h.Unpin()
	return &Chain{model: model, cfg: cfg, head: pid, gpid: pid, spid: pid}
}

// Open wraps an existing chain rooted at head.
func Open(model Model, cfg Config, head bufmgr.PID) *Chain {
	return &Chain{model: model, cfg: cfg, head: head, gpid: head, spid: head}
}

// Head returns the chain's head page id.
func (c *Chain) Head() bufmgr.PID { return c.head }

// Size returns the chain's total logical byte length.
func (c *Chain) Size() int {
	h := c.model.Fetch(c.head)
	defer h.Unpin()
	v := pagekit.NewPageView[HeadSubheader, *HeadSubheader](h.RWSpan())
	return int(v.Subheader().TotalSize)
}

func (c *Chain) headBody(h bufmgr.Handle) (headPV, []byte) {
	v := pagekit.NewPageView[HeadSubheader, *HeadSubheader](h.RWSpan())
	return v, h.RWSpan()[v.Header().BodyOffset():]
}

func (c *Chain) chunkBody(h bufmgr.Handle) (chunkPV, []byte) {
	v := pagekit.NewPageView[ChunkSubheader, *ChunkSubheader](h.RWSpan())
	return v, h.RWSpan()[v.Header().BodyOffset():]
}

// pageInfo reads the common fields this package needs regardless of
// whether pid names the head or a chunk.
func (c *Chain) pageInfo(pid bufmgr.PID, h bufmgr.Handle) (size int, next uint32, body []byte) {
	if pid == c.head {
		v, b := c.headBody(h)
		sh := v.Subheader()
		return int(sh.BodySize), sh.Next, b
	}
	v, b := c.chunkBody(h)
	sh := v.Subheader()
	return int(sh.BodySize), sh.Next, b
}

func (c *Chain) setSize(pid bufmgr.PID, h bufmgr.Handle, size int) {
	if pid == c.head {
		v, _ := c.headBody(h)
		sh := v.Subheader()
		sh.BodySize = uint16(size)
		v.SetSubheader(sh)
		return
	}
	v, _ := c.chunkBody(h)
	sh := v.Subheader()
	sh.BodySize = uint16(size)
	v.SetSubheader(sh)
}

func (c *Chain) setNext(pid bufmgr.PID, h bufmgr.Handle, next uint32) {
	if pid == c.head {
		v, _ := c.headBody(h)
		sh := v.Subheader()
		sh.Next = next
		v.SetSubheader(sh)
		return
	}
	v, _ := c.chunkBody(h)
	sh := v.Subheader()
	sh.Next = next
	v.SetSubheader(sh)
}

func (c *Chain) setLast(last bufmgr.PID) {
	h := c.model.Fetch(c.head)
	v, _ := c.headBody(h)
	sh := v.Subheader()
	sh.Last = uint32(last)
	v.SetSubheader(sh)
	h.MarkDirty()
	h.Unpin()
}

// recomputeTotalSize re-derives the head's TotalSize field by summing
// every chunk's committed size (spec §4.6's invariant: "the sum of size
// values equals total_size").
func (c *Chain) recomputeTotalSize() {
	total := 0
	pid := c.head
	for {
		h := c.model.Fetch(pid)
		size, next, _ := c.pageInfo(pid, h)
		h.Unpin()
		total += size
		if next == pagekit.InvalidID {
			break
		}
		pid = bufmgr.PID(next)
	}
	h := c.model.Fetch(c.head)
	v, _ := c.headBody(h)
	sh := v.Subheader()
	sh.TotalSize = uint32(total)
	v.SetSubheader(sh)
	h.MarkDirty()
	h.Unpin()
}

// tailPos returns the chain's current end-of-data cursor.
func (c *Chain) tailPos() (bufmgr.PID, int) {
	h := c.model.Fetch(c.head)
	v, _ := c.headBody(h)
	lastPID := bufmgr.PID(v.Subheader().Last)
	h.Unpin()

	lh := c.model.Fetch(lastPID)
	size, _, _ := c.pageInfo(lastPID, lh)
	lh.Unpin()
	return lastPID, size
}

// writeAt places data starting at (pid, offset), allocating and linking
// new chunks as needed, and returns the cursor just past the last byte
// written. Chunk/head size fields are only ever raised, never lowered.
func (c *Chain) writeAt(pid bufmgr.PID, offset int, data []byte) (bufmgr.PID, int) {
	for len(data) > 0 {
		h := c.model.Fetch(pid)
		curSize, next, body := c.pageInfo(pid, h)
		cap := len(body)

		n := cap - offset
		if n < 0 {
			n = 0
		}
		if n > len(data) {
			n = len(data)
		}
		copy(body[offset:offset+n], data[:n])
		if offset+n > curSize {
			c.setSize(pid, h, offset+n)
		}
		h.MarkDirty()
		data = data[n:]
		offset += n

		if len(data) == 0 {
			h.Unpin()
			return pid, offset
		}

		if next == pagekit.InvalidID {
			nh := c.model.Alloc()
			pagekit.InitHeader(nh.RWSpan(), c.cfg.ChunkKind, uint32(nh.PID()), 12, 0)
			nv := pagekit.NewPageView[ChunkSubheader, *ChunkSubheader](nh.RWSpan())
			nv.SetSubheader(ChunkSubheader{Prev: uint32(pid), Next: pagekit.InvalidID})
			nh.MarkDirty()
			newPID := nh.PID()
			nh.Unpin()

			c.setNext(pid, h, uint32(newPID))
			h.MarkDirty()
			c.setLast(newPID)
			next = uint32(newPID)
		}
		h.Unpin()
		pid = bufmgr.PID(next)
		offset = 0
	}
	return pid, offset
}

// Append extends the chain from its current tail by data, moving the
// write cursor to the new end.
func (c *Chain) Append(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	pid, off := c.tailPos()
	newPid, newOff := c.writeAt(pid, off, data)
	c.recomputeTotalSize()
	c.spid, c.soff = newPid, newOff
	return len(data)
}

// Write overwrites successive bytes starting at the write cursor,
// growing the chain past its current size as needed.
func (c *Chain) Write(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	newPid, newOff := c.writeAt(c.spid, c.soff, data)
	c.recomputeTotalSize()
	c.spid, c.soff = newPid, newOff
	return len(data)
}

// Read copies up to len(buf) bytes starting at the read cursor, or until
// end-of-chain, returning the number of bytes copied.
func (c *Chain) Read(buf []byte) int {
	read := 0
	pid, offset := c.gpid, c.goff
	for read < len(buf) {
		h := c.model.Fetch(pid)
		curSize, next, body := c.pageInfo(pid, h)
		avail := curSize - offset
		if avail <= 0 {
			h.Unpin()
			if next == pagekit.InvalidID {
				break
			}
			pid = bufmgr.PID(next)
			offset = 0
			continue
		}
		n := len(buf) - read
		if n > avail {
			n = avail
		}
		copy(buf[read:read+n], body[offset:offset+n])
		h.Unpin()
		read += n
		offset += n
	}
	c.gpid, c.goff = pid, offset
	return read
}

// locate walks the chain to find the (pid, offset-in-page) cursor for a
// logical byte offset, clamping to the end of the chain if offset
// exceeds the current size.
func (c *Chain) locate(offset int) (bufmgr.PID, int) {
	pid := c.head
	remaining := offset
	for {
		h := c.model.Fetch(pid)
		curSize, next, _ := c.pageInfo(pid, h)
		h.Unpin()
		if remaining <= curSize {
			return pid, remaining
		}
		if next == pagekit.InvalidID {
			return pid, curSize
		}
		remaining -= curSize
		pid = bufmgr.PID(next)
	}
}

// Seekg positions the read cursor at a logical offset.
func (c *Chain) Seekg(offset int) { c.gpid, c.goff = c.locate(offset) }

// Seekp positions the write cursor at a logical offset.
func (c *Chain) Seekp(offset int) { c.spid, c.soff = c.locate(offset) }

// ExpandTo extends the chain until offset is addressable, zero-filling
// any new bytes, without disturbing the read cursor.
func (c *Chain) ExpandTo(offset int) {
	cur := c.Size()
	if offset <= cur {
		return
	}
	pid, off := c.tailPos()
	newPid, newOff := c.writeAt(pid, off, make([]byte, offset-cur))
	c.recomputeTotalSize()
	c.spid, c.soff = newPid, newOff
}
