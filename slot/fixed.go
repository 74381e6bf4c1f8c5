package slot

import "encoding/binary"

// FixedDirectory is the slot directory variant for uniform-size payloads:
// every slot occupies the same span, and freed slots form a singly-linked
// free list threaded through the payload area itself (spec §4.4).
//
// Header layout mirrors VariadicDirectory's (slots, freeBeg, freeEnd,
// freed) but freeEnd always steps by exactly slotLen and the free list
// links by a single uint16 "next" field rather than prev/next/len.
type FixedDirectory struct {
	body    []byte
	slotLen int
}

// NewFixedDirectory wraps an existing body span with a fixed payload size.
func NewFixedDirectory(body []byte, slotLen int) FixedDirectory {
	if slotLen < 2 {
		slotLen = 2
	}
	return FixedDirectory{body: body, slotLen: alignUp(slotLen)}
}

// Init resets body to an empty directory.
func (d FixedDirectory) Init() {
	binary.LittleEndian.PutUint16(d.body[0:2], 0)
	binary.LittleEndian.PutUint16(d.body[2:4], uint16(dirHeaderSize))
	binary.LittleEndian.PutUint16(d.body[4:6], uint16(len(d.body)))
	binary.LittleEndian.PutUint16(d.body[6:8], 0)
}

func (d FixedDirectory) slots() int      { return int(binary.LittleEndian.Uint16(d.body[0:2])) }
func (d FixedDirectory) setSlots(n int)  { binary.LittleEndian.PutUint16(d.body[0:2], uint16(n)) }
func (d FixedDirectory) freeBeg() int    { return int(binary.LittleEndian.Uint16(d.body[2:4])) }
func (d FixedDirectory) setFreeBeg(v int) {
	binary.LittleEndian.PutUint16(d.body[2:4], uint16(v))
}
func (d FixedDirectory) freeEnd() int { return int(binary.LittleEndian.Uint16(d.body[4:6])) }
func (d FixedDirectory) setFreeEnd(v int) {
	binary.LittleEndian.PutUint16(d.body[4:6], uint16(v))
}
func (d FixedDirectory) freed() int     { return int(binary.LittleEndian.Uint16(d.body[6:8])) }
func (d FixedDirectory) setFreed(v int) { binary.LittleEndian.PutUint16(d.body[6:8], uint16(v)) }

// Size returns the number of occupied slot entries.
func (d FixedDirectory) Size() int { return d.slots() }

// SlotLen returns the fixed payload size every slot holds.
func (d FixedDirectory) SlotLen() int { return d.slotLen }

// Capacity returns the maximum number of slots this directory could ever
// hold.
func (d FixedDirectory) Capacity() int {
	return (len(d.body) - dirHeaderSize) / (d.slotLen + entrySize)
}

// Available returns the number of unallocated payload slots, counting
// both the free list and the untouched tail region.
func (d FixedDirectory) Available() int {
	tail := (d.freeEnd() - d.freeBeg()) / (d.slotLen + entrySize)
	return tail + d.freeListLen()
}

func (d FixedDirectory) freeListLen() int {
	n := 0
	for off := d.freed(); off != 0; {
		n++
		off = int(binary.LittleEndian.Uint16(d.body[off : off+2]))
	}
	return n
}

// CanInsert reports whether a slot is available.
func (d FixedDirectory) CanInsert() bool { return d.Available() > 0 }

// Insert creates a slot at index pos holding a copy of data (truncated
// or zero-padded to SlotLen).
func (d FixedDirectory) Insert(pos int, data []byte) bool {
	mem := d.ReserveGet(pos)
	if mem == nil {
		return false
	}
	n := copy(mem, data)
	for ; n < len(mem); n++ {
		mem[n] = 0
	}
	return true
}

// ReserveGet creates a slot at index pos and returns its writable span.
func (d FixedDirectory) ReserveGet(pos int) []byte {
	off := 0
	if head := d.freed(); head != 0 {
		off = head
		d.setFreed(int(binary.LittleEndian.Uint16(d.body[head : head+2])))
	} else if d.freeEnd()-d.freeBeg() >= d.slotLen+entrySize {
		d.setFreeEnd(d.freeEnd() - d.slotLen)
		off = d.freeEnd()
	} else {
		return nil
	}
	n := d.slots()
	for i := n; i > pos; i-- {
		e, _ := readEntry(d.body, i-1)
		writeEntry(d.body, i, e, uint16(d.slotLen))
	}
	d.setSlots(n + 1)
	d.setFreeBeg(d.freeBeg() + entrySize)
	writeEntry(d.body, pos, uint16(off), uint16(d.slotLen))
	return d.body[off : off+d.slotLen]
}

// Update overwrites slot pos's payload in place.
func (d FixedDirectory) Update(pos int, data []byte) bool {
	mem := d.GetSlot(pos)
	if mem == nil {
		return false
	}
	n := copy(mem, data)
	for ; n < len(mem); n++ {
		mem[n] = 0
	}
	return true
}

// Erase pushes slot pos's payload onto the free list and shifts entries
// [pos+1, size) left by one.
func (d FixedDirectory) Erase(pos int) bool {
	if pos < 0 || pos >= d.slots() {
		return false
	}
	off, _ := readEntry(d.body, pos)
	n := d.slots()
	for i := pos + 1; i < n; i++ {
		e, _ := readEntry(d.body, i)
		writeEntry(d.body, i-1, e, uint16(d.slotLen))
	}
	d.setSlots(n - 1)
	d.setFreeBeg(d.freeBeg() - entrySize)

	binary.LittleEndian.PutUint16(d.body[off:int(off)+2], uint16(d.freed()))
	d.setFreed(int(off))
	return true
}

// GetSlot returns a bounds-checked span for slot pos, or nil if pos is
// out of range.
func (d FixedDirectory) GetSlot(pos int) []byte {
	if pos < 0 || pos >= d.slots() {
		return nil
	}
	off, _ := readEntry(d.body, pos)
	if off == invalidOffset {
		return nil
	}
	if int(off) < d.freeEnd() || int(off)+d.slotLen > len(d.body) {
		return nil
	}
	return d.body[off : int(off)+d.slotLen]
}

// MergeNeedBytes sums the per-slot overhead for absorbing every one of
// src's live records into a directory shaped like d.
func (d FixedDirectory) MergeNeedBytes(src FixedDirectory) int {
	return src.slots() * (d.slotLen + entrySize)
}

// CanMerge reports whether dst has room for every record in src, and
// (since payload sizes are fixed) that src's slot size does not exceed
// dst's.
func (d FixedDirectory) CanMerge(src FixedDirectory) bool {
	if src.slotLen > d.slotLen {
		return false
	}
	return d.Available()*(d.slotLen+entrySize) >= d.MergeNeedBytes(src)
}

// Validate checks the slot-directory invariants from spec §8.
func (d FixedDirectory) Validate() bool {
	if !(dirHeaderSize <= d.freeBeg() && d.freeBeg() <= d.freeEnd() && d.freeEnd() <= len(d.body)) {
		return false
	}
	if d.freeBeg() != dirHeaderSize+d.slots()*entrySize {
		return false
	}
	for i := 0; i < d.slots(); i++ {
		off, _ := readEntry(d.body, i)
		if off == invalidOffset {
			continue
		}
		if int(off) < d.freeEnd() || int(off)+d.slotLen > len(d.body) {
			return false
		}
	}
	return true
}
