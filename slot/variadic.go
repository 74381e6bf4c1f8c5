package slot

import (
	"encoding/binary"
	"sort"
)

// freeBlockSize is sizeof(variadic free-block descriptor): prev, next,
// len, each a uint16 (spec §4.4's doubly-linked free list).
const freeBlockSize = 6

// VariadicDirectory is the slot directory variant that supports
// variable-length payloads: the slot-entry array grows from the header
// end upward, payloads are allocated from page_end downward, and freed
// payload regions form a doubly-linked free list embedded in the payload
// area itself (spec §4.4).
type VariadicDirectory struct {
	body []byte
}

// NewVariadicDirectory wraps an existing (already-initialized) body span.
func NewVariadicDirectory(body []byte) VariadicDirectory {
	return VariadicDirectory{body: body}
}

// Init resets body to an empty directory.
func (d VariadicDirectory) Init() {
	binary.LittleEndian.PutUint16(d.body[0:2], 0)
	binary.LittleEndian.PutUint16(d.body[2:4], uint16(d.baseBegin()))
	binary.LittleEndian.PutUint16(d.body[4:6], uint16(d.baseEnd()))
	binary.LittleEndian.PutUint16(d.body[6:8], 0)
}

func (d VariadicDirectory) slots() int      { return int(binary.LittleEndian.Uint16(d.body[0:2])) }
func (d VariadicDirectory) setSlots(n int)  { binary.LittleEndian.PutUint16(d.body[0:2], uint16(n)) }
func (d VariadicDirectory) freeBeg() int    { return int(binary.LittleEndian.Uint16(d.body[2:4])) }
func (d VariadicDirectory) setFreeBeg(v int) {
	binary.LittleEndian.PutUint16(d.body[2:4], uint16(v))
}
func (d VariadicDirectory) freeEnd() int { return int(binary.LittleEndian.Uint16(d.body[4:6])) }
func (d VariadicDirectory) setFreeEnd(v int) {
	binary.LittleEndian.PutUint16(d.body[4:6], uint16(v))
}
func (d VariadicDirectory) freed() int     { return int(binary.LittleEndian.Uint16(d.body[6:8])) }
func (d VariadicDirectory) setFreed(v int) { binary.LittleEndian.PutUint16(d.body[6:8], uint16(v)) }

func (d VariadicDirectory) baseBegin() int { return alignUp(dirHeaderSize) }
func (d VariadicDirectory) baseEnd() int   { return len(d.body) }

// Size returns the number of occupied slot entries.
func (d VariadicDirectory) Size() int { return d.slots() }

func (d VariadicDirectory) fixSlotLen(length int) int {
	if length < freeBlockSize {
		length = freeBlockSize
	}
	return alignUp(length)
}

// CapacityFor returns how many slots of the given payload size could fit
// in an empty directory of this size.
func (d VariadicDirectory) CapacityFor(slotLen int) int {
	fixed := d.fixSlotLen(slotLen)
	maxAvail := d.baseEnd() - d.baseBegin()
	return maxAvail / (fixed + entrySize)
}

// MinSlotSize is the smallest payload size the directory can store (it
// must be at least large enough to host a free-block descriptor once
// freed).
func (d VariadicDirectory) MinSlotSize() int { return d.fixSlotLen(freeBlockSize) }

// MaxSlotSize is the largest single payload size the directory could
// ever host.
func (d VariadicDirectory) MaxSlotSize() int {
	return d.baseEnd() - d.baseBegin() - entrySize
}

// Available returns the number of unallocated bytes strictly between the
// slot array and the payload area.
func (d VariadicDirectory) Available() int { return d.freeEnd() - d.freeBeg() }

// AvailableAfterCompact returns how many bytes would be free if the
// directory were compacted right now.
func (d VariadicDirectory) AvailableAfterCompact() int {
	maxAvail := d.baseEnd() - d.baseBegin()
	total := d.storedSize() + d.slots()*entrySize
	if maxAvail > total {
		return maxAvail - total
	}
	return 0
}

// UsedBytes returns the number of bytes currently committed to live
// slots, including their slot-entry overhead.
func (d VariadicDirectory) UsedBytes() int { return d.storedSize() + d.slots()*entrySize }

// TotalBytes returns the maximum number of bytes this directory could
// ever commit to slots (the empty-directory capacity).
func (d VariadicDirectory) TotalBytes() int { return d.baseEnd() - d.baseBegin() }

func (d VariadicDirectory) storedSize() int {
	total := 0
	for i := 0; i < d.slots(); i++ {
		_, length := readEntry(d.body, i)
		total += d.fixSlotLen(int(length))
	}
	return total
}

// CanInsert reports whether a payload of the given length could be
// inserted right now (spec §4.4's three-tier allocation check).
func (d VariadicDirectory) CanInsert(length int) bool {
	fixed := d.fixSlotLen(length)
	if d.Available() >= entrySize && d.findFreeBlock(fixed) != 0 {
		return true
	}
	if d.availableFor(fixed, true) {
		return true
	}
	return d.AvailableAfterCompact() >= fixed+entrySize
}

func (d VariadicDirectory) availableFor(fixedLen int, needSlot bool) bool {
	overhead := 0
	if needSlot {
		overhead = entrySize
	}
	return d.Available() >= fixedLen+overhead
}

// Insert creates a slot at index pos (shifting [pos, size) right by one)
// holding a copy of data. Returns false if there is no room.
func (d VariadicDirectory) Insert(pos int, data []byte) bool {
	mem := d.ReserveGet(pos, len(data))
	if mem == nil {
		return false
	}
	copy(mem, data)
	return true
}

// ReserveGet is like Insert but returns the writable span for the caller
// to fill in directly, without first copying from a source buffer.
func (d VariadicDirectory) ReserveGet(pos, length int) []byte {
	off := 0
	if d.Available() >= entrySize {
		if o := d.popFreeBlock(length); o != 0 {
			off = o
		} else if d.availableFor(d.fixSlotLen(length), true) {
			off = d.allocateSpace(length)
		}
	}
	if off == 0 && d.AvailableAfterCompact() >= entrySize+d.fixSlotLen(length) {
		if d.Compact() {
			off = d.allocateSpace(length)
		}
	}
	if off == 0 {
		return nil
	}
	d.expandAt(pos)
	writeEntry(d.body, pos, uint16(off), uint16(length))
	return d.body[off : off+length]
}

// CanUpdate reports whether slot pos could be grown/shrunk to newLen.
func (d VariadicDirectory) CanUpdate(pos, newLen int) bool {
	if pos < 0 || pos >= d.slots() {
		return false
	}
	_, curLen := readEntry(d.body, pos)
	curCap := d.fixSlotLen(int(curLen))
	newCap := d.fixSlotLen(newLen)
	if newCap <= curCap {
		return true
	}
	if d.findFreeBlock(newLen) != 0 {
		return true
	}
	if d.Available() >= newCap {
		return true
	}
	return d.AvailableAfterCompact()+curCap >= newCap
}

// UpdateGet implements the three-tier update strategy from spec §4.4:
// in-place overwrite (pushing slack to the free list), new-block
// allocation, or mark-invalid-then-compact-then-retry.
func (d VariadicDirectory) UpdateGet(pos, length int) []byte {
	if pos < 0 || pos >= d.slots() {
		return nil
	}
	off, curLen := readEntry(d.body, pos)
	curCap := d.fixSlotLen(int(curLen))
	newCap := d.fixSlotLen(length)

	// 1) fits in the current padded allocation.
	if length <= curCap {
		mem := d.body[off : int(off)+curCap]
		writeEntry(d.body, pos, off, uint16(length))
		if curCap-newCap > d.MinSlotSize() {
			d.pushFreeBlock(int(off)+newCap, curCap-newCap)
		}
		return mem[:length]
	}

	// 2) allocate a new block without compacting: free list first, then
	// the tail area.
	newOff := d.popFreeBlock(length)
	if newOff == 0 {
		newOff = d.allocateSpace(length)
	}
	if newOff != 0 {
		d.pushFreeBlock(int(off), curCap)
		writeEntry(d.body, pos, uint16(newOff), uint16(length))
		return d.body[newOff : newOff+length]
	}

	// 3) compact and retry.
	if d.AvailableAfterCompact()+curCap >= newCap {
		writeEntry(d.body, pos, invalidOffset, curLen)
		if d.Compact() {
			if newOff := d.allocateSpace(length); newOff != 0 {
				writeEntry(d.body, pos, uint16(newOff), uint16(length))
				return d.body[newOff : newOff+length]
			}
		}
	}
	return nil
}

// Update overwrites slot pos's payload with data, reallocating as needed.
func (d VariadicDirectory) Update(pos int, data []byte) bool {
	mem := d.UpdateGet(pos, len(data))
	if mem == nil {
		return false
	}
	copy(mem, data)
	return true
}

// Erase pushes slot pos's payload onto the free list and shifts entries
// [pos+1, size) left by one.
func (d VariadicDirectory) Erase(pos int) bool {
	mem := d.GetSlot(pos)
	if mem == nil {
		return false
	}
	off, _ := readEntry(d.body, pos)
	d.shrinkAt(pos)
	d.setSlots(d.slots() - 1)
	d.pushFreeBlock(int(off), len(mem))
	return true
}

// Compact relocates every live payload contiguously against page_end,
// sorted by descending offset, and clears the free list.
func (d VariadicDirectory) Compact() bool {
	type live struct {
		idx int
		off uint16
		len uint16
	}
	n := d.slots()
	entries := make([]live, 0, n)
	for i := 0; i < n; i++ {
		off, length := readEntry(d.body, i)
		if off != invalidOffset {
			entries = append(entries, live{i, off, length})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].off > entries[j].off })

	end := d.baseEnd()
	for _, e := range entries {
		fl := d.fixSlotLen(int(e.len))
		end -= fl
		copy(d.body[end:end+int(e.len)], d.body[e.off:int(e.off)+int(e.len)])
		writeEntry(d.body, e.idx, uint16(end), e.len)
	}
	d.setFreeEnd(end)
	d.setFreed(0)
	return true
}

// GetSlot returns a bounds-checked span for slot pos, or nil if pos is
// out of range or the slot is not live.
func (d VariadicDirectory) GetSlot(pos int) []byte {
	if pos < 0 || pos >= d.slots() {
		return nil
	}
	off, length := readEntry(d.body, pos)
	if off == invalidOffset || length == 0 {
		return nil
	}
	if int(off) < d.freeEnd() || int(off)+int(length) > len(d.body) {
		return nil
	}
	return d.body[off : int(off)+int(length)]
}

// MergeNeedBytes sums src's padded payload sizes plus slot-entry
// overhead for every live slot, i.e. how much room dst would need to
// absorb all of src's records.
func (d VariadicDirectory) MergeNeedBytes(src VariadicDirectory) int {
	need := 0
	for i := 0; i < src.slots(); i++ {
		_, length := readEntry(src.body, i)
		need += d.fixSlotLen(int(length)) + entrySize
	}
	return need
}

// CanMerge reports whether dst has enough room, after compaction, to
// absorb every live record in src.
func (d VariadicDirectory) CanMerge(src VariadicDirectory) bool {
	return d.AvailableAfterCompact() >= d.MergeNeedBytes(src)
}

// Validate checks the slot-directory invariants from spec §8.
func (d VariadicDirectory) Validate() bool {
	if !(dirHeaderSize <= d.freeBeg() && d.freeBeg() <= d.freeEnd() && d.freeEnd() <= len(d.body)) {
		return false
	}
	expectedBeg := dirHeaderSize + d.slots()*entrySize
	if d.freeBeg() != expectedBeg {
		return false
	}
	for i := 0; i < d.slots(); i++ {
		off, length := readEntry(d.body, i)
		if off == invalidOffset || length == 0 {
			continue
		}
		if int(off) < d.freeEnd() || int(off)+int(length) > len(d.body) {
			return false
		}
	}
	return true
}

// --- free list & raw allocation ---

func (d VariadicDirectory) freeBlockAt(off int) (prev, next, length int) {
	if off <= 0 || off >= len(d.body) {
		return 0, 0, 0
	}
	b := d.body[off:]
	return int(binary.LittleEndian.Uint16(b[0:2])),
		int(binary.LittleEndian.Uint16(b[2:4])),
		int(binary.LittleEndian.Uint16(b[4:6]))
}

func (d VariadicDirectory) setFreeBlockAt(off, prev, next, length int) {
	b := d.body[off:]
	binary.LittleEndian.PutUint16(b[0:2], uint16(prev))
	binary.LittleEndian.PutUint16(b[2:4], uint16(next))
	binary.LittleEndian.PutUint16(b[4:6], uint16(length))
}

func (d VariadicDirectory) pushFreeBlock(off, length int) {
	head := d.freed()
	d.setFreeBlockAt(off, 0, head, d.fixSlotLen(length))
	if head != 0 {
		_, hn, hl := d.freeBlockAt(head)
		d.setFreeBlockAt(head, off, hn, hl)
	}
	d.setFreed(off)
}

func (d VariadicDirectory) removeFreeBlock(off int) {
	prev, next, _ := d.freeBlockAt(off)
	if off == d.freed() {
		d.setFreed(next)
		if next != 0 {
			_, nn, nl := d.freeBlockAt(next)
			d.setFreeBlockAt(next, 0, nn, nl)
		}
		return
	}
	if prev != 0 {
		pp, _, pl := d.freeBlockAt(prev)
		d.setFreeBlockAt(prev, pp, next, pl)
	}
	if next != 0 {
		_, nn, nl := d.freeBlockAt(next)
		d.setFreeBlockAt(next, prev, nn, nl)
	}
}

// findFreeBlock returns the offset of the first free block large enough
// to hold length bytes (first fit), or 0 if none.
func (d VariadicDirectory) findFreeBlock(length int) int {
	need := d.fixSlotLen(length)
	off := d.freed()
	for off != 0 {
		_, next, blockLen := d.freeBlockAt(off)
		if blockLen >= need {
			return off
		}
		off = next
	}
	return 0
}

func (d VariadicDirectory) popFreeBlock(length int) int {
	off := d.findFreeBlock(length)
	if off == 0 {
		return 0
	}
	d.removeFreeBlock(off)
	return off
}

// allocateSpace carves out fixSlotLen(length) bytes from the tail of the
// free region and returns their offset, or 0 if there is no room. It does
// not consult the free list: callers needing a reused block must go
// through popFreeBlock first.
func (d VariadicDirectory) allocateSpace(length int) int {
	fixed := d.fixSlotLen(length)
	if d.Available() < fixed {
		return 0
	}
	d.setFreeEnd(d.freeEnd() - fixed)
	return d.freeEnd()
}

func (d VariadicDirectory) expandAt(pos int) {
	n := d.slots()
	for i := n; i > pos; i-- {
		off, length := readEntry(d.body, i-1)
		writeEntry(d.body, i, off, length)
	}
	d.setSlots(n + 1)
	d.setFreeBeg(d.freeBeg() + entrySize)
}

func (d VariadicDirectory) shrinkAt(pos int) {
	n := d.slots()
	for i := pos + 1; i < n; i++ {
		off, length := readEntry(d.body, i)
		writeEntry(d.body, i-1, off, length)
	}
	d.setFreeBeg(d.freeBeg() - entrySize)
}
