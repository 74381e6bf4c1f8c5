package slot

import "encoding/binary"

// stableHeaderSize is sizeof(capacity uint16, size uint16).
const stableHeaderSize = 4

// StableDirectory is the bitmap-indexed directory from spec §3/§4.8: a
// fixed array of same-size slots whose indices never change once
// assigned (used by the slab store, where object identity is "page id +
// stable index" and must survive neighboring insert/erase).
type StableDirectory struct {
	body    []byte
	slotLen int
}

// NewStableDirectory wraps an existing body span with a fixed payload
// size. Capacity is derived from the body size: each slot costs slotLen
// bytes of payload plus one bit of bitmap.
func NewStableDirectory(body []byte, slotLen int) StableDirectory {
	return StableDirectory{body: body, slotLen: slotLen}
}

// Capacity returns the number of stable indices this directory hosts.
func (d StableDirectory) Capacity() int {
	avail := len(d.body) - stableHeaderSize
	// cap*slotLen + ceil(cap/8) <= avail; solve conservatively.
	cap := avail * 8 / (8*d.slotLen + 1)
	for cap > 0 && cap*d.slotLen+bitmapBytes(cap) > avail {
		cap--
	}
	return cap
}

func bitmapBytes(capacity int) int { return (capacity + 7) / 8 }

func (d StableDirectory) bitmapOffset() int { return stableHeaderSize }
func (d StableDirectory) payloadOffset(capacity int) int {
	return stableHeaderSize + bitmapBytes(capacity)
}

// Init resets body to an empty directory with the given capacity (which
// must not exceed Capacity()).
func (d StableDirectory) Init(capacity int) {
	binary.LittleEndian.PutUint16(d.body[0:2], uint16(capacity))
	binary.LittleEndian.PutUint16(d.body[2:4], 0)
	bm := d.body[d.bitmapOffset() : d.bitmapOffset()+bitmapBytes(capacity)]
	for i := range bm {
		bm[i] = 0
	}
}

func (d StableDirectory) capacity() int { return int(binary.LittleEndian.Uint16(d.body[0:2])) }

// Size returns the number of currently occupied indices.
func (d StableDirectory) Size() int { return int(binary.LittleEndian.Uint16(d.body[2:4])) }

func (d StableDirectory) setSize(n int) { binary.LittleEndian.PutUint16(d.body[2:4], uint16(n)) }

// IsSet reports whether index i currently holds a live record.
func (d StableDirectory) IsSet(i int) bool {
	if i < 0 || i >= d.capacity() {
		return false
	}
	b := d.body[d.bitmapOffset()+i/8]
	return b&(1<<uint(i%8)) != 0
}

func (d StableDirectory) setBit(i int, v bool) {
	p := d.bitmapOffset() + i/8
	mask := byte(1 << uint(i%8))
	if v {
		d.body[p] |= mask
	} else {
		d.body[p] &^= mask
	}
}

// Get returns the payload span for index i, or nil if it is unset or out
// of range.
func (d StableDirectory) Get(i int) []byte {
	if !d.IsSet(i) {
		return nil
	}
	off := d.payloadOffset(d.capacity()) + i*d.slotLen
	return d.body[off : off+d.slotLen]
}

// Set marks index i live and copies data into its payload (truncated or
// zero-padded to slotLen). Returns false if i is out of range.
func (d StableDirectory) Set(i int, data []byte) bool {
	if i < 0 || i >= d.capacity() {
		return false
	}
	wasSet := d.IsSet(i)
	off := d.payloadOffset(d.capacity()) + i*d.slotLen
	mem := d.body[off : off+d.slotLen]
	n := copy(mem, data)
	for ; n < len(mem); n++ {
		mem[n] = 0
	}
	d.setBit(i, true)
	if !wasSet {
		d.setSize(d.Size() + 1)
	}
	return true
}

// Clear marks index i free.
func (d StableDirectory) Clear(i int) bool {
	if !d.IsSet(i) {
		return false
	}
	d.setBit(i, false)
	d.setSize(d.Size() - 1)
	return true
}

// FirstFree returns the lowest unset index and true, or (0, false) if
// the directory is full.
func (d StableDirectory) FirstFree() (int, bool) {
	cap := d.capacity()
	for i := 0; i < cap; i++ {
		if !d.IsSet(i) {
			return i, true
		}
	}
	return 0, false
}

// Full reports whether every index is occupied.
func (d StableDirectory) Full() bool { return d.Size() == d.capacity() }

// Validate checks the stable-directory invariants: the live bit count
// matches the stored size, and every payload span is in range.
func (d StableDirectory) Validate() bool {
	cap := d.capacity()
	if cap > d.Capacity() {
		return false
	}
	live := 0
	for i := 0; i < cap; i++ {
		if d.IsSet(i) {
			live++
			off := d.payloadOffset(cap) + i*d.slotLen
			if off+d.slotLen > len(d.body) {
				return false
			}
		}
	}
	return live == d.Size()
}
