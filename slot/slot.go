// Package slot implements the intra-page slot directory layouts from
// spec §4.4: a variadic directory (free-list-backed, variable payload
// sizes) and a fixed directory (singly-linked free list, uniform payload
// size), plus the bitmap-indexed stable directory from spec §3/§4.8.
package slot

import "encoding/binary"

// entrySize is sizeof(slot_entry): a (off uint16, len uint16) pair.
const entrySize = 4

// invalidOffset is the SLOT_INVALID sentinel: a slot entry with this
// offset (or a zero length) is not live.
const invalidOffset uint16 = 0xFFFF

// align is the payload alignment used by both directories (spec §4.4: "a
// small power of two (default 4)").
const align = 4

func alignUp(n int) int {
	return (n + align - 1) &^ (align - 1)
}

// dirHeaderSize is sizeof(directory_header): both the variadic and fixed
// headers pack four uint16 fields (spec §3).
const dirHeaderSize = 8

func readEntry(body []byte, idx int) (off, length uint16) {
	p := dirHeaderSize + idx*entrySize
	return binary.LittleEndian.Uint16(body[p : p+2]), binary.LittleEndian.Uint16(body[p+2 : p+4])
}

func writeEntry(body []byte, idx int, off, length uint16) {
	p := dirHeaderSize + idx*entrySize
	binary.LittleEndian.PutUint16(body[p:p+2], off)
	binary.LittleEndian.PutUint16(body[p+2:p+4], length)
}
