package pagekit

import "encoding/binary"

// HeaderSize is the fixed, packed, little-endian page header size in
// bytes (spec §3).
const HeaderSize = 16

// InvalidID is the sentinel denoting "no page"/"no child" across every
// subsystem's cross-page references (spec §6.1: u32::MAX).
const InvalidID uint32 = 0xFFFFFFFF

// KindFreed is the page-kind tag for a page sitting on the shared
// free-page list (spec §6.1's freed-page subheader: a single `next: u32`
// field immediately after the header).
const KindFreed uint16 = 0

// FreedNextOffset is the byte offset of the free-list "next" field
// within a freed page, immediately after the fixed header.
const FreedNextOffset = HeaderSize

// ReadFreedNext/WriteFreedNext access a freed page's free-list link.
func ReadFreedNext(data []byte) uint32 {
	return binary.LittleEndian.Uint32(data[FreedNextOffset : FreedNextOffset+4])
}

func WriteFreedNext(data []byte, next uint32) {
	binary.LittleEndian.PutUint32(data[FreedNextOffset:FreedNextOffset+4], next)
}

// Header is the fixed 16-byte page header present at the start of every
// page, regardless of which subsystem owns the rest of the page.
//
//	offset  size  field
//	0       2     Kind
//	2       2     Reserved
//	4       2     SubheaderSize
//	6       2     PageEnd
//	8       4     SelfPID
//	12      4     CRC
type Header struct {
	Kind          uint16
	Reserved      uint16
	SubheaderSize uint16
	PageEnd       uint16
	SelfPID       uint32
	CRC           uint32
}

// ReadHeader decodes the page header from the first HeaderSize bytes of
// data. The caller must ensure data is at least HeaderSize long.
func ReadHeader(data []byte) Header {
	_ = data[HeaderSize-1]
	le := binary.LittleEndian
	return Header{
		Kind:          le.Uint16(data[0:2]),
		Reserved:      le.Uint16(data[2:4]),
		SubheaderSize: le.Uint16(data[4:6]),
		PageEnd:       le.Uint16(data[6:8]),
		SelfPID:       le.Uint32(data[8:12]),
		CRC:           le.Uint32(data[12:16]),
	}
}

// WriteHeader encodes h into the first HeaderSize bytes of data.
func WriteHeader(data []byte, h Header) {
	_ = data[HeaderSize-1]
	le := binary.LittleEndian
	le.PutUint16(data[0:2], h.Kind)
	le.PutUint16(data[2:4], h.Reserved)
	le.PutUint16(data[4:6], h.SubheaderSize)
	le.PutUint16(data[6:8], h.PageEnd)
	le.PutUint32(data[8:12], h.SelfPID)
	le.PutUint32(data[12:16], h.CRC)
}

// InitHeader writes a fresh header for a newly allocated page of the
// given kind, subheader size, and metadata size (metadataSize bytes
// immediately follow the subheader and share its lifetime, per spec §3).
func InitHeader(data []byte, kind uint16, selfPID uint32, subheaderSize, metadataSize uint16) {
	WriteHeader(data, Header{
		Kind:          kind,
		SubheaderSize: subheaderSize + metadataSize,
		PageEnd:       uint16(len(data)),
		SelfPID:       uint32(selfPID),
	})
}

// BodyOffset returns the byte offset where the body (usually a slot
// directory) begins: immediately after the header and the subheader.
func (h Header) BodyOffset() int {
	return HeaderSize + int(h.SubheaderSize)
}
