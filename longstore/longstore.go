// Package longstore implements the chained-page byte stream from spec
// §4.6: a head page (total size, tail pointer, link to the first body
// chunk) followed by a chain of fixed-capacity chunks, each carrying
// prev/next links, with independent read and write cursors.
package longstore

import (
	"encoding/binary"
)

// HeadSubheader is spec §6.1's long-store head subheader. BodySize is
// the number of bytes of the chain's logical content stored in the head
// page's own body (a long-store head doubles as the first chunk).
type HeadSubheader struct {
	TotalSize uint32
	Last      uint32
	Next      uint32
	BodySize  uint16
	Reserved  uint16
}

func (s *HeadSubheader) Size() int { return 16 }

func (s *HeadSubheader) Encode(dst []byte) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:4], s.TotalSize)
	le.PutUint32(dst[4:8], s.Last)
	le.PutUint32(dst[8:12], s.Next)
	le.PutUint16(dst[12:14], s.BodySize)
	le.PutUint16(dst[14:16], s.Reserved)
}

func (s *HeadSubheader) Decode(src []byte) {
	le := binary.LittleEndian
	s.TotalSize = le.Uint32(src[0:4])
	s.Last = le.Uint32(src[4:8])
	s.Next = le.Uint32(src[8:12])
	s.BodySize = le.Uint16(src[12:14])
	s.Reserved = le.Uint16(src[14:16])
}

// ChunkSubheader is spec §6.1's long-store chunk subheader.
type ChunkSubheader struct {
	Prev     uint32
	Next     uint32
	BodySize uint16
	Reserved uint16
}

func (s *ChunkSubheader) Size() int { return 12 }

func (s *ChunkSubheader) Encode(dst []byte) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:4], s.Prev)
	le.PutUint32(dst[4:8], s.Next)
	le.PutUint16(dst[8:10], s.BodySize)
	le.PutUint16(dst[10:12], s.Reserved)
}

func (s *ChunkSubheader) Decode(src []byte) {
	le := binary.LittleEndian
	s.Prev = le.Uint32(src[0:4])
	s.Next = le.Uint32(src[4:8])
	s.BodySize = le.Uint16(src[8:10])
	s.Reserved = le.Uint16(src[10:12])
}
