package pagekit

// Subheader is implemented by the type-specific subheader struct each
// subsystem defines (B+ tree leaf/internal, long-store head/chunk, radix
// level, ...). Encode/Decode operate on exactly Size() bytes, packed
// little-endian, matching spec §6.1.
type Subheader interface {
	Size() int
	Encode(dst []byte)
	Decode(src []byte)
}

// PageView is a thin, stateless overlay over a frame's byte span that
// exposes typed accessors for the page header, the subheader, an optional
// metadata region, and the body (spec §4.3). T is the subsystem-specific
// subheader type; PT lets PageView call Encode/Decode through a pointer
// receiver without reflection.
type PageView[T any, PT interface {
	*T
	Subheader
}] struct {
	data []byte
}

// NewPageView constructs a view over data. data must be at least
// HeaderSize bytes; subsystems are expected to validate page size
// up front (typically equal to the device's block size).
func NewPageView[T any, PT interface {
	*T
	Subheader
}](data []byte) PageView[T, PT] {
	return PageView[T, PT]{data: data}
}

// Data returns the full underlying span.
func (v PageView[T, PT]) Data() []byte {
	return v.data
}

// Header reads the page header.
func (v PageView[T, PT]) Header() Header {
	return ReadHeader(v.data)
}

// SetHeader writes the page header.
func (v PageView[T, PT]) SetHeader(h Header) {
	WriteHeader(v.data, h)
}

// Subheader decodes the subsystem-specific subheader that follows the
// page header.
func (v PageView[T, PT]) Subheader() T {
	var t T
	pt := PT(&t)
	pt.Decode(v.data[HeaderSize : HeaderSize+pt.Size()])
	return t
}

// SetSubheader encodes sh into the subheader region.
func (v PageView[T, PT]) SetSubheader(sh T) {
	pt := PT(&sh)
	pt.Encode(v.data[HeaderSize : HeaderSize+pt.Size()])
}

// Metadata returns the metadata region: the bytes between the subheader
// proper and the body, sized as (header.SubheaderSize - subheaderSize).
// Layouts that don't use a metadata area get a zero-length slice.
func (v PageView[T, PT]) Metadata() []byte {
	var t T
	pt := PT(&t)
	h := v.Header()
	metaStart := HeaderSize + pt.Size()
	metaEnd := HeaderSize + int(h.SubheaderSize)
	if metaEnd <= metaStart {
		return v.data[metaStart:metaStart]
	}
	return v.data[metaStart:metaEnd]
}

// Body returns the body span: everything after the subheader+metadata
// region, up to PageEnd. This is usually handed to a slot directory.
func (v PageView[T, PT]) Body() []byte {
	h := v.Header()
	return v.data[h.BodyOffset():h.PageEnd]
}
