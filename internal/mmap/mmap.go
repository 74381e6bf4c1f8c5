// Package mmap provides the cross-platform memory mapping used by
// device.FileDevice. Adapted from Giulio2002/gdbx's internal mmap
// package, trimmed to the operations a growable block-device mapping
// actually needs (New, Remap, Sync, Close).
package mmap

// Map represents a memory-mapped file region.
type Map struct {
	data     []byte
	fd       int
	size     int64
	capacity int64
	writable bool
}

// Data returns the mapped byte slice.
func (m *Map) Data() []byte { return m.data }

// Size returns the current mapped size.
func (m *Map) Size() int64 { return m.size }

// Error represents an mmap failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "mmap: " + e.Op + ": " + e.Err.Error()
	}
	return "mmap: " + e.Op
}

func (e *Error) Unwrap() error { return e.Err }

// Common errors.
var (
	ErrInvalidSize       = &Error{Op: "invalid size"}
	ErrNotMapped         = &Error{Op: "not mapped"}
	ErrMremapUnsupported = &Error{Op: "mremap unsupported on this platform"}
)
