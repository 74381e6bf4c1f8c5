//go:build linux

package mmap

import (
	"syscall"
	"unsafe"
)

// tryMremap uses the Linux mremap syscall to grow device.FileDevice's
// mapping in place (avoiding a separate munmap/mmap round trip, which
// would otherwise need to happen on every AllocateBlock/Append that
// extends the backing file past the current mapping).
func (m *Map) tryMremap(newSize int) ([]byte, error) {
	const mremapMayMove = 1

	newAddr, _, errno := syscall.Syscall6(
		syscall.SYS_MREMAP,
		uintptr(unsafe.Pointer(&m.data[0])),
		uintptr(m.size),
		uintptr(newSize),
		mremapMayMove,
		0, 0)

	if errno != 0 {
		return nil, &Error{Op: "mremap", Err: errno}
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(newAddr)), newSize), nil
}
