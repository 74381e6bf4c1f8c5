//go:build darwin

package mmap

// tryMremap has no darwin equivalent; Remap's caller treats any error
// here as "fall back to munmap+mmap" (see mmap_unix.go), so
// device.FileDevice's growth path behaves identically on both platforms.
func (m *Map) tryMremap(newSize int) ([]byte, error) {
	return nil, ErrMremapUnsupported
}
