package device

import (
	"os"

	"github.com/brelkirk/pagekit/internal/mmap"
)

// FileDevice is a BlockDevice backed by a memory-mapped file. The whole
// file is kept mapped; AllocateBlock/Append extend the file and remap to
// cover the new block, following the same whole-file-mapping approach the
// teacher's Env uses for its data file.
type FileDevice struct {
	f         *os.File
	m         *mmap.Map
	blockSize int
	blocks    uint64
}

// OpenFileDevice opens (creating if necessary) a file-backed device with
// the given block size. An existing file's size must be a multiple of
// blockSize.
func OpenFileDevice(path string, blockSize int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	blocks := uint64(fi.Size()) / uint64(blockSize)
	mapSize := int64(blocks) * int64(blockSize)
	if mapSize == 0 {
		// mmap requires a non-empty region; grow the file by one block
		// up front and shrink the reported block count back to zero.
		if err := f.Truncate(int64(blockSize)); err != nil {
			f.Close()
			return nil, err
		}
		mapSize = int64(blockSize)
	}

	m, err := mmap.New(int(f.Fd()), int(mapSize), true)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &FileDevice{f: f, m: m, blockSize: blockSize, blocks: blocks}, nil
}

func (d *FileDevice) BlockSize() int { return d.blockSize }

func (d *FileDevice) BlocksCount() uint64 { return d.blocks }

func (d *FileDevice) blockSpan(id BlockID) []byte {
	off := int64(id) * int64(d.blockSize)
	return d.m.Data()[off : off+int64(d.blockSize)]
}

func (d *FileDevice) ReadBlock(id BlockID, dst []byte) bool {
	if id == InvalidBlockID || id >= BlockID(d.blocks) || len(dst) != d.blockSize {
		return false
	}
	copy(dst, d.blockSpan(id))
	return true
}

func (d *FileDevice) WriteBlock(id BlockID, src []byte) bool {
	if id == InvalidBlockID || id >= BlockID(d.blocks) || len(src) != d.blockSize {
		return false
	}
	copy(d.blockSpan(id), src)
	return true
}

func (d *FileDevice) AllocateBlock() BlockID {
	newBlocks := d.blocks + 1
	newSize := int64(newBlocks) * int64(d.blockSize)
	if err := d.f.Truncate(newSize); err != nil {
		return InvalidBlockID
	}
	if err := d.m.Remap(newSize); err != nil {
		return InvalidBlockID
	}
	id := BlockID(d.blocks)
	d.blocks = newBlocks
	return id
}

func (d *FileDevice) Append(src []byte) BlockID {
	if len(src) != d.blockSize {
		return InvalidBlockID
	}
	id := d.AllocateBlock()
	if id == InvalidBlockID {
		return InvalidBlockID
	}
	copy(d.blockSpan(id), src)
	return id
}

// Sync flushes the mapping to disk.
func (d *FileDevice) Sync() error {
	return d.m.Sync()
}

func (d *FileDevice) Close() error {
	if err := d.m.Close(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}
