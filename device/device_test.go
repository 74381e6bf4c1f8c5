package device

import (
	"bytes"
	"path/filepath"
	"testing"
)

func fillBlock(blockSize int, b byte) []byte {
	buf := make([]byte, blockSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func testBlockDeviceRoundTrip(t *testing.T, d BlockDevice, blockSize int) {
	t.Helper()

	id0 := d.AllocateBlock()
	if id0 == InvalidBlockID {
		t.Fatalf("AllocateBlock failed")
	}
	id1 := d.Append(fillBlock(blockSize, 0xAB))
	if id1 == InvalidBlockID {
		t.Fatalf("Append failed")
	}
	if d.BlocksCount() != 2 {
		t.Fatalf("BlocksCount = %d, want 2", d.BlocksCount())
	}

	if !d.WriteBlock(id0, fillBlock(blockSize, 0x11)) {
		t.Fatalf("WriteBlock failed")
	}

	dst := make([]byte, blockSize)
	if !d.ReadBlock(id0, dst) {
		t.Fatalf("ReadBlock failed")
	}
	if !bytes.Equal(dst, fillBlock(blockSize, 0x11)) {
		t.Fatalf("ReadBlock returned unexpected content")
	}

	if !d.ReadBlock(id1, dst) {
		t.Fatalf("ReadBlock id1 failed")
	}
	if !bytes.Equal(dst, fillBlock(blockSize, 0xAB)) {
		t.Fatalf("ReadBlock id1 returned unexpected content")
	}

	if d.ReadBlock(InvalidBlockID, dst) {
		t.Fatalf("ReadBlock of invalid id should fail")
	}
	if d.ReadBlock(BlockID(d.BlocksCount()+10), dst) {
		t.Fatalf("ReadBlock past end should fail")
	}
}

func TestMemoryDeviceRoundTrip(t *testing.T) {
	d := NewMemoryDevice(4096)
	testBlockDeviceRoundTrip(t, d, 4096)
}

func TestFileDeviceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d, err := OpenFileDevice(filepath.Join(dir, "data.db"), 4096)
	if err != nil {
		t.Fatalf("OpenFileDevice: %v", err)
	}
	defer d.Close()
	testBlockDeviceRoundTrip(t, d, 4096)
}

func TestFileDevicePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.db")

	d1, err := OpenFileDevice(path, 4096)
	if err != nil {
		t.Fatalf("OpenFileDevice: %v", err)
	}
	id := d1.Append(fillBlock(4096, 0x42))
	if id == InvalidBlockID {
		t.Fatalf("Append failed")
	}
	if err := d1.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := d1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d2, err := OpenFileDevice(path, 4096)
	if err != nil {
		t.Fatalf("reopen OpenFileDevice: %v", err)
	}
	defer d2.Close()

	if d2.BlocksCount() != 1 {
		t.Fatalf("BlocksCount after reopen = %d, want 1", d2.BlocksCount())
	}
	dst := make([]byte, 4096)
	if !d2.ReadBlock(id, dst) {
		t.Fatalf("ReadBlock after reopen failed")
	}
	if !bytes.Equal(dst, fillBlock(4096, 0x42)) {
		t.Fatalf("content did not survive reopen")
	}
}
