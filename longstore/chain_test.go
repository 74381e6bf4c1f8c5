package longstore

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/brelkirk/pagekit/bufmgr"
	"github.com/brelkirk/pagekit/device"
)

func newTestChain(t *testing.T, blockSize, frames int) (*Chain, Model) {
	t.Helper()
	dev := device.NewMemoryDevice(blockSize)
	mgr := bufmgr.New(dev, frames)
	model := NewBufModel(mgr)
	return Create(model, DefaultConfig()), model
}

func TestAppendReadRoundTrip(t *testing.T) {
	chain, _ := newTestChain(t, 128, 32)
	want := bytes.Repeat([]byte("0123456789"), 50)
	chain.Append(want)
	if got := chain.Size(); got != len(want) {
		t.Fatalf("Size() = %d, want %d", got, len(want))
	}

	chain.Seekg(0)
	got := make([]byte, len(want))
	n := chain.Read(got)
	if n != len(want) {
		t.Fatalf("Read returned %d bytes, want %d", n, len(want))
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round-trip mismatch")
	}
}

func TestAppendAcrossManyChunks(t *testing.T) {
	chain, _ := newTestChain(t, 64, 16)
	const total = 5000
	data := make([]byte, total)
	rand.New(rand.NewSource(1)).Read(data)

	for off := 0; off < total; off += 777 {
		end := off + 777
		if end > total {
			end = total
		}
		chain.Append(data[off:end])
	}
	if chain.Size() != total {
		t.Fatalf("Size() = %d, want %d", chain.Size(), total)
	}

	chain.Seekg(0)
	got := make([]byte, total)
	read := 0
	for read < total {
		n := chain.Read(got[read:])
		if n == 0 {
			t.Fatalf("Read stalled at %d/%d", read, total)
		}
		read += n
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("chunked round-trip mismatch")
	}
}

func TestOverwriteInPlace(t *testing.T) {
	chain, _ := newTestChain(t, 64, 16)
	chain.Append([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))

	chain.Seekp(5)
	chain.Write([]byte("BBBBB"))

	chain.Seekg(0)
	got := make([]byte, 40)
	chain.Read(got)
	want := "aaaaaBBBBBaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"[:40]
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWritePastEndGrowsChain(t *testing.T) {
	chain, _ := newTestChain(t, 64, 16)
	chain.Append([]byte("short"))

	chain.Seekp(3)
	chain.Write(bytes.Repeat([]byte("X"), 500))

	if want := 503; chain.Size() != want {
		t.Fatalf("Size() = %d, want %d", chain.Size(), want)
	}
}

// TestIndependentCursors implements spec §8 scenario 2: the read and
// write cursors must not interfere with one another.
func TestIndependentCursors(t *testing.T) {
	chain, _ := newTestChain(t, 64, 16)
	chain.Append(bytes.Repeat([]byte{0}, 2000))

	chain.Seekg(10)
	chain.Seekp(1000)
	chain.Write([]byte("hello-write-cursor"))

	buf := make([]byte, 20)
	n := chain.Read(buf)
	if n != 20 {
		t.Fatalf("read cursor moved unexpectedly: got %d bytes", n)
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("read cursor observed write-cursor mutation: %v", buf)
		}
	}

	chain.Seekg(1000)
	got := make([]byte, len("hello-write-cursor"))
	chain.Read(got)
	if string(got) != "hello-write-cursor" {
		t.Fatalf("write via Seekp/Write not visible at offset 1000: %q", got)
	}
}

func TestExpandToZeroFills(t *testing.T) {
	chain, _ := newTestChain(t, 64, 16)
	chain.Append([]byte("abc"))
	chain.ExpandTo(200)

	if chain.Size() != 200 {
		t.Fatalf("Size() = %d, want 200", chain.Size())
	}
	chain.Seekg(3)
	rest := make([]byte, 197)
	chain.Read(rest)
	for i, b := range rest {
		if b != 0 {
			t.Fatalf("expanded region not zero at %d: %v", i, b)
		}
	}
}

func TestOpenReattachesToExistingChain(t *testing.T) {
	dev := device.NewMemoryDevice(64)
	mgr := bufmgr.New(dev, 16)
	model := NewBufModel(mgr)

	chain := Create(model, DefaultConfig())
	chain.Append([]byte("persisted-content"))
	head := chain.Head()

	reopened := Open(model, DefaultConfig(), head)
	if reopened.Size() != len("persisted-content") {
		t.Fatalf("reopened Size() = %d", reopened.Size())
	}
	got := make([]byte, reopened.Size())
	reopened.Read(got)
	if string(got) != "persisted-content" {
		t.Fatalf("reopened content = %q", got)
	}
}
