// Package bpt implements the B+ tree from spec §4.5: leaf and internal
// nodes backed by a variadic slot directory over a buffer-manager page,
// split/merge/borrow rebalancing, and parent-key maintenance.
package bpt

import (
	"bytes"

	pagekit "github.com/brelkirk/pagekit"
	"github.com/brelkirk/pagekit/bufmgr"
)

// Comparator orders two keys, like bytes.Compare: negative if a < b,
// zero if equal, positive if a > b. Keys and values are opaque byte
// strings; any ordering semantics beyond byte order are the caller's
// concern (spec.md leaves the comparator unspecified).
type Comparator func(a, b []byte) int

// ByteCompare is the default Comparator, ordering keys as raw bytes.
func ByteCompare(a, b []byte) int { return bytes.Compare(a, b) }

// RebalancePolicy selects how an insert responds to a full node (spec §4.5).
type RebalancePolicy int

const (
	// ForceSplit always splits a full node unconditionally.
	ForceSplit RebalancePolicy = iota
	// NeighborShare tries to push one element into a sibling before
	// falling back to a split.
	NeighborShare
	// LocalRebalance cascades shifts through full neighbors along the
	// parent's child chain before falling back to a split.
	LocalRebalance
)

// InsertPolicy selects what Insert does when the key is already present.
type InsertPolicy int

const (
	// InsertOnly leaves an existing key's value untouched and reports
	// the insert as a no-op duplicate.
	InsertOnly InsertPolicy = iota
	// Upsert overwrites the value of an existing key.
	Upsert
)

// Config holds the tunables spec §6.2 lists for this subsystem.
type Config struct {
	LeafKind     uint16
	InternalKind uint16

	LeafMinSlotSize  int
	LeafMaxSlotSize  int
	InodeMinSlotSize int
	InodeMaxSlotSize int

	Rebalance RebalancePolicy
	Insert    InsertPolicy
	Less      Comparator
}

// DefaultConfig returns a Config with conservative slot-size bounds for
// a 4096-byte page and byte-order key comparison.
func DefaultConfig() Config {
	return Config{
		LeafKind:         1,
		InternalKind:     2,
		LeafMinSlotSize:  8,
		LeafMaxSlotSize:  2048,
		InodeMinSlotSize: 8,
		InodeMaxSlotSize: 2048,
		Rebalance:        ForceSplit,
		Insert:           Upsert,
		Less:             ByteCompare,
	}
}

// Model is the page-allocation/access seam a Tree works through. Tests
// that want an in-memory tree use bufModel over a device.MemoryDevice
// rather than a separate node representation, so the same Tree code
// path is exercised either way.
type Model interface {
	// Alloc returns a fresh, dirty handle on a new page.
	Alloc() bufmgr.Handle
	// Fetch pins an existing page for reading or writing.
	Fetch(pid bufmgr.PID) bufmgr.Handle
	// Free returns a page to the underlying allocator.
	Free(pid bufmgr.PID)
	// PageSize is the usable size of every page this model hands out.
	PageSize() int
}

// bufModel adapts a *bufmgr.Manager to Model.
type bufModel struct {
	mgr *bufmgr.Manager
}

// NewBufModel wraps a buffer manager as a bpt.Model.
func NewBufModel(mgr *bufmgr.Manager) Model { return bufModel{mgr: mgr} }

func (m bufModel) Alloc() bufmgr.Handle           { return m.mgr.AllocatePage() }
func (m bufModel) Fetch(pid bufmgr.PID) bufmgr.Handle { return m.mgr.Fetch(pid) }
func (m bufModel) Free(pid bufmgr.PID)            { m.mgr.FreePage(pid) }
func (m bufModel) PageSize() int                  { return m.mgr.PageSize() }

const invalidPID = bufmgr.PID(pagekit.InvalidID)
