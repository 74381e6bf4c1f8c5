package longstore

import (
	pagekit "github.com/brelkirk/pagekit"
	"github.com/brelkirk/pagekit/bufmgr"
)

// Model is the page-allocation/access seam a Chain works through,
// mirroring bpt.Model so each subsystem can be wired to a bufmgr.Manager
// independently.
type Model interface {
	Alloc() bufmgr.Handle
	Fetch(pid bufmgr.PID) bufmgr.Handle
	Free(pid bufmgr.PID)
	PageSize() int
}

type bufModel struct{ mgr *bufmgr.Manager }

// NewBufModel wraps a buffer manager as a longstore.Model.
func NewBufModel(mgr *bufmgr.Manager) Model { return bufModel{mgr: mgr} }

func (m bufModel) Alloc() bufmgr.Handle               { return m.mgr.AllocatePage() }
func (m bufModel) Fetch(pid bufmgr.PID) bufmgr.Handle { return m.mgr.Fetch(pid) }
func (m bufModel) Free(pid bufmgr.PID)                { m.mgr.FreePage(pid) }
func (m bufModel) PageSize() int                      { return m.mgr.PageSize() }

// Config holds the tunables this subsystem needs from spec §6.2.
type Config struct {
	HeadKind  uint16
	ChunkKind uint16
}

// DefaultConfig returns distinct page-kind tags for head/chunk pages.
func DefaultConfig() Config { return Config{HeadKind: 10, ChunkKind: 11} }

const invalidPID = bufmgr.PID(pagekit.InvalidID)
