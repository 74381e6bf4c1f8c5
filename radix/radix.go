// Package radix implements the fan-out-R trie from spec §4.7: a tree of
// fixed-size levels keyed by base-R digits of an unsigned integer, where
// level 0 holds values and level L>0 holds references to level-(L-1)
// children. Inserting a key whose digit count exceeds the current root's
// reach grows the tree by chaining new roots above the old one.
package radix

import (
	"encoding/binary"

	pagekit "github.com/brelkirk/pagekit"
	"github.com/brelkirk/pagekit/bufmgr"
)

// RecordSize is sizeof(radix_value): (value u32, gen u32, type u8,
// reserved u8[3]) per spec §6.1.
const RecordSize = 12

const (
	recNone  uint8 = 0
	recLevel uint8 = 1
	recValue uint8 = 2
)

// LevelSubheader is spec §6.1's radix-level subheader: (parent u32,
// level u16, factor u16). The parent's slot index that references this
// level is not stored here (spec keeps the subheader at 8 bytes); it is
// recovered by a linear scan of the parent's records on removal.
type LevelSubheader struct {
	Parent uint32
	Level  uint16
	Factor uint16
}

func (s *LevelSubheader) Size() int { return 8 }

func (s *LevelSubheader) Encode(dst []byte) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:4], s.Parent)
	le.PutUint16(dst[4:6], s.Level)
	le.PutUint16(dst[6:8], s.Factor)
}

func (s *LevelSubheader) Decode(src []byte) {
	le := binary.LittleEndian
	s.Parent = le.Uint32(src[0:4])
	s.Level = le.Uint16(src[4:6])
	s.Factor = le.Uint16(src[6:8])
}

type levelPV = pagekit.PageView[LevelSubheader, *LevelSubheader]

func levelView(data []byte) levelPV {
	return pagekit.NewPageView[LevelSubheader, *LevelSubheader](data)
}

func readRecord(body []byte, i int) (value uint32, typ uint8) {
	p := i * RecordSize
	return binary.LittleEndian.Uint32(body[p : p+4]), body[p+8]
}

func writeRecord(body []byte, i int, value uint32, typ uint8) {
	p := i * RecordSize
	le := binary.LittleEndian
	le.PutUint32(body[p:p+4], value)
	le.PutUint32(body[p+4:p+8], 0)
	body[p+8] = typ
	body[p+9] = 0
	body[p+10] = 0
	body[p+11] = 0
}

// Model is the page-allocation/access seam a Trie works through,
// mirroring bpt.Model and longstore.Model.
type Model interface {
	Alloc() bufmgr.Handle
	Fetch(pid bufmgr.PID) bufmgr.Handle
	Free(pid bufmgr.PID)
}

type bufModel struct{ mgr *bufmgr.Manager }

// NewBufModel wraps a buffer manager as a radix.Model.
func NewBufModel(mgr *bufmgr.Manager) Model { return bufModel{mgr: mgr} }

func (m bufModel) Alloc() bufmgr.Handle               { return m.mgr.AllocatePage() }
func (m bufModel) Fetch(pid bufmgr.PID) bufmgr.Handle { return m.mgr.Fetch(pid) }
func (m bufModel) Free(pid bufmgr.PID)                { m.mgr.FreePage(pid) }

// Config holds the tunables spec §6.2 lists for this subsystem.
type Config struct {
	LevelKind uint16
	Factor    int
}

// DefaultConfig returns the spec's default fan-out of 256.
func DefaultConfig() Config { return Config{LevelKind: 20, Factor: 256} }

const invalidPID = bufmgr.PID(pagekit.InvalidID)

// Trie is a fan-out-R trie over uint64 keys (spec §4.7).
type Trie struct {
	model Model
	cfg   Config
	root  bufmgr.PID
}

// New returns an empty trie.
func New(model Model, cfg Config) *Trie {
	return &Trie{model: model, cfg: cfg, root: invalidPID}
}

// Root returns the current root page id, or the invalid sentinel if the
// trie holds nothing yet.
func (t *Trie) Root() bufmgr.PID { return t.root }

func (t *Trie) hasRoot() bool { return t.root != invalidPID }

// splitKey decomposes k into base-r digits, most-significant first.
// Every key, including zero, decomposes to at least one digit (the
// digit 0 for k == 0), so a one-digit key always addresses a slot on
// the level-0 node regardless of how tall the tree has grown — walking
// there goes through the same root-descent path as any other key rather
// than special-casing the root itself.
func splitKey(k uint64, r uint64) []int {
	digits := []int{int(k % r)}
	k /= r
	for k > 0 {
		digits = append(digits, int(k%r))
		k /= r
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return digits
}

func (t *Trie) createLevel(level uint16) bufmgr.PID {
	h := t.model.Alloc()
	pagekit.InitHeader(h.RWSpan(), t.cfg.LevelKind, uint32(h.PID()), 8, 0)
	v := levelView(h.RWSpan())
	v.SetSubheader(LevelSubheader{Parent: pagekit.InvalidID, Level: level, Factor: uint16(t.cfg.Factor)})
	body := v.Body()
	for i := 0; i < t.cfg.Factor; i++ {
		writeRecord(body, i, 0, recNone)
	}
	h.MarkDirty()
	pid := h.PID()
	h.Unpin()
	return pid
}

func (t *Trie) levelOf(pid bufmgr.PID) (bufmgr.Handle, levelPV) {
	h := t.model.Fetch(pid)
	return h, levelView(h.RWSpan())
}

func (t *Trie) levelNumber(pid bufmgr.PID) uint16 {
	h, v := t.levelOf(pid)
	defer h.Unpin()
	return v.Subheader().Level
}

func (t *Trie) parentOf(pid bufmgr.PID) bufmgr.PID {
	h, v := t.levelOf(pid)
	defer h.Unpin()
	return bufmgr.PID(v.Subheader().Parent)
}

func (t *Trie) holdsTable(pid bufmgr.PID, idx int) bool {
	h, v := t.levelOf(pid)
	defer h.Unpin()
	_, typ := readRecord(v.Body(), idx)
	return typ == recLevel
}

func (t *Trie) getTable(pid bufmgr.PID, idx int) bufmgr.PID {
	h, v := t.levelOf(pid)
	defer h.Unpin()
	value, typ := readRecord(v.Body(), idx)
	if typ != recLevel {
		return invalidPID
	}
	return bufmgr.PID(value)
}

func (t *Trie) setTable(pid bufmgr.PID, idx int, child bufmgr.PID) {
	h, v := t.levelOf(pid)
	writeRecord(v.Body(), idx, uint32(child), recLevel)
	h.MarkDirty()
	h.Unpin()

	ch, cv := t.levelOf(child)
	sh := cv.Subheader()
	sh.Parent = uint32(pid)
	cv.SetSubheader(sh)
	ch.MarkDirty()
	ch.Unpin()
}

func (t *Trie) setValue(pid bufmgr.PID, idx int, value uint32) {
	h, v := t.levelOf(pid)
	writeRecord(v.Body(), idx, value, recValue)
	h.MarkDirty()
	h.Unpin()
}

func (t *Trie) getValue(pid bufmgr.PID, idx int) (uint32, bool) {
	h, v := t.levelOf(pid)
	defer h.Unpin()
	value, typ := readRecord(v.Body(), idx)
	return value, typ == recValue
}

func (t *Trie) removeSlot(pid bufmgr.PID, idx int) {
	h, v := t.levelOf(pid)
	writeRecord(v.Body(), idx, 0, recNone)
	h.MarkDirty()
	h.Unpin()
}

func (t *Trie) liveCount(pid bufmgr.PID) int {
	h, v := t.levelOf(pid)
	defer h.Unpin()
	body := v.Body()
	n := 0
	for i := 0; i < t.cfg.Factor; i++ {
		if _, typ := readRecord(body, i); typ != recNone {
			n++
		}
	}
	return n
}

// parentSlot finds the index within parent's records that references
// child, by linear scan (see LevelSubheader's doc comment).
func (t *Trie) parentSlot(parent, child bufmgr.PID) (int, bool) {
	h, v := t.levelOf(parent)
	defer h.Unpin()
	body := v.Body()
	for i := 0; i < t.cfg.Factor; i++ {
		value, typ := readRecord(body, i)
		if typ == recLevel && bufmgr.PID(value) == child {
			return i, true
		}
	}
	return 0, false
}

// levelAt walks down from the root along slot 0 until it reaches lvl,
// the same "ride the leftmost spine" used to reach a level shorter than
// the root's own height.
func (t *Trie) levelAt(lvl uint16) (bufmgr.PID, bool) {
	if !t.hasRoot() {
		return invalidPID, false
	}
	cur := t.root
	curLevel := t.levelNumber(cur)
	if curLevel < lvl {
		return invalidPID, false
	}
	for curLevel > lvl {
		if !t.holdsTable(cur, 0) {
			return invalidPID, false
		}
		cur = t.getTable(cur, 0)
		curLevel--
	}
	return cur, true
}

// findLevelFor locates the (level, slot) addressed by key, without
// creating anything along the way.
func (t *Trie) findLevelFor(key uint64) (bufmgr.PID, int, bool) {
	if !t.hasRoot() {
		return invalidPID, 0, false
	}
	digits := splitKey(key, uint64(t.cfg.Factor))
	level := uint16(len(digits) - 1)
	cur, ok := t.levelAt(level)
	if !ok {
		return invalidPID, 0, false
	}
	for i, d := range digits {
		if i == len(digits)-1 {
			return cur, d, true
		}
		if !t.holdsTable(cur, d) {
			return invalidPID, 0, false
		}
		cur = t.getTable(cur, d)
	}
	return invalidPID, 0, false
}

// Get returns the value stored at key, if any.
func (t *Trie) Get(key uint64) (uint32, bool) {
	pid, idx, ok := t.findLevelFor(key)
	if !ok {
		return 0, false
	}
	return t.getValue(pid, idx)
}

// Has reports whether key holds a value.
func (t *Trie) Has(key uint64) bool {
	_, ok := t.Get(key)
	return ok
}

func (t *Trie) createTopLevel(lvl uint16) bufmgr.PID {
	if !t.hasRoot() {
		t.root = t.createLevel(lvl)
		return t.root
	}
	cur := t.root
	curLevel := t.levelNumber(cur)
	for curLevel < lvl {
		newRoot := t.createLevel(curLevel + 1)
		t.setTable(newRoot, 0, cur)
		t.root = newRoot
		cur = newRoot
		curLevel++
	}
	return t.root
}

func (t *Trie) getCreateTable(pid bufmgr.PID, idx int) bufmgr.PID {
	if !t.holdsTable(pid, idx) {
		lvl := t.levelNumber(pid)
		child := t.createLevel(lvl - 1)
		t.setTable(pid, idx, child)
		return child
	}
	return t.getTable(pid, idx)
}

func (t *Trie) checkCreateRoot() {
	if !t.hasRoot() {
		t.root = t.createLevel(0)
	}
}

func (t *Trie) getCreateLevel(lvl uint16) bufmgr.PID {
	t.checkCreateRoot()
	cur := t.root
	curLevel := t.levelNumber(cur)
	for curLevel > lvl {
		cur = t.getCreateTable(cur, 0)
		curLevel--
	}
	return cur
}

// setCreatePath grows the root upward once per entry of path (the digits
// beyond the current root's reach), chaining each new root to the
// previous one via slot 0, then descends from the new root along path's
// digits, creating tables as needed, and returns the level reached — the
// level at which the caller continues walking the rest of the key's
// digits.
func (t *Trie) setCreatePath(path []int) bufmgr.PID {
	for range path {
		curLevel := t.levelNumber(t.root)
		newRoot := t.createLevel(curLevel + 1)
		t.setTable(newRoot, 0, t.root)
		t.root = newRoot
	}
	result := t.root
	for _, d := range path {
		result = t.getCreateTable(result, d)
	}
	return result
}

func (t *Trie) setValueInto(pid bufmgr.PID, path []int, value uint32) {
	for len(path) > 0 {
		if len(path) == 1 {
			t.setValue(pid, path[0], value)
			return
		}
		pid = t.getCreateTable(pid, path[0])
		path = path[1:]
	}
}

// Set stores value at key, creating every level/table along the path,
// and growing the root upward if key needs more digits than the current
// tree can express (spec §4.7).
func (t *Trie) Set(key uint64, value uint32) {
	digits := splitKey(key, uint64(t.cfg.Factor))
	needLevel := uint16(len(digits) - 1)
	if !t.hasRoot() {
		t.createTopLevel(needLevel)
	}

	curLevel := t.levelNumber(t.root)
	if needLevel > curLevel {
		levelDiff := int(needLevel - curLevel)
		s0, s1 := digits[:levelDiff], digits[levelDiff:]
		target := t.setCreatePath(s0)
		t.setValueInto(target, s1, value)
	} else {
		target := t.getCreateLevel(needLevel)
		t.setValueInto(target, digits, value)
	}
}

// removeUp frees every level that became empty after a removal, walking
// from the emptied leaf level up toward the root, clearing the parent
// slot that pointed at each freed level (spec §4.7).
func (t *Trie) removeUp(pid bufmgr.PID) {
	for pid != invalidPID && t.liveCount(pid) == 0 {
		parent := t.parentOf(pid)
		t.model.Free(pid)
		if parent == invalidPID {
			t.root = invalidPID
			return
		}
		if idx, found := t.parentSlot(parent, pid); found {
			t.removeSlot(parent, idx)
		}
		pid = parent
	}
}

// Remove clears the value at key and reports whether one was present,
// freeing any level that becomes empty as a result.
func (t *Trie) Remove(key uint64) bool {
	pid, idx, ok := t.findLevelFor(key)
	if !ok {
		return false
	}
	if _, isValue := t.getValue(pid, idx); !isValue {
		return false
	}
	t.removeSlot(pid, idx)
	t.removeUp(pid)
	return true
}
