// Package buddy implements a recursive binary buddy allocator: the buffer is
// conceptually a binary tree of blocks, the root (level 0) spans the whole
// buffer and is never directly allocated, and each deeper level halves the
// block size down to minBlockSize at the finest level. Allocation splits
// blocks on demand; deallocation attempts to merge a freed block with its
// buddy all the way back toward level 1.
//
// This is the only allocator in this module that is safe to share across
// goroutines: Allocate and Deallocate serialize behind a single mutex, per
// spec.md §5.
//
// The free-list, allocated-pair-bit, and split-bit tables are embedded at the
// start of the managed buffer itself rather than held in auxiliary Go
// structures, per spec.md §4.3 and §9's stated design intent ("essential for
// recursive composition — one buddy allocator can serve another's buffer
// without recursive-bookkeeping growth"). The allocation algorithm, the
// per-pair (rather than per-block) allocated-bit scheme, and the header
// layout are all grounded on original_source/BuddyAllocator.cpp;
// in particular GetAllocatedBlockInfo there resolves the ambiguity in
// spec.md's prose ("the deepest level") by actually scanning from level 1
// upward and stopping at the first match — see findBlock in this file and
// DESIGN.md.
package buddy

import (
	"sync"
	"unsafe"

	"github.com/blockforge/allockit"
	"github.com/blockforge/allockit/allocerr"
	"github.com/blockforge/allockit/intrusive"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

// DefaultMinBlockSize is used by New when no minimum block size is given.
const DefaultMinBlockSize = 64

// Allocator is a buddy allocator over a single power-of-two buffer.
type Allocator struct {
	backing    *allockit.Backing
	bufferSize int
	minBlock   int
	levels     int // L

	freeListBase  unsafe.Pointer // L pointer-sized slots
	allocBitsBase unsafe.Pointer
	splitBitsBase unsafe.Pointer
	headerSize    int

	mu          sync.Mutex
	outstanding int
}

var _ allockit.Allocator = (*Allocator)(nil)
var _ allocerr.Validatable = (*Allocator)(nil)

// New constructs a free-standing buddy allocator over a buffer of bufferSize
// bytes with the default minimum block size of 64 bytes.
func New(bufferSize int) (*Allocator, error) {
	return NewWithParent(nil, bufferSize, DefaultMinBlockSize)
}

// NewWithMinBlockSize constructs a free-standing buddy allocator with an
// explicit minimum block size.
func NewWithMinBlockSize(bufferSize, minBlockSize int) (*Allocator, error) {
	return NewWithParent(nil, bufferSize, minBlockSize)
}

// NewWithParent constructs a buddy allocator whose buffer is obtained from
// parent, or the host heap if parent is nil. Both bufferSize and
// minBlockSize must be powers of two; minBlockSize must be more than twice
// the pointer size (so an intrusive free-list node fits); and the embedded
// bookkeeping header must fit inside the buffer.
func NewWithParent(parent allockit.Allocator, bufferSize, minBlockSize int) (*Allocator, error) {
	if err := allocerr.CheckPow2(bufferSize, "bufferSize"); err != nil {
		return nil, err
	}
	if err := allocerr.CheckPow2(minBlockSize, "minBlockSize"); err != nil {
		return nil, err
	}
	allocerr.DebugCheckPow2(uint(bufferSize), "bufferSize")
	allocerr.DebugCheckPow2(uint(minBlockSize), "minBlockSize")
	if minBlockSize <= int(2*allocerr.PointerSize) {
		return nil, errors.Wrapf(allocerr.ErrBlockTooSmall, "min block size %d must be more than %d", minBlockSize, 2*allocerr.PointerSize)
	}
	if bufferSize < 2*minBlockSize {
		return nil, errors.Errorf("buffer size %d must be at least twice the min block size %d", bufferSize, minBlockSize)
	}

	levels := int(allocerr.Shift(bufferSize/minBlockSize)) + 1
	headerSize := headerSizeFor(levels)
	if headerSize >= bufferSize {
		return nil, allocerr.ErrHeaderDoesNotFit
	}

	backing := allockit.NewBacking(parent, bufferSize)

	a := &Allocator{
		backing:    backing,
		bufferSize: bufferSize,
		minBlock:   minBlockSize,
		levels:     levels,
		headerSize: headerSize,
	}
	a.freeListBase = backing.Base
	a.allocBitsBase = allockit.PtrAdd(a.freeListBase, levels*int(allocerr.PointerSize))
	pairBitsBytes := allocerr.AlignUp(byteLen(pairCount(levels)), allocerr.PointerSize)
	a.splitBitsBase = allockit.PtrAdd(a.allocBitsBase, pairBitsBytes)

	zero(backing.Base, headerSize)
	a.reserveHeader()

	return a, nil
}

func headerSizeFor(levels int) int {
	freeListBytes := levels * int(allocerr.PointerSize)
	bitBytes := allocerr.AlignUp(byteLen(pairCount(levels)), allocerr.PointerSize)
	return freeListBytes + 2*bitBytes
}

// pairCount returns 2^(levels-1) - 1, the number of buddy pairs (and,
// separately, the number of potentially-splittable blocks) in a buddy tree
// with the given number of levels.
func pairCount(levels int) int {
	return (1 << uint(levels-1)) - 1
}

func byteLen(bits int) int {
	return (bits + 7) / 8
}

func zero(base unsafe.Pointer, size int) {
	buf := unsafe.Slice((*byte)(base), size)
	for i := range buf {
		buf[i] = 0
	}
}

// blockSize returns the size in bytes of a block at the given level.
func (a *Allocator) blockSize(level int) int {
	return a.bufferSize >> uint(level)
}

// levelForBlockSize returns the level whose block size equals blockSize,
// which must be a power of two between minBlock and the buffer size.
func (a *Allocator) levelForBlockSize(blockSize int) int {
	return int(allocerr.Shift(a.bufferSize / blockSize))
}

func (a *Allocator) ptrAt(level, index int) unsafe.Pointer {
	return allockit.PtrAdd(a.backing.Base, index*a.blockSize(level))
}

func (a *Allocator) blockIndex(level int, ptr unsafe.Pointer) int {
	return allockit.PtrDelta(ptr, a.backing.Base) / a.blockSize(level)
}

func (a *Allocator) freeListHead(level int) *unsafe.Pointer {
	return intrusive.HeadSlot(a.freeListBase, level, uintptr(allocerr.PointerSize))
}

func (a *Allocator) pushFree(level, index int) {
	intrusive.PushFront(a.freeListHead(level), a.ptrAt(level, index))
}

func (a *Allocator) popFree(level int) unsafe.Pointer {
	return intrusive.PopFront(a.freeListHead(level))
}

func (a *Allocator) removeFree(level, index int) {
	intrusive.Remove(a.freeListHead(level), a.ptrAt(level, index))
}

// pairIndex returns the global index into the allocated-pair bit table for
// the pair containing (level, index). Valid for level >= 1.
func pairIndex(level, index int) int {
	return (1<<uint(level-1) - 1) + index/2
}

// splitIndex returns the global index into the split bit table for
// (level, index). Valid for level in [0, levels-2].
func splitIndex(level, index int) int {
	return (1<<uint(level) - 1) + index
}

func getBit(base unsafe.Pointer, idx int) bool {
	b := *(*byte)(allockit.PtrAdd(base, idx/8))
	return b&(1<<uint(idx%8)) != 0
}

func toggleBit(base unsafe.Pointer, idx int) {
	slot := (*byte)(allockit.PtrAdd(base, idx/8))
	*slot ^= 1 << uint(idx%8)
}

func setBit(base unsafe.Pointer, idx int, value bool) {
	slot := (*byte)(allockit.PtrAdd(base, idx/8))
	mask := byte(1 << uint(idx%8))
	if value {
		*slot |= mask
	} else {
		*slot &^= mask
	}
}

func (a *Allocator) toggleAllocatedPair(level, index int) {
	toggleBit(a.allocBitsBase, pairIndex(level, index))
}

func (a *Allocator) allocatedPairBit(level, index int) bool {
	return getBit(a.allocBitsBase, pairIndex(level, index))
}

func (a *Allocator) isSplit(level, index int) bool {
	return getBit(a.splitBitsBase, splitIndex(level, index))
}

func (a *Allocator) setSplit(level, index int, value bool) {
	setBit(a.splitBitsBase, splitIndex(level, index), value)
}

// reserveHeader marks every block that overlaps the bookkeeping header as
// permanently allocated, and sets the split bit on every ancestor of such a
// block, so that a user allocation can never collide with the header. Ported
// from BuddyAllocator::InitFreeListTable / InitAllocatedTable / InitSplitTable
// in original_source/BuddyAllocator.cpp: that source computes the
// reservation as a prefix of indices per level rather than by repeatedly
// splitting a single block, which is the only approach that behaves
// correctly when the header spans more than one block at a given level.
func (a *Allocator) reserveHeader() {
	bodyStart := allocerr.AlignUp(a.headerSize, uint(a.minBlock))

	// Free-list table: the sole directly-free block per level is the first
	// block after the header-aligned body start, when that block's index is
	// odd (its buddy, at the even index, is part of the reserved prefix and
	// so is not independently free). Free space further right is represented
	// by coarser levels.
	for level := 0; level < a.levels; level++ {
		bs := a.blockSize(level)
		firstFree := allocerr.AlignUp(bodyStart, uint(bs))
		if firstFree >= a.bufferSize {
			continue
		}
		index := firstFree / bs
		if index%2 == 1 {
			a.pushFree(level, index)
		}
	}

	// Allocated-pair table: toggle the pair bit once for every reserved
	// index below the header boundary at each level with buddies (level>=1).
	for level := 1; level < a.levels; level++ {
		bs := a.blockSize(level)
		endOfAllocated := allocerr.AlignUp(a.headerSize, uint(bs))
		firstFreeIndex := 1 << uint(level)
		if endOfAllocated < a.bufferSize {
			firstFreeIndex = endOfAllocated / bs
		}
		for index := 0; index < firstFreeIndex; index++ {
			a.toggleAllocatedPair(level, index)
		}
	}

	// Split table: every ancestor block that contains any part of the header
	// must be marked split, since its sibling subtree is (partly) free.
	for level := 0; level < a.levels-1; level++ {
		bs := a.blockSize(level)
		lastSplit := allocerr.AlignUp(bodyStart, uint(bs)) - bs
		if lastSplit < 0 {
			continue
		}
		lastSplitIndex := lastSplit / bs
		for index := 0; index <= lastSplitIndex; index++ {
			a.setSplit(level, index, true)
		}
	}
}

// Allocate selects the smallest level whose block size is at least
// max(nextPow2(size), minBlockSize), recursively splitting a coarser block if
// none is free at that level, and returns one such block.
func (a *Allocator) Allocate(size int) (unsafe.Pointer, error) {
	if size > a.MaxAllocationSize() {
		panic(errors.Errorf("buddy: requested %d bytes exceeds max allocation size %d", size, a.MaxAllocationSize()))
	}
	blockSize := allocerr.AlignUp(int(allocerr.NextPow2(size)), uint(a.minBlock))
	level := a.levelForBlockSize(blockSize)
	if level == 0 {
		level = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	block := a.popFree(level)
	if block == nil {
		a.splitBlock(level - 1)
		block = a.popFree(level)
		if block == nil {
			panic(errors.New("buddy: out of memory"))
		}
	}

	index := a.blockIndex(level, block)
	a.toggleAllocatedPair(level, index)
	a.outstanding++
	return block, nil
}

// splitBlock pops a free block at blockLevel, splitting a coarser level
// first if necessary, and pushes its two children onto blockLevel+1's free
// list. blockLevel must be at least 1: level 0, the whole buffer, is never
// split directly, per spec.md's "level 0 is the whole buffer (never
// allocated)".
func (a *Allocator) splitBlock(blockLevel int) {
	if blockLevel < 1 {
		panic(errors.New("buddy: out of memory"))
	}

	block := a.popFree(blockLevel)
	if block == nil {
		a.splitBlock(blockLevel - 1)
		block = a.popFree(blockLevel)
		if block == nil {
			panic(errors.New("buddy: out of memory"))
		}
	}

	index := a.blockIndex(blockLevel, block)
	a.toggleAllocatedPair(blockLevel, index)
	a.setSplit(blockLevel, index, true)

	childLevel := blockLevel + 1
	a.pushFree(childLevel, index*2)
	a.pushFree(childLevel, index*2+1)
	a.writeFreeCanary(childLevel, index*2)
	a.writeFreeCanary(childLevel, index*2+1)
}

// writeFreeCanary marks a currently-free block (freshly split, or just
// deallocated) with a corruption marker across its trailing
// allocerr.DebugMargin bytes, so tryMerge can detect a write into a block
// while it is free. It no-ops outside debug builds.
func (a *Allocator) writeFreeCanary(level, index int) {
	if allocerr.DebugMargin == 0 {
		return
	}
	bs := a.blockSize(level)
	if bs <= allocerr.DebugMargin {
		return
	}
	allocerr.WriteMagicValue(a.ptrAt(level, index), bs-allocerr.DebugMargin)
}

// validateFreeCanary checks the marker writeFreeCanary left on a free block,
// returning false only if debug builds detect it has been overwritten.
func (a *Allocator) validateFreeCanary(level, index int) bool {
	if allocerr.DebugMargin == 0 {
		return true
	}
	bs := a.blockSize(level)
	if bs <= allocerr.DebugMargin {
		return true
	}
	return allocerr.ValidateMagicValue(a.ptrAt(level, index), bs-allocerr.DebugMargin)
}

// Deallocate locates the level and index of the allocated block pointed to
// by ptr, marks it free, and attempts recursive coalescing with its buddy
// all the way back toward level 1.
func (a *Allocator) Deallocate(ptr unsafe.Pointer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !allockit.Contains(ptr, a.backing.Base, a.backing.Size) {
		panic(errors.New("buddy: deallocated pointer does not belong to this allocator"))
	}
	level, index := a.findBlock(ptr)

	a.toggleAllocatedPair(level, index)
	a.pushFree(level, index)
	a.writeFreeCanary(level, index)
	a.outstanding--

	if level > 1 {
		a.tryMerge(level-1, index>>1)
	}
	return nil
}

// findBlock discovers the level and index of the allocated block at ptr by
// scanning from level 1 downward (toward finer granularity) and taking the
// first level where ptr is aligned to that level's block size and the block
// is not marked split. Every coarser ancestor on the path to the true level
// is split (so it fails the "not split" test), and the true level's own
// split bit is never set (a block that is itself allocated cannot also be
// split), so the first match is always correct — see the package doc and
// DESIGN.md for why "deepest match" (a literal reading of spec.md's prose)
// would be wrong: split bits below the true level default to false even
// though no real block exists there.
func (a *Allocator) findBlock(ptr unsafe.Pointer) (level, index int) {
	offset := allockit.PtrDelta(ptr, a.backing.Base)
	for l := 1; l < a.levels; l++ {
		bs := a.blockSize(l)
		if offset%bs != 0 {
			continue
		}
		idx := offset / bs
		if l == a.levels-1 || !a.isSplit(l, idx) {
			return l, idx
		}
	}
	panic(errors.New("buddy: pointer does not correspond to a live allocation"))
}

// tryMerge merges (parentLevel, parentIndex) with its children if both are
// now free, and recurses toward level 1. Level 0 is never merged into: it is
// not a real allocatable block, per spec.md's data model.
func (a *Allocator) tryMerge(parentLevel, parentIndex int) {
	if parentLevel < 1 {
		return
	}

	childLevel := parentLevel + 1
	childA := parentIndex * 2
	childB := childA + 1

	if a.allocatedPairBit(childLevel, childA) {
		// Exactly one child allocated: nothing to merge.
		return
	}

	if !a.validateFreeCanary(childLevel, childA) || !a.validateFreeCanary(childLevel, childB) {
		panic(errors.New("buddy: corruption detected in a freed block"))
	}

	a.removeFree(childLevel, childA)
	a.removeFree(childLevel, childB)

	a.setSplit(parentLevel, parentIndex, false)
	a.toggleAllocatedPair(parentLevel, parentIndex)
	a.pushFree(parentLevel, parentIndex)

	a.tryMerge(parentLevel-1, parentIndex>>1)
}

// MaxAllocationSize returns half the buffer size — the size of a level 1
// block.
func (a *Allocator) MaxAllocationSize() int {
	return a.blockSize(1)
}

// OutstandingCount returns the number of allocations not yet deallocated.
func (a *Allocator) OutstandingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outstanding
}

// FreeListLength returns the number of blocks currently on the free list at
// the given level. It is intended for tests and diagnostics, not the hot
// path: it walks the list.
func (a *Allocator) FreeListLength(level int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := 0
	for node := *a.freeListHead(level); node != nil; node = intrusive.NodeAt(node).Next {
		count++
	}
	return count
}

// Close requires no outstanding allocations and releases the buffer. In
// debug builds it first validates the free-list and bit-table invariants via
// allocerr.DebugValidate.
func (a *Allocator) Close() error {
	allocerr.DebugValidate(a)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outstanding != 0 {
		panic(errors.Errorf("buddy: closed with %d outstanding allocations", a.outstanding))
	}
	return a.backing.Release()
}

// AddStatistics implements allockit.Statted.
func (a *Allocator) AddStatistics(stats *allocerr.Statistics) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats.BlockCount++
	stats.AllocationCount += a.outstanding
	stats.BlockBytes += a.bufferSize
	stats.OverheadBytes += a.headerSize
	stats.AllocationBytes += a.bufferSize - a.sumFreeSizeLocked() - a.headerSize
}

// AddDetailedStatistics implements allockit.Statted.
func (a *Allocator) AddDetailedStatistics(stats *allocerr.DetailedStatistics) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats.BlockCount++
	stats.BlockBytes += a.bufferSize
	for level := 1; level < a.levels; level++ {
		for node := *a.freeListHead(level); node != nil; node = intrusive.NodeAt(node).Next {
			stats.AddUnusedRange(a.blockSize(level))
		}
	}
}

func (a *Allocator) sumFreeSizeLocked() int {
	total := 0
	for level := 1; level < a.levels; level++ {
		bs := a.blockSize(level)
		for node := *a.freeListHead(level); node != nil; node = intrusive.NodeAt(node).Next {
			total += bs
		}
	}
	return total
}

// Validate walks the free lists and bit tables and returns an error if they
// are mutually inconsistent. It is relatively expensive and is intended for
// debug builds and tests, not the hot path.
func (a *Allocator) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for level := 1; level < a.levels; level++ {
		for node := *a.freeListHead(level); node != nil; node = intrusive.NodeAt(node).Next {
			idx := a.blockIndex(level, node)
			if level < a.levels-1 && a.isSplit(level, idx) {
				return errors.Errorf("buddy: free block at level %d index %d is marked split", level, idx)
			}
		}
	}
	return nil
}

// WriteJSON implements allocdump.Dumpable. It takes the lock, so it must not
// be called while already holding it.
func (a *Allocator) WriteJSON(json jwriter.ObjectState) {
	var stats allocerr.Statistics
	a.AddStatistics(&stats)

	json.Name("TotalBytes").Int(a.bufferSize)
	json.Name("MinBlockSize").Int(a.minBlock)
	json.Name("Levels").Int(a.levels)
	json.Name("HeaderBytes").Int(a.headerSize)
	json.Name("UsableBytes").Int(stats.UsableBytes())
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
}

// LogAllocations writes a summary of this allocator's footprint to logger.
// A buddy allocator keeps no list of live allocations (only free blocks are
// tracked intrusively), so this reports aggregate statistics rather than
// enumerating individual allocations.
func (a *Allocator) LogAllocations(logger *slog.Logger) {
	var stats allocerr.Statistics
	a.AddStatistics(&stats)
	logger.Info("buddy allocator snapshot",
		slog.Int("bufferSize", a.bufferSize),
		slog.Int("minBlock", a.minBlock),
		slog.Int("levels", a.levels),
		slog.Int("usableBytes", stats.UsableBytes()),
		slog.Int("outstanding", stats.AllocationCount),
		slog.Int("allocationBytes", stats.AllocationBytes),
	)
}
