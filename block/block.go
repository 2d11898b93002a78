// Package block implements a fixed-size block (pool) allocator: a single
// buffer sliced into block_count equal-sized blocks, threaded into an
// intrusive doubly-linked free list at construction. Allocation and
// deallocation are both O(1); there is no block-to-block locality guarantee,
// so callers seeking locality should parent a block allocator on a linear
// allocator.
//
// Grounded on the intrusive free-list shape the teacher's
// memutils/metadata/tlsf.go builds with explicit Go objects
// (tlsfBlock.prevFree/nextFree) — this package does the same linking, but
// directly inside the managed buffer via intrusive.Node, since spec.md's
// block allocator has no need for TLSF's segregated size classes or its
// handle-indirection layer.
package block

import (
	"unsafe"

	"github.com/blockforge/allockit"
	"github.com/blockforge/allockit/allocerr"
	"github.com/blockforge/allockit/intrusive"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

// Allocator is a pool of block_count blocks of block_size bytes each.
type Allocator struct {
	backing        *allockit.Backing
	blockSize      int
	blockCount     int
	freeHead       unsafe.Pointer
	allocatedCount int
}

var _ allockit.Allocator = (*Allocator)(nil)

// New constructs a free-standing block allocator with its own buffer.
func New(blockSize, blockCount int) (*Allocator, error) {
	return NewWithParent(nil, blockSize, blockCount)
}

// NewWithParent constructs a block allocator whose buffer is obtained from
// parent, or the host heap if parent is nil.
func NewWithParent(parent allockit.Allocator, blockSize, blockCount int) (*Allocator, error) {
	minBlock := int(2 * allocerr.PointerSize)
	if blockSize < minBlock {
		return nil, errors.Wrapf(allocerr.ErrBlockTooSmall, "block size %d must be at least %d", blockSize, minBlock)
	}
	if !allocerr.IsAligned(blockSize, allocerr.PointerSize) {
		return nil, errors.Errorf("block size %d must be a multiple of the pointer size %d", blockSize, allocerr.PointerSize)
	}
	if blockCount <= 0 {
		return nil, errors.Errorf("block count must be positive, got %d", blockCount)
	}

	backing := allockit.NewBacking(parent, blockSize*blockCount)
	a := &Allocator{
		backing:    backing,
		blockSize:  blockSize,
		blockCount: blockCount,
	}
	a.buildFreeList()
	return a, nil
}

// buildFreeList pushes each block onto the front of the free list, from the
// last block back to the first, so the list ends up in offset order and the
// first allocation from a freshly-constructed pool is the block at offset 0.
func (a *Allocator) buildFreeList() {
	a.freeHead = nil
	for i := a.blockCount - 1; i >= 0; i-- {
		intrusive.PushFront(&a.freeHead, a.blockAt(i))
	}
}

func (a *Allocator) blockAt(index int) unsafe.Pointer {
	return allockit.PtrAdd(a.backing.Base, index*a.blockSize)
}

// Allocate requires size to be no larger than the configured block size and
// at least one block to be free; it unlinks and returns the head of the free
// list. In debug builds it writes a corruption marker across the last
// allocerr.DebugMargin bytes of the block, checked back on Deallocate.
func (a *Allocator) Allocate(size int) (unsafe.Pointer, error) {
	if size > a.blockSize {
		panic(errors.Errorf("block: requested %d bytes but block size is %d", size, a.blockSize))
	}
	if a.freeHead == nil {
		panic(errors.New("block: no free blocks remain"))
	}

	block := intrusive.PopFront(&a.freeHead)
	if allocerr.DebugMargin > 0 && a.blockSize > allocerr.DebugMargin {
		allocerr.WriteMagicValue(block, a.blockSize-allocerr.DebugMargin)
	}
	a.allocatedCount++
	return block, nil
}

// Deallocate requires ptr to be within the buffer, and links it back to the
// head of the free list. In debug builds it first checks the corruption
// marker Allocate wrote past the block's usable bytes, panicking if a caller
// wrote past its allocation.
func (a *Allocator) Deallocate(ptr unsafe.Pointer) error {
	if !a.Contains(ptr) {
		panic(errors.New("block: deallocated pointer does not belong to this allocator"))
	}
	if allocerr.DebugMargin > 0 && a.blockSize > allocerr.DebugMargin && !allocerr.ValidateMagicValue(ptr, a.blockSize-allocerr.DebugMargin) {
		panic(errors.New("block: corruption detected past the end of an allocation"))
	}
	intrusive.PushFront(&a.freeHead, ptr)
	a.allocatedCount--
	return nil
}

// Contains reports whether ptr lies within the managed buffer.
func (a *Allocator) Contains(ptr unsafe.Pointer) bool {
	return allockit.Contains(ptr, a.backing.Base, a.backing.Size)
}

// MaxAllocationSize returns the configured block size.
func (a *Allocator) MaxAllocationSize() int {
	return a.blockSize
}

// FreeBlockCount returns the number of blocks currently reachable from the
// free list.
func (a *Allocator) FreeBlockCount() int {
	return a.blockCount - a.allocatedCount
}

// Close requires no outstanding allocations and releases the buffer.
func (a *Allocator) Close() error {
	if a.allocatedCount != 0 {
		panic(errors.Errorf("block: closed with %d outstanding allocations", a.allocatedCount))
	}
	return a.backing.Release()
}

// AddStatistics implements allockit.Statted.
func (a *Allocator) AddStatistics(stats *allocerr.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += a.allocatedCount
	stats.BlockBytes += a.backing.Size
	stats.AllocationBytes += a.allocatedCount * a.blockSize
}

// AddDetailedStatistics implements allockit.Statted.
func (a *Allocator) AddDetailedStatistics(stats *allocerr.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += a.backing.Size
	for i := 0; i < a.allocatedCount; i++ {
		stats.AddAllocation(a.blockSize)
	}
	if free := a.FreeBlockCount(); free > 0 {
		stats.AddUnusedRange(free * a.blockSize)
	}
}

// WriteJSON implements allocdump.Dumpable.
func (a *Allocator) WriteJSON(json jwriter.ObjectState) {
	json.Name("TotalBytes").Int(a.backing.Size)
	json.Name("BlockSize").Int(a.blockSize)
	json.Name("BlockCount").Int(a.blockCount)
	json.Name("Allocations").Int(a.allocatedCount)
	json.Name("FreeBlocks").Int(a.FreeBlockCount())
}
