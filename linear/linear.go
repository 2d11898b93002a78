// Package linear implements a bump (arena) allocator: allocation is an O(1)
// pointer advance, and individual deallocation only decrements an outstanding
// count rather than reclaiming bytes. Bytes become reusable again only on a
// bulk Reset, which requires the outstanding count to be zero first — this
// catches stale references at the phase boundary rather than silently handing
// out memory still referenced by a caller.
//
// This mirrors the "Stack" mode of the teacher's LinearBlockMetadata
// (github.com/vkngwrapper/arsenal/memutils/metadata), simplified to the single
// forward-growing stack spec.md's linear allocator describes — no double
// stack, no ring buffer, since those exist in the teacher to let
// defragmentation shuffle allocations from either end, and defragmentation is
// explicitly out of scope here.
package linear

import (
	"unsafe"

	"github.com/blockforge/allockit"
	"github.com/blockforge/allockit/allocerr"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

// Allocator is a bump allocator over a single fixed-size buffer.
type Allocator struct {
	backing     *allockit.Backing
	nextFree    unsafe.Pointer
	outstanding int
}

var _ allockit.Allocator = (*Allocator)(nil)

// New constructs a free-standing linear allocator with a buffer of pageSize
// bytes, obtained from the host heap.
func New(pageSize int) (*Allocator, error) {
	return NewWithParent(nil, pageSize)
}

// NewWithParent constructs a linear allocator whose buffer of pageSize bytes
// is obtained from parent's Allocate, or from the host heap if parent is nil.
func NewWithParent(parent allockit.Allocator, pageSize int) (*Allocator, error) {
	if pageSize <= 0 {
		return nil, errors.Errorf("page size must be positive, got %d", pageSize)
	}

	backing := allockit.NewBacking(parent, pageSize)
	return &Allocator{
		backing:  backing,
		nextFree: backing.Base,
	}, nil
}

// Allocate returns an aligned region of at least size bytes, advancing the
// bump pointer past the region (plus allocerr.DebugMargin bytes of
// corruption-detection padding in debug builds) and re-aligning it to pointer
// size. It panics if size exceeds FreeSpace — an oversized request against a
// single-buffer allocator is a programming invariant violation, per spec.md
// §7.
func (a *Allocator) Allocate(size int) (unsafe.Pointer, error) {
	if size < 0 {
		panic(errors.Errorf("linear: negative allocation size %d", size))
	}
	used := allocerr.AlignUp(size, allocerr.PointerSize)
	advance := used + allocerr.DebugMargin
	if advance > a.FreeSpace() {
		panic(errors.Errorf("linear: requested %d bytes but only %d are free", size, a.FreeSpace()))
	}

	ptr := a.nextFree
	allocerr.WriteMagicValue(ptr, used)
	a.nextFree = allockit.PtrAdd(a.nextFree, advance)
	a.outstanding++
	return ptr, nil
}

// Deallocate validates that ptr lies within the buffer and decrements the
// outstanding count. The bytes are not reusable until Reset.
func (a *Allocator) Deallocate(ptr unsafe.Pointer) error {
	if !allockit.Contains(ptr, a.backing.Base, a.backing.Size) {
		panic(errors.New("linear: deallocated pointer does not belong to this allocator"))
	}
	if a.outstanding == 0 {
		panic(errors.New("linear: deallocate called with no outstanding allocations"))
	}
	a.outstanding--
	return nil
}

// Reset returns the bump pointer to the aligned buffer start. It panics if
// any allocation is still outstanding.
func (a *Allocator) Reset() {
	if a.outstanding != 0 {
		panic(errors.Errorf("linear: reset called with %d outstanding allocations", a.outstanding))
	}
	a.nextFree = a.backing.Base
}

// Contains reports whether ptr lies within the managed buffer.
func (a *Allocator) Contains(ptr unsafe.Pointer) bool {
	return allockit.Contains(ptr, a.backing.Base, a.backing.Size)
}

// FreeSpace returns the number of buffer bytes remaining, rounded down to
// pointer alignment.
func (a *Allocator) FreeSpace() int {
	used := allockit.PtrDelta(a.nextFree, a.backing.Base)
	return allocerr.AlignDown(a.backing.Size-used, allocerr.PointerSize)
}

// MaxAllocationSize returns the buffer size this allocator was constructed
// with.
func (a *Allocator) MaxAllocationSize() int {
	return a.backing.Size
}

// OutstandingCount returns the number of allocations that have not yet been
// deallocated.
func (a *Allocator) OutstandingCount() int {
	return a.outstanding
}

// Close requires the outstanding count to be zero and releases the buffer to
// its parent or the host heap, per spec.md §3's destruction invariant.
func (a *Allocator) Close() error {
	if a.outstanding != 0 {
		panic(errors.Errorf("linear: closed with %d outstanding allocations", a.outstanding))
	}
	return a.backing.Release()
}

// AddStatistics implements allockit.Statted.
func (a *Allocator) AddStatistics(stats *allocerr.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += a.outstanding
	stats.BlockBytes += a.backing.Size
	stats.AllocationBytes += allockit.PtrDelta(a.nextFree, a.backing.Base)
}

// WriteJSON implements allocdump.Dumpable, mirroring the teacher's
// BlockMetadataBase.BlockJsonData field naming.
func (a *Allocator) WriteJSON(json jwriter.ObjectState) {
	used := allockit.PtrDelta(a.nextFree, a.backing.Base)
	json.Name("TotalBytes").Int(a.backing.Size)
	json.Name("UnusedBytes").Int(a.backing.Size - used)
	json.Name("Allocations").Int(a.outstanding)
}

// AddDetailedStatistics implements allockit.Statted.
func (a *Allocator) AddDetailedStatistics(stats *allocerr.DetailedStatistics) {
	used := allockit.PtrDelta(a.nextFree, a.backing.Base)
	stats.BlockCount++
	stats.BlockBytes += a.backing.Size
	if used > 0 {
		stats.AddAllocation(used)
	}
	if free := a.backing.Size - used; free > 0 {
		stats.AddUnusedRange(free)
	}
}
