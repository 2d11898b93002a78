// Package smallobj implements a small-object multiplexer: four child block
// (pool) allocators at geometrically doubling block sizes, each sized so that
// buffer_size / block_size gives that level's block count. A request is
// rounded up to the next power of two, clamped to the smallest size class,
// and routed to the matching child; Deallocate looks the pointer's owning
// class up in a handle map and routes to it directly.
//
// Grounded on the teacher's TLSFBlockMetadata's segregated free-list classes
// (memutils/metadata/tlsf.go, getListIndex/memoryClass bucketing) for the
// "round to size class, route by class" shape, simplified to four fixed
// classes rather than TLSF's bitmap-driven dynamic class count, since
// spec.md §4.4 fixes the class count and the class sizes at construction.
//
// Deallocate routing uses the same handle-map trick as the teacher's
// tlsfBlockMetadata.handleKey: rather than querying each child's Contains in
// turn, a swiss.Map remembers which class served each outstanding pointer so
// Deallocate is an O(1) lookup instead of an O(classCount) scan.
package smallobj

import (
	"unsafe"

	"github.com/blockforge/allockit"
	"github.com/blockforge/allockit/allocerr"
	"github.com/blockforge/allockit/block"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

// classCount is the number of size classes: block sizes 2P, 4P, 8P, 16P.
const classCount = 4

// Allocator multiplexes four block allocators of sizes {2P, 4P, 8P, 16P},
// where P is the machine pointer size.
type Allocator struct {
	children [classCount]*block.Allocator
	owner    *swiss.Map[uintptr, int]
}

var _ allockit.Allocator = (*Allocator)(nil)

// New constructs a free-standing small-object allocator. bufferSize must be a
// power of two; each of the four children gets a buffer of bufferSize bytes,
// split into bufferSize/blockSize blocks of its own class size.
func New(bufferSize int) (*Allocator, error) {
	return NewWithParent(nil, bufferSize)
}

// NewWithParent constructs a small-object allocator whose four children
// obtain their buffers from parent, or the host heap if parent is nil.
func NewWithParent(parent allockit.Allocator, bufferSize int) (*Allocator, error) {
	if err := allocerr.CheckPow2(bufferSize, "bufferSize"); err != nil {
		return nil, err
	}

	p := int(allocerr.PointerSize)
	a := &Allocator{owner: swiss.NewMap[uintptr, int](42)}
	for i := 0; i < classCount; i++ {
		blockSize := p << uint(i+1) // 2P, 4P, 8P, 16P
		blockCount := bufferSize / blockSize
		if blockCount < 1 {
			return nil, errors.Errorf("smallobj: buffer size %d too small to fit even one block of class size %d", bufferSize, blockSize)
		}

		child, err := block.NewWithParent(parent, blockSize, blockCount)
		if err != nil {
			return nil, errors.Wrapf(err, "smallobj: constructing size class %d", i)
		}
		a.children[i] = child
	}
	return a, nil
}

// classFor returns the index of the smallest size class whose block size is
// at least max(nextPow2(size), 2P), or -1 if size exceeds the largest class.
func classFor(size int) int {
	p := int(allocerr.PointerSize)
	target := int(allocerr.NextPow2(size))
	if target < 2*p {
		target = 2 * p
	}
	for i := 0; i < classCount; i++ {
		if (p << uint(i+1)) >= target {
			return i
		}
	}
	return -1
}

// Allocate rounds size to the next power of two, clamped to at least 2P, and
// routes it to the matching child. It panics if size exceeds MaxAllocationSize.
func (a *Allocator) Allocate(size int) (unsafe.Pointer, error) {
	class := classFor(size)
	if class < 0 {
		panic(errors.Errorf("smallobj: requested %d bytes exceeds max allocation size %d", size, a.MaxAllocationSize()))
	}
	ptr, err := a.children[class].Allocate(size)
	if err != nil {
		return nil, err
	}
	a.owner.Put(uintptr(ptr), class)
	return ptr, nil
}

// Deallocate looks up ptr's owning class in the handle map and routes there
// in O(1); if the map has no entry for it (it should always have one for a
// live pointer this allocator returned), it falls back to querying each
// child's Contains in turn. It panics if no child contains it either way.
func (a *Allocator) Deallocate(ptr unsafe.Pointer) error {
	if class, ok := a.owner.Get(uintptr(ptr)); ok {
		a.owner.Delete(uintptr(ptr))
		return a.children[class].Deallocate(ptr)
	}

	for _, child := range a.children {
		if child.Contains(ptr) {
			a.owner.Delete(uintptr(ptr))
			return child.Deallocate(ptr)
		}
	}
	panic(errors.New("smallobj: deallocated pointer does not belong to any size class"))
}

// MaxAllocationSize returns 16P, the block size of the largest size class.
func (a *Allocator) MaxAllocationSize() int {
	return int(allocerr.PointerSize) << uint(classCount)
}

// Close requires no outstanding allocations in any size class and releases
// every child's buffer.
func (a *Allocator) Close() error {
	for i, child := range a.children {
		if err := child.Close(); err != nil {
			return errors.Wrapf(err, "smallobj: closing size class %d", i)
		}
	}
	return nil
}

// AddStatistics implements allockit.Statted, summing across all four
// children.
func (a *Allocator) AddStatistics(stats *allocerr.Statistics) {
	for _, child := range a.children {
		child.AddStatistics(stats)
	}
}

// AddDetailedStatistics implements allockit.Statted, summing across all four
// children.
func (a *Allocator) AddDetailedStatistics(stats *allocerr.DetailedStatistics) {
	for _, child := range a.children {
		child.AddDetailedStatistics(stats)
	}
}

// WriteJSON implements allocdump.Dumpable, nesting each size class's own
// WriteJSON output under a "Class0".."Class3" key, mirroring the teacher's
// per-block keying in memoryBlockList.PrintDetailedMap.
func (a *Allocator) WriteJSON(json jwriter.ObjectState) {
	for i, child := range a.children {
		classObj := json.Name("Class" + string(rune('0'+i))).Object()
		child.WriteJSON(classObj)
		classObj.End()
	}
}

// ChildAt returns the block allocator for size class i (0..3), intended for
// tests and diagnostics that need to assert a pointer landed in the expected
// sub-buffer.
func (a *Allocator) ChildAt(i int) *block.Allocator {
	return a.children[i]
}
