// Package allockit is the root package of a library of composable custom
// memory allocators: a linear (bump) allocator, a fixed-size block (pool)
// allocator, a buddy allocator, a small-object multiplexer, and paged
// variants that chain fixed-size instances to grow without bound. Every
// variant implements the Allocator contract in this file, and every variant
// can be constructed either free-standing (its buffer comes from the host
// heap) or parented by any other Allocator (its buffer comes from the
// parent's Allocate).
package allockit

import (
	"unsafe"

	"github.com/blockforge/allockit/allocerr"
)

// Allocator is the uniform contract every allocator in this module
// implements. An Allocator's address is its identity: allocators are not
// copyable or movable after construction, and two Allocator values compare
// equal as Same only when they share that identity.
//
// Every pointer returned by Allocate lies within the allocator's buffer(s)
// and is aligned to at least allocerr.PointerSize. Every pointer passed to
// Deallocate must have been returned by Allocate on that same instance and
// not yet deallocated. Violating either of those is a programming invariant
// violation: implementations panic rather than return an error, per the
// package's error-handling design (see allocerr).
type Allocator interface {
	// Allocate returns a region of at least size bytes, aligned to at least
	// allocerr.PointerSize. It panics if size exceeds MaxAllocationSize or
	// the instance has no room left for it; out-of-memory from a parent or
	// the host heap also panics. The allocators in this module return a nil
	// error on every path that does not panic.
	Allocate(size int) (unsafe.Pointer, error)
	// Deallocate releases a region previously returned by Allocate. It panics
	// if ptr lies outside this instance's buffer(s). A pointer inside the
	// buffer that was not returned by Allocate, or that has already been
	// deallocated, is not detected by every implementation.
	Deallocate(ptr unsafe.Pointer) error
	// MaxAllocationSize returns the largest single allocation this instance
	// can ever satisfy.
	MaxAllocationSize() int
}

// Statted is implemented by allocators that can report their footprint. It is
// a separate, optional interface — per SPEC_FULL.md §7 — rather than part of
// Allocator, so the core contract stays exactly the one spec.md §6 describes.
type Statted interface {
	AddStatistics(stats *allocerr.Statistics)
	AddDetailedStatistics(stats *allocerr.DetailedStatistics)
}

// Same reports whether a and b are the same allocator instance. It exists to
// give identity comparison a single, obviously-correct implementation: the
// original C++ source's AllocatorWrapper::operator== compared the addresses
// of pointer *members* rather than the wrapped allocators' identities, which
// spec.md §9 calls out as almost certainly a bug. Comparing the interface
// values directly compares dynamic type and pointer, which is allocator
// identity.
func Same(a, b Allocator) bool {
	return a == b
}

// Backing is the buffer-acquisition helper every allocator in this module
// uses to implement the free-standing/parented composition rule: on
// construction, it either takes a slice from the host heap (free-standing) or
// calls Allocate on a parent (parented); on Release, it returns that memory to
// wherever it came from.
type Backing struct {
	Base   unsafe.Pointer
	Size   int
	parent Allocator
	// slab keeps the free-standing backing slice reachable so the garbage
	// collector does not reclaim it out from under Base, which is an
	// unsafe.Pointer derived from it rather than a reference to it.
	slab []byte
}

// NewBacking acquires a buffer of the given size, either from parent (if
// non-nil) or from the host heap. It panics if the parent's allocation fails,
// per spec.md §7's "out-of-memory from a parent/host heap is fatal for
// primitive allocators" rule — there is no policy to shed load at this layer.
func NewBacking(parent Allocator, size int) *Backing {
	if parent == nil {
		slab := make([]byte, size)
		return &Backing{Base: unsafe.Pointer(&slab[0]), Size: size, slab: slab}
	}

	ptr, err := parent.Allocate(size)
	if err != nil {
		panic(err)
	}
	return &Backing{Base: ptr, Size: size, parent: parent}
}

// Release returns the backing buffer to its parent, or drops the
// free-standing slab so it can be collected. Callers must not use Base after
// calling Release.
func (b *Backing) Release() error {
	if b.parent != nil {
		err := b.parent.Deallocate(b.Base)
		b.Base = nil
		return err
	}
	b.slab = nil
	b.Base = nil
	return nil
}

// PtrAdd returns the address offset bytes past base.
func PtrAdd(base unsafe.Pointer, offset int) unsafe.Pointer {
	return unsafe.Add(base, offset)
}

// PtrDelta returns the number of bytes from base to ptr. ptr must be at or
// after base.
func PtrDelta(ptr, base unsafe.Pointer) int {
	return int(uintptr(ptr) - uintptr(base))
}

// Contains reports whether ptr lies in the half-open range [base, base+size).
// Per spec.md §9, this half-open comparison is adopted as-is and does not
// guard against overlapping address ranges from unrelated heap allocations —
// not a concern for allocators that each own a single contiguous buffer.
func Contains(ptr, base unsafe.Pointer, size int) bool {
	delta := uintptr(ptr) - uintptr(base)
	return delta < uintptr(size)
}
