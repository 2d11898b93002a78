package collab

import (
	"unsafe"

	"github.com/blockforge/allockit"
	"github.com/pkg/errors"
)

// SliceAdapter forwards append-style growth through an allockit.Allocator,
// grounded on original_source/Vector.h's makeVector: a sequence container
// parameterised on an allocator rather than the host heap. Go's slice
// builtin cannot be parameterised on a custom allocator, so SliceAdapter
// manages its own backing allocation directly, growing by allocating a
// larger region from the wrapped allocator and copying on overflow — the
// same doubling-growth shape std::vector's allocator-aware growth takes.
//
// A SliceAdapter must not outlive the allocator it wraps, per spec.md §4.6.
type SliceAdapter[T any] struct {
	alloc    allockit.Allocator
	base     unsafe.Pointer
	len, cap int
}

// NewSliceAdapter constructs an empty SliceAdapter backed by alloc.
func NewSliceAdapter[T any](alloc allockit.Allocator) *SliceAdapter[T] {
	return &SliceAdapter[T]{alloc: alloc}
}

func (s *SliceAdapter[T]) elemSize() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Len returns the number of elements currently stored.
func (s *SliceAdapter[T]) Len() int { return s.len }

// At returns the element at index i. It panics if i is out of range.
func (s *SliceAdapter[T]) At(i int) T {
	if i < 0 || i >= s.len {
		panic(errors.Errorf("collab: index %d out of range for slice of length %d", i, s.len))
	}
	return s.slice()[i]
}

func (s *SliceAdapter[T]) slice() []T {
	if s.base == nil {
		return nil
	}
	return unsafe.Slice((*T)(s.base), s.cap)[:s.len]
}

// Append appends value, growing the backing allocation (by doubling, or to 1
// for the first element) when the current one is full. Growth allocates a
// new, larger region from the wrapped allocator, copies the live elements
// across, and returns the old region — mirroring std::vector's
// allocator-aware reallocation.
func (s *SliceAdapter[T]) Append(value T) error {
	if s.len == s.cap {
		if err := s.grow(); err != nil {
			return err
		}
	}
	dst := unsafe.Slice((*T)(s.base), s.cap)
	dst[s.len] = value
	s.len++
	return nil
}

func (s *SliceAdapter[T]) grow() error {
	newCap := s.cap * 2
	if newCap == 0 {
		newCap = 1
	}

	newBase, err := s.alloc.Allocate(s.elemSize() * newCap)
	if err != nil {
		return errors.Wrap(err, "collab: growing SliceAdapter")
	}

	if s.base != nil {
		copy(unsafe.Slice((*T)(newBase), newCap), s.slice())
		if err := s.alloc.Deallocate(s.base); err != nil {
			return errors.Wrap(err, "collab: releasing SliceAdapter's previous backing region")
		}
	}

	s.base = newBase
	s.cap = newCap
	return nil
}

// Close returns the backing allocation to the wrapped allocator, if any was
// ever made.
func (s *SliceAdapter[T]) Close() error {
	if s.base == nil {
		return nil
	}
	err := s.alloc.Deallocate(s.base)
	s.base = nil
	s.len, s.cap = 0, 0
	return err
}
