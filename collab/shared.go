package collab

import (
	"sync/atomic"

	"github.com/blockforge/allockit"
)

// Shared is a reference-counted promotion of a Unique[T], grounded on
// original_source/SharedPtr.h / MakeShared.h. Retain and Release adjust an
// atomic reference count; the underlying Unique[T]'s Close fires exactly
// once, when the count reaches zero.
type Shared[T any] struct {
	unique *Unique[T]
	refs   *atomic.Int64
}

// NewShared promotes a freshly-constructed Unique[T] into a Shared[T] with an
// initial reference count of one.
func NewShared[T any](alloc allockit.Allocator, value T, fin func(*T)) (*Shared[T], error) {
	u, err := NewUnique(alloc, value, fin)
	if err != nil {
		return nil, err
	}
	refs := &atomic.Int64{}
	refs.Store(1)
	return &Shared[T]{unique: u, refs: refs}, nil
}

// Retain increments the reference count and returns s, so chained ownership
// transfer (s2 := s1.Retain()) reads naturally.
func (s *Shared[T]) Retain() *Shared[T] {
	s.refs.Add(1)
	return s
}

// Get returns the owned value's address. It panics if the last reference has
// already been released.
func (s *Shared[T]) Get() *T {
	return s.unique.Get()
}

// Release decrements the reference count and, if it reaches zero, closes the
// underlying Unique[T] — finalising the value and returning its bytes to the
// allocator it was allocated from.
func (s *Shared[T]) Release() error {
	if s.refs.Add(-1) > 0 {
		return nil
	}
	return s.unique.Close()
}

// Same reports whether a and b are the same allocator instance. It is a
// re-export of allockit.Same for callers that otherwise only import collab —
// see that function's doc for why this, rather than comparing wrapper
// pointer members, is the correct identity check.
func Same(a, b allockit.Allocator) bool {
	return allockit.Same(a, b)
}
