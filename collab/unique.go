// Package collab implements the smart-pointer and container-adapter layer
// spec.md §4.6 and §1 describe as external collaborators: thin wrappers that
// route object/array (de)allocation and destruction through an
// allockit.Allocator reference, imposing no requirements on the core beyond
// its abstract Allocate/Deallocate contract.
//
// Grounded on original_source/Containers/UniquePtr.h, MakeUnique.h,
// SharedPtr.h, and Vector.h: the originals are a thin template shim over
// std::unique_ptr/std::shared_ptr/std::vector parameterised on an allocator.
// Go has neither templates-over-storage nor destructors, so this package
// expresses the same shape with generics plus explicit Close() rather than
// RAII — per spec.md §9's design note that "a reimplementation in a target
// language without deterministic drop must arrange explicit scope handles."
package collab

import (
	"unsafe"

	"github.com/blockforge/allockit"
	"github.com/pkg/errors"
)

// Unique is a scoped owner of a single placement-constructed T, grounded on
// original_source/Containers/UniquePtr.h's MakeUnique. Close invokes the
// value's finalizer (if any) and returns its bytes to the wrapped allocator.
// A Unique must not outlive the allocator it wraps, per spec.md §4.6.
type Unique[T any] struct {
	alloc allockit.Allocator
	ptr   *T
	fin   func(*T)
}

// NewUnique requests sizeof(T) bytes from alloc, placement-initialises it to
// value, and returns a handle whose Close path returns the bytes to alloc. fin,
// if non-nil, is invoked on the pointee before the bytes are released — the
// Go analogue of UniquePtr.h's destructor call, since Go values have no
// destructor to call automatically.
func NewUnique[T any](alloc allockit.Allocator, value T, fin func(*T)) (*Unique[T], error) {
	var zero T
	size := int(unsafe.Sizeof(zero))

	raw, err := alloc.Allocate(size)
	if err != nil {
		return nil, errors.Wrap(err, "collab: allocating Unique")
	}

	ptr := (*T)(raw)
	*ptr = value

	return &Unique[T]{alloc: alloc, ptr: ptr, fin: fin}, nil
}

// Get returns the owned value's address. It panics if called after Close.
func (u *Unique[T]) Get() *T {
	if u.ptr == nil {
		panic(errors.New("collab: Get called on a closed Unique"))
	}
	return u.ptr
}

// Close finalises the owned value (if a finalizer was given) and returns its
// bytes to the wrapped allocator. It is safe to call more than once; only the
// first call has an effect.
func (u *Unique[T]) Close() error {
	if u.ptr == nil {
		return nil
	}
	if u.fin != nil {
		u.fin(u.ptr)
	}
	err := u.alloc.Deallocate(unsafe.Pointer(u.ptr))
	u.ptr = nil
	return err
}

// UniqueSlice is a scoped owner of an array of n placement-constructed Ts,
// grounded on UniquePtr.h's MakeUniqueArray overload. Close finalises
// elements in reverse construction order, per spec.md §4.6.
type UniqueSlice[T any] struct {
	alloc allockit.Allocator
	base  unsafe.Pointer
	data  []T
	fin   func(*T)
}

// NewUniqueSlice requests sizeof(T)*n bytes from alloc, placement-initialises
// each element to an independent copy of value, and returns a handle whose
// Close path finalises elements in reverse order and returns the bytes to
// alloc.
func NewUniqueSlice[T any](alloc allockit.Allocator, n int, value T, fin func(*T)) (*UniqueSlice[T], error) {
	if n <= 0 {
		return nil, errors.Errorf("collab: UniqueSlice count must be positive, got %d", n)
	}

	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	raw, err := alloc.Allocate(elemSize * n)
	if err != nil {
		return nil, errors.Wrap(err, "collab: allocating UniqueSlice")
	}

	data := unsafe.Slice((*T)(raw), n)
	for i := range data {
		data[i] = value
	}

	return &UniqueSlice[T]{alloc: alloc, base: raw, data: data, fin: fin}, nil
}

// Slice returns the owned elements. It panics if called after Close.
func (u *UniqueSlice[T]) Slice() []T {
	if u.base == nil {
		panic(errors.New("collab: Slice called on a closed UniqueSlice"))
	}
	return u.data
}

// Close finalises every element in reverse construction order (if a
// finalizer was given) and returns the bytes to the wrapped allocator.
func (u *UniqueSlice[T]) Close() error {
	if u.base == nil {
		return nil
	}
	if u.fin != nil {
		for i := len(u.data) - 1; i >= 0; i-- {
			u.fin(&u.data[i])
		}
	}
	err := u.alloc.Deallocate(u.base)
	u.base = nil
	u.data = nil
	return err
}
