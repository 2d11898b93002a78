package collab

import (
	"github.com/blockforge/allockit"
	"github.com/blockforge/allockit/allocerr"
	"github.com/dolthub/swiss"
)

// SetAdapter wraps github.com/dolthub/swiss's open-addressing map as a set
// (the value type is the empty struct), grounded on
// original_source/Containers/UnorderedSet.h's MakeUnorderedSet: a membership
// container parameterised on an allocator rather than the host heap. As with
// MapAdapter, the swiss table's own bucket arrays stay host-heap memory
// managed by the Go runtime — only the estimated footprint is charged
// against the wrapped allockit.Allocator's statistics, for the same reason
// documented on MapAdapter and in DESIGN.md.
//
// A SetAdapter must not outlive the allocator it wraps, per spec.md §4.6.
type SetAdapter[T comparable] struct {
	alloc allockit.Allocator
	m     *swiss.Map[T, struct{}]
	stats allocerr.Statistics
}

// NewSetAdapter constructs an empty SetAdapter with the given initial
// capacity hint, charging nothing against alloc until elements are added.
func NewSetAdapter[T comparable](alloc allockit.Allocator, initialCapacity uint32) *SetAdapter[T] {
	return &SetAdapter[T]{alloc: alloc, m: swiss.NewMap[T, struct{}](initialCapacity)}
}

// Add inserts value, charging an additional estimated entry footprint
// against the wrapped allocator's statistics if it was not already present.
// It reports whether value was newly added.
func (a *SetAdapter[T]) Add(value T) bool {
	if _, exists := a.m.Get(value); exists {
		return false
	}
	a.stats.AllocationCount++
	a.stats.AllocationBytes += entryOverheadEstimate
	a.m.Put(value, struct{}{})
	return true
}

// Contains reports whether value is a member of the set.
func (a *SetAdapter[T]) Contains(value T) bool {
	_, exists := a.m.Get(value)
	return exists
}

// Remove removes value, if present, releasing its charged footprint. It
// reports whether value was present.
func (a *SetAdapter[T]) Remove(value T) bool {
	if _, exists := a.m.Get(value); !exists {
		return false
	}
	a.stats.AllocationCount--
	a.stats.AllocationBytes -= entryOverheadEstimate
	a.m.Delete(value)
	return true
}

// Len returns the number of elements currently stored.
func (a *SetAdapter[T]) Len() int {
	return a.m.Count()
}

// AddStatistics charges this adapter's estimated footprint into stats, so a
// caller accounting for an allocator's total commitment can include small
// long-lived metadata sets alongside the allocator's own managed bytes.
func (a *SetAdapter[T]) AddStatistics(stats *allocerr.Statistics) {
	stats.AddStatistics(&a.stats)
}
