package collab

import (
	"github.com/blockforge/allockit"
	"github.com/blockforge/allockit/allocerr"
	"github.com/dolthub/swiss"
)

// entryOverheadEstimate is the per-entry footprint charged against the
// wrapped allocator's statistics, standing in for the key, value, and swiss
// table slot overhead. It is an estimate, not a byte-exact count — see the
// package doc below and DESIGN.md's open question on why the backing storage
// cannot literally live inside managed memory.
const entryOverheadEstimate = 32

// MapAdapter wraps github.com/dolthub/swiss's open-addressing map, the same
// one the teacher uses for its block-handle lookup
// (memutils/metadata/tlsf.go's handleKey), and charges its estimated
// footprint against a wrapped allockit.Allocator's statistics as entries
// come and go.
//
// The swiss.Map's own bucket arrays are always host-heap memory managed by
// the Go runtime — they are never placed inside the wrapped allocator's
// buffer. This lets a caller budget small, long-lived metadata against a
// pool's accounting without requiring the unsafe, GC-unsafe trick of
// literally homing a Go map's internal buckets inside someone else's byte
// buffer. See DESIGN.md for why that stronger form is out of reach in Go.
//
// A MapAdapter must not outlive the allocator it wraps, per spec.md §4.6.
type MapAdapter[K comparable, V any] struct {
	alloc allockit.Allocator
	m     *swiss.Map[K, V]
	stats allocerr.Statistics
}

// NewMapAdapter constructs an empty MapAdapter with the given initial
// capacity hint, charging nothing against alloc until entries are put.
func NewMapAdapter[K comparable, V any](alloc allockit.Allocator, initialCapacity uint32) *MapAdapter[K, V] {
	return &MapAdapter[K, V]{alloc: alloc, m: swiss.NewMap[K, V](initialCapacity)}
}

// Put inserts or overwrites the value for key, charging an additional
// estimated entry footprint against the wrapped allocator's statistics if
// key is new.
func (a *MapAdapter[K, V]) Put(key K, value V) {
	if _, exists := a.m.Get(key); !exists {
		a.stats.AllocationCount++
		a.stats.AllocationBytes += entryOverheadEstimate
	}
	a.m.Put(key, value)
}

// Get returns the value for key and whether it was present.
func (a *MapAdapter[K, V]) Get(key K) (V, bool) {
	return a.m.Get(key)
}

// Delete removes key, if present, releasing its charged footprint.
func (a *MapAdapter[K, V]) Delete(key K) {
	if _, exists := a.m.Get(key); exists {
		a.stats.AllocationCount--
		a.stats.AllocationBytes -= entryOverheadEstimate
		a.m.Delete(key)
	}
}

// Len returns the number of entries currently stored.
func (a *MapAdapter[K, V]) Len() int {
	return a.m.Count()
}

// AddStatistics charges this adapter's estimated footprint into stats, so a
// caller accounting for an allocator's total commitment can include small
// long-lived metadata maps alongside the allocator's own managed bytes.
func (a *MapAdapter[K, V]) AddStatistics(stats *allocerr.Statistics) {
	stats.AddStatistics(&a.stats)
}
