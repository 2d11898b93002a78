package buddy_test

import (
	"testing"
	"unsafe"

	"github.com/blockforge/allockit/buddy"
	"github.com/stretchr/testify/require"
)

// TestSplitAndMergeScenario exercises spec.md §8 scenario 3's split/merge
// shape: a third 128-byte allocation is added so that two of the three
// returned blocks are true buddies of each other (the header's own embedded
// bookkeeping permanently occupies one level-5 block, so the very first
// 128-byte allocation is not paired with the second the way an idealized,
// header-free buddy allocator's would be — see DESIGN.md). Deallocating that
// true buddy pair must merge back to level 4 and push the result onto that
// level's free list; deallocating the header-adjacent block must not.
func TestSplitAndMergeScenario(t *testing.T) {
	a, err := buddy.NewWithMinBlockSize(4096, 64)
	require.NoError(t, err)

	require.Equal(t, 1, a.FreeListLength(3), "level 3 carries the header's leftover free block untouched")

	p1, err := a.Allocate(128)
	require.NoError(t, err)
	p2, err := a.Allocate(128)
	require.NoError(t, err)
	p3, err := a.Allocate(128)
	require.NoError(t, err)
	require.Equal(t, 3, a.OutstandingCount())
	require.Equal(t, 0, a.FreeListLength(5))
	require.Equal(t, 0, a.FreeListLength(4), "the level 4 block that was split to service the second allocation leaves nothing behind at level 4")

	require.NoError(t, a.Deallocate(p2))
	require.Equal(t, 1, a.FreeListLength(5))

	require.NoError(t, a.Deallocate(p3))
	require.Equal(t, 0, a.FreeListLength(5), "both buddies at level 5 are now free and have merged away")
	require.Equal(t, 1, a.FreeListLength(4), "the merged block reappears on level 4's free list")

	require.NoError(t, a.Deallocate(p1))
	require.Equal(t, 1, a.FreeListLength(5), "the header-adjacent block never merges: its buddy is permanently allocated")

	require.Equal(t, 1, a.FreeListLength(3), "untouched throughout")
	require.Equal(t, 0, a.OutstandingCount())
	require.NoError(t, a.Validate())
	require.NoError(t, a.Close())
}

func TestRoundTripManySizes(t *testing.T) {
	a, err := buddy.NewWithMinBlockSize(8192, 64)
	require.NoError(t, err)

	var ptrs []unsafe.Pointer
	for _, size := range []int{16, 64, 100, 500, 1000} {
		p, err := a.Allocate(size)
		require.NoError(t, err)
		ptrs = append(ptrs, p)
	}
	require.Equal(t, len(ptrs), a.OutstandingCount())

	for _, p := range ptrs {
		require.NoError(t, a.Deallocate(p))
	}
	require.Equal(t, 0, a.OutstandingCount())
	require.NoError(t, a.Validate())
	require.NoError(t, a.Close())
}

func TestOutOfMemoryPanics(t *testing.T) {
	a, err := buddy.NewWithMinBlockSize(128, 64)
	require.NoError(t, err)

	_, err = a.Allocate(64)
	require.NoError(t, err)

	require.Panics(t, func() { _, _ = a.Allocate(64) })
}

func TestOversizedAllocationPanics(t *testing.T) {
	a, err := buddy.NewWithMinBlockSize(4096, 64)
	require.NoError(t, err)

	require.Panics(t, func() { _, _ = a.Allocate(a.MaxAllocationSize() + 1) })
}

func TestConstructionValidatesParameters(t *testing.T) {
	_, err := buddy.NewWithMinBlockSize(4000, 64)
	require.Error(t, err, "buffer size must be a power of two")

	_, err = buddy.NewWithMinBlockSize(4096, 48)
	require.Error(t, err, "min block size must be a power of two")

	_, err = buddy.NewWithMinBlockSize(4096, 8)
	require.Error(t, err, "min block size must exceed twice the pointer size")
}

func TestParentedByAnotherBuddy(t *testing.T) {
	parent, err := buddy.New(64 * 1024)
	require.NoError(t, err)

	child, err := buddy.NewWithParent(parent, 4096, 64)
	require.NoError(t, err)

	p, err := child.Allocate(128)
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NoError(t, child.Deallocate(p))
	require.NoError(t, child.Close())
	require.NoError(t, parent.Close())
}
