package paged_test

import (
	"testing"
	"unsafe"

	"github.com/blockforge/allockit/allocerr"
	"github.com/blockforge/allockit/buddy"
	"github.com/blockforge/allockit/paged"
	"github.com/stretchr/testify/require"
)

func TestLinearResetAndShrink(t *testing.T) {
	a, err := paged.NewLinear(256)
	require.NoError(t, err)

	p1, err := a.Allocate(200)
	require.NoError(t, err)
	p2, err := a.Allocate(200)
	require.NoError(t, err)
	require.Equal(t, 2, a.PageCount())

	require.NoError(t, a.Deallocate(p1))
	require.NoError(t, a.Deallocate(p2))

	a.Reset()
	require.Equal(t, 2, a.PageCount(), "Reset does not drop pages")

	require.NoError(t, a.ResetAndShrink())
	require.Equal(t, 1, a.PageCount())
}

func TestLinearDefaultPageSizeUsesHostPageSize(t *testing.T) {
	a, err := paged.NewLinearDefaultPageSize()
	require.NoError(t, err)
	require.Equal(t, allocerr.PageSize(), a.MaxAllocationSize())
	require.NoError(t, a.Close())
}

func TestLinearDeallocateUnknownPointerPanics(t *testing.T) {
	a, err := paged.NewLinear(64)
	require.NoError(t, err)

	var stray [8]byte
	require.Panics(t, func() { _ = a.Deallocate(unsafe.Pointer(&stray[0])) })
}

func TestLinearParentedByBuddy(t *testing.T) {
	b, err := buddy.New(64 * 1024)
	require.NoError(t, err)

	before := b.OutstandingCount()

	pagedLinear, err := paged.NewLinearWithParent(b, 4096)
	require.NoError(t, err)
	require.Equal(t, before+1, b.OutstandingCount())

	p, err := pagedLinear.Allocate(3 * 1024)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, before+1, b.OutstandingCount(), "allocating within an existing page does not touch the buddy parent")

	require.NoError(t, pagedLinear.Deallocate(p))
	pagedLinear.Reset()
	require.Equal(t, before+1, b.OutstandingCount(), "resetting the paged linear does not return its page to the buddy parent")

	require.NoError(t, pagedLinear.Close())
	require.Equal(t, before, b.OutstandingCount())

	require.NoError(t, b.Close())
}
