package smallobj_test

import (
	"testing"
	"unsafe"

	"github.com/blockforge/allockit/smallobj"
	"github.com/stretchr/testify/require"
)

func TestRoutingBySizeClass(t *testing.T) {
	a, err := smallobj.New(1024)
	require.NoError(t, err)

	sizes := []int{5, 17, 40, 100}
	for class, size := range sizes {
		p, err := a.Allocate(size)
		require.NoError(t, err)
		require.True(t, a.ChildAt(class).Contains(p), "size %d should land in class %d", size, class)
	}
}

func TestOversizedRequestPanics(t *testing.T) {
	a, err := smallobj.New(1024)
	require.NoError(t, err)

	require.Panics(t, func() { _, _ = a.Allocate(a.MaxAllocationSize() + 1) })
}

func TestDeallocateRoutesToOwningChild(t *testing.T) {
	a, err := smallobj.New(1024)
	require.NoError(t, err)

	p, err := a.Allocate(5)
	require.NoError(t, err)
	require.NoError(t, a.Deallocate(p))
}

func TestDeallocateUnknownPointerPanics(t *testing.T) {
	a, err := smallobj.New(1024)
	require.NoError(t, err)

	var stray int
	require.Panics(t, func() { _ = a.Deallocate(unsafe.Pointer(&stray)) })
}
