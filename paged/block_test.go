package paged_test

import (
	"testing"
	"unsafe"

	"github.com/blockforge/allockit/paged"
	"github.com/stretchr/testify/require"
)

func TestBlockGrowsOnExhaustion(t *testing.T) {
	a, err := paged.NewBlockWithBlocksPerPage(32, 8)
	require.NoError(t, err)
	require.Equal(t, 1, a.PageCount())

	var ptrs [9]unsafe.Pointer
	for i := range ptrs {
		p, err := a.Allocate(32)
		require.NoError(t, err)
		ptrs[i] = p
	}
	require.Equal(t, 2, a.PageCount())

	for _, p := range ptrs {
		require.NoError(t, a.Deallocate(p))
	}
	require.Equal(t, 2, a.PageCount(), "pages are never shrunk back on deallocation")

	var more [16]unsafe.Pointer
	for i := range more {
		p, err := a.Allocate(32)
		require.NoError(t, err)
		more[i] = p
	}
	require.Equal(t, 2, a.PageCount())

	for _, p := range more {
		require.NoError(t, a.Deallocate(p))
	}
	require.NoError(t, a.Close())
}

func TestBlockDeallocateUnknownPointerPanics(t *testing.T) {
	a, err := paged.NewBlockWithBlocksPerPage(32, 4)
	require.NoError(t, err)

	var stray [32]byte
	require.Panics(t, func() { _ = a.Deallocate(unsafe.Pointer(&stray[0])) })
}

func TestBlockConstructionValidatesParameters(t *testing.T) {
	_, err := paged.NewBlockWithBlocksPerPage(17, 4)
	require.Error(t, err)

	_, err = paged.NewBlockWithBlocksPerPage(32, 0)
	require.Error(t, err)
}
