package block_test

import (
	"testing"
	"unsafe"

	"github.com/blockforge/allockit/block"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	a, err := block.New(64, 4)
	require.NoError(t, err)

	var blocks [4]unsafe.Pointer
	for i := range blocks {
		p, err := a.Allocate(64)
		require.NoError(t, err)
		blocks[i] = p
	}

	for i := 1; i < 4; i++ {
		require.Equal(t, 64*i, int(uintptr(blocks[i])-uintptr(blocks[0])))
	}

	order := []int{1, 3, 0, 2}
	for _, idx := range order {
		require.NoError(t, a.Deallocate(blocks[idx]))
	}
	require.Equal(t, 4, a.FreeBlockCount())

	seen := map[unsafe.Pointer]bool{}
	for i := 0; i < 4; i++ {
		p, err := a.Allocate(64)
		require.NoError(t, err)
		seen[p] = true
	}

	for _, b := range blocks {
		require.True(t, seen[b])
	}

	for _, b := range blocks {
		require.NoError(t, a.Deallocate(b))
	}
	require.NoError(t, a.Close())
}

func TestAllocateWithNoFreeBlocksPanics(t *testing.T) {
	a, err := block.New(64, 1)
	require.NoError(t, err)

	_, err = a.Allocate(64)
	require.NoError(t, err)

	require.Panics(t, func() { _, _ = a.Allocate(64) })
}

func TestOversizedRequestPanics(t *testing.T) {
	a, err := block.New(64, 1)
	require.NoError(t, err)

	require.Panics(t, func() { _, _ = a.Allocate(128) })
}

func TestConstructionValidatesBlockSize(t *testing.T) {
	_, err := block.New(8, 4)
	require.Error(t, err)

	_, err = block.New(17, 4)
	require.Error(t, err)
}
