package linear_test

import (
	"testing"
	"unsafe"

	"github.com/blockforge/allockit/linear"
	"github.com/stretchr/testify/require"
)

func TestHappyPath(t *testing.T) {
	a, err := linear.New(1024)
	require.NoError(t, err)

	p1, err := a.Allocate(300)
	require.NoError(t, err)
	p2, err := a.Allocate(500)
	require.NoError(t, err)
	p3, err := a.Allocate(100)
	require.NoError(t, err)

	require.Equal(t, 304, delta(p2, p1))
	require.Equal(t, 504, delta(p3, p2))

	require.NoError(t, a.Deallocate(p1))
	require.NoError(t, a.Deallocate(p2))
	require.NoError(t, a.Deallocate(p3))

	a.Reset()

	p4, err := a.Allocate(300)
	require.NoError(t, err)
	require.Equal(t, p1, p4)

	require.NoError(t, a.Deallocate(p4))
	require.NoError(t, a.Close())
}

func TestResetIdempotence(t *testing.T) {
	a, err := linear.New(256)
	require.NoError(t, err)

	p, err := a.Allocate(64)
	require.NoError(t, err)
	require.NoError(t, a.Deallocate(p))

	a.Reset()
	first := a.FreeSpace()
	a.Reset()
	require.Equal(t, first, a.FreeSpace())
}

func TestResetWithOutstandingAllocationsPanics(t *testing.T) {
	a, err := linear.New(128)
	require.NoError(t, err)

	_, err = a.Allocate(16)
	require.NoError(t, err)

	require.Panics(t, func() { a.Reset() })
}

func TestOversizedAllocationPanics(t *testing.T) {
	a, err := linear.New(64)
	require.NoError(t, err)

	require.Panics(t, func() { _, _ = a.Allocate(128) })
}

func TestParentedConstruction(t *testing.T) {
	parent, err := linear.New(4096)
	require.NoError(t, err)

	child, err := linear.NewWithParent(parent, 512)
	require.NoError(t, err)

	p, err := child.Allocate(64)
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NoError(t, child.Deallocate(p))
	require.NoError(t, child.Close())
}

func delta(a, b unsafe.Pointer) int {
	return int(uintptr(a) - uintptr(b))
}
