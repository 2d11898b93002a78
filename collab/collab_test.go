package collab_test

import (
	"testing"

	"github.com/blockforge/allockit/allocerr"
	"github.com/blockforge/allockit/buddy"
	"github.com/blockforge/allockit/collab"
	"github.com/blockforge/allockit/linear"
	"github.com/stretchr/testify/require"
)

type widget struct {
	value  int
	closed *bool
}

func TestUniqueLifecycle(t *testing.T) {
	a, err := linear.New(1024)
	require.NoError(t, err)

	closed := false
	u, err := collab.NewUnique(a, widget{value: 7, closed: &closed}, func(w *widget) {
		*w.closed = true
	})
	require.NoError(t, err)
	require.Equal(t, 7, u.Get().value)
	require.False(t, closed)

	require.NoError(t, u.Close())
	require.True(t, closed)
	require.NoError(t, a.Close())
}

func TestUniqueSliceReverseFinalizationOrder(t *testing.T) {
	a, err := linear.New(1024)
	require.NoError(t, err)

	var order []int
	us, err := collab.NewUniqueSlice(a, 3, widget{}, func(w *widget) {
		order = append(order, w.value)
	})
	require.NoError(t, err)

	s := us.Slice()
	for i := range s {
		s[i].value = i
	}

	require.NoError(t, us.Close())
	require.Equal(t, []int{2, 1, 0}, order)
	require.NoError(t, a.Close())
}

func TestSharedReferenceCounting(t *testing.T) {
	a, err := linear.New(1024)
	require.NoError(t, err)

	closed := false
	s1, err := collab.NewShared(a, widget{closed: &closed}, func(w *widget) {
		*w.closed = true
	})
	require.NoError(t, err)

	s2 := s1.Retain()
	require.NoError(t, s2.Release())
	require.False(t, closed, "one reference remains after the first Release")

	require.NoError(t, s1.Release())
	require.True(t, closed, "the finalizer fires only once the last reference is released")

	require.NoError(t, a.Close())
}

func TestSameComparesAllocatorIdentity(t *testing.T) {
	a1, err := linear.New(64)
	require.NoError(t, err)
	a2, err := linear.New(64)
	require.NoError(t, err)

	require.True(t, collab.Same(a1, a1))
	require.False(t, collab.Same(a1, a2))

	require.NoError(t, a1.Close())
	require.NoError(t, a2.Close())
}

func TestSliceAdapterGrowsAndPreservesElements(t *testing.T) {
	a, err := buddy.New(4096)
	require.NoError(t, err)

	s := collab.NewSliceAdapter[int](a)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(i))
	}
	require.Equal(t, 10, s.Len())
	for i := 0; i < 10; i++ {
		require.Equal(t, i, s.At(i))
	}

	require.NoError(t, s.Close())
	require.NoError(t, a.Close())
}

func TestMapAdapterChargesAndReleasesStatistics(t *testing.T) {
	a, err := linear.New(64)
	require.NoError(t, err)

	m := collab.NewMapAdapter[string, int](a, 8)
	m.Put("a", 1)
	m.Put("b", 2)
	require.Equal(t, 2, m.Len())

	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	m.Delete("a")
	require.Equal(t, 1, m.Len())

	var stats allocerr.Statistics
	m.AddStatistics(&stats)
	require.Equal(t, 1, stats.AllocationCount)

	require.NoError(t, a.Close())
}

func TestSetAdapterTracksMembershipAndStatistics(t *testing.T) {
	a, err := linear.New(64)
	require.NoError(t, err)

	s := collab.NewSetAdapter[int](a, 8)
	require.True(t, s.Add(1))
	require.True(t, s.Add(2))
	require.False(t, s.Add(1), "re-adding an existing member reports no change")
	require.Equal(t, 2, s.Len())
	require.True(t, s.Contains(1))
	require.False(t, s.Contains(3))

	require.True(t, s.Remove(1))
	require.False(t, s.Remove(1), "removing an absent member reports no change")
	require.Equal(t, 1, s.Len())

	var stats allocerr.Statistics
	s.AddStatistics(&stats)
	require.Equal(t, 1, stats.AllocationCount)

	require.NoError(t, a.Close())
}
