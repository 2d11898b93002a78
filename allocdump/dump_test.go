package allocdump_test

import (
	"testing"

	"github.com/blockforge/allockit/allocdump"
	"github.com/blockforge/allockit/block"
	"github.com/blockforge/allockit/linear"
	"github.com/stretchr/testify/require"
)

func TestDumpLinear(t *testing.T) {
	a, err := linear.New(256)
	require.NoError(t, err)

	_, err = a.Allocate(64)
	require.NoError(t, err)

	out, err := allocdump.Dump(a)
	require.NoError(t, err)
	require.Contains(t, string(out), "TotalBytes")
	require.Contains(t, string(out), "256")
}

func TestDumpNamed(t *testing.T) {
	la, err := linear.New(64)
	require.NoError(t, err)
	ba, err := block.New(32, 2)
	require.NoError(t, err)

	out, err := allocdump.DumpNamed(map[string]allocdump.Dumpable{
		"linear": la,
		"block":  ba,
	})
	require.NoError(t, err)
	require.Contains(t, string(out), "linear")
	require.Contains(t, string(out), "block")
}
