//go:build unix

package allocerr

import "golang.org/x/sys/unix"

// PageSize returns the host's memory page size. paged.NewLinearDefaultPageSize
// uses this as the page size of the paged linear allocator it constructs,
// mirroring how a growable allocator would naturally align its pages to what
// the OS itself hands out.
func PageSize() int {
	return unix.Getpagesize()
}
