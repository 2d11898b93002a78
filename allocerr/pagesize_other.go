//go:build !unix

package allocerr

// fallbackPageSize is used where the host page size cannot be queried.
const fallbackPageSize = 4096

// PageSize returns fallbackPageSize: no host-specific probe is available on
// this platform.
func PageSize() int {
	return fallbackPageSize
}
