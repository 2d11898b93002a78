// Package allocerr holds the error taxonomy and small arithmetic/debug helpers
// shared by every allocator in this module. Programming invariant violations in
// the allocators themselves are not represented as errors here — per each
// allocator's contract, those panic at the call site with a diagnostic message.
// The sentinels in this file are returned only for malformed construction
// parameters, which a caller can validate ahead of time without risking a
// crash.
package allocerr

import "github.com/pkg/errors"

// ErrNotPowerOfTwo is returned when a construction parameter required to be a
// power of two is not.
var ErrNotPowerOfTwo error = errors.New("value must be a power of two")

// ErrBlockTooSmall is returned when a block size is smaller than the minimum
// an allocator can support — generally twice the machine pointer size, so an
// intrusive free-list node fits inside every free block.
var ErrBlockTooSmall error = errors.New("block size is smaller than the minimum supported size")

// ErrHeaderDoesNotFit is returned when an allocator's embedded bookkeeping
// header would not fit inside the buffer it was asked to manage.
var ErrHeaderDoesNotFit error = errors.New("bookkeeping header does not fit inside the requested buffer")
