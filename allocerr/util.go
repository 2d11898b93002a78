package allocerr

import (
	"math/bits"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
)

// Number is the set of integer types the arithmetic helpers in this file
// operate over.
type Number interface {
	~int | ~uint | ~uintptr
}

// CheckPow2 returns ErrNotPowerOfTwo, wrapped with the parameter's name and
// value, if number is not a power of two. Zero is not considered a power of
// two.
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(ErrNotPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

// IsPow2 reports whether value is a power of two. Zero is not a power of two.
func IsPow2[T Number](value T) bool {
	return value != 0 && value&(value-1) == 0
}

// NextPow2 returns the smallest power of two greater than or equal to value.
func NextPow2[T Number](value T) T {
	if value <= 1 {
		return 1
	}
	return T(1) << bits.Len64(uint64(value-1))
}

// Shift returns the base-2 logarithm of value, which must be a power of two.
// This is the "shift count" helper referenced in the allocator designs: the
// number of right-shifts that turns a power-of-two size into 1.
func Shift[T Number](value T) uint {
	return uint(bits.TrailingZeros64(uint64(value)))
}

// AlignUp rounds value up to the nearest multiple of alignment, which must be
// a power of two.
func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignDown rounds value down to the nearest multiple of alignment, which
// must be a power of two.
func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// IsAligned reports whether value is already a multiple of alignment, which
// must be a power of two.
func IsAligned(value int, alignment uint) bool {
	return value&int(alignment-1) == 0
}

// PointerSize is the machine pointer alignment every allocator in this module
// aligns its returned regions to.
var PointerSize = uint(unsafe.Sizeof(uintptr(0)))
