//go:build debug_allockit

package allocerr

import "unsafe"

// DebugMargin is the number of bytes of anti-corruption padding placed after
// every allocation in blocks managed by this module. It is sized to exactly
// two machine pointers rather than a flat constant, because the thing it is
// meant to catch is a write past an allocation's end into memory this module
// itself treats as structurally significant: a free block's intrusive.Node
// (one Prev pointer, one Next pointer — see the intrusive package) is
// exactly that size. A corrupted margin is therefore, in practice, exactly as
// serious a corruption as a stomped free-list link.
var DebugMargin = 2 * int(PointerSize)

// corruptionDetectionMagicValue is the 4-byte pattern written across
// DebugMargin bytes after every allocation: the ASCII bytes of "ALOK", short
// for this module's own root package name, packed big-endian into a uint32.
const corruptionDetectionMagicValue uint32 = 0x414C4F4B

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes
// at the provided pointer and offset. It no-ops unless the debug_allockit
// build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
	dest := unsafe.Add(data, offset)
	marginSize := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < marginSize; i++ {
		*(*uint32)(dest) = corruptionDetectionMagicValue
		dest = unsafe.Add(dest, unsafe.Sizeof(uint32(0)))
	}
}

// ValidateMagicValue verifies that the marker written by WriteMagicValue is
// still present, returning false if it has been overwritten. It no-ops
// (always returning true) unless the debug_allockit build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	source := unsafe.Add(data, offset)
	marginSize := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < marginSize; i++ {
		value := (*uint32)(source)
		if *value != corruptionDetectionMagicValue {
			return false
		}
		source = unsafe.Add(source, unsafe.Sizeof(uint32(0)))
	}

	return true
}

// DebugValidate calls Validate on validatable and panics if it returns an
// error. It no-ops unless the debug_allockit build tag is present.
func DebugValidate(validatable Validatable) {
	if err := validatable.Validate(); err != nil {
		panic(err)
	}
}

// DebugCheckPow2 panics if value is not a power of two. It no-ops unless the
// debug_allockit build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	if err := CheckPow2[T](value, name); err != nil {
		panic(err)
	}
}
