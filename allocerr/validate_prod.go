//go:build !debug_allockit

package allocerr

import "unsafe"

const (
	// DebugMargin is the number of bytes of anti-corruption padding placed
	// after every allocation in blocks managed by this module.
	DebugMargin int = 0
)

// ValidateMagicValue no-ops and always returns true unless the debug_allockit
// build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	return true
}

// WriteMagicValue no-ops unless the debug_allockit build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
}

// DebugValidate no-ops unless the debug_allockit build tag is present.
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 no-ops unless the debug_allockit build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}
