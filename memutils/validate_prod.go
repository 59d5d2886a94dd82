//go:build !debug_vmem

package memutils

import "unsafe"

// DebugEnabled is true when the module is built with the debug_vmem build tag
const DebugEnabled = false

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_vmem build tag is present
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_vmem build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}

// DebugCheckZeroed verifies that size bytes starting at data all read as zero, and panics at the first
// byte that does not. This method no-ops unless the debug_vmem build tag is present.
func DebugCheckZeroed(data unsafe.Pointer, size uintptr) {
}
