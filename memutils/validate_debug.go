//go:build debug_vmem

package memutils

import (
	"fmt"
	"unsafe"
)

// DebugEnabled is true when the module is built with the debug_vmem build tag
const DebugEnabled = true

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_vmem build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_vmem build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}

// DebugCheckZeroed verifies that size bytes starting at data all read as zero, and panics at the first
// byte that does not. This method no-ops unless the debug_vmem build tag is present.
func DebugCheckZeroed(data unsafe.Pointer, size uintptr) {
	if size == 0 {
		return
	}

	for i, b := range unsafe.Slice((*byte)(data), size) {
		if b != 0 {
			panic(fmt.Sprintf("byte at offset %d of %p was %#x after zero fill", i, data, b))
		}
	}
}
