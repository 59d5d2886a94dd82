// Package host contains the block allocators that back an emulated address space. An Allocator can
// hand out aligned blocks and take whole blocks back, and nothing more: it cannot unmap part of a
// block, commit lazily, or track writes.
package host

import (
	"os"
	"unsafe"
)

//go:generate mockgen -destination ../mocks/host_allocator.go -package mocks github.com/vkngwrapper/vmem/host Allocator

// Allocator is the host primitive an address space is built on
type Allocator interface {
	// AllocateAligned returns a block of at least size bytes whose address is a multiple of alignment.
	// alignment is always a power of two. The contents of the block are unspecified.
	AllocateAligned(alignment, size uintptr) (unsafe.Pointer, error)
	// Free returns a block previously returned by AllocateAligned to the host. ptr must be the exact
	// address that AllocateAligned returned.
	Free(ptr unsafe.Pointer) error
}

// PageSize returns the host page size, the minimum alignment of any reservation
func PageSize() uintptr {
	return uintptr(os.Getpagesize())
}
