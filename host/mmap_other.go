//go:build !unix

package host

// MmapAllocator falls back to the Go heap on platforms without anonymous mmap support
type MmapAllocator struct {
	HeapAllocator
}

var _ Allocator = &MmapAllocator{}

func NewMmapAllocator() *MmapAllocator {
	return &MmapAllocator{
		HeapAllocator: *NewHeapAllocator(),
	}
}
