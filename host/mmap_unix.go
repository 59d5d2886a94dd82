//go:build unix

package host

import (
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/vmem/memutils"
	"golang.org/x/sys/unix"
)

// MmapAllocator allocates blocks from anonymous private mappings. Alignments above the page size are
// met by over-mapping and handing out an aligned address inside the mapping. The slack is never
// trimmed: a block is only ever unmapped whole, which is the one operation the hosts this module
// targets provide.
//
// MmapAllocator is not safe for concurrent use.
type MmapAllocator struct {
	pageSize uintptr
	mappings *swiss.Map[uintptr, []byte]
}

var _ Allocator = &MmapAllocator{}

func NewMmapAllocator() *MmapAllocator {
	return &MmapAllocator{
		pageSize: uintptr(unix.Getpagesize()),
		mappings: swiss.NewMap[uintptr, []byte](16),
	}
}

func (a *MmapAllocator) AllocateAligned(alignment, size uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, memutils.ErrInvalidSize
	}
	if alignment < a.pageSize {
		alignment = a.pageSize
	}
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return nil, err
	}

	// Mappings are always page-aligned, so only the alignment beyond a page needs slack
	length := memutils.AlignUp(size, a.pageSize) + alignment - a.pageSize
	if length < size || length > math.MaxInt {
		return nil, errors.Wrapf(memutils.ErrOutOfMemory, "%d bytes aligned to %d cannot be mapped", size, alignment)
	}

	mem, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.WithSecondaryError(errors.Wrapf(memutils.ErrOutOfMemory, "mmap: failed to map %d bytes", length), err)
	}

	start := uintptr(unsafe.Pointer(&mem[0]))
	ptr := unsafe.Add(unsafe.Pointer(&mem[0]), memutils.AlignUp(start, alignment)-start)
	a.mappings.Put(uintptr(ptr), mem)

	return ptr, nil
}

func (a *MmapAllocator) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return errors.New("attempted to free a nil block")
	}

	mem, ok := a.mappings.Get(uintptr(ptr))
	if !ok {
		return errors.Newf("attempted to free %p, which was not mapped by this allocator", ptr)
	}

	err := unix.Munmap(mem)
	if err != nil {
		return errors.Wrapf(err, "munmap: failed to unmap block at %p", ptr)
	}

	a.mappings.Delete(uintptr(ptr))
	return nil
}

// BlockCount returns the number of blocks currently mapped
func (a *MmapAllocator) BlockCount() int {
	return a.mappings.Count()
}
