package host

import (
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/vmem/memutils"
)

// HeapAllocator allocates blocks from the Go heap. Each block is a byte slice over-allocated by
// alignment-1 bytes so an aligned address can be carved from it; the slice is held until the block
// is freed so the collector never reclaims it early. The Go heap does not move objects, so the
// aligned address stays valid for the life of the block. The Go runtime aborts the process rather
// than fail an allocation it cannot satisfy, so hosts that must survive memory pressure should wrap a
// HeapAllocator in a BudgetAllocator.
//
// HeapAllocator is not safe for concurrent use.
type HeapAllocator struct {
	blocks *swiss.Map[uintptr, []byte]
}

var _ Allocator = &HeapAllocator{}

func NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{
		blocks: swiss.NewMap[uintptr, []byte](16),
	}
}

func (a *HeapAllocator) AllocateAligned(alignment, size uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, memutils.ErrInvalidSize
	}
	if alignment == 0 {
		alignment = 1
	}
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return nil, err
	}

	total := size + alignment - 1
	if total < size || total > math.MaxInt {
		return nil, errors.Wrapf(memutils.ErrOutOfMemory, "%d bytes aligned to %d cannot be allocated from the heap", size, alignment)
	}

	buf := make([]byte, total)
	start := uintptr(unsafe.Pointer(&buf[0]))
	ptr := unsafe.Add(unsafe.Pointer(&buf[0]), memutils.AlignUp(start, alignment)-start)
	a.blocks.Put(uintptr(ptr), buf)

	return ptr, nil
}

func (a *HeapAllocator) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return errors.New("attempted to free a nil block")
	}

	if _, ok := a.blocks.Get(uintptr(ptr)); !ok {
		return errors.Newf("attempted to free %p, which was not allocated by this heap allocator", ptr)
	}

	a.blocks.Delete(uintptr(ptr))

	return nil
}

// BlockCount returns the number of blocks currently allocated
func (a *HeapAllocator) BlockCount() int {
	return a.blocks.Count()
}
