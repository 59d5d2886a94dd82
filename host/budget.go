package host

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/vmem/memutils"
)

// BudgetAllocator wraps another Allocator and refuses any allocation that would push the bytes it
// has handed out past a fixed budget. It is useful for exercising out-of-memory paths and for capping
// a heap on hosts that would otherwise abort when memory runs out.
type BudgetAllocator struct {
	inner      Allocator
	maxBytes   uintptr
	sizes      *swiss.Map[uintptr, uintptr]
	blockBytes uintptr
}

var _ Allocator = &BudgetAllocator{}

// NewBudgetAllocator creates a BudgetAllocator that allows at most maxBytes to be allocated from inner
// at any one time
func NewBudgetAllocator(inner Allocator, maxBytes uintptr) *BudgetAllocator {
	return &BudgetAllocator{
		inner:    inner,
		maxBytes: maxBytes,
		sizes:    swiss.NewMap[uintptr, uintptr](16),
	}
}

func (a *BudgetAllocator) AllocateAligned(alignment, size uintptr) (unsafe.Pointer, error) {
	targetVal := a.blockBytes + size
	if targetVal < a.blockBytes || targetVal > a.maxBytes {
		return nil, errors.Wrapf(memutils.ErrOutOfMemory,
			"allocating %d bytes would exceed the budget: %d of %d bytes in use", size, a.blockBytes, a.maxBytes)
	}

	ptr, err := a.inner.AllocateAligned(alignment, size)
	if err != nil {
		return nil, err
	}

	a.sizes.Put(uintptr(ptr), size)
	a.blockBytes = targetVal
	return ptr, nil
}

func (a *BudgetAllocator) Free(ptr unsafe.Pointer) error {
	size, ok := a.sizes.Get(uintptr(ptr))
	if !ok {
		return errors.Newf("attempted to free %p, which was not allocated through this budget", ptr)
	}

	err := a.inner.Free(ptr)
	if err != nil {
		return err
	}

	if a.blockBytes < size {
		panic(fmt.Sprintf("budget block bytes went negative freeing %d bytes at %p", size, ptr))
	}
	a.blockBytes -= size
	a.sizes.Delete(uintptr(ptr))

	return nil
}

// BlockCount returns the number of blocks currently allocated through the budget
func (a *BudgetAllocator) BlockCount() int {
	return a.sizes.Count()
}

// BlockBytes returns the number of bytes currently allocated through the budget
func (a *BudgetAllocator) BlockBytes() uintptr {
	return a.blockBytes
}

// Remaining returns the number of bytes that may still be allocated
func (a *BudgetAllocator) Remaining() uintptr {
	return a.maxBytes - a.blockBytes
}
