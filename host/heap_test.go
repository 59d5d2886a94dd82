package host_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/vmem/host"
	"github.com/vkngwrapper/vmem/memutils"
)

func TestHeapAllocatorAlignment(t *testing.T) {
	allocator := host.NewHeapAllocator()

	for _, alignment := range []uintptr{1, 8, 4096, 16384, 65536} {
		ptr, err := allocator.AllocateAligned(alignment, 1000)
		require.NoError(t, err)
		require.NotNil(t, ptr)
		require.Zero(t, uintptr(ptr)%alignment, "alignment %d", alignment)

		// The whole requested range must be writable
		buf := unsafe.Slice((*byte)(ptr), 1000)
		buf[0] = 1
		buf[999] = 1
	}

	require.Equal(t, 5, allocator.BlockCount())
}

func TestHeapAllocatorFree(t *testing.T) {
	allocator := host.NewHeapAllocator()

	ptr, err := allocator.AllocateAligned(4096, 4096)
	require.NoError(t, err)
	require.Equal(t, 1, allocator.BlockCount())

	require.Error(t, allocator.Free(unsafe.Add(ptr, 8)))
	require.Equal(t, 1, allocator.BlockCount())

	require.NoError(t, allocator.Free(ptr))
	require.Equal(t, 0, allocator.BlockCount())

	require.Error(t, allocator.Free(ptr))
	require.Error(t, allocator.Free(nil))
}

func TestHeapAllocatorRejectsBadArguments(t *testing.T) {
	allocator := host.NewHeapAllocator()

	_, err := allocator.AllocateAligned(4096, 0)
	require.ErrorIs(t, err, memutils.ErrInvalidSize)

	_, err = allocator.AllocateAligned(3000, 4096)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)

	require.Equal(t, 0, allocator.BlockCount())
}

func TestBudgetAllocator(t *testing.T) {
	budget := host.NewBudgetAllocator(host.NewHeapAllocator(), 8192)

	first, err := budget.AllocateAligned(4096, 4096)
	require.NoError(t, err)
	second, err := budget.AllocateAligned(4096, 4096)
	require.NoError(t, err)
	require.Equal(t, uintptr(8192), budget.BlockBytes())
	require.Equal(t, uintptr(0), budget.Remaining())

	_, err = budget.AllocateAligned(4096, 1)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)
	require.True(t, memutils.IsResourceExhausted(err))
	require.Equal(t, 2, budget.BlockCount())

	require.NoError(t, budget.Free(first))
	require.Equal(t, uintptr(4096), budget.Remaining())

	third, err := budget.AllocateAligned(4096, 4096)
	require.NoError(t, err)

	require.Error(t, budget.Free(first))
	require.NoError(t, budget.Free(second))
	require.NoError(t, budget.Free(third))
	require.Equal(t, 0, budget.BlockCount())
	require.Equal(t, uintptr(0), budget.BlockBytes())
}

func TestPageSize(t *testing.T) {
	pageSize := host.PageSize()
	require.NotZero(t, pageSize)
	require.NoError(t, memutils.CheckPow2(pageSize, "page size"))
}
