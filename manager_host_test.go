package vmem_test

import (
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/vmem"
	"github.com/vkngwrapper/vmem/host"
	"github.com/vkngwrapper/vmem/memutils"
	"github.com/vkngwrapper/vmem/mocks"
	"go.uber.org/mock/gomock"
)

func TestHostAllocationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := mocks.NewMockAllocator(ctrl)
	allocator.EXPECT().AllocateAligned(uintptr(16384), uintptr(8192)).Return(unsafe.Pointer(nil), errors.New("posix_memalign: ENOMEM"))

	manager := readyManager(t, allocator, vmem.CreateOptions{})

	ptr, err := manager.Reserve(8192, 16384, 0, 0)
	require.Nil(t, ptr)
	require.ErrorIs(t, err, vmem.ErrOutOfMemory)
	require.True(t, memutils.IsResourceExhausted(err))
	require.Equal(t, 0, manager.ExtentCount())
	require.Equal(t, 1, manager.Counters().FailedReservations)
}

func TestHostReturnsNilBlock(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := mocks.NewMockAllocator(ctrl)
	allocator.EXPECT().AllocateAligned(testPageSize, uintptr(4096)).Return(unsafe.Pointer(nil), nil)

	manager := readyManager(t, allocator, vmem.CreateOptions{})

	_, err := manager.Reserve(4096, 0, 0, 0)
	require.ErrorIs(t, err, vmem.ErrOutOfMemory)
	require.Equal(t, 0, manager.ExtentCount())
}

func TestRejectedRequestsNeverReachHost(t *testing.T) {
	ctrl := gomock.NewController(t)

	// No expectations: any host call fails the test
	allocator := mocks.NewMockAllocator(ctrl)
	manager := readyManager(t, allocator, vmem.CreateOptions{})

	_, err := manager.Reserve(4096, 0, vmem.ReserveWriteWatch, 0)
	require.ErrorIs(t, err, vmem.ErrUnsupportedFlag)

	_, err = manager.Reserve(0, 0, 0, 0)
	require.ErrorIs(t, err, vmem.ErrInvalidSize)

	_, err = manager.Reserve(4096, 12, 0, 0)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)

	outside := make([]byte, 16)
	err = manager.Release(unsafe.Pointer(&outside[0]), 16)
	require.ErrorIs(t, err, vmem.ErrUnknownAddress)
}

func TestCapacityExhaustedReturnsBlockToHost(t *testing.T) {
	ctrl := gomock.NewController(t)

	heap := host.NewHeapAllocator()
	first, err := heap.AllocateAligned(testPageSize, 4096)
	require.NoError(t, err)
	second, err := heap.AllocateAligned(testPageSize, 4096)
	require.NoError(t, err)

	allocator := mocks.NewMockAllocator(ctrl)
	gomock.InOrder(
		allocator.EXPECT().AllocateAligned(testPageSize, uintptr(4096)).Return(first, nil),
		allocator.EXPECT().AllocateAligned(testPageSize, uintptr(4096)).Return(second, nil),
		allocator.EXPECT().Free(second).Return(nil),
	)

	manager := readyManager(t, allocator, vmem.CreateOptions{MaxExtents: 1})

	ptr, err := manager.Reserve(4096, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, first, ptr)

	_, err = manager.Reserve(4096, 0, 0, 0)
	require.ErrorIs(t, err, vmem.ErrCapacityExhausted)
	require.Equal(t, 1, manager.ExtentCount())
}

func TestHostFreeFailureKeepsExtent(t *testing.T) {
	ctrl := gomock.NewController(t)

	heap := host.NewHeapAllocator()
	block, err := heap.AllocateAligned(testPageSize, 8192)
	require.NoError(t, err)

	allocator := mocks.NewMockAllocator(ctrl)
	allocator.EXPECT().AllocateAligned(testPageSize, uintptr(8192)).Return(block, nil)

	manager := readyManager(t, allocator, vmem.CreateOptions{
		ReleasePolicy: vmem.ReleaseWholeExtent,
	})

	ptr, err := manager.Reserve(8192, 0, 0, 0)
	require.NoError(t, err)

	hostErr := errors.New("munmap: EINVAL")
	allocator.EXPECT().Free(block).Return(hostErr)

	// The quirk frees from the true base, not from the address passed in
	err = manager.Release(unsafe.Add(ptr, 4096), 4096)
	require.ErrorIs(t, err, hostErr)
	require.False(t, memutils.IsContractViolation(err))

	_, ok := manager.Lookup(ptr)
	require.True(t, ok)
	require.Equal(t, 0, manager.Counters().Releases)

	allocator.EXPECT().Free(block).Return(nil)
	require.NoError(t, manager.Release(ptr, 8192))
	require.Equal(t, 0, manager.ExtentCount())
}

func TestCloseCombinesHostErrors(t *testing.T) {
	ctrl := gomock.NewController(t)

	heap := host.NewHeapAllocator()
	first, err := heap.AllocateAligned(testPageSize, 4096)
	require.NoError(t, err)
	second, err := heap.AllocateAligned(testPageSize, 4096)
	require.NoError(t, err)

	allocator := mocks.NewMockAllocator(ctrl)
	allocator.EXPECT().AllocateAligned(testPageSize, uintptr(4096)).Return(first, nil)
	allocator.EXPECT().AllocateAligned(testPageSize, uintptr(4096)).Return(second, nil)

	manager := readyManager(t, allocator, vmem.CreateOptions{})

	_, err = manager.Reserve(4096, 0, 0, 0)
	require.NoError(t, err)
	_, err = manager.Reserve(4096, 0, 0, 0)
	require.NoError(t, err)

	hostErr := errors.New("free failed")
	allocator.EXPECT().Free(first).Return(nil)
	allocator.EXPECT().Free(second).Return(hostErr)

	err = manager.Close()
	require.ErrorIs(t, err, hostErr)

	require.Equal(t, 1, manager.ExtentCount())
	_, ok := manager.Lookup(second)
	require.True(t, ok)
	require.NoError(t, manager.Validate())
}
