//go:build unix

package host_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/vmem/host"
)

func TestMmapAllocator(t *testing.T) {
	allocator := host.NewMmapAllocator()
	pageSize := host.PageSize()

	small, err := allocator.AllocateAligned(1, 100)
	require.NoError(t, err)
	require.Zero(t, uintptr(small)%pageSize)

	large, err := allocator.AllocateAligned(1<<20, 3*pageSize)
	require.NoError(t, err)
	require.Zero(t, uintptr(large)%(1<<20))

	buf := unsafe.Slice((*byte)(large), 3*pageSize)
	for i := range buf {
		require.Zero(t, buf[i])
	}
	buf[len(buf)-1] = 0xff

	require.Equal(t, 2, allocator.BlockCount())

	require.Error(t, allocator.Free(unsafe.Add(large, pageSize)))
	require.NoError(t, allocator.Free(large))
	require.NoError(t, allocator.Free(small))
	require.Error(t, allocator.Free(small))
	require.Equal(t, 0, allocator.BlockCount())
}
