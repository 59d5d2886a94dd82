package vmem

import (
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/vmem/extent"
	"github.com/vkngwrapper/vmem/host"
	"github.com/vkngwrapper/vmem/memutils"
)

// Manager emulates a reserve/commit/decommit/release address space on top of a host allocator that
// can only allocate aligned blocks and free whole blocks. Every reservation is one host block, tracked
// as an extent. Commit is bookkeeping only, decommit zero-fills, and release frees the whole block.
//
// Manager is not safe for concurrent use. Callers must serialize every call, typically by only
// changing heap topology while they hold exclusive control of the heap.
type Manager struct {
	logger        *slog.Logger
	host          host.Allocator
	extents       *extent.Table
	createFlags   CreateFlags
	releasePolicy ReleasePolicy
	pageSize      uintptr

	capacityWarning int
	capacityWarned  bool

	counters OperationCounters
}

// PageSize returns the minimum alignment of every reservation
func (m *Manager) PageSize() uintptr {
	return m.pageSize
}

// Reserve sets aside size bytes of address space and returns its starting address. The range reads as
// zero until it is written.
//
// alignment - The required alignment of the returned address. It must be zero or a power of two; values
// below the page size are raised to the page size.
//
// flags - Special reservation settings. None are supported by this host, and ReserveWriteWatch or any
// unknown bit fails with ErrUnsupportedFlag.
//
// node - The preferred NUMA node. It is accepted and ignored.
//
// A failure of the host allocator returns ErrOutOfMemory, and a full extent table returns
// ErrCapacityExhausted. Both leave the manager unchanged and may be retried.
func (m *Manager) Reserve(size, alignment uintptr, flags ReserveFlags, node uint16) (unsafe.Pointer, error) {
	if unsupported := flags &^ supportedReserveFlags; unsupported != 0 {
		return nil, errors.Wrapf(ErrUnsupportedFlag, "requested %s", unsupported.String())
	}

	return m.reserve(size, alignment)
}

func (m *Manager) reserve(size, alignment uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, errors.Wrap(ErrInvalidSize, "attempted to reserve 0 bytes")
	}

	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return nil, err
	}

	if alignment < m.pageSize {
		alignment = m.pageSize
	}

	block, err := m.host.AllocateAligned(alignment, size)
	if err == nil && block == nil {
		err = errors.New("host allocator returned a nil block")
	}
	if err != nil {
		m.counters.FailedReservations++
		m.logger.Debug("Manager::reserve host allocation FAILED",
			slog.Int("Size", int(size)),
			slog.Int("Alignment", int(alignment)),
			slog.Any("error", err),
		)
		return nil, errors.WithSecondaryError(
			errors.Wrapf(ErrOutOfMemory, "failed to reserve %d bytes aligned to %d", size, alignment),
			err,
		)
	}

	if !memutils.IsAligned(uintptr(block), alignment) {
		m.freeUntracked(block)
		return nil, errors.Newf("host allocator returned %p, which is not aligned to %d", block, alignment)
	}

	clear(unsafe.Slice((*byte)(block), size))
	memutils.DebugCheckZeroed(block, size)

	_, err = m.extents.Insert(block, size)
	if err != nil {
		m.freeUntracked(block)

		if errors.Is(err, ErrCapacityExhausted) {
			m.counters.FailedReservations++
			m.logger.Warn("extent table is full, reservation refused",
				slog.Int("Size", int(size)),
				slog.Int("MaxExtents", m.extents.Capacity()),
			)
		} else {
			m.logger.Error("failed to track reservation", slog.Any("error", err))
		}

		return nil, err
	}

	m.counters.Reservations++
	m.checkCapacity()

	return block, nil
}

// freeUntracked returns a block that never made it into the extent table
func (m *Manager) freeUntracked(block unsafe.Pointer) {
	err := m.host.Free(block)
	if err != nil {
		m.logger.Error("error attempting to free block after reservation failure", slog.Any("error", err))
	}
}

// ReserveAndCommitLarge reserves size bytes of page-aligned address space and commits all of it.
// Large pages have no meaning on this host, so this is an ordinary reservation. If the commit fails,
// the reservation is released before the error is returned.
func (m *Manager) ReserveAndCommitLarge(size uintptr) (unsafe.Pointer, error) {
	block, err := m.reserve(size, m.pageSize)
	if err != nil {
		return nil, err
	}

	err = m.Commit(block, size, NUMANodeUndefined)
	if err != nil {
		releaseErr := m.Release(block, size)
		if releaseErr != nil {
			m.logger.Error("error attempting to release reservation after commit failure", slog.Any("error", releaseErr))
		}
		return nil, err
	}

	return block, nil
}

// Release returns the extent containing address to the host.
//
// If address is not the base of its extent, the outcome depends on the manager's ReleasePolicy:
// ReleaseRejectPartial fails with ErrPartialRelease, and ReleaseWholeExtent frees the entire extent
// starting from its true base. If size differs from the extent's length, a warning is logged but
// the whole extent is freed regardless.
//
// An address inside no live extent fails with ErrUnknownAddress and leaves the manager unchanged.
func (m *Manager) Release(address unsafe.Pointer, size uintptr) error {
	handle, ext, err := m.lookup(address, "release")
	if err != nil {
		return err
	}

	if ext.Base != uintptr(address) {
		if m.releasePolicy == ReleaseRejectPartial {
			return m.violation(errors.Wrapf(ErrPartialRelease,
				"%p is %d bytes into the extent at %#x", address, uintptr(address)-ext.Base, ext.Base))
		}

		m.counters.WholeExtentReleases++
		m.logger.Warn("releasing whole extent for an address inside it",
			slog.String("Address", formatPointer(address)),
			slog.String("Base", formatAddress(ext.Base)),
			slog.Int("Length", int(ext.Length)),
		)
	}

	if size != ext.Length {
		m.counters.SizeMismatches++
		m.logger.Warn("SizeMismatch: release size does not match extent length",
			slog.String("Base", formatAddress(ext.Base)),
			slog.Int("Size", int(size)),
			slog.Int("Length", int(ext.Length)),
		)
	}

	err = m.host.Free(ext.Block())
	if err != nil {
		m.logger.Error("host free FAILED", slog.String("Base", formatAddress(ext.Base)), slog.Any("error", err))
		return errors.Wrapf(err, "failed to free the block at %#x", ext.Base)
	}

	err = m.extents.Remove(handle)
	if err != nil {
		return err
	}

	m.counters.Releases++
	m.checkCapacity()

	return nil
}

// Commit marks the size bytes starting at address as usable. The host has no lazy commit, so this
// only validates the range and updates bookkeeping. node is accepted and ignored.
func (m *Manager) Commit(address unsafe.Pointer, size uintptr, node uint16) error {
	handle, ext, err := m.lookup(address, "commit")
	if err != nil {
		return err
	}

	err = m.checkRange(ext, address, size, "commit")
	if err != nil {
		return err
	}

	err = m.extents.SetState(handle, extent.StateCommitted)
	if err != nil {
		return err
	}

	m.counters.Commits++
	return nil
}

// Decommit zero-fills the size bytes starting at address, so the range reads as zero if it is
// committed again. The host block stays allocated. Bytes outside the range are untouched. Decommitting
// an entire extent returns it to the reserved state.
func (m *Manager) Decommit(address unsafe.Pointer, size uintptr) error {
	handle, ext, err := m.lookup(address, "decommit")
	if err != nil {
		return err
	}

	err = m.checkRange(ext, address, size, "decommit")
	if err != nil {
		return err
	}

	if size > 0 {
		clear(unsafe.Slice((*byte)(address), size))
		memutils.DebugCheckZeroed(address, size)
	}

	if uintptr(address) == ext.Base && size == ext.Length {
		err = m.extents.SetState(handle, extent.StateReserved)
		if err != nil {
			return err
		}
	}

	m.counters.Decommits++
	return nil
}

// Lookup returns the live extent containing address, if any
func (m *Manager) Lookup(address unsafe.Pointer) (extent.Extent, bool) {
	handle, ok := m.extents.FindContaining(uintptr(address))
	if !ok {
		return extent.Extent{}, false
	}

	ext, err := m.extents.Get(handle)
	if err != nil {
		return extent.Extent{}, false
	}

	return ext, true
}

// ExtentCount returns the number of live extents
func (m *Manager) ExtentCount() int {
	return m.extents.Count()
}

// Validate performs internal consistency checks on the extent table. It is expensive and intended
// for diagnostics.
func (m *Manager) Validate() error {
	return m.extents.Validate()
}

// Close releases every live extent back to the host. Extents whose blocks the host fails to free
// stay tracked, and their errors are combined into the returned error.
func (m *Manager) Close() error {
	var handles []extent.Handle
	_ = m.extents.Visit(func(handle extent.Handle, ext extent.Extent) error {
		handles = append(handles, handle)
		return nil
	})

	var closeErr error
	for _, handle := range handles {
		ext, err := m.extents.Get(handle)
		if err != nil {
			closeErr = errors.CombineErrors(closeErr, err)
			continue
		}

		err = m.host.Free(ext.Block())
		if err != nil {
			closeErr = errors.CombineErrors(closeErr, errors.Wrapf(err, "failed to free the block at %#x", ext.Base))
			continue
		}

		err = m.extents.Remove(handle)
		if err != nil {
			closeErr = errors.CombineErrors(closeErr, err)
			continue
		}
		m.counters.Releases++
	}

	if closeErr != nil {
		m.logger.Error("error attempting to release extents on close", slog.Any("error", closeErr))
	}

	return closeErr
}

func (m *Manager) lookup(address unsafe.Pointer, operation string) (extent.Handle, extent.Extent, error) {
	handle, ok := m.extents.FindContaining(uintptr(address))
	if !ok {
		return extent.NoExtent, extent.Extent{}, m.violation(errors.Wrapf(ErrUnknownAddress, "%s of %p", operation, address))
	}

	ext, err := m.extents.Get(handle)
	if err != nil {
		return extent.NoExtent, extent.Extent{}, err
	}

	return handle, ext, nil
}

func (m *Manager) checkRange(ext extent.Extent, address unsafe.Pointer, size uintptr, operation string) error {
	if ext.ContainsRange(uintptr(address), size) {
		return nil
	}

	return m.violation(errors.Wrapf(ErrRangeOutOfBounds,
		"%s of %d bytes at %p runs past the extent [%#x, %#x)", operation, size, address, ext.Base, ext.End()))
}

// violation reports a caller contract violation. It panics if the manager was created with
// CreatePanicOnContractViolation and returns the error otherwise.
func (m *Manager) violation(err error) error {
	m.counters.ContractViolations++
	m.logger.Error("contract violation", slog.Any("error", err))

	if m.createFlags&CreatePanicOnContractViolation != 0 {
		panic(err)
	}

	return err
}

func (m *Manager) checkCapacity() {
	if m.capacityWarning <= 0 {
		return
	}

	count := m.extents.Count()
	if count < m.capacityWarning {
		m.capacityWarned = false
		return
	}

	if !m.capacityWarned {
		m.capacityWarned = true
		m.logger.Warn("extent table is nearly full",
			slog.Int("ExtentCount", count),
			slog.Int("MaxExtents", m.extents.Capacity()),
		)
	}
}
