package vmem

import (
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/vmem/extent"
	"github.com/vkngwrapper/vmem/host"
	"github.com/vkngwrapper/vmem/memutils"
)

const (
	// defaultMaxExtents is the value that is used as MaxExtents when none is provided via CreateOptions
	defaultMaxExtents int = 1024

	// NUMANodeUndefined may be passed as the node to Reserve and Commit when the caller has no preference
	NUMANodeUndefined uint16 = 0xffff
)

// CreateOptions contains optional settings when creating a Manager
type CreateOptions struct {
	// Flags indicates specific manager behaviors to activate or deactivate
	Flags CreateFlags

	// PageSize is the minimum alignment of every reservation. It must be a power of two. If it is
	// left at zero, host.PageSize() is used.
	PageSize uintptr

	// MaxExtents is the maximum number of extents that may be live at once. Reservations beyond
	// this limit fail with ErrCapacityExhausted. If it is left at zero, a limit of 1024 is used;
	// a negative value removes the limit entirely.
	MaxExtents int

	// ReleasePolicy decides how Release treats an address that is inside an extent but is not
	// its base. The zero value rejects such releases.
	ReleasePolicy ReleasePolicy
}

// New creates a new Manager
//
// logger - Receives failure and warning events. If nil, nothing is logged.
//
// allocator - The host allocator that backs every reservation
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, allocator host.Allocator, options CreateOptions) (*Manager, error) {
	if allocator == nil {
		return nil, errors.New("attempted to create a manager with a nil host allocator")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	manager := &Manager{
		logger:        logger,
		host:          allocator,
		createFlags:   options.Flags,
		releasePolicy: options.ReleasePolicy,
	}

	if options.PageSize == 0 {
		manager.pageSize = host.PageSize()
	} else {
		manager.pageSize = options.PageSize
	}

	err := memutils.CheckPow2(manager.pageSize, "CreateOptions.PageSize")
	if err != nil {
		return nil, err
	}

	if _, ok := releasePolicyMapping[options.ReleasePolicy]; !ok {
		return nil, errors.Newf("unknown release policy %d", options.ReleasePolicy)
	}

	maxExtents := options.MaxExtents
	if maxExtents == 0 {
		maxExtents = defaultMaxExtents
	}
	if maxExtents > 0 {
		manager.capacityWarning = maxExtents - maxExtents/4
	}

	manager.extents = extent.NewTable(maxExtents)

	return manager, nil
}
