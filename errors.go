package vmem

import (
	"github.com/vkngwrapper/vmem/extent"
	"github.com/vkngwrapper/vmem/memutils"
)

var (
	ErrOutOfMemory       = memutils.ErrOutOfMemory
	ErrCapacityExhausted = memutils.ErrCapacityExhausted
	ErrUnsupportedFlag   = memutils.ErrUnsupportedFlag
	ErrInvalidSize       = memutils.ErrInvalidSize
	ErrUnknownAddress    = memutils.ErrUnknownAddress
	ErrPartialRelease    = memutils.ErrPartialRelease
	ErrRangeOutOfBounds  = memutils.ErrRangeOutOfBounds
	ErrOverlappingExtent = extent.ErrOverlappingExtent
)
