package vmem

import (
	"math/bits"
	"strings"
)

type flagMapping[T ~uint32] map[T]string

func (m flagMapping[T]) flagsToString(flags T) string {
	if flags == 0 {
		return "None"
	}

	var sb strings.Builder
	for remaining := uint32(flags); remaining != 0; {
		bit := T(1) << bits.TrailingZeros32(remaining)
		remaining &^= uint32(bit)

		if sb.Len() > 0 {
			sb.WriteRune('|')
		}

		name, ok := m[bit]
		if !ok {
			name = "Unknown"
		}
		sb.WriteString(name)
	}

	return sb.String()
}

// ReserveFlags control special settings for a reservation
type ReserveFlags uint32

const (
	// ReserveWriteWatch requests that writes to the reserved range be tracked. Hosts without partial
	// unmapping have no way to observe writes, so this flag is always rejected.
	ReserveWriteWatch ReserveFlags = 1 << iota
)

// supportedReserveFlags is empty: no reservation flag has meaning on these hosts
const supportedReserveFlags ReserveFlags = 0

var reserveFlagsMapping = flagMapping[ReserveFlags]{
	ReserveWriteWatch: "ReserveWriteWatch",
}

func (f ReserveFlags) String() string {
	return reserveFlagsMapping.flagsToString(f)
}

// CreateFlags indicate specific manager behaviors to activate or deactivate
type CreateFlags uint32

const (
	// CreatePanicOnContractViolation causes the manager to panic instead of returning an error when
	// a caller operates on an address range it does not track
	CreatePanicOnContractViolation CreateFlags = 1 << iota
)

var createFlagsMapping = flagMapping[CreateFlags]{
	CreatePanicOnContractViolation: "CreatePanicOnContractViolation",
}

func (f CreateFlags) String() string {
	return createFlagsMapping.flagsToString(f)
}

// ReleasePolicy decides what Release does with an address that lies inside an extent but is not its base
type ReleasePolicy uint32

const (
	// ReleaseRejectPartial refuses the release with ErrPartialRelease and leaves the extent intact
	ReleaseRejectPartial ReleasePolicy = iota
	// ReleaseWholeExtent frees the entire containing extent from its true base. The host cannot unmap
	// part of a block, so a request to release the tail of a reservation releases all of it.
	ReleaseWholeExtent
)

var releasePolicyMapping = map[ReleasePolicy]string{
	ReleaseRejectPartial: "ReleaseRejectPartial",
	ReleaseWholeExtent:   "ReleaseWholeExtent",
}

func (p ReleasePolicy) String() string {
	return releasePolicyMapping[p]
}
