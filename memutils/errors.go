package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
)

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

var (
	// ErrOutOfMemory is returned when the host allocator could not supply a block. Nothing was reserved
	// and the caller may retry once memory pressure eases.
	ErrOutOfMemory error = errors.New("host allocator is out of memory")
	// ErrCapacityExhausted is returned when the extent table has reached its growth limit. Nothing was
	// reserved and the caller may retry after releasing extents.
	ErrCapacityExhausted error = errors.New("extent table capacity exhausted")
	// ErrUnsupportedFlag is returned when a reservation requests behavior the host cannot provide, such
	// as write watching
	ErrUnsupportedFlag error = errors.New("reservation flag is not supported on this host")
	// ErrInvalidSize is returned for zero-length reservations and extents
	ErrInvalidSize error = errors.New("size must be greater than zero")
	// ErrUnknownAddress is returned when commit, decommit or release reference an address that is not
	// inside any live extent. It indicates a bug in the caller.
	ErrUnknownAddress error = errors.New("address is not inside any live extent")
	// ErrPartialRelease is returned when a release names an address inside an extent that is not the
	// extent's base, and the manager is configured to reject such requests
	ErrPartialRelease error = errors.New("release address is not the base of its extent")
	// ErrRangeOutOfBounds is returned when a commit or decommit range runs past the end of the extent
	// that contains its start address
	ErrRangeOutOfBounds error = errors.New("range extends past the end of its extent")
)

// IsResourceExhausted returns true if err signals a transient shortage (host memory or table capacity)
// that a caller can reasonably retry after freeing memory
func IsResourceExhausted(err error) bool {
	return cerrors.Is(err, ErrOutOfMemory) || cerrors.Is(err, ErrCapacityExhausted)
}

// IsContractViolation returns true if err signals that the caller operated on an address range the
// manager does not track. These errors are never produced by a correct caller.
func IsContractViolation(err error) bool {
	return cerrors.Is(err, ErrUnknownAddress) ||
		cerrors.Is(err, ErrPartialRelease) ||
		cerrors.Is(err, ErrRangeOutOfBounds)
}
