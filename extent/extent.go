package extent

import (
	"fmt"
	"math"
	"unsafe"
)

// State is the lifecycle state of a slot in the extent table
type State uint32

const (
	// StateFree indicates that the slot holds no extent and may be reused
	StateFree State = iota
	// StateReserved indicates that the extent's address range has been set aside but not committed
	StateReserved
	// StateCommitted indicates that at least part of the extent has been committed and not
	// decommitted since
	StateCommitted
)

var stateMapping = map[State]string{
	StateFree:      "Free",
	StateReserved:  "Reserved",
	StateCommitted: "Committed",
}

func (s State) String() string {
	return stateMapping[s]
}

// Handle identifies a slot in the extent table. Handles are slot indices and stay valid until the
// extent they name is removed, after which the slot may be handed out again.
type Handle uint32

const (
	NoExtent Handle = math.MaxUint32
)

// Extent is a snapshot of one tracked address range
type Extent struct {
	// Base is the first address of the range, as returned by the host allocator
	Base uintptr
	// Length is the size in bytes supplied when the range was reserved
	Length uintptr
	State  State

	block unsafe.Pointer
}

// Block returns the host block backing this extent. It is the same address as Base.
func (e Extent) Block() unsafe.Pointer {
	return e.block
}

// End returns the first address past the end of the range
func (e Extent) End() uintptr {
	return e.Base + e.Length
}

// Contains returns true if address lies within [Base, Base+Length)
func (e Extent) Contains(address uintptr) bool {
	return address >= e.Base && address-e.Base < e.Length
}

// ContainsRange returns true if the size bytes starting at address lie entirely within the extent
func (e Extent) ContainsRange(address, size uintptr) bool {
	if !e.Contains(address) {
		return false
	}

	return size <= e.Length-(address-e.Base)
}

func formatAddress(address uintptr) string {
	return fmt.Sprintf("%#x", address)
}
