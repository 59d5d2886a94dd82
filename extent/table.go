package extent

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/vmem/memutils"
)

// ErrOverlappingExtent is returned from Insert when the new range intersects a live extent
var ErrOverlappingExtent error = errors.New("extent overlaps a live extent")

type slot struct {
	block  unsafe.Pointer
	base   uintptr
	length uintptr
	state  State
}

// Table is a registry of live extents. Slots live in a growable arena and are identified by
// Handle, which is the slot's index. Removed slots are pushed on a free list and reused before
// the arena grows.
//
// Table is not safe for concurrent use. Its owner is expected to serialize all access.
type Table struct {
	slots      []slot
	freeSlots  []Handle
	byBase     *swiss.Map[uintptr, Handle]
	maxExtents int

	liveCount      int
	reservedBytes  uintptr
	committedCount int
	committedBytes uintptr
}

var _ memutils.Validatable = &Table{}

// NewTable creates an empty Table that will hold at most maxExtents live extents. If maxExtents
// is zero or negative, the table grows without limit.
func NewTable(maxExtents int) *Table {
	initial := 16
	if maxExtents > 0 && maxExtents < initial {
		initial = maxExtents
	}

	return &Table{
		slots:      make([]slot, 0, initial),
		byBase:     swiss.NewMap[uintptr, Handle](uint32(initial)),
		maxExtents: maxExtents,
	}
}

// Count returns the number of live extents
func (t *Table) Count() int {
	return t.liveCount
}

// Capacity returns the maximum number of live extents, or 0 if the table is unbounded
func (t *Table) Capacity() int {
	if t.maxExtents <= 0 {
		return 0
	}
	return t.maxExtents
}

// SlotCount returns the number of slots the arena has grown to, live or free
func (t *Table) SlotCount() int {
	return len(t.slots)
}

// Insert registers a new extent in StateReserved covering length bytes starting at block and returns
// its handle. It fails with memutils.ErrCapacityExhausted if the table is at its growth limit, and with
// ErrOverlappingExtent if the range intersects a live extent. The table is unchanged on failure.
func (t *Table) Insert(block unsafe.Pointer, length uintptr) (Handle, error) {
	if length == 0 {
		return NoExtent, memutils.ErrInvalidSize
	}

	base := uintptr(block)
	if base+length < base {
		return NoExtent, cerrors.Newf("extent at %#x with length %d wraps the address space", base, length)
	}

	if conflict, found := t.findOverlap(base, length); found {
		existing := t.slots[conflict]
		return NoExtent, cerrors.Wrapf(ErrOverlappingExtent,
			"new extent [%#x, %#x) intersects extent %d at [%#x, %#x)",
			base, base+length, conflict, existing.base, existing.base+existing.length)
	}

	var handle Handle
	if len(t.freeSlots) > 0 {
		handle = t.freeSlots[len(t.freeSlots)-1]
		t.freeSlots = t.freeSlots[:len(t.freeSlots)-1]
	} else {
		if t.maxExtents > 0 && len(t.slots) >= t.maxExtents {
			return NoExtent, cerrors.WithHint(
				cerrors.Wrapf(memutils.ErrCapacityExhausted, "%d of %d extents are live", t.liveCount, t.maxExtents),
				"release unused extents or raise the extent limit",
			)
		}

		t.slots = append(t.slots, slot{})
		handle = Handle(len(t.slots) - 1)
	}

	t.slots[handle] = slot{
		block:  block,
		base:   base,
		length: length,
		state:  StateReserved,
	}
	t.byBase.Put(base, handle)
	t.liveCount++
	t.reservedBytes += length

	memutils.DebugValidate(t)

	return handle, nil
}

func (t *Table) findOverlap(base, length uintptr) (Handle, bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.state == StateFree {
			continue
		}

		if base < s.base+s.length && s.base < base+length {
			return Handle(i), true
		}
	}

	return NoExtent, false
}

// FindContaining returns the handle of the live extent whose range contains address. Origin
// addresses are resolved through the base index in constant time; any other address costs a
// linear scan over the arena. The table is expected to hold tens to low hundreds of extents.
func (t *Table) FindContaining(address uintptr) (Handle, bool) {
	if handle, ok := t.byBase.Get(address); ok {
		return handle, true
	}

	for i := range t.slots {
		s := &t.slots[i]
		if s.state == StateFree {
			continue
		}

		if address >= s.base && address-s.base < s.length {
			return Handle(i), true
		}
	}

	return NoExtent, false
}

// FindBase returns the handle of the live extent whose base is exactly address
func (t *Table) FindBase(address uintptr) (Handle, bool) {
	return t.byBase.Get(address)
}

func (t *Table) getSlot(handle Handle) (*slot, error) {
	if int(handle) >= len(t.slots) {
		return nil, errors.Errorf("extent handle %d is out of range for a table of %d slots", handle, len(t.slots))
	}

	s := &t.slots[handle]
	if s.state == StateFree {
		return nil, errors.Errorf("extent handle %d refers to a free slot", handle)
	}

	return s, nil
}

// Get returns a snapshot of the extent identified by handle
func (t *Table) Get(handle Handle) (Extent, error) {
	s, err := t.getSlot(handle)
	if err != nil {
		return Extent{}, err
	}

	return s.extent(), nil
}

func (s *slot) extent() Extent {
	return Extent{
		Base:   s.base,
		Length: s.length,
		State:  s.state,
		block:  s.block,
	}
}

// SetState moves a live extent to StateReserved or StateCommitted. Extents leave the table
// through Remove, never through SetState.
func (t *Table) SetState(handle Handle, state State) error {
	if state == StateFree {
		return errors.New("extents cannot be set to the free state, use Remove instead")
	}

	s, err := t.getSlot(handle)
	if err != nil {
		return err
	}

	if s.state == state {
		return nil
	}

	if state == StateCommitted {
		t.committedCount++
		t.committedBytes += s.length
	} else {
		t.committedCount--
		t.committedBytes -= s.length
	}
	s.state = state

	return nil
}

// Remove deletes the extent identified by handle and frees its slot for reuse. Removing a handle
// that is not live returns an error and leaves the table unchanged.
func (t *Table) Remove(handle Handle) error {
	s, err := t.getSlot(handle)
	if err != nil {
		return err
	}

	if s.state == StateCommitted {
		t.committedCount--
		t.committedBytes -= s.length
	}

	t.byBase.Delete(s.base)
	t.liveCount--
	t.reservedBytes -= s.length
	*s = slot{}
	t.freeSlots = append(t.freeSlots, handle)

	memutils.DebugValidate(t)

	return nil
}

// Visit calls the provided callback once for each live extent, in slot order. If the callback
// returns an error, the visit stops and the error is returned.
func (t *Table) Visit(visitExtent func(handle Handle, extent Extent) error) error {
	for i := range t.slots {
		s := &t.slots[i]
		if s.state == StateFree {
			continue
		}

		err := visitExtent(Handle(i), s.extent())
		if err != nil {
			return err
		}
	}

	return nil
}

// Validate performs internal consistency checks on the table. It walks every pair of live extents,
// so it is quadratic and intended for diagnostics.
func (t *Table) Validate() error {
	var liveCount, committedCount int
	var reservedBytes, committedBytes uintptr

	for i := range t.slots {
		s := &t.slots[i]
		if s.state == StateFree {
			if s.block != nil || s.length != 0 {
				return errors.Errorf("free slot %d still holds an extent at %#x", i, s.base)
			}
			continue
		}

		if s.length == 0 {
			return errors.Errorf("live extent %d at %#x has zero length", i, s.base)
		}

		if uintptr(s.block) != s.base {
			return errors.Errorf("live extent %d has base %#x but its block is at %p", i, s.base, s.block)
		}

		indexed, ok := t.byBase.Get(s.base)
		if !ok {
			return errors.Errorf("live extent %d at %#x is missing from the base index", i, s.base)
		}
		if indexed != Handle(i) {
			return errors.Errorf("base index maps %#x to extent %d, but it belongs to extent %d", s.base, indexed, i)
		}

		for j := i + 1; j < len(t.slots); j++ {
			other := &t.slots[j]
			if other.state == StateFree {
				continue
			}

			if s.base < other.base+other.length && other.base < s.base+s.length {
				return errors.Errorf("extent %d at [%#x, %#x) overlaps extent %d at [%#x, %#x)",
					i, s.base, s.base+s.length, j, other.base, other.base+other.length)
			}
		}

		liveCount++
		reservedBytes += s.length
		if s.state == StateCommitted {
			committedCount++
			committedBytes += s.length
		}
	}

	if t.byBase.Count() != liveCount {
		return errors.Errorf("the base index holds %d entries, but there are %d live extents", t.byBase.Count(), liveCount)
	}

	if len(t.freeSlots)+liveCount != len(t.slots) {
		return errors.Errorf("the free list holds %d slots and %d extents are live, but the arena has %d slots",
			len(t.freeSlots), liveCount, len(t.slots))
	}

	for _, handle := range t.freeSlots {
		if int(handle) >= len(t.slots) || t.slots[handle].state != StateFree {
			return errors.Errorf("slot %d is in the free list but is not free", handle)
		}
	}

	if liveCount != t.liveCount {
		return errors.Errorf("the live count of the table is %d, but the slots only added up to %d", t.liveCount, liveCount)
	}

	if reservedBytes != t.reservedBytes {
		return errors.Errorf("the reserved size of the table is %d, but the extents only added up to %d", t.reservedBytes, reservedBytes)
	}

	if committedCount != t.committedCount || committedBytes != t.committedBytes {
		return errors.Errorf("the table records %d committed extents of %d bytes, but the slots hold %d extents of %d bytes",
			t.committedCount, t.committedBytes, committedCount, committedBytes)
	}

	if t.maxExtents > 0 && liveCount > t.maxExtents {
		return errors.Errorf("the table holds %d live extents, more than its limit of %d", liveCount, t.maxExtents)
	}

	return nil
}

func (t *Table) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.state == StateFree {
			stats.AddFreeSlot()
		} else {
			stats.AddExtent(int(s.length), s.state == StateCommitted)
		}
	}
}

func (t *Table) AddStatistics(stats *memutils.Statistics) {
	stats.ExtentCount += t.liveCount
	stats.ReservedBytes += int(t.reservedBytes)
	stats.CommittedExtentCount += t.committedCount
	stats.CommittedBytes += int(t.committedBytes)
}

// WriteJSON appends one object per live extent to the provided json array
func (t *Table) WriteJSON(json *jwriter.ArrayState) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.state == StateFree {
			continue
		}

		obj := json.Object()
		obj.Name("Handle").Int(i)
		obj.Name("Base").String(formatAddress(s.base))
		obj.Name("Length").Int(int(s.length))
		obj.Name("State").String(s.state.String())
		obj.End()
	}
}
