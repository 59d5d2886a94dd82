package vmem

import (
	"fmt"
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/vmem/memutils"
)

// OperationCounters counts the operations a Manager has performed since it was created
type OperationCounters struct {
	Reservations       int
	FailedReservations int
	Releases           int
	Commits            int
	Decommits          int
	// SizeMismatches counts releases whose size did not match the length of the extent they freed
	SizeMismatches int
	// WholeExtentReleases counts releases of a non-base address that freed the entire containing extent
	WholeExtentReleases int
	ContractViolations  int
}

// Counters returns a copy of the manager's operation counters
func (m *Manager) Counters() OperationCounters {
	return m.counters
}

// CalculateStatistics clears stats and fills it with the current state of every extent
func (m *Manager) CalculateStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()
	m.extents.AddDetailedStatistics(stats)
}

// BuildStatsString produces a JSON document describing the manager's configuration, totals, and
// counters. If detailedMap is true, every live extent is listed as well.
func (m *Manager) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()
	root := writer.Object()

	general := root.Name("General").Object()
	general.Name("PageSize").Int(int(m.pageSize))
	general.Name("MaxExtents").Int(m.extents.Capacity())
	general.Name("ReleasePolicy").String(m.releasePolicy.String())
	general.Name("Flags").String(m.createFlags.String())
	general.End()

	var stats memutils.DetailedStatistics
	m.CalculateStatistics(&stats)
	total := root.Name("Total").Object()
	printDetailedStatistics(&total, &stats)
	total.End()

	counters := root.Name("Counters").Object()
	counters.Name("Reservations").Int(m.counters.Reservations)
	counters.Name("FailedReservations").Int(m.counters.FailedReservations)
	counters.Name("Releases").Int(m.counters.Releases)
	counters.Name("Commits").Int(m.counters.Commits)
	counters.Name("Decommits").Int(m.counters.Decommits)
	counters.Name("SizeMismatches").Int(m.counters.SizeMismatches)
	counters.Name("WholeExtentReleases").Int(m.counters.WholeExtentReleases)
	counters.Name("ContractViolations").Int(m.counters.ContractViolations)
	counters.End()

	if detailedMap {
		extents := root.Name("Extents").Array()
		m.extents.WriteJSON(&extents)
		extents.End()
	}

	root.End()

	return string(writer.Bytes())
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("ExtentCount").Int(stats.ExtentCount)
	json.Name("ReservedBytes").Int(stats.ReservedBytes)
	json.Name("CommittedExtentCount").Int(stats.CommittedExtentCount)
	json.Name("CommittedBytes").Int(stats.CommittedBytes)
	json.Name("FreeSlotCount").Int(stats.FreeSlotCount)

	if stats.ExtentCount > 1 {
		json.Name("ExtentSizeMin").Int(stats.ExtentSizeMin)
		json.Name("ExtentSizeMax").Int(stats.ExtentSizeMax)
	}
}

func formatAddress(address uintptr) string {
	return fmt.Sprintf("%#x", address)
}

func formatPointer(ptr unsafe.Pointer) string {
	return formatAddress(uintptr(ptr))
}
