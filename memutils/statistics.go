package memutils

import "math"

// Statistics summarizes the extents tracked by a table
type Statistics struct {
	ExtentCount          int
	ReservedBytes        int
	CommittedExtentCount int
	CommittedBytes       int
}

func (s *Statistics) Clear() {
	s.ExtentCount = 0
	s.ReservedBytes = 0
	s.CommittedExtentCount = 0
	s.CommittedBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.ExtentCount += other.ExtentCount
	s.ReservedBytes += other.ReservedBytes
	s.CommittedExtentCount += other.CommittedExtentCount
	s.CommittedBytes += other.CommittedBytes
}

type DetailedStatistics struct {
	Statistics
	FreeSlotCount int
	ExtentSizeMin int
	ExtentSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeSlotCount = 0
	s.ExtentSizeMin = math.MaxInt
	s.ExtentSizeMax = 0
}

func (s *DetailedStatistics) AddFreeSlot() {
	s.FreeSlotCount++
}

func (s *DetailedStatistics) AddExtent(size int, committed bool) {
	s.ExtentCount++
	s.ReservedBytes += size

	if committed {
		s.CommittedExtentCount++
		s.CommittedBytes += size
	}

	if size < s.ExtentSizeMin {
		s.ExtentSizeMin = size
	}

	if size > s.ExtentSizeMax {
		s.ExtentSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeSlotCount += other.FreeSlotCount

	if other.ExtentSizeMin < s.ExtentSizeMin {
		s.ExtentSizeMin = other.ExtentSizeMin
	}

	if other.ExtentSizeMax > s.ExtentSizeMax {
		s.ExtentSizeMax = other.ExtentSizeMax
	}
}
