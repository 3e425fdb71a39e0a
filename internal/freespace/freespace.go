// Package freespace implements the ordered free-region list described in
// spec.md §3 and §4.3: built once at mount by scanning the FAT, and kept in
// sync by the allocator on every allocate and release.
package freespace

import (
	"sort"

	fserrors "github.com/bramblefs/fat32fs/errors"
	"github.com/bramblefs/fat32fs/internal/fatcache"
	"github.com/bramblefs/fat32fs/internal/volume"
)

// Region is a maximal contiguous run of free clusters.
type Region struct {
	Start  volume.Cluster
	Length uint32
}

// End returns the cluster one past the last free cluster in the region.
func (r Region) End() volume.Cluster {
	return r.Start + volume.Cluster(r.Length)
}

// Map is the ordered, non-overlapping, non-adjacent list of free regions on
// a volume, plus the used/free cluster counters derived alongside it.
type Map struct {
	regions []Region
	used    uint
	free    uint
}

// Build scans every FAT cell for clusters [2, 2+totalClusters) and
// constructs the initial free-region list (spec.md §4.3 "Build").
func Build(cache *fatcache.Cache, totalClusters uint) (*Map, error) {
	m := &Map{}

	var current *Region
	for i := uint(0); i < totalClusters; i++ {
		cluster := volume.Cluster(2 + i)

		cell, err := cache.Get(cluster)
		if err != nil {
			return nil, err
		}

		if cell.IsFree() {
			m.free++
			if current == nil {
				current = &Region{Start: cluster, Length: 1}
			} else {
				current.Length++
			}
		} else {
			m.used++
			if current != nil {
				m.regions = append(m.regions, *current)
				current = nil
			}
		}
	}
	if current != nil {
		m.regions = append(m.regions, *current)
	}

	return m, nil
}

// FreeClusters returns the number of clusters currently free.
func (m *Map) FreeClusters() uint {
	return m.free
}

// UsedClusters returns the number of clusters currently allocated.
func (m *Map) UsedClusters() uint {
	return m.used
}

// RegionCount returns the number of distinct free regions, mostly useful
// for tests asserting on fragmentation behavior.
func (m *Map) RegionCount() int {
	return len(m.regions)
}

// largestIndex returns the index of the largest region, tie-broken by list
// order (earliest wins).
func (m *Map) largestIndex() int {
	best := -1
	for i, r := range m.regions {
		if best == -1 || r.Length > m.regions[best].Length {
			best = i
		}
	}
	return best
}

// TakeLargest implements the "alloc-node" policy of spec.md §4.3: pick the
// largest free region and allocate the cluster at its midpoint, splitting
// the region if the midpoint is interior.
func (m *Map) TakeLargest() (volume.Cluster, error) {
	idx := m.largestIndex()
	if idx == -1 {
		return 0, fserrors.ErrOutOfSpace
	}

	region := m.regions[idx]
	mid := region.Start + volume.Cluster(region.Length/2)

	m.removeOrShrink(idx, mid)

	m.used++
	m.free--
	return mid, nil
}

// TakeNearest implements the "new-cluster(near)" policy of spec.md §4.3:
// pick the closest free region to `near`, then take the cluster from the
// end adjacent to `near`.
func (m *Map) TakeNearest(near volume.Cluster) (volume.Cluster, error) {
	if len(m.regions) == 0 {
		return 0, fserrors.ErrOutOfSpace
	}

	bestIdx := 0
	bestDist := regionDistance(m.regions[0], near)
	for i := 1; i < len(m.regions); i++ {
		dist := regionDistance(m.regions[i], near)
		if dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}

	region := m.regions[bestIdx]
	var taken volume.Cluster
	if near < region.Start {
		taken = region.Start
	} else {
		taken = region.End() - 1
	}

	m.removeOrShrink(bestIdx, taken)

	m.used++
	m.free--
	return taken, nil
}

// regionDistance computes the distance from `near` to a region per
// spec.md §4.3: 0 if near falls inside it.
func regionDistance(r Region, near volume.Cluster) int64 {
	if near < r.Start {
		return int64(r.Start) - int64(near)
	}
	if near >= r.End() {
		return int64(near) - int64(r.End())
	}
	return 0
}

// removeOrShrink extracts cluster `taken` from region index `idx`,
// shrinking it from either end, splitting it if `taken` is interior, or
// dropping it entirely if it had length 1.
func (m *Map) removeOrShrink(idx int, taken volume.Cluster) {
	region := m.regions[idx]

	switch {
	case region.Length == 1:
		m.regions = append(m.regions[:idx], m.regions[idx+1:]...)

	case taken == region.Start:
		m.regions[idx] = Region{Start: region.Start + 1, Length: region.Length - 1}

	case taken == region.End()-1:
		m.regions[idx] = Region{Start: region.Start, Length: region.Length - 1}

	default:
		// Interior cluster: split into two sub-regions.
		left := Region{Start: region.Start, Length: uint32(taken - region.Start)}
		right := Region{Start: taken + 1, Length: uint32(region.End() - taken - 1)}

		m.regions[idx] = left
		tail := append([]Region{right}, m.regions[idx+1:]...)
		m.regions = append(m.regions[:idx+1], tail...)
	}
}

// Release returns cluster c to the free-space map, merging it with
// adjacent free regions per spec.md §4.3's four cases.
func (m *Map) Release(c volume.Cluster) {
	idx := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].Start > c
	})
	// idx is the insertion point: regions[idx-1] is the left neighbour
	// candidate, regions[idx] is the right neighbour candidate.

	var left, right *Region
	if idx > 0 {
		left = &m.regions[idx-1]
	}
	if idx < len(m.regions) {
		right = &m.regions[idx]
	}

	touchesLeft := left != nil && c == left.End()
	touchesRight := right != nil && c == right.Start-1

	switch {
	case touchesLeft && touchesRight:
		left.Length += 1 + right.Length
		m.regions = append(m.regions[:idx], m.regions[idx+1:]...)

	case touchesLeft:
		left.Length++

	case touchesRight:
		right.Start = c
		right.Length++

	default:
		newRegion := Region{Start: c, Length: 1}
		tail := append([]Region{newRegion}, m.regions[idx:]...)
		m.regions = append(m.regions[:idx], tail...)
	}

	m.used--
	m.free++
}
