// Package allocator implements the policy layer of spec.md §4.3 that sits
// on top of the FAT cache and the free-space map: it chooses clusters per
// the fragmentation-minimising policy and edits chain linkage in the FAT.
package allocator

import (
	"github.com/bramblefs/fat32fs/internal/fatcache"
	"github.com/bramblefs/fat32fs/internal/freespace"
	"github.com/bramblefs/fat32fs/internal/volume"
)

// Allocator composes a FAT cache and a free-space map. There is exactly one
// per mounted volume.
type Allocator struct {
	cache *fatcache.Cache
	free  *freespace.Map
}

// New creates an Allocator over the given cache and free-space map.
func New(cache *fatcache.Cache, free *freespace.Map) *Allocator {
	return &Allocator{cache: cache, free: free}
}

// AllocNode implements "alloc-node" from spec.md §4.3: used to give a new
// file or directory its first cluster. It picks the largest free region to
// maximise headroom for subsequent growth, and marks the new cluster as a
// one-cluster, end-of-chain file.
func (a *Allocator) AllocNode() (volume.Cluster, error) {
	cluster, err := a.free.TakeLargest()
	if err != nil {
		return 0, err
	}

	if err := a.cache.Put(cluster, fatcache.EndOfChain); err != nil {
		return 0, err
	}
	return cluster, nil
}

// NewClusterNear implements "new-cluster(near)" from spec.md §4.3: extends
// a chain whose current tail is `tail` by one cluster, choosing the free
// region closest to `tail`. It links tail -> new and marks new as the
// chain's end.
func (a *Allocator) NewClusterNear(tail volume.Cluster) (volume.Cluster, error) {
	cluster, err := a.free.TakeNearest(tail)
	if err != nil {
		return 0, err
	}

	if err := a.cache.Put(cluster, fatcache.EndOfChain); err != nil {
		return 0, err
	}
	if err := a.cache.Put(tail, fatcache.Cell(cluster)); err != nil {
		return 0, err
	}
	return cluster, nil
}

// ExtendChain appends `count` new clusters to the chain currently ending at
// `tail`, returning the full list of newly allocated clusters in chain
// order. If allocation fails partway through, the clusters allocated so far
// remain linked and accounted for (spec.md §7: partial growth is not rolled
// back, but counters and the free-space list stay consistent).
func (a *Allocator) ExtendChain(tail volume.Cluster, count uint) ([]volume.Cluster, error) {
	added := make([]volume.Cluster, 0, count)
	current := tail
	for i := uint(0); i < count; i++ {
		next, err := a.NewClusterNear(current)
		if err != nil {
			return added, err
		}
		added = append(added, next)
		current = next
	}
	return added, nil
}

// Release returns a single cluster to the free-space map and clears its FAT
// cell, per spec.md §4.3 "Release(c)".
func (a *Allocator) Release(c volume.Cluster) error {
	if err := a.cache.Put(c, fatcache.FreeCell); err != nil {
		return err
	}
	a.free.Release(c)
	return nil
}

// ReleaseChain releases every cluster in chain, in order.
func (a *Allocator) ReleaseChain(chain []volume.Cluster) error {
	for _, c := range chain {
		if err := a.Release(c); err != nil {
			return err
		}
	}
	return nil
}

// FreeClusters exposes the free-space map's free-cluster count, for
// statvfs.
func (a *Allocator) FreeClusters() uint {
	return a.free.FreeClusters()
}

// UsedClusters exposes the free-space map's used-cluster count, for
// statvfs.
func (a *Allocator) UsedClusters() uint {
	return a.free.UsedClusters()
}
