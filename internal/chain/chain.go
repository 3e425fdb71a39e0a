// Package chain materialises FAT cluster chains into an addressable,
// seekable byte stream, per spec.md §4.4.
package chain

import (
	fserrors "github.com/bramblefs/fat32fs/errors"
	"github.com/bramblefs/fat32fs/internal/allocator"
	"github.com/bramblefs/fat32fs/internal/fatcache"
	"github.com/bramblefs/fat32fs/internal/volume"
)

// Whence mirrors io.Seeker's constants without importing io, since callers
// in this package only ever deal in cluster-relative offsets.
type Whence int

const (
	SeekStart Whence = iota
	SeekCurrent
	SeekEnd
)

// Chain is the in-memory materialisation of one file's or directory's
// cluster list, plus a cursor for sequential and random access.
type Chain struct {
	vol   *volume.Volume
	cache *fatcache.Cache
	alloc *allocator.Allocator

	clusters []volume.Cluster // in chain order
	cursor   int               // index into clusters; -1 if clusters is empty
	offset   uint64            // byte offset from start of file
}

// Open walks the FAT from `start`, appending each cluster index until the
// end-of-chain sentinel, per spec.md §4.4 "On open".
func Open(vol *volume.Volume, cache *fatcache.Cache, alloc *allocator.Allocator, start volume.Cluster) (*Chain, error) {
	c := &Chain{vol: vol, cache: cache, alloc: alloc}

	cluster := start
	for {
		cell, err := cache.Get(cluster)
		if err != nil {
			return nil, err
		}
		c.clusters = append(c.clusters, cluster)
		if cell.IsEndOfChain() || cell.IsBad() {
			break
		}
		cluster = cell.Next()
	}

	if len(c.clusters) > 0 {
		c.cursor = 0
	} else {
		c.cursor = -1
	}
	return c, nil
}

// ClusterCount returns the number of clusters currently in the chain.
func (c *Chain) ClusterCount() int {
	return len(c.clusters)
}

// Clusters returns a copy of the chain's cluster list, in order.
func (c *Chain) Clusters() []volume.Cluster {
	out := make([]volume.Cluster, len(c.clusters))
	copy(out, c.clusters)
	return out
}

// AllocatedBytes returns cluster_count * cluster_size, the upper bound on
// a handle's size (spec.md §8 invariant).
func (c *Chain) AllocatedBytes() uint64 {
	return uint64(len(c.clusters)) * uint64(c.vol.BytesPerCluster())
}

func (c *Chain) clusterSize() uint64 {
	return uint64(c.vol.BytesPerCluster())
}

// Seek resolves whence/offset against `size` and repositions the cursor to
// the cluster containing the target byte, per spec.md §4.4 "Seek".
func (c *Chain) Seek(offset int64, whence Whence, size uint64) error {
	var target int64
	switch whence {
	case SeekStart:
		target = offset
	case SeekCurrent:
		target = int64(c.offset) + offset
	case SeekEnd:
		target = int64(size) - 1 + offset
	default:
		return fserrors.ErrInvalidArgument.WithMessage("unknown whence value")
	}

	if target < 0 || uint64(target) > size {
		return fserrors.ErrInvalidArgument.WithMessage("seek target out of range")
	}

	c.offset = uint64(target)
	idx := int(c.offset / c.clusterSize())
	if idx >= len(c.clusters) {
		// The target is the end of the allocated extent (offset == size on
		// a cluster-aligned size): park the cursor past the last cluster so
		// Read returns 0 bytes cleanly.
		if len(c.clusters) == 0 {
			c.cursor = -1
		} else {
			c.cursor = len(c.clusters)
		}
		return nil
	}
	c.cursor = idx
	return nil
}

// Offset returns the cursor's current byte offset from the start of the
// chain.
func (c *Chain) Offset() uint64 {
	return c.offset
}

// Read transfers up to len(buf) bytes starting at the cursor, per
// spec.md §4.4 "Read". Returns the number of bytes actually transferred.
func (c *Chain) Read(buf []byte) (int, error) {
	if len(c.clusters) == 0 || c.cursor < 0 {
		return 0, nil
	}

	clusterSize := c.clusterSize()
	total := 0
	remaining := buf

	for len(remaining) > 0 && c.cursor < len(c.clusters) {
		inCluster := c.offset % clusterSize
		chunk := clusterSize - inCluster
		if uint64(len(remaining)) < chunk {
			chunk = uint64(len(remaining))
		}

		dst := c.vol.ClusterByteOffset(c.clusters[c.cursor]) + inCluster
		n, err := c.vol.Device.ReadAt(remaining[:chunk], int64(dst))
		if err != nil && uint64(n) != chunk {
			return total, fserrors.ErrIOFailed.Wrap(err)
		}

		total += n
		c.offset += uint64(n)
		remaining = remaining[n:]

		if c.offset%clusterSize == 0 {
			c.cursor++
		}
	}

	return total, nil
}

// Write transfers len(buf) bytes starting at the cursor, extending the
// chain first if the write would exceed the currently allocated extent, per
// spec.md §4.4 "Write".
func (c *Chain) Write(buf []byte) (int, error) {
	clusterSize := c.clusterSize()
	needed := c.offset + uint64(len(buf))

	if needed > c.AllocatedBytes() {
		shortfallBytes := needed - c.AllocatedBytes()
		extra := (shortfallBytes + clusterSize - 1) / clusterSize
		if err := c.extendByKClusters(uint(extra)); err != nil {
			return 0, err
		}
		c.cursor = int(c.offset / clusterSize)
	}

	total := 0
	remaining := buf

	for len(remaining) > 0 && c.cursor < len(c.clusters) {
		inCluster := c.offset % clusterSize
		chunk := clusterSize - inCluster
		if uint64(len(remaining)) < chunk {
			chunk = uint64(len(remaining))
		}

		dst := c.vol.ClusterByteOffset(c.clusters[c.cursor]) + inCluster
		n, err := c.vol.Device.WriteAt(remaining[:chunk], int64(dst))
		if err != nil {
			return total, fserrors.ErrIOFailed.Wrap(err)
		}

		total += n
		c.offset += uint64(n)
		remaining = remaining[n:]

		if c.offset%clusterSize == 0 {
			c.cursor++
		}
	}

	return total, nil
}

// extendByKClusters allocates k more clusters near the current tail and
// appends them to the in-memory chain.
func (c *Chain) extendByKClusters(k uint) error {
	if len(c.clusters) == 0 {
		first, err := c.alloc.AllocNode()
		if err != nil {
			return err
		}
		c.clusters = append(c.clusters, first)
		c.cursor = 0
		k--
	}

	tail := c.clusters[len(c.clusters)-1]
	added, err := c.alloc.ExtendChain(tail, k)
	c.clusters = append(c.clusters, added...)
	return err
}

// TruncateTo drops the chain down to the cluster containing byte `newSize -
// 1`, releasing every successor cluster, per spec.md §4.7 "truncate"
// shrink path. newSize == 0 releases the entire chain.
func (c *Chain) TruncateTo(newSize uint64) error {
	clusterSize := c.clusterSize()

	var keep int
	if newSize == 0 {
		keep = 0
	} else {
		keep = int((newSize-1)/clusterSize) + 1
	}
	if keep >= len(c.clusters) {
		return nil
	}

	toRelease := c.clusters[keep:]
	if keep > 0 {
		if err := c.cache.Put(c.clusters[keep-1], fatcache.EndOfChain); err != nil {
			return err
		}
	}
	if err := c.alloc.ReleaseChain(toRelease); err != nil {
		return err
	}

	c.clusters = c.clusters[:keep]
	if c.offset > newSize {
		c.offset = newSize
	}
	if len(c.clusters) == 0 {
		c.cursor = -1
	} else if c.cursor >= len(c.clusters) {
		c.cursor = len(c.clusters) - 1
	}
	return nil
}
