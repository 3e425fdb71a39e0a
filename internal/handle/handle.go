// Package handle implements the file-handle type and the handle table
// described in spec.md §3 and §4.5: handles are shared across duplicate
// opens of the same file, identified by starting-cluster identity, and
// reference-counted.
package handle

import (
	"github.com/bramblefs/fat32fs/internal/chain"
	"github.com/bramblefs/fat32fs/internal/volume"
)

// Handle is the shared, reference-counted state of one open file or
// directory.
type Handle struct {
	Name          string
	StartCluster  volume.Cluster
	Attributes    uint8
	Chain         *chain.Chain
	Size          uint32
	ParentCluster volume.Cluster
	SlotIndex     int

	// DeleteOnClose is set by unlink/rmdir after it has already removed the
	// directory slot; the data clusters are freed once refcount reaches 0.
	DeleteOnClose bool

	refcount int
}

// IsDirectory reports whether the directory attribute bit (0x10) is set.
func (h *Handle) IsDirectory() bool {
	return h.Attributes&0x10 != 0
}

// IsReadOnly reports whether the read-only attribute bit (0x01) is set.
func (h *Handle) IsReadOnly() bool {
	return h.Attributes&0x01 != 0
}

// RefCount returns the handle's current reference count.
func (h *Handle) RefCount() int {
	return h.refcount
}

// Table is the process-wide collection of open handles, keyed by starting-
// cluster identity (spec.md §3 "Handle table"). At most one Handle exists
// per identity.
type Table struct {
	byStartCluster map[volume.Cluster]*Handle
}

// NewTable creates an empty handle table.
func NewTable() *Table {
	return &Table{byStartCluster: make(map[volume.Cluster]*Handle)}
}

// Lookup returns the resident handle for a starting cluster, if any.
func (t *Table) Lookup(start volume.Cluster) (*Handle, bool) {
	h, ok := t.byStartCluster[start]
	return h, ok
}

// Acquire returns the shared handle for `start`, incrementing its refcount.
// If no entry exists yet, it calls build to construct one and inserts it
// with refcount 1, per spec.md §4.5 "open-by-path".
func (t *Table) Acquire(start volume.Cluster, build func() (*Handle, error)) (*Handle, error) {
	if h, ok := t.byStartCluster[start]; ok {
		h.refcount++
		return h, nil
	}

	h, err := build()
	if err != nil {
		return nil, err
	}
	h.refcount = 1
	t.byStartCluster[start] = h
	return h, nil
}

// Release decrements h's refcount. It reports whether the count reached
// zero, in which case the caller owns the cleanup sequence of spec.md §4.4
// "Close" and must remove the entry by calling Forget.
func (t *Table) Release(h *Handle) bool {
	h.refcount--
	return h.refcount == 0
}

// Forget removes a handle from the table. Callers must only call this after
// Release reports the refcount reached zero.
func (t *Table) Forget(h *Handle) {
	delete(t.byStartCluster, h.StartCluster)
}

// Len returns the number of distinct resident handles, mostly useful for
// tests asserting on open/close symmetry.
func (t *Table) Len() int {
	return len(t.byStartCluster)
}
