// Package resolver implements path resolution by repeated directory scan,
// per spec.md §4.7.
package resolver

import (
	"strings"

	fserrors "github.com/bramblefs/fat32fs/errors"
	"github.com/bramblefs/fat32fs/internal/allocator"
	"github.com/bramblefs/fat32fs/internal/chain"
	"github.com/bramblefs/fat32fs/internal/direntry"
	"github.com/bramblefs/fat32fs/internal/fatcache"
	"github.com/bramblefs/fat32fs/internal/volume"
)

// Result is the outcome of a successful resolution: the final slot, the
// still-open parent directory, and the slot's index within it.
type Result struct {
	Slot      direntry.Raw
	Parent    *direntry.Directory
	SlotIndex int
}

// Resolver walks paths against a mounted volume's directory tree.
type Resolver struct {
	vol   *volume.Volume
	cache *fatcache.Cache
	alloc *allocator.Allocator
}

// New creates a Resolver over the given volume, cache, and allocator.
func New(vol *volume.Volume, cache *fatcache.Cache, alloc *allocator.Allocator) *Resolver {
	return &Resolver{vol: vol, cache: cache, alloc: alloc}
}

// openDirectory materialises the cluster-chain directory starting at c.
func (r *Resolver) openDirectory(c volume.Cluster) (*direntry.Directory, error) {
	ch, err := chain.Open(r.vol, r.cache, r.alloc, c)
	if err != nil {
		return nil, err
	}
	return &direntry.Directory{Chain: ch, StartCluster: c}, nil
}

// Resolve splits path on '/' and walks it from the synthetic root,
// returning the final slot, its parent directory (an in-memory Directory
// that takes no handle-table reference, so there is nothing to close), and
// the slot's index within the parent.
func (r *Resolver) Resolve(path string) (Result, error) {
	components := splitPath(path)

	parent, err := r.openDirectory(r.vol.RootCluster)
	if err != nil {
		return Result{}, err
	}

	if len(components) == 0 {
		// The root itself: synthesize its slot.
		var root direntry.Raw
		copy(root.Name[:], "/")
		for i := 1; i < 11; i++ {
			root.Name[i] = ' '
		}
		root.Attributes = direntry.AttrDirectory
		root.SetStartCluster(r.vol.RootCluster)
		return Result{Slot: root, Parent: parent, SlotIndex: -1}, nil
	}

	var slot direntry.Raw
	var slotIndex int

	for i, component := range components {
		slot, slotIndex, err = parent.Lookup(component)
		if err != nil {
			return Result{}, err
		}

		if i == len(components)-1 {
			break
		}

		if slot.Attributes&direntry.AttrDirectory == 0 {
			return Result{}, fserrors.ErrNotADirectory
		}
		parent, err = r.openDirectory(slot.StartCluster())
		if err != nil {
			return Result{}, err
		}
	}

	return Result{Slot: slot, Parent: parent, SlotIndex: slotIndex}, nil
}

// ResolveParent resolves the directory that would contain `path`'s final
// component, returning it open plus the bare component name. Used by
// operations that need to create or rename into a directory rather than
// resolve an existing entry.
func (r *Resolver) ResolveParent(path string) (*direntry.Directory, string, error) {
	components := splitPath(path)
	if len(components) == 0 {
		return nil, "", fserrors.ErrInvalidArgument.WithMessage("empty path")
	}

	parent, err := r.openDirectory(r.vol.RootCluster)
	if err != nil {
		return nil, "", err
	}

	for _, component := range components[:len(components)-1] {
		slot, _, err := parent.Lookup(component)
		if err != nil {
			return nil, "", err
		}
		if slot.Attributes&direntry.AttrDirectory == 0 {
			return nil, "", fserrors.ErrNotADirectory
		}
		parent, err = r.openDirectory(slot.StartCluster())
		if err != nil {
			return nil, "", err
		}
	}

	return parent, components[len(components)-1], nil
}

// splitPath splits a slash-separated path into non-empty components.
func splitPath(path string) []string {
	var out []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
