// Package fs is the filesystem façade: it composes the FAT cache, the
// free-space map, the allocator, the handle table, and the path resolver
// into the operations a bridge (FUSE or otherwise) calls, per spec.md §4.7.
package fs

import (
	"os"
	"time"

	fserrors "github.com/bramblefs/fat32fs/errors"
	"github.com/bramblefs/fat32fs/internal/allocator"
	"github.com/bramblefs/fat32fs/internal/chain"
	"github.com/bramblefs/fat32fs/internal/direntry"
	"github.com/bramblefs/fat32fs/internal/fatcache"
	"github.com/bramblefs/fat32fs/internal/freespace"
	"github.com/bramblefs/fat32fs/internal/handle"
	"github.com/bramblefs/fat32fs/internal/resolver"
	"github.com/bramblefs/fat32fs/internal/volume"
)

// Attr is the portable attribute record returned by GetAttrs, per spec.md
// §6.
type Attr struct {
	Inode     uint64
	Mode      os.FileMode
	Nlink     uint32
	Size      int64
	BlockSize uint32
	Blocks    uint64
	Atime     time.Time
	Mtime     time.Time
}

// StatVFS is the geometry and usage record returned by Statvfs, per
// spec.md §6.
type StatVFS struct {
	BlockSize    uint32
	FragmentSize uint32
	Blocks       uint64
	BlocksFree   uint64
	BlocksAvail  uint64
	NameMax      uint32
}

// DirEntry is one row handed to a Readdir filler callback.
type DirEntry struct {
	Name string
	Attr Attr
}

// FillerFunc receives one directory entry plus the slot index to resume
// from on the next call. It returns true when the caller's buffer is full
// and scanning should stop.
type FillerFunc func(entry DirEntry, nextOffset int) bool

// FileSystem is the process-wide, single-threaded façade over one mounted
// volume. Per spec.md §5, callers must serialise all requests; FileSystem
// does not take any lock of its own.
type FileSystem struct {
	vol      *volume.Volume
	cache    *fatcache.Cache
	free     *freespace.Map
	alloc    *allocator.Allocator
	handles  *handle.Table
	resolver *resolver.Resolver
}

// Mount brings a FAT32 volume up: decodes the boot sector and FSInfo
// sector, builds the FAT cache and free-space map, and returns a ready
// FileSystem. cacheCapacity <= 0 uses fatcache.DefaultCapacity.
func Mount(dev volume.Device, cacheCapacity int) (*FileSystem, error) {
	vol, totalClusters, err := volume.Mount(dev)
	if err != nil {
		return nil, err
	}

	cache := fatcache.New(vol, cacheCapacity)
	free, err := freespace.Build(cache, totalClusters)
	if err != nil {
		return nil, err
	}
	alloc := allocator.New(cache, free)

	return &FileSystem{
		vol:      vol,
		cache:    cache,
		free:     free,
		alloc:    alloc,
		handles:  handle.NewTable(),
		resolver: resolver.New(vol, cache, alloc),
	}, nil
}

// Unmount is a no-op beyond documenting intent: the FAT cache is
// write-through, so nothing is buffered in memory that needs flushing.
func (f *FileSystem) Unmount() error {
	return nil
}

func attrFromSlot(slot direntry.Raw, blockSize uint) Attr {
	mode := os.FileMode(0o555)
	if slot.Attributes&direntry.AttrReadOnly == 0 {
		mode = 0o755
	}
	if slot.Attributes&direntry.AttrDirectory != 0 {
		mode |= os.ModeDir
	}

	size := int64(slot.FileSize())
	blocks := uint64(size+int64(blockSize)-1) / uint64(blockSize)

	return Attr{
		Inode:     uint64(slot.StartCluster()),
		Mode:      mode,
		Nlink:     1,
		Size:      size,
		BlockSize: uint32(blockSize),
		Blocks:    blocks,
		Atime:     direntry.DateFromWord(slot.AccessDate),
		Mtime:     direntry.TimeFromWord(slot.WriteDate, slot.WriteTime),
	}
}

// Open resolves path and returns a shared, refcounted handle for it, per
// spec.md §4.5 "open-by-path".
func (f *FileSystem) Open(path string) (*handle.Handle, error) {
	result, err := f.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	return f.handles.Acquire(result.Slot.StartCluster(), func() (*handle.Handle, error) {
		return f.buildHandle(result)
	})
}

// OpenDir is Open restricted to directories.
func (f *FileSystem) OpenDir(path string) (*handle.Handle, error) {
	h, err := f.Open(path)
	if err != nil {
		return nil, err
	}
	if !h.IsDirectory() {
		f.Release(h)
		return nil, fserrors.ErrNotADirectory
	}
	return h, nil
}

func (f *FileSystem) buildHandle(result resolver.Result) (*handle.Handle, error) {
	ch, err := chain.Open(f.vol, f.cache, f.alloc, result.Slot.StartCluster())
	if err != nil {
		return nil, err
	}
	return &handle.Handle{
		Name:          result.Slot.TrimmedName(),
		StartCluster:  result.Slot.StartCluster(),
		Attributes:    result.Slot.Attributes,
		Chain:         ch,
		Size:          result.Slot.FileSize(),
		ParentCluster: result.Parent.StartCluster,
		SlotIndex:     result.SlotIndex,
	}, nil
}

// Release closes a handle opened by Open, freeing its data clusters once
// the refcount reaches zero if it was unlinked while still open, per
// spec.md §4.4 "Close". The directory slot itself is already gone by the
// time DeleteOnClose is set — see unlinkOrRmdir — so this only reclaims
// the chain's clusters.
func (f *FileSystem) Release(h *handle.Handle) error {
	if !f.handles.Release(h) {
		return nil
	}
	f.handles.Forget(h)

	if !h.DeleteOnClose {
		return nil
	}
	return f.alloc.ReleaseChain(h.Chain.Clusters())
}

// ReleaseDir is an alias of Release for bridges that distinguish the two.
func (f *FileSystem) ReleaseDir(h *handle.Handle) error {
	return f.Release(h)
}

func (f *FileSystem) openParentDirectory(start volume.Cluster) (*direntry.Directory, error) {
	ch, err := chain.Open(f.vol, f.cache, f.alloc, start)
	if err != nil {
		return nil, err
	}
	return &direntry.Directory{Chain: ch, StartCluster: start}, nil
}

// withParentSlot re-reads h's slot from its parent directory, applies
// mutate, and writes it back.
func (f *FileSystem) withParentSlot(h *handle.Handle, mutate func(*direntry.Raw)) error {
	parent, err := f.openParentDirectory(h.ParentCluster)
	if err != nil {
		return err
	}
	slot, err := parent.ReadSlot(h.SlotIndex)
	if err != nil {
		return err
	}
	mutate(&slot)
	return parent.WriteSlot(h.SlotIndex, slot)
}

// Read sets h's cursor to offset and reads into buf, per spec.md §4.7
// "read". It also updates the parent slot's access-date field.
func (f *FileSystem) Read(h *handle.Handle, buf []byte, offset int64) (int, error) {
	if err := h.Chain.Seek(offset, chain.SeekStart, uint64(h.Size)); err != nil {
		return 0, err
	}
	n, err := h.Chain.Read(buf)
	if err != nil {
		return n, err
	}

	now := time.Now()
	_ = f.withParentSlot(h, func(slot *direntry.Raw) {
		slot.AccessDate = direntry.WordFromDate(now)
	})
	return n, nil
}

// Write sets h's cursor to offset and writes buf, extending the chain as
// needed, per spec.md §4.7 "write". offset > size is an error.
func (f *FileSystem) Write(h *handle.Handle, buf []byte, offset int64) (int, error) {
	if uint64(offset) > uint64(h.Size) {
		return 0, fserrors.ErrInvalidArgument.WithMessage("write offset past end of file")
	}

	if err := h.Chain.Seek(offset, chain.SeekStart, h.Chain.AllocatedBytes()); err != nil {
		return 0, err
	}
	n, err := h.Chain.Write(buf)
	if err != nil {
		return n, err
	}

	newSize := offset + int64(n)
	if newSize > int64(h.Size) {
		h.Size = uint32(newSize)
	}

	now := time.Now()
	_ = f.withParentSlot(h, func(slot *direntry.Raw) {
		slot.WriteDate = direntry.WordFromDate(now)
		slot.WriteTime = direntry.WordFromTime(now)
		slot.Size32 = h.Size
	})
	return n, nil
}

// GetAttrs resolves path and packs its slot into the portable attribute
// record, per spec.md §4.7 "get-attrs". Resolution takes no handle-table
// reference, so nothing is released before returning.
func (f *FileSystem) GetAttrs(path string) (Attr, error) {
	result, err := f.resolver.Resolve(path)
	if err != nil {
		return Attr{}, err
	}
	return attrFromSlot(result.Slot, f.vol.BytesPerCluster()), nil
}

// Statvfs reports geometry and usage counts, per spec.md §4.7 "statvfs".
func (f *FileSystem) Statvfs() StatVFS {
	blockSize := uint32(f.vol.BytesPerCluster())
	used := uint64(f.free.UsedClusters())
	free := uint64(f.free.FreeClusters())

	return StatVFS{
		BlockSize:    blockSize,
		FragmentSize: blockSize,
		Blocks:       used + free,
		BlocksFree:   free,
		BlocksAvail:  free,
		NameMax:      11,
	}
}

// createEntry implements the shared core of mknod/mkdir: allocate a node
// cluster, append its slot to the named path's parent directory.
func (f *FileSystem) createEntry(path string, attrs uint8) error {
	parent, name, err := f.resolver.ResolveParent(path)
	if err != nil {
		return err
	}

	start, err := f.alloc.AllocNode()
	if err != nil {
		return err
	}

	var slot direntry.Raw
	copy(slot.Name[:], padName(name))
	slot.Attributes = attrs
	slot.SetStartCluster(start)

	now := time.Now()
	slot.CreationDate = direntry.WordFromDate(now)
	slot.CreationTime = direntry.WordFromTime(now)
	slot.WriteDate = slot.CreationDate
	slot.WriteTime = slot.CreationTime

	_, err = parent.AppendSlot(slot)
	return err
}

// Mknod creates a regular file with no extra attributes, per spec.md §4.7.
func (f *FileSystem) Mknod(path string) error {
	return f.createEntry(path, 0)
}

// Mkdir creates a file with the directory attribute bit set, per spec.md
// §4.7.
func (f *FileSystem) Mkdir(path string) error {
	return f.createEntry(path, direntry.AttrDirectory)
}

// unlinkOrRmdir implements the shared core of unlink/rmdir: open the
// target, reject read-only entries and non-empty directories, then remove
// its slot from the parent directory immediately. Per spec.md §4.4, the
// name disappears from the directory at once even while other handles
// keep it open; only the data clusters stay allocated until the last
// close, via DeleteOnClose.
func (f *FileSystem) unlinkOrRmdir(path string) error {
	h, err := f.Open(path)
	if err != nil {
		return err
	}

	if h.IsReadOnly() {
		f.Release(h)
		return fserrors.ErrPermissionDenied
	}

	if h.IsDirectory() {
		dir := &direntry.Directory{Chain: h.Chain, StartCluster: h.StartCluster}
		empty, err := dir.IsEmpty()
		if err != nil {
			f.Release(h)
			return err
		}
		if !empty {
			f.Release(h)
			return fserrors.ErrNotEmpty
		}
	}

	parent, err := f.openParentDirectory(h.ParentCluster)
	if err != nil {
		f.Release(h)
		return err
	}
	if err := parent.DeleteSlot(h.SlotIndex); err != nil {
		f.Release(h)
		return err
	}

	h.DeleteOnClose = true
	return f.Release(h)
}

// Unlink removes a regular file, per spec.md §4.7.
func (f *FileSystem) Unlink(path string) error {
	return f.unlinkOrRmdir(path)
}

// Rmdir removes an empty directory, per spec.md §4.7.
func (f *FileSystem) Rmdir(path string) error {
	return f.unlinkOrRmdir(path)
}

// Rename moves oldPath's slot into newPath's parent directory, per
// spec.md §4.7 "rename": delete old's slot from its parent (swap-with-
// last), overwrite the name field, append into new's parent.
func (f *FileSystem) Rename(oldPath, newPath string) error {
	oldResult, err := f.resolver.Resolve(oldPath)
	if err != nil {
		return err
	}

	newParent, newName, err := f.resolver.ResolveParent(newPath)
	if err != nil {
		return err
	}

	slot := oldResult.Slot
	copy(slot.Name[:], padName(newName))

	if err := oldResult.Parent.DeleteSlot(oldResult.SlotIndex); err != nil {
		return err
	}
	_, err = newParent.AppendSlot(slot)
	return err
}

// Truncate resizes the file at path to len bytes, per spec.md §4.7
// "truncate": shrinking releases trailing clusters, growing zero-fills via
// the normal write path.
func (f *FileSystem) Truncate(path string, newSize int64) error {
	h, err := f.Open(path)
	if err != nil {
		return err
	}
	defer f.Release(h)

	if h.IsReadOnly() {
		return fserrors.ErrPermissionDenied
	}

	oldSize := int64(h.Size)
	switch {
	case oldSize > newSize:
		if err := h.Chain.TruncateTo(uint64(newSize)); err != nil {
			return err
		}
	case oldSize < newSize:
		zeros := make([]byte, newSize-oldSize)
		if _, err := f.Write(h, zeros, oldSize); err != nil {
			return err
		}
	}

	h.Size = uint32(newSize)
	return f.withParentSlot(h, func(slot *direntry.Raw) {
		slot.Size32 = h.Size
	})
}

// Readdir scans slots starting at offset, packing each into a DirEntry and
// passing it to filler along with the index to resume from; it stops when
// filler returns true or the first unused slot is reached, per spec.md
// §4.7 "readdir".
func (f *FileSystem) Readdir(path string, offset int, filler FillerFunc) error {
	h, err := f.OpenDir(path)
	if err != nil {
		return err
	}
	defer f.Release(h)

	dir := &direntry.Directory{Chain: h.Chain, StartCluster: h.StartCluster}
	blockSize := f.vol.BytesPerCluster()

	index := offset
	for {
		slot, err := dir.ReadSlot(index)
		if err != nil {
			return err
		}
		if slot.IsUnused() {
			return nil
		}

		entry := DirEntry{Name: slot.TrimmedName(), Attr: attrFromSlot(slot, blockSize)}
		if filler(entry, index+1) {
			return nil
		}
		index++
	}
}

// SetTimes updates the access and modification timestamps of path, per
// spec.md §4.7 "set-times": rejected if the read-only attribute is set.
func (f *FileSystem) SetTimes(path string, atime, mtime time.Time) error {
	h, err := f.Open(path)
	if err != nil {
		return err
	}
	defer f.Release(h)

	if h.IsReadOnly() {
		return fserrors.ErrPermissionDenied
	}

	return f.withParentSlot(h, func(slot *direntry.Raw) {
		slot.AccessDate = direntry.WordFromDate(atime)
		slot.WriteDate = direntry.WordFromDate(mtime)
		slot.WriteTime = direntry.WordFromTime(mtime)
	})
}

func padName(name string) string {
	if len(name) > 11 {
		name = name[:11]
	}
	for len(name) < 11 {
		name += " "
	}
	return name
}
