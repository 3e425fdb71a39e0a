//go:build linux
// +build linux

// Package bridgefuse adapts the fs.FileSystem façade onto bazil.org/fuse's
// kernel-bridge interfaces. It is a thin translation layer: every node
// carries the path it corresponds to and turns bazil's inode-shaped calls
// back into path-shaped façade calls, since the façade resolves by path on
// every operation (spec.md §4.7) rather than holding onto inode numbers.
package bridgefuse

import (
	"context"
	"path"
	"time"

	"bazil.org/fuse"
	bazilfs "bazil.org/fuse/fs"

	fserrors "github.com/bramblefs/fat32fs/errors"
	"github.com/bramblefs/fat32fs/fs"
	"github.com/bramblefs/fat32fs/internal/handle"
)

// Serve mounts volFS at mountpoint and blocks servicing requests until the
// filesystem is unmounted.
func Serve(volFS *fs.FileSystem, mountpoint string) error {
	conn, err := fuse.Mount(mountpoint, fuse.FSName("fat32fs"), fuse.Subtype("fat32fs"))
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := bazilfs.Serve(conn, &FS{vol: volFS}); err != nil {
		return err
	}

	<-conn.Ready
	return conn.MountError
}

// FS is the root of the bridge, implementing bazil.org/fuse/fs.FS.
type FS struct {
	vol *fs.FileSystem
}

// Root returns the root directory node.
func (f *FS) Root() (bazilfs.Node, error) {
	return &Dir{vol: f.vol, path: "/"}, nil
}

// translateErr maps the façade's error taxonomy (spec.md §7) onto the
// kernel errno surface.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errorsIs(err, fserrors.ErrNoSuchEntry):
		return fuse.ENOENT
	case errorsIs(err, fserrors.ErrNotADirectory):
		return fuse.Errno(0x14) // ENOTDIR
	case errorsIs(err, fserrors.ErrNotEmpty):
		return fuse.Errno(0x27) // ENOTEMPTY
	case errorsIs(err, fserrors.ErrPermissionDenied):
		return fuse.EPERM
	case errorsIs(err, fserrors.ErrInvalidArgument):
		return fuse.Errno(0x16) // EINVAL
	case errorsIs(err, fserrors.ErrOutOfSpace):
		return fuse.Errno(0x1c) // ENOSPC
	default:
		return fuse.EIO
	}
}

func errorsIs(err, target error) bool {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if e == target {
			return true
		}
		is, ok := e.(interface{ Is(error) bool })
		if ok && is.Is(target) {
			return true
		}
		u, ok := e.(unwrapper)
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return false
}

func attrToFuse(a fs.Attr, out *fuse.Attr) {
	out.Inode = a.Inode
	out.Mode = a.Mode
	out.Nlink = a.Nlink
	out.Size = uint64(a.Size)
	out.Blocks = a.Blocks
	out.BlockSize = a.BlockSize
	out.Atime = a.Atime
	out.Mtime = a.Mtime
}

func joinPath(dir, name string) string {
	return path.Join(dir, name)
}

// Dir implements bazil.org/fuse/fs.Node, fs.HandleReadDirAller, and
// fs.NodeStringLookuper for one directory path.
type Dir struct {
	vol  *fs.FileSystem
	path string
}

func (d *Dir) Attr(ctx context.Context, out *fuse.Attr) error {
	a, err := d.vol.GetAttrs(d.path)
	if err != nil {
		return translateErr(err)
	}
	attrToFuse(a, out)
	return nil
}

func (d *Dir) Lookup(ctx context.Context, name string) (bazilfs.Node, error) {
	childPath := joinPath(d.path, name)
	a, err := d.vol.GetAttrs(childPath)
	if err != nil {
		return nil, translateErr(err)
	}
	if a.Mode.IsDir() {
		return &Dir{vol: d.vol, path: childPath}, nil
	}
	return &File{vol: d.vol, path: childPath}, nil
}

func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	var entries []fuse.Dirent
	err := d.vol.Readdir(d.path, 0, func(entry fs.DirEntry, nextOffset int) bool {
		typ := fuse.DT_File
		if entry.Attr.Mode.IsDir() {
			typ = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{
			Inode: entry.Attr.Inode,
			Name:  entry.Name,
			Type:  typ,
		})
		return false
	})
	if err != nil {
		return nil, translateErr(err)
	}
	return entries, nil
}

func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (bazilfs.Node, error) {
	childPath := joinPath(d.path, req.Name)
	if err := d.vol.Mkdir(childPath); err != nil {
		return nil, translateErr(err)
	}
	return &Dir{vol: d.vol, path: childPath}, nil
}

func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (bazilfs.Node, bazilfs.Handle, error) {
	childPath := joinPath(d.path, req.Name)
	if err := d.vol.Mknod(childPath); err != nil {
		return nil, nil, translateErr(err)
	}
	file := &File{vol: d.vol, path: childPath}
	h, err := file.Open(ctx, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	return file, h, nil
}

func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	childPath := joinPath(d.path, req.Name)
	var err error
	if req.Dir {
		err = d.vol.Rmdir(childPath)
	} else {
		err = d.vol.Unlink(childPath)
	}
	return translateErr(err)
}

func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir bazilfs.Node) error {
	oldPath := joinPath(d.path, req.OldName)
	targetDir, ok := newDir.(*Dir)
	if !ok {
		return fuse.EIO
	}
	newPath := joinPath(targetDir.path, req.NewName)
	return translateErr(d.vol.Rename(oldPath, newPath))
}

// File implements bazil.org/fuse/fs.Node and fs.NodeOpener for one regular
// file path.
type File struct {
	vol  *fs.FileSystem
	path string
}

func (f *File) Attr(ctx context.Context, out *fuse.Attr) error {
	a, err := f.vol.GetAttrs(f.path)
	if err != nil {
		return translateErr(err)
	}
	attrToFuse(a, out)
	return nil
}

func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (bazilfs.Handle, error) {
	h, err := f.vol.Open(f.path)
	if err != nil {
		return nil, translateErr(err)
	}
	return &Handle{vol: f.vol, h: h}, nil
}

func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := f.vol.Truncate(f.path, int64(req.Size)); err != nil {
			return translateErr(err)
		}
	}
	if req.Valid.Atime() || req.Valid.Mtime() {
		atime, mtime := req.Atime, req.Mtime
		if atime.IsZero() {
			atime = time.Now()
		}
		if mtime.IsZero() {
			mtime = time.Now()
		}
		if err := f.vol.SetTimes(f.path, atime, mtime); err != nil {
			return translateErr(err)
		}
	}
	a, err := f.vol.GetAttrs(f.path)
	if err != nil {
		return translateErr(err)
	}
	attrToFuse(a, &resp.Attr)
	return nil
}

// Handle is an open file's bazil.org/fuse/fs.Handle, wrapping the façade's
// shared, refcounted handle.Handle.
type Handle struct {
	vol *fs.FileSystem
	h   *handle.Handle
}

func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	n, err := h.vol.Read(h.h, buf, req.Offset)
	if err != nil {
		return translateErr(err)
	}
	resp.Data = buf[:n]
	return nil
}

func (h *Handle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n, err := h.vol.Write(h.h, req.Data, req.Offset)
	if err != nil {
		return translateErr(err)
	}
	resp.Size = n
	return nil
}

func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	return translateErr(h.vol.Release(h.h))
}
