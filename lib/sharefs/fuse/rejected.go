// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"syscall"

	"github.com/bureau-foundation/sharefs/lib/sharefs"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// The share is read-only. Every mutating request is routed to the
// share so it is refused and logged in one place.

var _ gofuse.NodeCreater = (*inode)(nil)
var _ gofuse.NodeMkdirer = (*inode)(nil)
var _ gofuse.NodeMknoder = (*inode)(nil)
var _ gofuse.NodeUnlinker = (*inode)(nil)
var _ gofuse.NodeRmdirer = (*inode)(nil)
var _ gofuse.NodeRenamer = (*inode)(nil)
var _ gofuse.NodeLinker = (*inode)(nil)
var _ gofuse.NodeSymlinker = (*inode)(nil)
var _ gofuse.NodeWriter = (*inode)(nil)
var _ gofuse.NodeFsyncer = (*inode)(nil)
var _ gofuse.NodeGetxattrer = (*inode)(nil)
var _ gofuse.NodeSetxattrer = (*inode)(nil)
var _ gofuse.NodeGetlker = (*inode)(nil)
var _ gofuse.NodeSetlker = (*inode)(nil)
var _ gofuse.NodeSetlkwer = (*inode)(nil)

func (i *inode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, Errno(i.server.mount.Create(ctx, i.shareNode(), name))
}

func (i *inode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	return nil, Errno(i.server.mount.Mkdir(ctx, i.shareNode(), name, mode))
}

func (i *inode) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	return nil, Errno(i.server.mount.Mknod(ctx, i.shareNode(), name, mode))
}

func (i *inode) Unlink(ctx context.Context, name string) syscall.Errno {
	return Errno(i.server.mount.Remove(ctx, i.shareNode(), name))
}

func (i *inode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return Errno(i.server.mount.Rmdir(ctx, i.shareNode(), name))
}

func (i *inode) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return Errno(i.server.mount.Rename(ctx, i.shareNode(), name, nodeOf(newParent), newName))
}

func (i *inode) Link(ctx context.Context, target gofuse.InodeEmbedder, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	return nil, Errno(i.server.mount.Link(ctx, i.shareNode(), nodeOf(target), name))
}

func (i *inode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	return nil, Errno(i.server.mount.Symlink(ctx, i.shareNode(), name, target))
}

func (i *inode) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	_, err := i.server.mount.Write(ctx, i.shareNode(), data, off)
	return 0, Errno(err)
}

func (i *inode) Fsync(ctx context.Context, f gofuse.FileHandle, flags uint32) syscall.Errno {
	return Errno(i.server.mount.Fsync(ctx, i.shareNode()))
}

func (i *inode) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	_, err := i.server.mount.Getextattr(ctx, i.shareNode(), attr)
	return 0, Errno(err)
}

func (i *inode) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return Errno(i.server.mount.Setextattr(ctx, i.shareNode(), attr, data))
}

func (i *inode) Getlk(ctx context.Context, f gofuse.FileHandle, owner uint64, lk *fuse.FileLock, flags uint32, out *fuse.FileLock) syscall.Errno {
	return Errno(i.server.mount.Advlock(ctx, i.shareNode()))
}

func (i *inode) Setlk(ctx context.Context, f gofuse.FileHandle, owner uint64, lk *fuse.FileLock, flags uint32) syscall.Errno {
	return Errno(i.server.mount.Advlock(ctx, i.shareNode()))
}

func (i *inode) Setlkw(ctx context.Context, f gofuse.FileHandle, owner uint64, lk *fuse.FileLock, flags uint32) syscall.Errno {
	return Errno(i.server.mount.Advlock(ctx, i.shareNode()))
}

// nodeOf returns the share node behind a go-fuse inode, or nil for an
// inode this package did not create.
func nodeOf(embedder gofuse.InodeEmbedder) *sharefs.Node {
	if other, ok := embedder.(*inode); ok {
		return other.shareNode()
	}
	return nil
}
