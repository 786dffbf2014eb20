// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/bureau-foundation/sharefs/lib/sharefs"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// inode is the go-fuse side of a share node. Once Lookup has handed
// it to the kernel, the kernel's lookup count keeps it alive and the
// node is unbound when go-fuse forgets it. An inode the kernel never
// saw, such as one created to number a directory entry, is unbound
// when the share drops its last reference through [handle].
type inode struct {
	gofuse.Inode
	server *Server

	mu     sync.Mutex
	node   *sharefs.Node
	refs   int
	known  bool
	doomed bool
}

var _ gofuse.InodeEmbedder = (*inode)(nil)
var _ gofuse.NodeOnForgetter = (*inode)(nil)
var _ gofuse.NodeLookuper = (*inode)(nil)
var _ gofuse.NodeGetattrer = (*inode)(nil)
var _ gofuse.NodeSetattrer = (*inode)(nil)
var _ gofuse.NodeAccesser = (*inode)(nil)
var _ gofuse.NodeOpener = (*inode)(nil)
var _ gofuse.NodeReader = (*inode)(nil)
var _ gofuse.NodeReleaser = (*inode)(nil)
var _ gofuse.NodeReadlinker = (*inode)(nil)
var _ gofuse.NodeReaddirer = (*inode)(nil)
var _ gofuse.NodeStatfser = (*inode)(nil)

// handle is the share's Handle for an inode. go-fuse claims the
// Release method name on the inode itself, so references go through
// this wrapper.
type handle struct {
	inode *inode
}

var _ sharefs.Handle = handle{}

func (h handle) Acquire() error { return h.inode.acquire() }

func (h handle) Release() { h.inode.release() }

func (i *inode) acquire() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.doomed {
		return sharefs.ErrHandleDoomed
	}
	i.refs++
	return nil
}

func (i *inode) release() {
	i.mu.Lock()
	i.refs--
	orphaned := i.refs == 0 && !i.known && !i.doomed
	if orphaned {
		i.doomed = true
	}
	node := i.node
	i.mu.Unlock()

	if orphaned {
		i.server.mount.Unbind(node)
	}
}

// markKnown records that the inode has been returned to the kernel.
func (i *inode) markKnown() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.known = true
}

func (i *inode) doom() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.doomed = true
}

func (i *inode) shareNode() *sharefs.Node {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.node
}

// OnForget runs when the kernel has dropped every reference to the
// inode.
func (i *inode) OnForget() {
	node := i.shareNode()
	i.doom()
	i.server.mount.Unbind(node)
}

func (i *inode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	mount := i.server.mount
	child, h, err := mount.Lookup(ctx, i.shareNode(), name, sharefs.MakeEntry)
	if err != nil {
		return nil, Errno(err)
	}
	defer h.Release()

	attr, err := mount.Getattr(ctx, child)
	if err != nil {
		return nil, Errno(err)
	}
	fillAttr(&out.Attr, attr)
	out.SetEntryTimeout(i.server.entryTimeout)
	out.SetAttrTimeout(i.server.attrTimeout)

	found := h.(handle).inode
	found.markKnown()
	return found.EmbeddedInode(), 0
}

func (i *inode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := i.server.mount.Getattr(ctx, i.shareNode())
	if err != nil {
		return Errno(err)
	}
	fillAttr(&out.Attr, attr)
	out.SetTimeout(i.server.attrTimeout)
	return 0
}

func (i *inode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	var request sharefs.SetattrRequest
	if mode, ok := in.GetMode(); ok {
		request.Mode = &mode
	}
	if uid, ok := in.GetUID(); ok {
		request.UID = &uid
	}
	if gid, ok := in.GetGID(); ok {
		request.GID = &gid
	}
	if size, ok := in.GetSize(); ok {
		request.Size = &size
	}
	if atime, ok := in.GetATime(); ok {
		request.Atime = &atime
	}
	if mtime, ok := in.GetMTime(); ok {
		request.Mtime = &mtime
	}
	if ctime, ok := in.GetCTime(); ok {
		request.Ctime = &ctime
	}

	node := i.shareNode()
	if err := i.server.mount.Setattr(ctx, node, request); err != nil {
		return Errno(err)
	}
	return i.Getattr(ctx, f, out)
}

func (i *inode) Access(ctx context.Context, mask uint32) syscall.Errno {
	var mode sharefs.AccessMode
	if mask&unixRead != 0 {
		mode |= sharefs.AccessRead
	}
	if mask&unixWrite != 0 {
		mode |= sharefs.AccessWrite
	}
	if mask&unixExecute != 0 {
		mode |= sharefs.AccessExecute
	}
	return Errno(i.server.mount.Access(ctx, i.shareNode(), mode))
}

// access(2) mask bits.
const (
	unixExecute = 1
	unixWrite   = 2
	unixRead    = 4
)

// Open refuses write access and opens the provider file otherwise.
// The returned handle only marks the open for Release.
func (i *inode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}
	if err := i.server.mount.Open(ctx, i.shareNode()); err != nil {
		return nil, 0, Errno(err)
	}
	return &openFile{}, 0, 0
}

// openFile is the FUSE file handle of an open share file. The share
// tracks the provider file per node, so it carries nothing.
type openFile struct{}

func (i *inode) Release(ctx context.Context, f gofuse.FileHandle) syscall.Errno {
	if _, ok := f.(*openFile); !ok {
		return 0
	}
	return Errno(i.server.mount.Close(ctx, i.shareNode()))
}

func (i *inode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := i.server.mount.Read(ctx, i.shareNode(), dest, off)
	if err != nil {
		return nil, Errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (i *inode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := i.server.mount.Readlink(ctx, i.shareNode())
	if err != nil {
		return nil, Errno(err)
	}
	return []byte(target), 0
}

func (i *inode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	node := i.shareNode()
	if node.Type() != sharefs.TypeDirectory {
		return nil, syscall.ENOTDIR
	}
	return &dirStream{
		ctx:   context.WithoutCancel(ctx),
		mount: i.server.mount,
		node:  node,
	}, 0
}

func (i *inode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	statfs := i.server.mount.Statfs(ctx)
	out.Bsize = statfs.BlockSize
	out.Frsize = statfs.BlockSize
	out.NameLen = statfs.NameMax
	out.Blocks = statfs.Blocks
	out.Files = statfs.Files
	return 0
}

// fillAttr copies share attributes into a FUSE attribute block. Zero
// times are left unset.
func fillAttr(out *fuse.Attr, attr sharefs.Attr) {
	out.Ino = attr.Ino
	out.Mode = attr.Mode
	out.Nlink = attr.Nlink
	out.Size = attr.Size
	out.Blocks = attr.Blocks
	out.Blksize = attr.BlockSize
	out.Owner = fuse.Owner{Uid: attr.UID, Gid: attr.GID}
	out.SetTimes(nonZero(attr.Atime), nonZero(attr.Mtime), nonZero(attr.Ctime))
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
