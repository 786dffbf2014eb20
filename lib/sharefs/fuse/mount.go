// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bureau-foundation/sharefs/lib/sharefs"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Options configures a FUSE-mounted share.
type Options struct {
	// Mountpoint is the directory the share is mounted on. It is
	// created if it does not exist.
	Mountpoint string

	// FsName is reported as the mount source in /proc/mounts.
	FsName string

	// Share configures the mount. Allocator is supplied by this
	// package and must be left nil.
	Share sharefs.Options

	// EntryTimeout is how long the kernel caches name lookups, and
	// AttrTimeout how long it caches attributes. Zero uses one second
	// and the share's StatTTL respectively.
	EntryTimeout time.Duration
	AttrTimeout  time.Duration

	// AllowOther permits users other than the mounter to access the
	// share. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Debug logs every FUSE request.
	Debug bool

	// DisableReadDirPlus makes the kernel list directories without
	// looking up every entry. Without deduplication each such lookup
	// mints a new inode.
	DisableReadDirPlus bool

	// Logger receives diagnostic messages. If nil, only errors are
	// written to stderr.
	Logger *slog.Logger
}

// Server is a mounted share. Callers must call Unmount when done.
type Server struct {
	mount  *sharefs.Mount
	fuse   *fuse.Server
	root   *inode
	logger *slog.Logger

	entryTimeout time.Duration
	attrTimeout  time.Duration

	unmounted atomic.Bool
}

// Mount mounts the share described by options.
func Mount(ctx context.Context, options Options) (*Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Share.Allocator != nil {
		return nil, fmt.Errorf("share allocator is supplied by the FUSE server")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}
	if options.Share.Logger == nil {
		options.Share.Logger = options.Logger
	}
	if options.FsName == "" {
		options.FsName = "sharefs"
	}
	if options.EntryTimeout == 0 {
		options.EntryTimeout = time.Second
	}
	if options.AttrTimeout == 0 {
		options.AttrTimeout = options.Share.StatTTL
	}

	server := &Server{
		logger:       options.Logger,
		entryTimeout: options.EntryTimeout,
		attrTimeout:  options.AttrTimeout,
	}
	server.root = &inode{server: server}
	options.Share.Allocator = &allocator{server: server}

	mount, err := sharefs.New(ctx, options.Share)
	if err != nil {
		return nil, err
	}
	server.mount = mount

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		mount.Unmount()
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	entryTimeout := options.EntryTimeout
	attrTimeout := options.AttrTimeout
	fuseServer, err := gofuse.Mount(options.Mountpoint, server.root, &gofuse.Options{
		EntryTimeout: &entryTimeout,
		AttrTimeout:  &attrTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     options.FsName,
			Name:       "sharefs",
			AllowOther: options.AllowOther,
			Debug:      options.Debug,

			DisableReadDirPlus: options.DisableReadDirPlus,
		},
	})
	if err != nil {
		mount.Unmount()
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}
	server.fuse = fuseServer

	options.Logger.Info("share mounted",
		"mountpoint", options.Mountpoint,
		"fsname", options.FsName,
	)
	return server, nil
}

// Share returns the mounted share.
func (s *Server) Share() *sharefs.Mount { return s.mount }

// Wait blocks until the filesystem is unmounted, by Unmount or from
// outside (fusermount -u).
func (s *Server) Wait() {
	s.fuse.Wait()
}

// Unmount detaches the filesystem and tears the share down. Calls
// after the first return nil.
func (s *Server) Unmount() error {
	if !s.unmounted.CompareAndSwap(false, true) {
		return nil
	}
	err := s.fuse.Unmount()
	s.mount.Unmount()
	if err != nil {
		return fmt.Errorf("unmounting: %w", err)
	}
	return nil
}

// allocator creates go-fuse inodes for share nodes. An inode enters
// the kernel's table when Lookup returns it, so Insert has nothing to
// do.
type allocator struct {
	server *Server
}

var _ sharefs.HandleAllocator = (*allocator)(nil)

func (a *allocator) Allocate(ctx context.Context, node *sharefs.Node) (sharefs.Handle, error) {
	if node.IsRoot() {
		// The root inode is handed to go-fuse at mount time and lives
		// as long as the mount.
		root := a.server.root
		root.mu.Lock()
		root.node = node
		root.refs++
		root.known = true
		root.doomed = false
		root.mu.Unlock()
		return handle{root}, nil
	}

	mode := typeBits(node.Type())
	if node.Type() == sharefs.TypeSpecial {
		attr, err := a.server.mount.Getattr(ctx, node)
		if err != nil {
			return nil, err
		}
		mode = attr.Mode & syscall.S_IFMT
	}

	child := &inode{server: a.server, node: node, refs: 1}
	a.server.root.NewInode(ctx, child, gofuse.StableAttr{
		Mode: mode,
		Ino:  node.ID(),
	})
	return handle{child}, nil
}

func (a *allocator) Insert(ctx context.Context, h sharefs.Handle) error {
	if _, ok := h.(handle); !ok {
		return errors.New("handle is not a FUSE inode")
	}
	return nil
}

func (a *allocator) Discard(h sharefs.Handle) {
	child := h.(handle).inode
	child.doom()
	a.server.mount.Unbind(child.node)
}

// typeBits is the S_IFMT value the kernel is told for a node type.
// Special files are resolved from their attributes instead.
func typeBits(t sharefs.NodeType) uint32 {
	switch t {
	case sharefs.TypeDirectory:
		return syscall.S_IFDIR
	case sharefs.TypeSymlink:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}
