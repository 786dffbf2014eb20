// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sharefs

import (
	"context"
	"syscall"
	"time"

	"github.com/bureau-foundation/sharefs/lib/provider"
)

// Attr is the attribute set reported to the guest for a node.
type Attr struct {
	Ino       uint64
	Type      NodeType
	Mode      uint32
	Nlink     uint32
	UID       uint32
	GID       uint32
	Size      uint64
	Blocks    uint64
	BlockSize uint32
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Birthtime time.Time
}

// Getattr returns the node's attributes, fetching from the provider
// only when the cached snapshot is older than the mount's stat TTL. A
// failed fetch leaves the previous snapshot in place.
func (m *Mount) Getattr(ctx context.Context, n *Node) (Attr, error) {
	n.mu.Lock()
	fresh := n.statValid && m.clock.Since(n.statTime) < m.statTTL
	stat := n.stat
	n.mu.Unlock()

	if !fresh {
		var err error
		stat, err = m.refreshStat(ctx, n)
		if err != nil {
			return Attr{}, err
		}
	}
	return m.attrFromStat(n, stat), nil
}

func (m *Mount) refreshStat(ctx context.Context, n *Node) (provider.Stat, error) {
	stat, err := m.provider.GetAttributes(ctx, n.path)
	m.attributeFetches.Add(1)
	if err != nil {
		return provider.Stat{}, err
	}
	m.storeStat(n, stat)
	return stat, nil
}

// storeStat replaces the snapshot, timestamped now.
func (m *Mount) storeStat(n *Node, stat provider.Stat) {
	n.mu.Lock()
	n.stat = stat
	n.statTime = m.clock.Now()
	n.statValid = true
	n.mu.Unlock()
}

// invalidateStat forces the next Getattr to fetch.
func (m *Mount) invalidateStat(n *Node) {
	n.mu.Lock()
	n.statValid = false
	n.mu.Unlock()
}

func (m *Mount) attrFromStat(n *Node, stat provider.Stat) Attr {
	return Attr{
		Ino:       n.id,
		Type:      typeOf(stat.Mode),
		Mode:      m.maskMode(stat.Mode),
		Nlink:     1,
		UID:       m.uid,
		GID:       m.gid,
		Size:      uint64(max(stat.Size, 0)),
		Blocks:    uint64(max(stat.Alloc, 0)+BlockSize-1) / BlockSize,
		BlockSize: BlockSize,
		Atime:     stat.Atime,
		Mtime:     stat.Mtime,
		Ctime:     stat.Ctime,
		Birthtime: stat.Birthtime,
	}
}

// maskMode applies the mount's mode overrides and masks. Directories
// use the directory mode and mask; regular files and symlinks use the
// file mode and mask; anything else keeps the provider's bits.
func (m *Mount) maskMode(mode uint32) uint32 {
	var override, mask uint32
	switch mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		override, mask = m.dirMode, m.dirMask
	case syscall.S_IFREG, syscall.S_IFLNK:
		override, mask = m.fileMode, m.fileMask
	default:
		return mode
	}

	permissions := mode &^ syscall.S_IFMT
	if override != 0 {
		permissions = override & 0o777
	}
	permissions &^= mask
	return mode&syscall.S_IFMT | permissions
}

// SetattrRequest lists the attribute changes a guest asked for. Nil
// fields were not requested.
type SetattrRequest struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *time.Time
	Mtime *time.Time
	Ctime *time.Time
	Flags *uint32
}

// Setattr invalidates the node's cached attributes and forwards mode
// and time changes to the provider, then refuses the request on this
// read-only filesystem: flag, owner, time, or mode changes fail with
// [ErrNotSupported]; a size change fails with [ErrIsDirectory] on a
// directory and ErrNotSupported on a regular file or symlink, and is
// accepted on special files. A request asking for none of these
// returns the provider's result.
func (m *Mount) Setattr(ctx context.Context, n *Node, request SetattrRequest) error {
	m.invalidateStat(n)

	var attr provider.SetAttr
	if request.Mode != nil {
		mode := *request.Mode&0o7777 | typeBits(n.typ)
		attr.Mode = &mode
	}
	attr.Atime = request.Atime
	attr.Mtime = request.Mtime
	attr.Ctime = request.Ctime

	err := m.provider.SetAttributes(ctx, n.path, attr)

	if request.Flags != nil || request.UID != nil || request.GID != nil ||
		request.Atime != nil || request.Mtime != nil || request.Mode != nil {
		return ErrNotSupported
	}
	if request.Size != nil {
		switch n.typ {
		case TypeDirectory:
			return ErrIsDirectory
		case TypeRegular, TypeSymlink:
			return ErrNotSupported
		default:
			return nil
		}
	}
	return err
}

// typeBits is the S_IFMT value for a node type. Special nodes do not
// record which kind of special file they are, so they get none.
func typeBits(t NodeType) uint32 {
	switch t {
	case TypeDirectory:
		return syscall.S_IFDIR
	case TypeRegular:
		return syscall.S_IFREG
	case TypeSymlink:
		return syscall.S_IFLNK
	default:
		return 0
	}
}
