// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sharefs

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/sharefs/lib/bufpool"
)

// Open opens the node's provider file, or shares the one already open.
// Every successful Open must be paired with a Close.
func (m *Mount) Open(ctx context.Context, n *Node) error {
	n.mu.Lock()
	if n.openCount > 0 {
		n.openCount++
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	file, err := m.provider.Open(ctx, n.path)
	if err != nil {
		return err
	}

	n.mu.Lock()
	if n.openCount > 0 {
		// Lost a race with another opener; use theirs.
		n.openCount++
		n.mu.Unlock()
		if err := m.provider.Close(ctx, file); err != nil {
			m.logger.Warn("closing duplicate provider file", "path", n.displayPath(), "error", err)
		}
		return nil
	}
	n.file = file
	n.openCount = 1
	n.mu.Unlock()
	return nil
}

// Close ends an open session: the directory listing is dropped, the
// attribute cache invalidated, and the provider file closed when this
// was the last open.
func (m *Mount) Close(ctx context.Context, n *Node) error {
	n.mu.Lock()
	directory := n.directory
	n.directory = nil
	n.statValid = false
	last := false
	file := n.file
	if n.openCount > 0 {
		n.openCount--
		last = n.openCount == 0
	}
	n.mu.Unlock()

	if directory != nil {
		directory.release()
	}
	if last {
		return m.provider.Close(ctx, file)
	}
	return nil
}

// Read reads up to len(dest) bytes at offset from a regular file opened
// with Open. Data moves through DirChunkSize provider requests; the
// first short one ends the read. Once any bytes have moved the read
// succeeds, even if a later request failed.
func (m *Mount) Read(ctx context.Context, n *Node, dest []byte, offset int64) (int, error) {
	switch n.typ {
	case TypeRegular:
	case TypeDirectory:
		return 0, ErrIsDirectory
	default:
		return 0, ErrInvalidArgument
	}
	if len(dest) == 0 {
		return 0, nil
	}
	if offset < 0 {
		return 0, fmt.Errorf("read at offset %d: %w", offset, ErrInvalidArgument)
	}

	n.mu.Lock()
	open, file := n.openCount > 0, n.file
	n.mu.Unlock()
	if !open {
		return 0, ErrNoHandle
	}

	page, err := m.buffers.Get()
	if errors.Is(err, bufpool.ErrExhausted) {
		return 0, fmt.Errorf("read of %s: %w", n.displayPath(), ErrOutOfMemory)
	}
	if err != nil {
		return 0, err
	}
	defer m.buffers.Put(page)

	total := 0
	for total < len(dest) {
		want := min(len(page), len(dest)-total)
		done, readErr := m.provider.Read(ctx, file, offset+int64(total), page[:want])
		if readErr != nil {
			err = readErr
			break
		}
		copy(dest[total:], page[:done])
		total += done
		if done < want {
			break
		}
	}

	if total > 0 {
		return total, nil
	}
	return 0, err
}

// Readlink returns a symlink's target, which must fit in PathMax bytes.
func (m *Mount) Readlink(ctx context.Context, n *Node) (string, error) {
	if n.typ != TypeSymlink {
		return "", ErrInvalidArgument
	}
	return m.provider.Readlink(ctx, n.path, PathMax)
}

// AccessMode is a set of access bits to check.
type AccessMode uint32

const (
	AccessExecute AccessMode = 1 << iota
	AccessWrite
	AccessRead
)

// Access checks the requested access. Write access to a directory,
// symlink, or regular file fails with [ErrReadOnly]; everything else is
// allowed.
func (m *Mount) Access(ctx context.Context, n *Node, mode AccessMode) error {
	if mode&AccessWrite != 0 {
		switch n.typ {
		case TypeDirectory, TypeSymlink, TypeRegular:
			return ErrReadOnly
		}
	}
	return nil
}

// PathconfName selects a Pathconf limit.
type PathconfName int

const (
	PathconfLinkMax PathconfName = iota + 1
	PathconfNameMax
	PathconfPathMax
)

func (m *Mount) Pathconf(n *Node, name PathconfName) (int64, error) {
	switch name {
	case PathconfLinkMax:
		return LinkMax, nil
	case PathconfNameMax:
		return NameMax, nil
	case PathconfPathMax:
		return PathMax, nil
	default:
		return 0, ErrInvalidArgument
	}
}

// Statfs describes the filesystem. The provider does not report
// capacity, so the share looks full: no free blocks or inodes.
type Statfs struct {
	BlockSize uint32
	NameMax   uint32
	Blocks    uint64
	Files     uint64
}

func (m *Mount) Statfs(ctx context.Context) Statfs {
	return Statfs{
		BlockSize: BlockSize,
		NameMax:   NameMax,
		Files:     m.Stats().LiveNodes,
	}
}

// rejected logs a refused mutation at debug level and returns err.
func (m *Mount) rejected(operation string, n *Node, err error) error {
	m.logger.Debug("rejected operation", "operation", operation, "path", n.displayPath())
	return err
}

// The operations below would modify the share, or have no meaning for
// it. Each fails without touching any state.

func (m *Mount) Create(ctx context.Context, parent *Node, name string) error {
	return m.rejected("create", parent, ErrNotSupported)
}

func (m *Mount) Remove(ctx context.Context, parent *Node, name string) error {
	return m.rejected("remove", parent, ErrNotSupported)
}

func (m *Mount) Rename(ctx context.Context, parent *Node, name string, newParent *Node, newName string) error {
	return m.rejected("rename", parent, ErrNotSupported)
}

func (m *Mount) Link(ctx context.Context, parent *Node, target *Node, name string) error {
	return m.rejected("link", parent, ErrNotSupported)
}

func (m *Mount) Symlink(ctx context.Context, parent *Node, name, target string) error {
	return m.rejected("symlink", parent, ErrNotSupported)
}

func (m *Mount) Mknod(ctx context.Context, parent *Node, name string, mode uint32) error {
	return m.rejected("mknod", parent, ErrNotSupported)
}

func (m *Mount) Mkdir(ctx context.Context, parent *Node, name string, mode uint32) error {
	return m.rejected("mkdir", parent, ErrNotSupported)
}

func (m *Mount) Rmdir(ctx context.Context, parent *Node, name string) error {
	return m.rejected("rmdir", parent, ErrNotSupported)
}

func (m *Mount) Write(ctx context.Context, n *Node, data []byte, offset int64) (int, error) {
	return 0, m.rejected("write", n, ErrNotSupported)
}

func (m *Mount) Fsync(ctx context.Context, n *Node) error {
	return m.rejected("fsync", n, ErrNotSupported)
}

// Advlock refuses byte-range locking.
func (m *Mount) Advlock(ctx context.Context, n *Node) error {
	return m.rejected("advlock", n, ErrNotSupported)
}

func (m *Mount) Getextattr(ctx context.Context, n *Node, name string) ([]byte, error) {
	return nil, m.rejected("getextattr", n, ErrNotSupported)
}

func (m *Mount) Setextattr(ctx context.Context, n *Node, name string, value []byte) error {
	return m.rejected("setextattr", n, ErrNotSupported)
}

// Bmap refuses logical-to-physical block mapping.
func (m *Mount) Bmap(ctx context.Context, n *Node, block int64) (int64, error) {
	return 0, m.rejected("bmap", n, ErrNotSupported)
}

// FileID refuses to build an export file handle; shares are not
// exportable.
func (m *Mount) FileID(n *Node) ([]byte, error) {
	return nil, m.rejected("fileid", n, ErrNotSupported)
}

func (m *Mount) Ioctl(ctx context.Context, n *Node, command uint32) error {
	return m.rejected("ioctl", n, ErrNotTTY)
}
