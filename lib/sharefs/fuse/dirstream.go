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

// readdirBudget is the byte budget of each batch pulled from the share.
const readdirBudget = 4096

// dirStream feeds go-fuse from the share's directory cursor one batch
// at a time. Closing it ends the listing session and drops the share's
// packed listing.
type dirStream struct {
	ctx   context.Context
	mount *sharefs.Mount
	node  *sharefs.Node

	pending []sharefs.Dirent
	offset  uint64
	eof     bool
	errno   syscall.Errno
}

var _ gofuse.DirStream = (*dirStream)(nil)

func (d *dirStream) HasNext() bool {
	if len(d.pending) > 0 || d.errno != 0 {
		return true
	}
	if d.eof {
		return false
	}

	result, err := d.mount.Readdir(d.ctx, d.node, d.offset, readdirBudget)
	if err != nil {
		d.errno = Errno(err)
		return true
	}
	d.pending = d.pending[:0]
	for _, entry := range result.Entries {
		// Dot entries are left to go-fuse and the kernel.
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		d.pending = append(d.pending, entry)
	}
	d.offset = result.Offset
	d.eof = result.EOF
	if len(d.pending) == 0 && !d.eof {
		return d.HasNext()
	}
	return len(d.pending) > 0
}

func (d *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if d.errno != 0 {
		errno := d.errno
		d.errno = 0
		d.eof = true
		return fuse.DirEntry{}, errno
	}
	if len(d.pending) == 0 {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := d.pending[0]
	d.pending = d.pending[1:]

	var mode uint32
	if entry.Type != sharefs.TypeSpecial {
		mode = typeBits(entry.Type)
	}
	return fuse.DirEntry{
		Name: entry.Name,
		Mode: mode,
		Ino:  entry.Ino,
	}, 0
}

func (d *dirStream) Close() {
	d.mount.Close(d.ctx, d.node)
}
