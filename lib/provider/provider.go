// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package provider defines the path-based service a sharefs mount reads
// from, and implements it over a local directory.
//
// A provider knows nothing about nodes or handles: every call names a
// path relative to the share root ("" is the root, children are "/a",
// "/a/b"), or an opaque [FileHandle] returned by Open. Errors wrap a
// syscall.Errno describing the host-side failure, and callers pass them
// through unmodified.
//
// The remote subpackage exposes any Provider over a Unix socket and
// implements Provider on the other end of it.
package provider

import (
	"context"
	"errors"
	"syscall"
	"time"
)

// FileHandle identifies a file or directory opened by [Provider.Open].
// Handles are only meaningful to the provider that issued them.
type FileHandle uint64

// Stat is the host's view of one path.
type Stat struct {
	// Mode holds the S_IFMT type bits and the permission bits.
	Mode uint32

	Size int64

	// Alloc is the number of bytes allocated on the host.
	Alloc int64

	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Birthtime time.Time
}

// DirEntry is one name in a directory listing. Mode carries only the
// S_IFMT type bits.
type DirEntry struct {
	Name string
	Mode uint32
}

// SetAttr lists the attributes [Provider.SetAttributes] should change.
// Nil fields are left alone. Ctime is advisory; hosts that cannot set it
// ignore it.
type SetAttr struct {
	Mode  *uint32
	Atime *time.Time
	Mtime *time.Time
	Ctime *time.Time
}

// Provider is the shared-folder service.
type Provider interface {
	// Open opens a file or directory for reading.
	Open(ctx context.Context, path string) (FileHandle, error)

	// Close releases a handle returned by Open.
	Close(ctx context.Context, handle FileHandle) error

	// Read reads up to len(dest) bytes at offset. A short count is not
	// an error; zero bytes with a nil error means end of file.
	Read(ctx context.Context, handle FileHandle, offset int64, dest []byte) (int, error)

	// Readlink returns a symlink's target. A target that does not fit in
	// capacity bytes fails with ENAMETOOLONG.
	Readlink(ctx context.Context, path string, capacity int) (string, error)

	// ReadDir lists a directory, including the "." and ".." entries, in
	// a stable order.
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)

	GetAttributes(ctx context.Context, path string) (Stat, error)

	SetAttributes(ctx context.Context, path string, attr SetAttr) error
}

// Errno extracts the host errno carried by a provider error.
func Errno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

// IsNotExist reports whether err means the path is gone.
func IsNotExist(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ENOTDIR)
}
