// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sharefs

import "errors"

// Errors returned by [Mount] operations. Provider failures are not
// translated: they reach the caller wrapped around the host's errno.
var (
	// ErrNotFound means the path does not exist, or the node was torn
	// down and cannot be bound again.
	ErrNotFound = errors.New("sharefs: not found")

	// ErrNotSupported is returned by every operation that would modify
	// the share, and by the few read operations with no meaning here.
	ErrNotSupported = errors.New("sharefs: operation not supported")

	// ErrInvalidArgument covers a bad directory resume position, a
	// read on a non-regular file, readlink on a non-symlink, and an
	// unknown pathconf name.
	ErrInvalidArgument = errors.New("sharefs: invalid argument")

	// ErrNameTooLong means a lookup name is longer than NameMax.
	ErrNameTooLong = errors.New("sharefs: file name too long")

	// ErrNoHandle means a read arrived for a node with no open
	// provider file.
	ErrNoHandle = errors.New("sharefs: no open file handle")

	// ErrOutOfMemory means the mount's buffer budget is spent.
	ErrOutOfMemory = errors.New("sharefs: out of buffer memory")

	// ErrInterrupted means the caller's context was cancelled while
	// waiting for another caller's handle allocation.
	ErrInterrupted = errors.New("sharefs: interrupted")

	ErrIsDirectory  = errors.New("sharefs: is a directory")
	ErrNotDirectory = errors.New("sharefs: not a directory")

	// ErrReadOnly is returned for write access checks.
	ErrReadOnly = errors.New("sharefs: read-only file system")

	// ErrNotTTY is the ioctl answer.
	ErrNotTTY = errors.New("sharefs: inappropriate ioctl for device")

	// ErrHandleDoomed is returned by [Handle.Acquire] when the handle's
	// teardown has begun. The framework will call [Mount.Unbind] for
	// the node shortly.
	ErrHandleDoomed = errors.New("sharefs: handle is being torn down")
)
