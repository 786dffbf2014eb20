// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/bureau-foundation/sharefs/lib/sharefs"
)

var sentinelErrnos = []struct {
	err   error
	errno syscall.Errno
}{
	{sharefs.ErrNotFound, syscall.ENOENT},
	{sharefs.ErrHandleDoomed, syscall.ENOENT},
	{sharefs.ErrNotSupported, syscall.EOPNOTSUPP},
	{sharefs.ErrInvalidArgument, syscall.EINVAL},
	{sharefs.ErrNameTooLong, syscall.ENAMETOOLONG},
	{sharefs.ErrNoHandle, syscall.EBADF},
	{sharefs.ErrOutOfMemory, syscall.ENOMEM},
	{sharefs.ErrInterrupted, syscall.EINTR},
	{sharefs.ErrIsDirectory, syscall.EISDIR},
	{sharefs.ErrNotDirectory, syscall.ENOTDIR},
	{sharefs.ErrReadOnly, syscall.EROFS},
	{sharefs.ErrNotTTY, syscall.ENOTTY},
}

// Errno converts a share error to the errno returned to the kernel.
// Share sentinels map to their POSIX equivalents and provider errnos
// pass through unchanged. Anything else is EIO.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	for _, sentinel := range sentinelErrnos {
		if errors.Is(err, sentinel.err) {
			return sentinel.errno
		}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, fs.ErrPermission):
		return syscall.EACCES
	}
	return syscall.EIO
}
