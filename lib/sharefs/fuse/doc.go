// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse mounts a share through the kernel's FUSE interface
// using go-fuse.
//
// Each share node is paired with one go-fuse inode, wrapped as the
// node's [sharefs.Handle]. Inodes are created by the share's
// binding logic when a lookup first reaches a node, returned to the
// kernel by Lookup, and doomed when go-fuse reports them forgotten,
// at which point the node is unbound. The root inode is created at
// mount time and lives until Unmount.
//
// Mutating requests are refused: writes and opens for writing fail
// with EROFS, and namespace changes, extended attributes, and locks
// fail with EOPNOTSUPP. [Errno] maps share errors to the errnos the
// kernel sees.
package fuse
