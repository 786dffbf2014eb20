// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-sharefs mounts a shared folder inside a sandbox as a read-only
// FUSE filesystem.
//
// The share is served either by a local directory (provider.kind:
// local) or by a bureau-sharefs-host process on the other side of a
// Unix socket (provider.kind: remote). Attribute policy, lookup
// deduplication, and cache sizes come from the config file named by
// --config or SHAREFS_CONFIG.
//
// The daemon runs until SIGINT/SIGTERM or until the filesystem is
// unmounted from outside (fusermount -u), then releases every node and
// logs the mount's counters.
package main
