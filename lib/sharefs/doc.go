// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sharefs presents a path-based share [provider.Provider] as a
// read-only tree of nodes for a host filesystem framework.
//
// The framework owns handles (kernel inodes, vnodes); the mount owns
// nodes. A [Node] is bound to at most one [Handle] at a time.
// [Mount.Bind] and [Mount.Lookup] produce referenced handles, allocating
// through the framework's [HandleAllocator] with no node lock held, and
// the framework reports handle teardown through [Mount.Unbind]. A node
// whose handle has been torn down is destroyed and never binds again;
// lookups of its path create a fresh node.
//
// Attributes are cached per node for a mount-wide TTL. Directory
// listings are fetched once per open session and packed into
// fixed-size chunks; [Mount.Readdir] resumes from byte-offset tokens so
// a listing can be read across many calls with bounded buffers.
//
// Every operation that would modify the share fails with
// [ErrNotSupported]. Provider errors are passed through with the host's
// errno intact.
//
// There is no global lock. Each node has its own mutex, provider calls
// are never made while holding one, and the optional node table has a
// lock that is never taken while a node lock is held.
//
// The fuse subpackage adapts a Mount to go-fuse.
package sharefs
