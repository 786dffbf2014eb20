// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sharefs

import "context"

// Handle is the host framework's object for a node: a kernel inode, a
// vnode, whatever the framework reference-counts and tears down on its
// own schedule. The mount never creates or destroys handles itself.
type Handle interface {
	// Acquire takes an additional reference. It fails with
	// [ErrHandleDoomed] once the handle's teardown has begun.
	Acquire() error

	// Release drops a reference taken by Acquire or returned by
	// [Mount.Bind] or [Mount.Lookup].
	Release()
}

// HandleAllocator creates handles for nodes. Allocate and Insert may
// block; they run without any node lock held.
type HandleAllocator interface {
	// Allocate creates a handle for node, holding one reference that
	// the binding caller will own, and performs any type-specific
	// setup the framework needs.
	Allocate(ctx context.Context, node *Node) (Handle, error)

	// Insert registers a freshly allocated handle with the framework.
	// On failure the mount calls Discard.
	Insert(ctx context.Context, handle Handle) error

	// Discard tears down a handle that failed Insert. The framework
	// may call [Mount.Unbind] for the handle's node from inside
	// Discard.
	Discard(handle Handle)
}

// NameCache is an optional framework lookup cache.
type NameCache interface {
	// Enter records that name in parent resolves to child.
	Enter(parent *Node, name string, child *Node)

	// Purge forgets every entry naming node.
	Purge(node *Node)
}

// WaitPolicy controls what [Mount.Bind] does when the node's handle is
// being torn down.
type WaitPolicy int

const (
	// Wait blocks until the teardown completes, then retries.
	Wait WaitPolicy = iota

	// NoWait fails with [ErrNotFound] instead of waiting.
	NoWait
)
