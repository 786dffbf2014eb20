// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sharefs

import (
	"fmt"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/bureau-foundation/sharefs/lib/provider"
)

// NodeType is the kind of object a node represents.
type NodeType uint8

const (
	TypeDirectory NodeType = iota + 1
	TypeRegular
	TypeSymlink
	// TypeSpecial covers devices, fifos, and sockets.
	TypeSpecial
)

func (t NodeType) String() string {
	switch t {
	case TypeDirectory:
		return "directory"
	case TypeRegular:
		return "regular"
	case TypeSymlink:
		return "symlink"
	case TypeSpecial:
		return "special"
	default:
		return fmt.Sprintf("NodeType(%d)", t)
	}
}

// typeOf classifies S_IFMT bits.
func typeOf(mode uint32) NodeType {
	switch mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		return TypeDirectory
	case syscall.S_IFREG:
		return TypeRegular
	case syscall.S_IFLNK:
		return TypeSymlink
	default:
		return TypeSpecial
	}
}

// BindState is where a node is in its handle lifecycle.
type BindState uint8

const (
	// StateUnbound: no handle and no allocation in flight.
	StateUnbound BindState = iota
	// StateAllocating: one caller is creating a handle with the node
	// lock released. Others wait for it.
	StateAllocating
	// StateBound: the node records a handle.
	StateBound
	// StateWantRebind: the recorded handle is being torn down and at
	// least one caller is waiting for the teardown to finish.
	StateWantRebind
	// StateDoomed: the node is destroyed or about to be. It never
	// binds again.
	StateDoomed
)

func (s BindState) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateAllocating:
		return "allocating"
	case StateBound:
		return "bound"
	case StateWantRebind:
		return "want-rebind"
	case StateDoomed:
		return "doomed"
	default:
		return fmt.Sprintf("BindState(%d)", s)
	}
}

// Node is the mount's record of one path in the share. Nodes are
// created by [Mount.Lookup] and destroyed exactly once, when their
// handle is torn down with no allocation in flight.
type Node struct {
	mount *Mount
	path  string
	typ   NodeType
	id    uint64

	mu sync.Mutex

	// parent is nil only for the mount root. It can change when a
	// destroyed parent is re-resolved.
	parent *Node

	state  BindState
	handle Handle

	// allocated is non-nil while an allocation is in flight and is
	// closed when it completes.
	allocated chan struct{}
	// reclaimed is created by the first waiter for a teardown and
	// closed by Unbind.
	reclaimed chan struct{}
	// reclaimPending records an Unbind that arrived mid-allocation;
	// the allocating caller destroys the node.
	reclaimPending bool

	file      provider.FileHandle
	openCount int

	stat      provider.Stat
	statTime  time.Time
	statValid bool

	directory *dirCache
}

// ID is the node's inode number, unique within the mount.
func (n *Node) ID() uint64 { return n.id }

// Path is the provider path ("" for the root).
func (n *Node) Path() string { return n.path }

// Name is the last path component ("/" for the root).
func (n *Node) Name() string {
	if n.path == "" {
		return "/"
	}
	return path.Base(n.path)
}

func (n *Node) Type() NodeType { return n.typ }

// IsRoot reports whether n is the mount root.
func (n *Node) IsRoot() bool { return n == n.mount.root }

// Parent returns the node's parent, or nil for the root.
func (n *Node) Parent() *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.parent
}

func (n *Node) setParent(parent *Node) {
	n.mu.Lock()
	n.parent = parent
	n.mu.Unlock()
}

// State returns the current binding state.
func (n *Node) State() BindState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Handle returns the handle the node records, without taking a
// reference, or nil.
func (n *Node) Handle() Handle {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.handle
}

// displayPath is the path for log messages.
func (n *Node) displayPath() string {
	if n.path == "" {
		return "/"
	}
	return n.path
}
