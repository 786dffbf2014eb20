// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sharefs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bureau-foundation/sharefs/lib/provider"
)

// LookupFlags modify a lookup.
type LookupFlags uint32

const (
	// MakeEntry asks for the result to be entered in the name cache.
	MakeEntry LookupFlags = 1 << iota
)

// Lookup resolves name in the directory parent and returns the child
// node with a referenced handle the caller must Release.
//
// "." returns parent itself. ".." returns parent's parent, or the root
// when parent is the root; a parent that was torn down is re-resolved
// from its path. Any other name is checked with the provider, and a
// missing path fails with [ErrNotFound].
func (m *Mount) Lookup(ctx context.Context, parent *Node, name string, flags LookupFlags) (*Node, Handle, error) {
	if parent.typ != TypeDirectory {
		return nil, nil, ErrNotDirectory
	}

	switch name {
	case ".":
		handle, err := m.bind(ctx, parent, Wait, true)
		if err != nil {
			return nil, nil, err
		}
		return parent, handle, nil
	case "..":
		return m.lookupParent(ctx, parent)
	}

	if name == "" || strings.ContainsRune(name, '/') {
		return nil, nil, fmt.Errorf("lookup of %q: %w", name, ErrInvalidArgument)
	}
	if len(name) > NameMax {
		return nil, nil, fmt.Errorf("lookup of %d-byte name: %w", len(name), ErrNameTooLong)
	}

	child, handle, err := m.resolve(ctx, parent, joinPath(parent.path, name))
	if err != nil {
		return nil, nil, err
	}
	if flags&MakeEntry != 0 && m.names != nil {
		m.names.Enter(parent, name, child)
	}
	return child, handle, nil
}

func joinPath(parent, name string) string {
	return parent + "/" + name
}

// resolve stats path, finds or creates its node, and binds it.
func (m *Mount) resolve(ctx context.Context, parent *Node, path string) (*Node, Handle, error) {
	stat, err := m.provider.GetAttributes(ctx, path)
	m.attributeFetches.Add(1)
	if err != nil {
		if provider.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, nil, err
	}
	typ := typeOf(stat.Mode)

	for {
		child, created := m.nodeFor(parent, path, typ)
		if created {
			m.storeStat(child, stat)
		}

		handle, err := m.bind(ctx, child, Wait, false)
		if err == nil {
			return child, handle, nil
		}
		// A shared node doomed under us: drop it from the table so the
		// next pass creates a fresh one.
		if errors.Is(err, ErrNotFound) && m.table != nil {
			m.table.remove(child)
			continue
		}
		return nil, nil, err
	}
}

// lookupParent implements "..".
func (m *Mount) lookupParent(ctx context.Context, n *Node) (*Node, Handle, error) {
	grandparent := n.Parent()
	if grandparent == nil {
		handle, err := m.bind(ctx, n, Wait, true)
		if err != nil {
			return nil, nil, err
		}
		return n, handle, nil
	}

	handle, err := m.bind(ctx, grandparent, Wait, true)
	if err == nil {
		return grandparent, handle, nil
	}
	if !errors.Is(err, ErrNotFound) || grandparent.State() != StateDoomed {
		return nil, nil, err
	}

	// The parent node was destroyed while n lived on (its handle was
	// torn down while n was still in use). Resolve it again by path
	// and adopt the new node.
	revived, handle, err := m.resolve(ctx, grandparent.Parent(), grandparent.path)
	if err != nil {
		return nil, nil, err
	}
	if revived.typ != TypeDirectory {
		handle.Release()
		return nil, nil, fmt.Errorf("parent %s is no longer a directory: %w", grandparent.path, ErrNotFound)
	}
	n.setParent(revived)
	m.logger.Debug("re-resolved destroyed parent", "path", revived.displayPath(), "id", revived.id)
	return revived, handle, nil
}

// nodeFor returns the node for path: a shared one from the node table
// when deduplication is on, otherwise always a new one.
func (m *Mount) nodeFor(parent *Node, path string, typ NodeType) (*Node, bool) {
	if m.table == nil {
		return m.newNode(parent, path, typ), true
	}

	m.table.mu.Lock()
	defer m.table.mu.Unlock()

	if existing := m.table.nodes[path]; existing != nil {
		existing.mu.Lock()
		usable := existing.typ == typ && existing.state != StateDoomed
		if usable && existing.parent != parent {
			existing.parent = parent
		}
		existing.mu.Unlock()
		if usable {
			return existing, false
		}
	}

	n := m.newNode(parent, path, typ)
	m.table.nodes[path] = n
	return n, true
}

func (m *Mount) newNode(parent *Node, path string, typ NodeType) *Node {
	n := &Node{
		mount:  m,
		path:   path,
		typ:    typ,
		id:     m.nextID.Add(1),
		parent: parent,
	}
	m.nodesCreated.Add(1)
	return n
}

// nodeTable maps paths to live nodes so concurrent lookups of one path
// share a node. Its lock may be held while taking a node lock, never
// the other way round.
type nodeTable struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

func newNodeTable() *nodeTable {
	return &nodeTable{nodes: make(map[string]*Node)}
}

// remove drops n if the table still maps its path to n.
func (t *nodeTable) remove(n *Node) {
	t.mu.Lock()
	if t.nodes[n.path] == n {
		delete(t.nodes, n.path)
	}
	t.mu.Unlock()
}

func (t *nodeTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}
