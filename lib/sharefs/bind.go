// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sharefs

import (
	"context"
	"errors"
	"fmt"
)

// Bind returns a referenced handle for node, allocating one if the node
// has none. Concurrent callers for the same node share one allocation.
// The caller owns the returned reference and must Release it.
//
// Bind fails with [ErrNotFound] for the mount root, which is bound at
// mount time, and for a node that has been torn down. With [NoWait] it
// also fails with ErrNotFound instead of waiting out a teardown in
// progress. Only the wait for another caller's allocation honours ctx;
// a cancelled wait fails with [ErrInterrupted].
func (m *Mount) Bind(ctx context.Context, n *Node, policy WaitPolicy) (Handle, error) {
	return m.bind(ctx, n, policy, false)
}

// bind is Bind with the root allowed, for "." and ".." at the root.
//
// Every wait ends in a restart from the top: whatever woke us, the
// node may have been bound, doomed, or rebound in the meantime.
func (m *Mount) bind(ctx context.Context, n *Node, policy WaitPolicy, allowRoot bool) (Handle, error) {
	for {
		n.mu.Lock()
		if n.state == StateDoomed || (n.parent == nil && !allowRoot) {
			n.mu.Unlock()
			return nil, ErrNotFound
		}

		if handle := n.handle; handle != nil {
			n.mu.Unlock()

			err := handle.Acquire()
			if errors.Is(err, ErrHandleDoomed) {
				if policy == NoWait {
					return nil, ErrNotFound
				}
				n.mu.Lock()
				if n.handle != handle {
					n.mu.Unlock()
					continue
				}
				n.state = StateWantRebind
				if n.reclaimed == nil {
					n.reclaimed = make(chan struct{})
				}
				reclaimed := n.reclaimed
				n.mu.Unlock()

				<-reclaimed
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("acquiring handle for %s: %w", n.displayPath(), err)
			}

			n.mu.Lock()
			current := n.handle
			n.mu.Unlock()
			if current != handle {
				handle.Release()
				continue
			}
			return handle, nil
		}

		if allocated := n.allocated; allocated != nil {
			n.mu.Unlock()
			select {
			case <-allocated:
				continue
			case <-ctx.Done():
				return nil, fmt.Errorf("waiting for handle of %s: %w", n.displayPath(), ErrInterrupted)
			}
		}

		handle, err := m.allocate(ctx, n)
		if errors.Is(err, errRebind) {
			continue
		}
		return handle, err
	}
}

// errRebind tells bind that the handle it allocated was torn down
// before it could be recorded and the node is still bindable.
var errRebind = errors.New("sharefs: handle torn down during allocation")

// allocate creates and records a handle for n. It is entered with n.mu
// held and returns with it released.
func (m *Mount) allocate(ctx context.Context, n *Node) (Handle, error) {
	n.state = StateAllocating
	n.allocated = make(chan struct{})
	n.mu.Unlock()

	handle, err := m.newHandle(context.WithoutCancel(ctx), n)

	n.mu.Lock()
	close(n.allocated)
	n.allocated = nil

	if n.reclaimPending && n.parent == nil && !m.unmounted.Load() {
		// The mounted root outlives its handles: leave it Unbound for
		// the next bind instead of destroying it.
		n.reclaimPending = false
		n.state = StateUnbound
		n.handle = nil
		n.mu.Unlock()

		if handle != nil {
			handle.Release()
		}
		if err != nil {
			return nil, err
		}
		return nil, errRebind
	}

	if n.reclaimPending {
		// The framework tore down a handle for this node while we were
		// allocating. The node is ours to destroy.
		n.reclaimPending = false
		n.state = StateDoomed
		n.handle = nil
		n.mu.Unlock()

		if handle != nil {
			handle.Release()
		}
		m.destroy(n)
		if err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	if err != nil {
		n.state = StateUnbound
		n.mu.Unlock()
		return nil, err
	}

	n.handle = handle
	n.state = StateBound
	n.mu.Unlock()

	m.handleAllocations.Add(1)
	m.logger.Debug("handle allocated", "path", n.displayPath(), "id", n.id)
	return handle, nil
}

func (m *Mount) newHandle(ctx context.Context, n *Node) (Handle, error) {
	handle, err := m.allocator.Allocate(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("allocating handle for %s: %w", n.displayPath(), err)
	}
	if err := m.allocator.Insert(ctx, handle); err != nil {
		m.allocator.Discard(handle)
		return nil, fmt.Errorf("inserting handle for %s: %w", n.displayPath(), err)
	}
	return handle, nil
}

// Unbind is called by the framework when a node's handle is torn down.
// It clears the binding, wakes callers waiting out the teardown, and
// destroys the node unless an allocation is in flight, in which case
// the allocating caller destroys it. The mount root survives Unbind
// until the mount is unmounted. Calls after destruction are no-ops.
func (m *Mount) Unbind(n *Node) {
	if m.names != nil {
		m.names.Purge(n)
	}

	n.mu.Lock()
	if n.state == StateDoomed {
		n.mu.Unlock()
		return
	}
	n.handle = nil
	if n.reclaimed != nil {
		close(n.reclaimed)
		n.reclaimed = nil
	}

	if n.allocated != nil {
		n.reclaimPending = true
		n.mu.Unlock()
		return
	}
	if n.parent == nil && !m.unmounted.Load() {
		n.state = StateUnbound
		n.mu.Unlock()
		m.logger.Debug("root handle torn down while mounted")
		return
	}

	n.state = StateDoomed
	n.mu.Unlock()
	m.destroy(n)
}

// destroy releases everything a doomed node holds. It runs exactly once
// per node, by whichever caller moved the node to StateDoomed.
func (m *Mount) destroy(n *Node) {
	n.mu.Lock()
	directory := n.directory
	n.directory = nil
	file, open := n.file, n.openCount > 0
	n.openCount = 0
	n.statValid = false
	n.mu.Unlock()

	if directory != nil {
		directory.release()
	}
	if open {
		if err := m.provider.Close(context.Background(), file); err != nil {
			m.logger.Warn("closing provider file of destroyed node",
				"path", n.displayPath(),
				"error", err,
			)
		}
	}
	if m.table != nil {
		m.table.remove(n)
	}

	m.nodesDestroyed.Add(1)
	m.logger.Debug("node destroyed", "path", n.displayPath(), "id", n.id)
}
