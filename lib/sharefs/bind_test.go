// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sharefs

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/sharefs/lib/testutil"
)

type bindResult struct {
	handle Handle
	err    error
}

func bindAsync(m *testMount, ctx context.Context, node *Node, policy WaitPolicy) <-chan bindResult {
	results := make(chan bindResult, 1)
	go func() {
		handle, err := m.Bind(ctx, node, policy)
		results <- bindResult{handle, err}
	}()
	return results
}

// waitForState spins until node reaches state.
func waitForState(t *testing.T, node *Node, state BindState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for node.State() != state {
		if time.Now().After(deadline) {
			t.Fatalf("node %s stuck in %s, want %s", node.displayPath(), node.State(), state)
		}
		runtime.Gosched()
	}
}

func TestBindSharesOneAllocation(t *testing.T) {
	m := newTestMount(t, func(_ *Options, p *fakeProvider) {
		p.addFile("/shared", "data")
	})
	node := m.newNode(m.Root(), "/shared", TypeRegular)
	before := m.allocator.count()

	const callers = 16
	gate := make(chan struct{})
	started := make(chan *Node, callers)
	m.allocator.mu.Lock()
	m.allocator.gate = gate
	m.allocator.started = started
	m.allocator.mu.Unlock()

	var results []<-chan bindResult
	for range callers {
		results = append(results, bindAsync(m, context.Background(), node, Wait))
	}
	testutil.RequireReceive(t, started, 5*time.Second, "allocation never started")
	close(gate)

	var first Handle
	for i, resultChannel := range results {
		result := testutil.RequireReceive(t, resultChannel, 5*time.Second, "Bind did not return")
		if result.err != nil {
			t.Fatalf("caller %d: Bind: %v", i, result.err)
		}
		if first == nil {
			first = result.handle
		}
		if result.handle != first {
			t.Fatalf("caller %d got a different handle", i)
		}
	}

	if got := m.allocator.count() - before; got != 1 {
		t.Errorf("allocations = %d, want 1", got)
	}
	if got := first.(*fakeHandle).references(); got != callers {
		t.Errorf("handle references = %d, want %d", got, callers)
	}
	if node.State() != StateBound {
		t.Errorf("state = %s, want bound", node.State())
	}
}

func TestBindWaitsOutTeardown(t *testing.T) {
	m := newTestMount(t, func(_ *Options, p *fakeProvider) {
		p.addFile("/file", "x")
	})
	node, handle := m.lookup(t, "file")
	handle.Release()
	old := handle.(*fakeHandle)
	old.doom()

	results := bindAsync(m, context.Background(), node, Wait)
	waitForState(t, node, StateWantRebind)
	testutil.RequireQuiet(t, results, 50*time.Millisecond, "Bind returned while the handle was being torn down")

	m.Unbind(node)

	result := testutil.RequireReceive(t, results, 5*time.Second, "Bind did not wake after Unbind")
	if !errors.Is(result.err, ErrNotFound) {
		t.Fatalf("Bind after teardown: handle=%v err=%v, want ErrNotFound", result.handle, result.err)
	}
	if node.State() != StateDoomed {
		t.Errorf("state = %s, want doomed", node.State())
	}
	if got := m.Stats().NodesDestroyed; got != 1 {
		t.Errorf("NodesDestroyed = %d, want 1", got)
	}

	fresh, freshHandle := m.lookup(t, "file")
	defer freshHandle.Release()
	if fresh == node {
		t.Error("lookup after teardown returned the destroyed node")
	}
	if freshHandle == handle {
		t.Error("lookup after teardown returned the torn-down handle")
	}
}

func TestLookupRebindsSharedNode(t *testing.T) {
	m := newTestMount(t, func(options *Options, p *fakeProvider) {
		options.Deduplicate = true
		p.addFile("/file", "x")
	})
	node, handle := m.lookup(t, "file")
	handle.Release()
	handle.(*fakeHandle).doom()

	type lookupResult struct {
		node   *Node
		handle Handle
		err    error
	}
	results := make(chan lookupResult, 1)
	go func() {
		child, childHandle, err := m.Lookup(context.Background(), m.Root(), "file", 0)
		results <- lookupResult{child, childHandle, err}
	}()

	waitForState(t, node, StateWantRebind)
	m.Unbind(node)

	result := testutil.RequireReceive(t, results, 5*time.Second, "Lookup did not wake after Unbind")
	if result.err != nil {
		t.Fatalf("Lookup: %v", result.err)
	}
	defer result.handle.Release()
	if result.node == node {
		t.Error("Lookup returned the destroyed node")
	}
	if result.handle == handle {
		t.Error("Lookup returned the torn-down handle")
	}
	if result.node.State() != StateBound {
		t.Errorf("new node state = %s, want bound", result.node.State())
	}
}

func TestBindNoWait(t *testing.T) {
	m := newTestMount(t, func(_ *Options, p *fakeProvider) {
		p.addFile("/file", "x")
	})
	node, handle := m.lookup(t, "file")
	handle.Release()

	again, err := m.Bind(context.Background(), node, NoWait)
	if err != nil {
		t.Fatalf("NoWait Bind of a live handle: %v", err)
	}
	again.Release()

	handle.(*fakeHandle).doom()
	if _, err := m.Bind(context.Background(), node, NoWait); !errors.Is(err, ErrNotFound) {
		t.Fatalf("NoWait Bind during teardown = %v, want ErrNotFound", err)
	}
	if node.State() != StateBound {
		t.Errorf("state = %s, want bound (NoWait must not mark the node)", node.State())
	}
}

func TestBindRefusesRootAndDoomed(t *testing.T) {
	m := newTestMount(t, func(_ *Options, p *fakeProvider) {
		p.addFile("/file", "x")
	})

	if _, err := m.Bind(context.Background(), m.Root(), Wait); !errors.Is(err, ErrNotFound) {
		t.Errorf("Bind(root) = %v, want ErrNotFound", err)
	}

	node, handle := m.lookup(t, "file")
	handle.Release()
	handle.(*fakeHandle).doom()
	m.Unbind(node)

	if _, err := m.Bind(context.Background(), node, Wait); !errors.Is(err, ErrNotFound) {
		t.Errorf("Bind(doomed) = %v, want ErrNotFound", err)
	}

	// A second Unbind of a destroyed node is a no-op.
	m.Unbind(node)
	if got := m.Stats().NodesDestroyed; got != 1 {
		t.Errorf("NodesDestroyed = %d, want 1", got)
	}
}

func TestBindInterruptedWhileWaitingForAllocation(t *testing.T) {
	m := newTestMount(t, func(_ *Options, p *fakeProvider) {
		p.addFile("/file", "x")
	})
	node := m.newNode(m.Root(), "/file", TypeRegular)

	gate := make(chan struct{})
	started := make(chan *Node, 1)
	m.allocator.mu.Lock()
	m.allocator.gate = gate
	m.allocator.started = started
	m.allocator.mu.Unlock()

	// The allocating caller's own context is cancelled too: allocation
	// must run to completion regardless.
	allocatingContext, cancelAllocating := context.WithCancel(context.Background())
	allocating := bindAsync(m, allocatingContext, node, Wait)
	testutil.RequireReceive(t, started, 5*time.Second, "allocation never started")
	cancelAllocating()

	waitingContext, cancelWaiting := context.WithCancel(context.Background())
	cancelWaiting()
	if _, err := m.Bind(waitingContext, node, Wait); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Bind with cancelled context = %v, want ErrInterrupted", err)
	}
	if node.State() != StateAllocating {
		t.Errorf("state = %s, want allocating", node.State())
	}

	close(gate)
	result := testutil.RequireReceive(t, allocating, 5*time.Second, "allocating Bind did not return")
	if result.err != nil {
		t.Fatalf("allocating Bind: %v", result.err)
	}
	result.handle.Release()
	if node.State() != StateBound {
		t.Errorf("state = %s, want bound", node.State())
	}
}

func TestBindDefersDestructionDuringAllocation(t *testing.T) {
	m := newTestMount(t, func(_ *Options, p *fakeProvider) {
		p.addFile("/file", "x")
	})
	node := m.newNode(m.Root(), "/file", TypeRegular)

	insertErr := errors.New("inode table full")
	m.allocator.mu.Lock()
	m.allocator.insertErr = insertErr
	m.allocator.onDiscard = func(handle *fakeHandle) {
		// The framework tears the handle down from inside Discard.
		m.Unbind(handle.node)
		if handle.node.State() == StateDoomed {
			t.Error("Unbind destroyed the node while its allocation was in flight")
		}
	}
	m.allocator.mu.Unlock()

	destroyedBefore := m.Stats().NodesDestroyed
	if _, err := m.Bind(context.Background(), node, Wait); !errors.Is(err, insertErr) {
		t.Fatalf("Bind = %v, want the insert error", err)
	}
	if node.State() != StateDoomed {
		t.Errorf("state = %s, want doomed", node.State())
	}
	if got := m.Stats().NodesDestroyed - destroyedBefore; got != 1 {
		t.Errorf("nodes destroyed = %d, want exactly 1", got)
	}
}

func TestRootSurvivesTeardownDuringAllocation(t *testing.T) {
	m := newTestMount(t, nil)
	root := m.Root()
	m.Unbind(root)

	insertErr := errors.New("inode table full")
	m.allocator.mu.Lock()
	m.allocator.insertErr = insertErr
	m.allocator.onDiscard = func(handle *fakeHandle) {
		m.Unbind(handle.node)
	}
	m.allocator.mu.Unlock()

	destroyedBefore := m.Stats().NodesDestroyed
	if _, _, err := m.Lookup(context.Background(), root, ".", 0); !errors.Is(err, insertErr) {
		t.Fatalf("Lookup(.) = %v, want the insert error", err)
	}
	if root.State() != StateUnbound {
		t.Fatalf("root state = %s, want unbound", root.State())
	}
	if got := m.Stats().NodesDestroyed - destroyedBefore; got != 0 {
		t.Fatalf("nodes destroyed = %d, want 0", got)
	}

	m.allocator.mu.Lock()
	m.allocator.insertErr = nil
	m.allocator.onDiscard = nil
	m.allocator.mu.Unlock()

	node, handle, err := m.Lookup(context.Background(), root, ".", 0)
	if err != nil {
		t.Fatalf("Lookup(.) after a failed rebind: %v", err)
	}
	handle.Release()
	if node != root || root.State() != StateBound {
		t.Errorf("root not rebound: node=%p root=%p state=%s", node, root, root.State())
	}
}

func TestRootRebindsWhenTornDownMidAllocation(t *testing.T) {
	m := newTestMount(t, nil)
	root := m.Root()
	m.Unbind(root)

	gate := make(chan struct{})
	started := make(chan *Node, 2)
	m.allocator.mu.Lock()
	m.allocator.gate = gate
	m.allocator.started = started
	m.allocator.mu.Unlock()
	allocationsBefore := m.allocator.count()

	done := make(chan struct{})
	var handle Handle
	var lookupErr error
	go func() {
		defer close(done)
		_, handle, lookupErr = m.Lookup(context.Background(), root, ".", 0)
	}()

	testutil.RequireReceive(t, started, 5*time.Second, "root allocation never started")
	m.Unbind(root)
	close(gate)
	testutil.RequireClosed(t, done, 5*time.Second, "Lookup(.) did not return")

	if lookupErr != nil {
		t.Fatalf("Lookup(.) = %v, want a fresh handle", lookupErr)
	}
	handle.Release()
	if root.State() != StateBound {
		t.Errorf("root state = %s, want bound", root.State())
	}
	if got := m.allocator.count() - allocationsBefore; got != 2 {
		t.Errorf("allocations = %d, want 2", got)
	}
	if m.Stats().NodesDestroyed != 0 {
		t.Errorf("root destroyed while mounted")
	}
}

func TestBindAllocationFailureLeavesNodeUnbound(t *testing.T) {
	m := newTestMount(t, func(_ *Options, p *fakeProvider) {
		p.addFile("/file", "x")
	})
	node := m.newNode(m.Root(), "/file", TypeRegular)

	allocateErr := errors.New("out of inodes")
	m.allocator.mu.Lock()
	m.allocator.allocateErr = allocateErr
	m.allocator.mu.Unlock()

	if _, err := m.Bind(context.Background(), node, Wait); !errors.Is(err, allocateErr) {
		t.Fatalf("Bind = %v, want the allocate error", err)
	}
	if node.State() != StateUnbound {
		t.Fatalf("state = %s, want unbound", node.State())
	}

	m.allocator.mu.Lock()
	m.allocator.allocateErr = nil
	m.allocator.mu.Unlock()

	handle, err := m.Bind(context.Background(), node, Wait)
	if err != nil {
		t.Fatalf("retry Bind: %v", err)
	}
	handle.Release()
	if node.State() != StateBound {
		t.Errorf("state = %s, want bound", node.State())
	}
}

func TestUnbindRootWhileMounted(t *testing.T) {
	m := newTestMount(t, nil)
	root := m.Root()

	m.Unbind(root)
	if root.State() != StateUnbound {
		t.Fatalf("root state = %s, want unbound", root.State())
	}

	node, handle, err := m.Lookup(context.Background(), root, ".", 0)
	if err != nil {
		t.Fatalf("Lookup(.) after root teardown: %v", err)
	}
	handle.Release()
	if node != root || root.State() != StateBound {
		t.Errorf("root not rebound: node=%p root=%p state=%s", node, root, root.State())
	}
}

func TestUnmountDestroysRoot(t *testing.T) {
	m := newTestMount(t, nil)
	m.Unmount()
	if m.Root().State() != StateDoomed {
		t.Errorf("root state after Unmount = %s, want doomed", m.Root().State())
	}
	stats := m.Stats()
	if stats.LiveNodes != 0 {
		t.Errorf("LiveNodes = %d, want 0", stats.LiveNodes)
	}
	m.Unmount()
	if got := m.Stats().NodesDestroyed; got != stats.NodesDestroyed {
		t.Errorf("second Unmount destroyed more nodes: %d -> %d", stats.NodesDestroyed, got)
	}
}

func TestBindUnderConcurrentTeardown(t *testing.T) {
	m := newTestMount(t, func(options *Options, p *fakeProvider) {
		options.Deduplicate = true
		p.addFile("/busy", "x")
	})

	const workers = 8
	const iterations = 200
	stop := make(chan struct{})
	var tearing sync.WaitGroup
	tearing.Add(1)
	go func() {
		defer tearing.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			node, handle, err := m.Lookup(context.Background(), m.Root(), "busy", 0)
			if err != nil {
				t.Errorf("tearer Lookup: %v", err)
				return
			}
			handle.Release()
			handle.(*fakeHandle).doom()
			m.Unbind(node)
		}
	}()

	var lookups sync.WaitGroup
	for range workers {
		lookups.Add(1)
		go func() {
			defer lookups.Done()
			for range iterations {
				node, handle, err := m.Lookup(context.Background(), m.Root(), "busy", 0)
				if err != nil {
					t.Errorf("Lookup: %v", err)
					return
				}
				if handle.(*fakeHandle).node != node {
					t.Errorf("handle belongs to node %d, returned node %d", handle.(*fakeHandle).node.ID(), node.ID())
				}
				handle.Release()
			}
		}()
	}
	lookups.Wait()
	close(stop)
	tearing.Wait()
}
