// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sharefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/bureau-foundation/sharefs/lib/clock"
	"github.com/bureau-foundation/sharefs/lib/provider"
)

var testEpoch = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeProvider is an in-memory share. Paths use the provider convention:
// "" is the root, children are "/a", "/a/b".
type fakeProvider struct {
	mu       sync.Mutex
	files    map[string]*fakeFile
	handles  map[provider.FileHandle]string
	next     provider.FileHandle
	maxRead  int
	readErr  error
	statErrs map[string]error
	setattrs []provider.SetAttr
	setErr   error

	getattrCalls map[string]int
	readdirCalls int
	openCalls    int
	closeCalls   int
	readCalls    int
}

type fakeFile struct {
	mode   uint32
	data   []byte
	target string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		files: map[string]*fakeFile{
			"": {mode: syscall.S_IFDIR | 0o755},
		},
		handles:      make(map[provider.FileHandle]string),
		statErrs:     make(map[string]error),
		getattrCalls: make(map[string]int),
	}
}

func (p *fakeProvider) addDir(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[path] = &fakeFile{mode: syscall.S_IFDIR | 0o755}
}

func (p *fakeProvider) addFile(path, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[path] = &fakeFile{mode: syscall.S_IFREG | 0o644, data: []byte(content)}
}

func (p *fakeProvider) addSymlink(path, target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[path] = &fakeFile{mode: syscall.S_IFLNK | 0o777, target: target}
}

func (p *fakeProvider) addSpecial(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[path] = &fakeFile{mode: syscall.S_IFIFO | 0o600}
}

func (p *fakeProvider) remove(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.files, path)
}

func (p *fakeProvider) getattrCount(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getattrCalls[path]
}

func (p *fakeProvider) Open(ctx context.Context, path string) (provider.FileHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openCalls++
	if _, ok := p.files[path]; !ok {
		return 0, &fs.PathError{Op: "open", Path: path, Err: syscall.ENOENT}
	}
	p.next++
	p.handles[p.next] = path
	return p.next, nil
}

func (p *fakeProvider) Close(ctx context.Context, handle provider.FileHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	if _, ok := p.handles[handle]; !ok {
		return fmt.Errorf("close %d: %w", handle, syscall.EBADF)
	}
	delete(p.handles, handle)
	return nil
}

func (p *fakeProvider) openHandles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

func (p *fakeProvider) Read(ctx context.Context, handle provider.FileHandle, offset int64, dest []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readCalls++
	if p.readErr != nil {
		return 0, p.readErr
	}
	path, ok := p.handles[handle]
	if !ok {
		return 0, syscall.EBADF
	}
	data := p.files[path].data
	if offset >= int64(len(data)) {
		return 0, nil
	}
	n := copy(dest, data[offset:])
	if p.maxRead > 0 && n > p.maxRead {
		n = p.maxRead
	}
	return n, nil
}

func (p *fakeProvider) Readlink(ctx context.Context, path string, capacity int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	file, ok := p.files[path]
	if !ok {
		return "", &fs.PathError{Op: "readlink", Path: path, Err: syscall.ENOENT}
	}
	if len(file.target) >= capacity {
		return "", &fs.PathError{Op: "readlink", Path: path, Err: syscall.ENAMETOOLONG}
	}
	return file.target, nil
}

func (p *fakeProvider) ReadDir(ctx context.Context, path string) ([]provider.DirEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readdirCalls++
	directory, ok := p.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: syscall.ENOENT}
	}
	if directory.mode&syscall.S_IFMT != syscall.S_IFDIR {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: syscall.ENOTDIR}
	}

	var children []provider.DirEntry
	prefix := path + "/"
	for name, file := range p.files {
		rest, found := strings.CutPrefix(name, prefix)
		if !found || strings.Contains(rest, "/") {
			continue
		}
		children = append(children, provider.DirEntry{Name: rest, Mode: file.mode & syscall.S_IFMT})
	}
	slices.SortFunc(children, func(a, b provider.DirEntry) int { return strings.Compare(a.Name, b.Name) })

	return append([]provider.DirEntry{
		{Name: ".", Mode: syscall.S_IFDIR},
		{Name: "..", Mode: syscall.S_IFDIR},
	}, children...), nil
}

func (p *fakeProvider) GetAttributes(ctx context.Context, path string) (provider.Stat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getattrCalls[path]++
	if err := p.statErrs[path]; err != nil {
		return provider.Stat{}, err
	}
	file, ok := p.files[path]
	if !ok {
		return provider.Stat{}, &fs.PathError{Op: "getattr", Path: path, Err: syscall.ENOENT}
	}
	return provider.Stat{
		Mode:  file.mode,
		Size:  int64(len(file.data)),
		Alloc: int64(len(file.data)),
		Mtime: testEpoch,
	}, nil
}

func (p *fakeProvider) SetAttributes(ctx context.Context, path string, attr provider.SetAttr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setattrs = append(p.setattrs, attr)
	return p.setErr
}

// fakeHandle is a reference-counted framework handle. Doom marks it
// mid-teardown, which makes Acquire fail the way a real framework does
// between starting and finishing a teardown.
type fakeHandle struct {
	mu     sync.Mutex
	node   *Node
	refs   int
	doomed bool
}

func (h *fakeHandle) Acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.doomed {
		return ErrHandleDoomed
	}
	h.refs++
	return nil
}

func (h *fakeHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refs--
}

func (h *fakeHandle) doom() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.doomed = true
}

func (h *fakeHandle) references() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

// fakeAllocator hands out fakeHandles. When gate is set, Allocate
// signals on started and then blocks until gate is closed.
type fakeAllocator struct {
	mu          sync.Mutex
	allocations int
	allocateErr error
	insertErr   error
	onDiscard   func(*fakeHandle)
	gate        chan struct{}
	started     chan *Node
}

func (a *fakeAllocator) Allocate(ctx context.Context, node *Node) (Handle, error) {
	a.mu.Lock()
	a.allocations++
	gate, started, err := a.gate, a.started, a.allocateErr
	a.mu.Unlock()

	if started != nil {
		started <- node
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &fakeHandle{node: node, refs: 1}, nil
}

func (a *fakeAllocator) Insert(ctx context.Context, handle Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.insertErr
}

func (a *fakeAllocator) Discard(handle Handle) {
	a.mu.Lock()
	onDiscard := a.onDiscard
	a.mu.Unlock()
	if onDiscard != nil {
		onDiscard(handle.(*fakeHandle))
	}
}

func (a *fakeAllocator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocations
}

// fakeNameCache records Enter and Purge calls.
type fakeNameCache struct {
	mu      sync.Mutex
	entries map[*Node]string
}

func (c *fakeNameCache) Enter(parent *Node, name string, child *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[*Node]string)
	}
	c.entries[child] = name
}

func (c *fakeNameCache) Purge(node *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, node)
}

func (c *fakeNameCache) has(node *Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[node]
	return ok
}

type testMount struct {
	*Mount
	provider  *fakeProvider
	allocator *fakeAllocator
	clock     *clock.FakeClock
}

// newTestMount mounts a fake provider. The options callback may adjust
// anything before New runs.
func newTestMount(t *testing.T, configure func(*Options, *fakeProvider)) *testMount {
	t.Helper()
	fakeProvider := newFakeProvider()
	allocator := &fakeAllocator{}
	fakeClock := clock.Fake(testEpoch)

	options := Options{
		Provider:  fakeProvider,
		Allocator: allocator,
		StatTTL:   100 * time.Millisecond,
		Clock:     fakeClock,
		Logger:    testLogger(),
	}
	if configure != nil {
		configure(&options, fakeProvider)
	}

	mount, err := New(context.Background(), options)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(mount.Unmount)
	return &testMount{Mount: mount, provider: fakeProvider, allocator: allocator, clock: fakeClock}
}

// lookup resolves a slash-separated path from the root, releasing every
// intermediate handle, and returns the final node and its handle.
func (m *testMount) lookup(t *testing.T, path string) (*Node, Handle) {
	t.Helper()
	node := m.Root()
	var handle Handle
	for _, name := range strings.Split(strings.Trim(path, "/"), "/") {
		if handle != nil {
			handle.Release()
		}
		var err error
		node, handle, err = m.Lookup(context.Background(), node, name, 0)
		if err != nil {
			t.Fatalf("Lookup(%q) in %s: %v", name, path, err)
		}
	}
	return node, handle
}

func requireErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}
