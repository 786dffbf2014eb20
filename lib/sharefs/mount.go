// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sharefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/sharefs/lib/bufpool"
	"github.com/bureau-foundation/sharefs/lib/clock"
	"github.com/bureau-foundation/sharefs/lib/provider"
)

const (
	// DefaultStatTTL is the attribute cache lifetime used by callers
	// that do not configure one.
	DefaultStatTTL = 200 * time.Millisecond

	// DirChunkSize is the capacity of one directory-cache chunk, and
	// of the buffer each provider read goes through.
	DirChunkSize = 8192

	// BlockSize is the unit of Attr.Blocks.
	BlockSize = 512

	// Pathconf limits.
	LinkMax = 65535
	NameMax = 255
	PathMax = 1024
)

// Options configures a [Mount].
type Options struct {
	// Provider serves the share. Required.
	Provider provider.Provider

	// Allocator creates framework handles for nodes. Required.
	Allocator HandleAllocator

	// NameCache is told about successful lookups. Optional.
	NameCache NameCache

	// StatTTL is how long a fetched attribute snapshot is served from
	// cache. Zero disables the cache; negative is invalid.
	StatTTL time.Duration

	// UID and GID own every file in the share.
	UID uint32
	GID uint32

	// DirMode and FileMode replace provider permission bits when
	// non-zero. DirMask and FileMask then clear bits. Symlinks use the
	// file settings; special files are reported as the provider has
	// them.
	DirMode  uint32
	FileMode uint32
	DirMask  uint32
	FileMask uint32

	// Deduplicate keeps a path-to-node table so that every lookup of a
	// path returns the same node while it lives.
	Deduplicate bool

	// MaxBuffers caps the DirChunkSize buffers checked out at once for
	// directory listings and reads. Zero means no cap.
	MaxBuffers int

	// Clock drives the attribute cache. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives mount messages. If nil, messages at error level
	// and above go to stderr.
	Logger *slog.Logger
}

// Mount is one mounted share: the root node, the options every node
// shares, and the counters reported by Stats.
type Mount struct {
	provider  provider.Provider
	allocator HandleAllocator
	names     NameCache
	clock     clock.Clock
	logger    *slog.Logger
	buffers   *bufpool.Pool
	table     *nodeTable

	statTTL  time.Duration
	uid      uint32
	gid      uint32
	dirMode  uint32
	fileMode uint32
	dirMask  uint32
	fileMask uint32

	root      *Node
	nextID    atomic.Uint64
	unmounted atomic.Bool

	nodesCreated      atomic.Uint64
	nodesDestroyed    atomic.Uint64
	handleAllocations atomic.Uint64
	attributeFetches  atomic.Uint64
	directoryFetches  atomic.Uint64
}

// New checks that the provider's root is a directory, creates the root
// node, and binds it to a handle. The mount holds that handle's
// reference until Unmount.
func New(ctx context.Context, options Options) (*Mount, error) {
	if options.Provider == nil {
		return nil, errors.New("sharefs: Provider is required")
	}
	if options.Allocator == nil {
		return nil, errors.New("sharefs: Allocator is required")
	}
	if options.StatTTL < 0 {
		return nil, fmt.Errorf("sharefs: StatTTL must not be negative, got %v", options.StatTTL)
	}
	if options.MaxBuffers < 0 {
		return nil, fmt.Errorf("sharefs: MaxBuffers must not be negative, got %d", options.MaxBuffers)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}
	mountClock := options.Clock
	if mountClock == nil {
		mountClock = clock.Real()
	}

	m := &Mount{
		provider:  options.Provider,
		allocator: options.Allocator,
		names:     options.NameCache,
		clock:     mountClock,
		logger:    logger,
		buffers:   bufpool.New(DirChunkSize, options.MaxBuffers),
		statTTL:   options.StatTTL,
		uid:       options.UID,
		gid:       options.GID,
		dirMode:   options.DirMode,
		fileMode:  options.FileMode,
		dirMask:   options.DirMask,
		fileMask:  options.FileMask,
	}
	if options.Deduplicate {
		m.table = newNodeTable()
	}

	stat, err := m.provider.GetAttributes(ctx, "")
	m.attributeFetches.Add(1)
	if err != nil {
		return nil, fmt.Errorf("reading share root: %w", err)
	}
	if typeOf(stat.Mode) != TypeDirectory {
		return nil, fmt.Errorf("share root is a %s: %w", typeOf(stat.Mode), ErrNotDirectory)
	}

	m.root = m.newNode(nil, "", TypeDirectory)
	m.storeStat(m.root, stat)
	if _, err := m.bind(ctx, m.root, Wait, true); err != nil {
		return nil, fmt.Errorf("binding share root: %w", err)
	}

	m.logger.Info("share ready", "root_id", m.root.id, "deduplicate", m.table != nil)
	return m, nil
}

// Root returns the root node.
func (m *Mount) Root() *Node { return m.root }

// Unmount releases the mount's reference on the root handle and
// destroys the root node. Nodes still bound to framework handles are
// destroyed as the framework tears those handles down. Calling Unmount
// twice is a no-op.
func (m *Mount) Unmount() {
	if !m.unmounted.CompareAndSwap(false, true) {
		return
	}
	if handle := m.root.Handle(); handle != nil {
		handle.Release()
	}
	m.Unbind(m.root)

	stats := m.Stats()
	m.logger.Info("share unmounted",
		"live_nodes", stats.LiveNodes,
		"nodes_created", stats.NodesCreated,
		"handle_allocations", stats.HandleAllocations,
		"attribute_fetches", stats.AttributeFetches,
		"directory_fetches", stats.DirectoryFetches,
	)
}

// Stats is a snapshot of mount counters.
type Stats struct {
	LiveNodes         uint64
	NodesCreated      uint64
	NodesDestroyed    uint64
	HandleAllocations uint64
	AttributeFetches  uint64
	DirectoryFetches  uint64
	BuffersInUse      int
}

func (m *Mount) Stats() Stats {
	destroyed := m.nodesDestroyed.Load()
	created := m.nodesCreated.Load()
	return Stats{
		LiveNodes:         created - destroyed,
		NodesCreated:      created,
		NodesDestroyed:    destroyed,
		HandleAllocations: m.handleAllocations.Load(),
		AttributeFetches:  m.attributeFetches.Load(),
		DirectoryFetches:  m.directoryFetches.Load(),
		BuffersInUse:      m.buffers.InUse(),
	}
}
