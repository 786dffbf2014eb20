// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sharefs

import (
	"context"
)

// Dirent is one directory entry produced by Readdir.
type Dirent struct {
	Name string
	Type NodeType

	// Ino is the entry's node ID, or 0 when the entry could not be
	// resolved.
	Ino uint64

	// Offset is the position just after this entry; passing it back to
	// Readdir continues with the next entry.
	Offset uint64

	// Reclen is the entry's encoded size, charged against the budget.
	Reclen int
}

// ReaddirResult is one batch of a directory listing.
type ReaddirResult struct {
	Entries []Dirent

	// Offset is where the next call should resume. On error it equals
	// the offset passed in.
	Offset uint64

	// EOF is true once the listing is exhausted.
	EOF bool
}

// Readdir returns entries of the directory n starting at offset, which
// must be 0 or an Offset from a previous entry of this session. Entries
// are emitted while their encoded size fits in budget; an entry that
// does not fit is left for the next call. The listing is fetched from
// the provider on the first call of a session and kept until Close.
func (m *Mount) Readdir(ctx context.Context, n *Node, offset uint64, budget int) (ReaddirResult, error) {
	if n.typ != TypeDirectory {
		return ReaddirResult{Offset: offset}, ErrNotDirectory
	}

	cache, err := m.directoryCache(ctx, n)
	if err != nil {
		return ReaddirResult{Offset: offset}, err
	}
	defer cache.release()

	cursor, err := cache.resume(offset)
	if err != nil {
		return ReaddirResult{Offset: offset}, err
	}

	var entries []Dirent
	for {
		record, ok := cursor.peek()
		if !ok || record.reclen > budget {
			break
		}
		entries = append(entries, Dirent{
			Name:   record.name,
			Type:   record.typ,
			Ino:    m.direntID(ctx, n, record.name),
			Offset: record.token,
			Reclen: record.reclen,
		})
		budget -= record.reclen
		cursor.advance(record)
	}

	return ReaddirResult{Entries: entries, Offset: cursor.token, EOF: cursor.done()}, nil
}

// directoryCache returns n's packed listing with a reference held,
// building it on first use.
func (m *Mount) directoryCache(ctx context.Context, n *Node) (*dirCache, error) {
	n.mu.Lock()
	if cache := n.directory; cache != nil {
		cache.acquire()
		n.mu.Unlock()
		return cache, nil
	}
	n.mu.Unlock()

	entries, err := m.provider.ReadDir(ctx, n.path)
	m.directoryFetches.Add(1)
	if err != nil {
		return nil, err
	}
	built, skipped, err := buildDirCache(entries, m.buffers)
	if err != nil {
		return nil, err
	}
	for _, name := range skipped {
		m.logger.Warn("skipping unrepresentable directory entry",
			"directory", n.displayPath(),
			"name_length", len(name),
		)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if existing := n.directory; existing != nil {
		// Another reader built it first; theirs wins so that offsets
		// already handed out stay valid.
		built.release()
		existing.acquire()
		return existing, nil
	}
	n.directory = built
	built.acquire()
	return built, nil
}

// direntID resolves an entry to a stable node ID. The reference taken
// by resolution is dropped at once; a failure is logged and reported
// as ID 0.
func (m *Mount) direntID(ctx context.Context, directory *Node, name string) uint64 {
	switch name {
	case ".":
		return directory.id
	case "..":
		if parent := directory.Parent(); parent != nil {
			return parent.id
		}
		return directory.id
	}

	child, handle, err := m.Lookup(ctx, directory, name, 0)
	if err != nil {
		m.logger.Debug("cannot resolve directory entry",
			"directory", directory.displayPath(),
			"name", name,
			"error", err,
		)
		return 0
	}
	handle.Release()
	return child.id
}
