// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sharefs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bureau-foundation/sharefs/lib/bufpool"
	"github.com/bureau-foundation/sharefs/lib/provider"
)

// A directory listing is packed once per open session into a chain of
// fixed-capacity chunks. Each record is laid out little-endian as
//
//	token   u64  global byte offset just past this record
//	reclen  u16  encoded size of this record, padding included
//	type    u8   NodeType of the entry
//	namelen u8
//	name    namelen bytes
//	padding to a multiple of 8
//
// Records never span chunks. Positions are global byte offsets across
// the used portion of every chunk, so a record's token is exactly the
// position of the record after it.
const (
	recordHeaderSize = 12
	recordAlign      = 8
)

// recordSize is the encoded size of a record for name.
func recordSize(name string) int {
	size := recordHeaderSize + len(name)
	return (size + recordAlign - 1) &^ (recordAlign - 1)
}

// dirRecord is one decoded record.
type dirRecord struct {
	token  uint64
	reclen int
	typ    NodeType
	name   string
}

// dirCache is a packed listing. It is reference counted: the node holds
// one reference while the session is open and each in-progress Readdir
// holds another, so Close never returns chunks to the pool under a
// concurrent reader.
type dirCache struct {
	pool   *bufpool.Pool
	chunks [][]byte
	refs   atomic.Int32
}

// buildDirCache packs entries into chunks drawn from pool. Names longer
// than NameMax cannot be represented and are skipped. Pool exhaustion
// fails with ErrOutOfMemory.
func buildDirCache(entries []provider.DirEntry, pool *bufpool.Pool) (*dirCache, []string, error) {
	cache := &dirCache{pool: pool}
	cache.refs.Store(1)

	var skipped []string
	var current []byte
	var offset uint64

	for _, entry := range entries {
		if len(entry.Name) == 0 || len(entry.Name) > NameMax {
			skipped = append(skipped, entry.Name)
			continue
		}
		size := recordSize(entry.Name)

		if current == nil || len(current)+size > cap(current) {
			buf, err := pool.Get()
			if errors.Is(err, bufpool.ErrExhausted) {
				cache.release()
				return nil, nil, fmt.Errorf("packing directory listing: %w", ErrOutOfMemory)
			}
			if err != nil {
				cache.release()
				return nil, nil, err
			}
			if size > len(buf) {
				pool.Put(buf)
				cache.release()
				return nil, nil, fmt.Errorf("directory chunk of %d bytes cannot hold a %d byte record", len(buf), size)
			}
			cache.chunks = append(cache.chunks, buf[:0])
			current = buf[:0]
		}

		offset += uint64(size)
		start := len(current)
		current = current[:start+size]
		record := current[start:]
		binary.LittleEndian.PutUint64(record[0:8], offset)
		binary.LittleEndian.PutUint16(record[8:10], uint16(size))
		record[10] = byte(typeOf(entry.Mode))
		record[11] = byte(len(entry.Name))
		copy(record[recordHeaderSize:], entry.Name)
		clear(record[recordHeaderSize+len(entry.Name):])
		cache.chunks[len(cache.chunks)-1] = current
	}
	return cache, skipped, nil
}

func (d *dirCache) acquire() { d.refs.Add(1) }

func (d *dirCache) release() {
	if d.refs.Add(-1) != 0 {
		return
	}
	for _, chunk := range d.chunks {
		d.pool.Put(chunk)
	}
	d.chunks = nil
}

// dirCursor is a position in a dirCache.
type dirCursor struct {
	cache  *dirCache
	chunk  int
	offset int
	token  uint64
}

// resume positions a cursor at position, which must be 0 or the token
// of some record. Any other value fails with ErrInvalidArgument.
func (d *dirCache) resume(position uint64) (dirCursor, error) {
	var base uint64
	index := 0
	for index < len(d.chunks) && base+uint64(len(d.chunks[index])) <= position {
		base += uint64(len(d.chunks[index]))
		index++
	}

	if index == len(d.chunks) {
		if base != position {
			return dirCursor{}, fmt.Errorf("directory position %d is past the end: %w", position, ErrInvalidArgument)
		}
		return dirCursor{cache: d, chunk: index, token: position}, nil
	}

	chunk := d.chunks[index]
	offset := 0
	for base+uint64(offset) < position {
		offset += int(binary.LittleEndian.Uint16(chunk[offset+8 : offset+10]))
	}
	if base+uint64(offset) != position {
		return dirCursor{}, fmt.Errorf("directory position %d is not a record boundary: %w", position, ErrInvalidArgument)
	}
	return dirCursor{cache: d, chunk: index, offset: offset, token: position}, nil
}

// done reports whether the cursor has passed the last record.
func (c *dirCursor) done() bool {
	return c.chunk >= len(c.cache.chunks)
}

// peek decodes the record at the cursor without consuming it.
func (c *dirCursor) peek() (dirRecord, bool) {
	if c.done() {
		return dirRecord{}, false
	}
	record := c.cache.chunks[c.chunk][c.offset:]
	nameLength := int(record[11])
	return dirRecord{
		token:  binary.LittleEndian.Uint64(record[0:8]),
		reclen: int(binary.LittleEndian.Uint16(record[8:10])),
		typ:    NodeType(record[10]),
		name:   string(record[recordHeaderSize : recordHeaderSize+nameLength]),
	}, true
}

// advance consumes the record peek returned.
func (c *dirCursor) advance(record dirRecord) {
	c.offset += record.reclen
	c.token = record.token
	if c.offset >= len(c.cache.chunks[c.chunk]) {
		c.chunk++
		c.offset = 0
	}
}
