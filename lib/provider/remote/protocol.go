// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"time"

	"github.com/bureau-foundation/sharefs/lib/codec"
	"github.com/bureau-foundation/sharefs/lib/provider"
)

// Action names. Each connection carries exactly one request.
const (
	actionPing     = "ping"
	actionOpen     = "open"
	actionClose    = "close"
	actionRead     = "read"
	actionReadlink = "readlink"
	actionReadDir  = "readdir"
	actionGetattr  = "getattr"
	actionSetattr  = "setattr"
)

// MaxReadSize is the largest read a single request may ask for. Larger
// reads are split by the client.
const MaxReadSize = 1 << 20

// maxRequestSize bounds a decoded request. Requests carry a path and a
// few integers, never bulk data.
const maxRequestSize = 64 * 1024

// maxResponseSize bounds a decoded response: one full read payload plus
// the envelope. Directory listings share the bound.
const maxResponseSize = MaxReadSize + 64*1024

// request is the single request shape for every action. Unused fields
// are omitted on the wire.
type request struct {
	Action      string      `cbor:"action"`
	Path        string      `cbor:"path,omitempty"`
	Handle      uint64      `cbor:"handle,omitempty"`
	Offset      int64       `cbor:"offset,omitempty"`
	Size        int         `cbor:"size,omitempty"`
	Capacity    int         `cbor:"capacity,omitempty"`
	Compression Compression `cbor:"compression,omitempty"`

	Mode  *uint32 `cbor:"mode,omitempty"`
	Atime *int64  `cbor:"atime,omitempty"`
	Mtime *int64  `cbor:"mtime,omitempty"`
	Ctime *int64  `cbor:"ctime,omitempty"`
}

// response is the envelope for every reply. Errno carries the host's
// errno when the failure has one, so the guest sees the same error the
// host did.
type response struct {
	OK    bool             `cbor:"ok"`
	Errno uint32           `cbor:"errno,omitempty"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

type handleResult struct {
	Handle uint64 `cbor:"handle"`
}

type readlinkResult struct {
	Target string `cbor:"target"`
}

// wireStat is provider.Stat with times as Unix nanoseconds; zero means
// the host did not report the time.
type wireStat struct {
	Mode      uint32 `cbor:"mode"`
	Size      int64  `cbor:"size"`
	Alloc     int64  `cbor:"alloc"`
	Atime     int64  `cbor:"atime"`
	Mtime     int64  `cbor:"mtime"`
	Ctime     int64  `cbor:"ctime"`
	Birthtime int64  `cbor:"birthtime,omitempty"`
}

type wireEntry struct {
	Name string `cbor:"name"`
	Mode uint32 `cbor:"mode"`
}

func toWireStat(stat provider.Stat) wireStat {
	return wireStat{
		Mode:      stat.Mode,
		Size:      stat.Size,
		Alloc:     stat.Alloc,
		Atime:     toNanos(stat.Atime),
		Mtime:     toNanos(stat.Mtime),
		Ctime:     toNanos(stat.Ctime),
		Birthtime: toNanos(stat.Birthtime),
	}
}

func (w wireStat) stat() provider.Stat {
	return provider.Stat{
		Mode:      w.Mode,
		Size:      w.Size,
		Alloc:     w.Alloc,
		Atime:     fromNanos(w.Atime),
		Mtime:     fromNanos(w.Mtime),
		Ctime:     fromNanos(w.Ctime),
		Birthtime: fromNanos(w.Birthtime),
	}
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func optionalNanos(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	nanos := t.UnixNano()
	return &nanos
}

func optionalTime(nanos *int64) *time.Time {
	if nanos == nil {
		return nil
	}
	t := time.Unix(0, *nanos)
	return &t
}
