// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bufpool provides a pool of fixed-size byte buffers with an
// optional cap on how many may be checked out at once.
//
// A capped pool fails fast instead of blocking: [Pool.Get] returns
// [ErrExhausted] when the budget is spent, and the caller decides
// whether that is fatal. Buffers are recycled through a sync.Pool, so an
// idle pool holds no memory the garbage collector cannot reclaim.
package bufpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrExhausted is returned by [Pool.Get] when every buffer the pool may
// hand out is in use.
var ErrExhausted = errors.New("bufpool: buffer budget exhausted")

// Pool hands out buffers of exactly Size bytes.
type Pool struct {
	size  int
	limit int64
	inUse atomic.Int64
	pool  sync.Pool
}

// New creates a pool of size-byte buffers. A limit of zero means no cap
// on checked-out buffers. New panics if size is not positive or limit is
// negative.
func New(size, limit int) *Pool {
	if size <= 0 {
		panic(fmt.Sprintf("bufpool: buffer size must be positive, got %d", size))
	}
	if limit < 0 {
		panic(fmt.Sprintf("bufpool: limit must not be negative, got %d", limit))
	}
	p := &Pool{size: size, limit: int64(limit)}
	p.pool.New = func() any {
		buf := make([]byte, p.size)
		return &buf
	}
	return p
}

// Get checks out a buffer of Size bytes. The contents are whatever the
// previous user left; callers must not assume zeroed memory.
func (p *Pool) Get() ([]byte, error) {
	if p.inUse.Add(1) > p.limit && p.limit > 0 {
		p.inUse.Add(-1)
		return nil, ErrExhausted
	}
	bufPtr := p.pool.Get().(*[]byte)
	return (*bufPtr)[:p.size], nil
}

// Put returns a buffer obtained from [Pool.Get]. Buffers of any other
// capacity are dropped, and nil is ignored. The buffer must not be used
// after Put.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	if cap(buf) != p.size {
		return
	}
	p.inUse.Add(-1)
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

// Size returns the length of every buffer the pool hands out.
func (p *Pool) Size() int { return p.size }

// Limit returns the checkout cap, or zero if there is none.
func (p *Pool) Limit() int { return int(p.limit) }

// InUse returns the number of buffers currently checked out.
func (p *Pool) InUse() int { return int(p.inUse.Load()) }
