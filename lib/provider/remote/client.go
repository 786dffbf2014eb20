// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"syscall"
	"time"

	"github.com/bureau-foundation/sharefs/lib/codec"
	"github.com/bureau-foundation/sharefs/lib/provider"
)

// dialTimeout covers only the connect phase. Once a request is written
// the client waits for the host as long as it takes: provider calls are
// never timed out.
const dialTimeout = 5 * time.Second

// RemoteError is a failure reported by the host without an errno. It
// matches syscall.EIO under errors.Is.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("share host error on %q: %s", e.Action, e.Message)
}

func (e *RemoteError) Unwrap() error { return syscall.EIO }

// ClientOptions configures a [Client].
type ClientOptions struct {
	// SocketPath is the host's socket.
	SocketPath string

	// Compression is requested for read payloads and directory
	// listings. The host may still send uncompressed data.
	Compression Compression
}

// Client implements [provider.Provider] against a [Server]. Each call
// opens a new connection. A Client is safe for concurrent use.
type Client struct {
	socketPath  string
	compression Compression
}

// NewClient creates a client. No connection is made until the first
// call; use Ping to check the host is reachable.
func NewClient(options ClientOptions) *Client {
	return &Client{
		socketPath:  options.SocketPath,
		compression: options.Compression,
	}
}

var _ provider.Provider = (*Client)(nil)

// Ping checks that the host answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, &request{Action: actionPing}, nil)
}

func (c *Client) Open(ctx context.Context, path string) (provider.FileHandle, error) {
	var result handleResult
	if err := c.call(ctx, &request{Action: actionOpen, Path: path}, &result); err != nil {
		return 0, err
	}
	return provider.FileHandle(result.Handle), nil
}

func (c *Client) Close(ctx context.Context, handle provider.FileHandle) error {
	return c.call(ctx, &request{Action: actionClose, Handle: uint64(handle)}, nil)
}

// Read splits requests larger than MaxReadSize and stops at the first
// short piece, so the result has the same short-read meaning as a
// single provider read.
func (c *Client) Read(ctx context.Context, handle provider.FileHandle, offset int64, dest []byte) (int, error) {
	total := 0
	for total < len(dest) {
		want := min(len(dest)-total, MaxReadSize)

		var packed payload
		err := c.call(ctx, &request{
			Action:      actionRead,
			Handle:      uint64(handle),
			Offset:      offset + int64(total),
			Size:        want,
			Compression: c.compression,
		}, &packed)
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}

		data, err := packed.unpack()
		if err != nil {
			return total, fmt.Errorf("read handle %d at %d: %w: %w", handle, offset+int64(total), err, syscall.EIO)
		}
		if len(data) > want {
			return total, fmt.Errorf("read handle %d: host returned %d bytes for a %d byte request: %w", handle, len(data), want, syscall.EIO)
		}
		copy(dest[total:], data)
		total += len(data)
		if len(data) < want {
			break
		}
	}
	return total, nil
}

func (c *Client) Readlink(ctx context.Context, path string, capacity int) (string, error) {
	var result readlinkResult
	if err := c.call(ctx, &request{Action: actionReadlink, Path: path, Capacity: capacity}, &result); err != nil {
		return "", err
	}
	return result.Target, nil
}

func (c *Client) ReadDir(ctx context.Context, path string) ([]provider.DirEntry, error) {
	var packed payload
	if err := c.call(ctx, &request{Action: actionReadDir, Path: path, Compression: c.compression}, &packed); err != nil {
		return nil, err
	}
	data, err := packed.unpack()
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w: %w", path, err, syscall.EIO)
	}

	var wire []wireEntry
	if err := codec.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decoding listing of %s: %w: %w", path, err, syscall.EIO)
	}
	entries := make([]provider.DirEntry, len(wire))
	for i, entry := range wire {
		entries[i] = provider.DirEntry{Name: entry.Name, Mode: entry.Mode}
	}
	return entries, nil
}

func (c *Client) GetAttributes(ctx context.Context, path string) (provider.Stat, error) {
	var result wireStat
	if err := c.call(ctx, &request{Action: actionGetattr, Path: path}, &result); err != nil {
		return provider.Stat{}, err
	}
	return result.stat(), nil
}

func (c *Client) SetAttributes(ctx context.Context, path string, attr provider.SetAttr) error {
	return c.call(ctx, &request{
		Action: actionSetattr,
		Path:   path,
		Mode:   attr.Mode,
		Atime:  optionalNanos(attr.Atime),
		Mtime:  optionalNanos(attr.Mtime),
		Ctime:  optionalNanos(attr.Ctime),
	}, nil)
}

// call performs one request-response cycle. Failures the host tagged
// with an errno come back as *fs.PathError wrapping that errno.
func (c *Client) call(ctx context.Context, req *request, result any) error {
	resp, err := c.send(ctx, req)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", req.Action, c.socketPath, err)
	}

	if !resp.OK {
		if resp.Errno != 0 {
			return &fs.PathError{Op: req.Action, Path: req.Path, Err: syscall.Errno(resp.Errno)}
		}
		return &RemoteError{Action: req.Action, Message: resp.Error}
	}

	if result != nil {
		if len(resp.Data) == 0 {
			return fmt.Errorf("response to %q carried no data: %w", req.Action, syscall.EIO)
		}
		if err := codec.Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", req.Action, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, req *request) (*response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var resp response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&resp); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("host closed the connection without a response: %w", syscall.EIO)
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &resp, nil
}
