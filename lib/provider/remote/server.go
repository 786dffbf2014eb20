// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/bureau-foundation/sharefs/lib/clock"
	"github.com/bureau-foundation/sharefs/lib/codec"
	"github.com/bureau-foundation/sharefs/lib/provider"
)

// ServerOptions configures a [Server].
type ServerOptions struct {
	// SocketPath is the Unix socket to listen on. A stale socket file
	// at this path is removed.
	SocketPath string

	// Provider answers every request.
	Provider provider.Provider

	// IdleHandleTimeout closes handles that have not been read or
	// closed for this long, so a guest that disappears does not pin
	// host descriptors forever. Zero disables reaping.
	IdleHandleTimeout time.Duration

	// Clock drives idle reaping. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives server messages. If nil, messages at error level
	// and above go to stderr.
	Logger *slog.Logger
}

type actionFunc func(ctx context.Context, req *request) (any, error)

// Server exposes a [provider.Provider] on a Unix socket. Each connection
// handles exactly one request-response cycle: the client writes a CBOR
// request, the server writes a CBOR response, then the connection
// closes.
type Server struct {
	socketPath  string
	provider    provider.Provider
	idleTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger
	handlers    map[string]actionFunc

	// lastUsed tracks every handle opened through this server. A
	// handle missing from the map is unknown or reaped.
	mu       sync.Mutex
	lastUsed map[provider.FileHandle]time.Time

	activeConnections sync.WaitGroup
}

// NewServer creates a server. Call Serve to start it.
func NewServer(options ServerOptions) (*Server, error) {
	if options.SocketPath == "" {
		return nil, errors.New("remote: SocketPath is required")
	}
	if options.Provider == nil {
		return nil, errors.New("remote: Provider is required")
	}
	if options.IdleHandleTimeout < 0 {
		return nil, errors.New("remote: IdleHandleTimeout must not be negative")
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}
	serverClock := options.Clock
	if serverClock == nil {
		serverClock = clock.Real()
	}

	s := &Server{
		socketPath:  options.SocketPath,
		provider:    options.Provider,
		idleTimeout: options.IdleHandleTimeout,
		clock:       serverClock,
		logger:      logger,
		lastUsed:    make(map[provider.FileHandle]time.Time),
	}
	s.handlers = map[string]actionFunc{
		actionPing:     s.handlePing,
		actionOpen:     s.handleOpen,
		actionClose:    s.handleClose,
		actionRead:     s.handleRead,
		actionReadlink: s.handleReadlink,
		actionReadDir:  s.handleReadDir,
		actionGetattr:  s.handleGetattr,
		actionSetattr:  s.handleSetattr,
	}
	return s, nil
}

// OpenHandles returns the number of handles the server is tracking.
func (s *Server) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastUsed)
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight requests and closes every handle still open.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	if s.idleTimeout > 0 {
		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.reapIdle(ctx)
		}()
	}

	s.logger.Info("share provider listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	s.closeAll()
	return nil
}

// readTimeout is how long we wait for the client to send its request
// after connecting. It does not bound the provider call.
const readTimeout = 30 * time.Second

const writeTimeout = 10 * time.Second

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var req request
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeResponse(conn, response{Error: fmt.Sprintf("invalid request: %v", err), Errno: uint32(syscall.EINVAL)})
		return
	}
	if req.Action == "" {
		s.writeResponse(conn, response{Error: "missing required field: action", Errno: uint32(syscall.EINVAL)})
		return
	}

	handler, exists := s.handlers[req.Action]
	if !exists {
		s.writeResponse(conn, response{Error: fmt.Sprintf("unknown action %q", req.Action), Errno: uint32(syscall.ENOSYS)})
		return
	}

	result, err := handler(ctx, &req)
	if err != nil {
		s.logger.Debug("action failed", "action", req.Action, "path", req.Path, "error", err)
		failure := response{Error: err.Error()}
		if errno, ok := provider.Errno(err); ok {
			failure.Errno = uint32(errno)
		}
		s.writeResponse(conn, failure)
		return
	}

	success := response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeResponse(conn, response{Error: fmt.Sprintf("internal: marshaling response: %v", err)})
			return
		}
		success.Data = data
	}
	s.writeResponse(conn, success)
}

// writeResponse failures are logged at debug level: the connection is
// closing regardless.
func (s *Server) writeResponse(conn net.Conn, resp response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// touch marks a handle used and reports whether the server knows it.
func (s *Server) touch(handle provider.FileHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lastUsed[handle]; !ok {
		return false
	}
	s.lastUsed[handle] = s.clock.Now()
	return true
}

func (s *Server) reapIdle(ctx context.Context) {
	ticker := s.clock.NewTicker(s.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.clock.Now()
			var idle []provider.FileHandle
			s.mu.Lock()
			for handle, used := range s.lastUsed {
				if now.Sub(used) >= s.idleTimeout {
					idle = append(idle, handle)
					delete(s.lastUsed, handle)
				}
			}
			s.mu.Unlock()

			for _, handle := range idle {
				s.logger.Info("closing idle handle", "handle", handle)
				if err := s.provider.Close(ctx, handle); err != nil {
					s.logger.Warn("closing idle handle failed", "handle", handle, "error", err)
				}
			}
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	handles := s.lastUsed
	s.lastUsed = make(map[provider.FileHandle]time.Time)
	s.mu.Unlock()

	for handle := range handles {
		if err := s.provider.Close(context.Background(), handle); err != nil {
			s.logger.Warn("closing handle at shutdown failed", "handle", handle, "error", err)
		}
	}
}

func (s *Server) handlePing(ctx context.Context, req *request) (any, error) {
	return nil, nil
}

func (s *Server) handleOpen(ctx context.Context, req *request) (any, error) {
	handle, err := s.provider.Open(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastUsed[handle] = s.clock.Now()
	s.mu.Unlock()
	return handleResult{Handle: uint64(handle)}, nil
}

func (s *Server) handleClose(ctx context.Context, req *request) (any, error) {
	handle := provider.FileHandle(req.Handle)
	s.mu.Lock()
	_, ok := s.lastUsed[handle]
	delete(s.lastUsed, handle)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("close handle %d: %w", handle, syscall.EBADF)
	}
	return nil, s.provider.Close(ctx, handle)
}

func (s *Server) handleRead(ctx context.Context, req *request) (any, error) {
	handle := provider.FileHandle(req.Handle)
	if req.Size < 0 || req.Size > MaxReadSize {
		return nil, fmt.Errorf("read size %d outside [0, %d]: %w", req.Size, MaxReadSize, syscall.EINVAL)
	}
	if !s.touch(handle) {
		return nil, fmt.Errorf("read handle %d: %w", handle, syscall.EBADF)
	}

	buf := make([]byte, req.Size)
	n, err := s.provider.Read(ctx, handle, req.Offset, buf)
	if err != nil {
		return nil, err
	}
	return packPayload(buf[:n], req.Compression)
}

func (s *Server) handleReadlink(ctx context.Context, req *request) (any, error) {
	if req.Capacity <= 0 {
		return nil, fmt.Errorf("readlink capacity %d: %w", req.Capacity, syscall.EINVAL)
	}
	target, err := s.provider.Readlink(ctx, req.Path, req.Capacity)
	if err != nil {
		return nil, err
	}
	return readlinkResult{Target: target}, nil
}

func (s *Server) handleReadDir(ctx context.Context, req *request) (any, error) {
	entries, err := s.provider.ReadDir(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	wire := make([]wireEntry, len(entries))
	for i, entry := range entries {
		wire[i] = wireEntry{Name: entry.Name, Mode: entry.Mode}
	}
	encoded, err := codec.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding listing of %s: %w", req.Path, err)
	}
	return packPayload(encoded, req.Compression)
}

func (s *Server) handleGetattr(ctx context.Context, req *request) (any, error) {
	stat, err := s.provider.GetAttributes(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	return toWireStat(stat), nil
}

func (s *Server) handleSetattr(ctx context.Context, req *request) (any, error) {
	return nil, s.provider.SetAttributes(ctx, req.Path, provider.SetAttr{
		Mode:  req.Mode,
		Atime: optionalTime(req.Atime),
		Mtime: optionalTime(req.Mtime),
		Ctime: optionalTime(req.Ctime),
	})
}
