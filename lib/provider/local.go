// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// LocalOptions configures a [Local] provider.
type LocalOptions struct {
	// ReadOnly makes SetAttributes fail with EROFS.
	ReadOnly bool

	// Logger receives handle lifecycle messages. If nil, messages at
	// error level and above go to stderr.
	Logger *slog.Logger
}

// Local serves a directory on the local filesystem.
//
// Every path is resolved with openat2(RESOLVE_BENEATH) relative to a
// descriptor for the root, so ".." components and symlinks inside the
// share cannot reach outside it.
type Local struct {
	root     string
	rootFD   int
	readOnly bool
	logger   *slog.Logger

	mu      sync.Mutex
	handles map[FileHandle]int
	next    FileHandle
}

// NewLocal opens root for serving. The directory must exist and the
// kernel must support openat2 (Linux 5.6 and later).
func NewLocal(root string, options LocalOptions) (*Local, error) {
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving share root: %w", err)
	}

	rootFD, err := unix.Open(absolute, unix.O_PATH|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: absolute, Err: err}
	}

	// Probe once so an old kernel fails at startup instead of on the
	// first guest lookup.
	probe, err := unix.Openat2(rootFD, ".", &unix.OpenHow{
		Flags:   unix.O_PATH | unix.O_CLOEXEC,
		Resolve: unix.RESOLVE_BENEATH,
	})
	if err != nil {
		unix.Close(rootFD)
		return nil, fmt.Errorf("openat2 on share root %s: %w", absolute, err)
	}
	unix.Close(probe)

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	return &Local{
		root:     absolute,
		rootFD:   rootFD,
		readOnly: options.ReadOnly,
		logger:   logger,
		handles:  make(map[FileHandle]int),
	}, nil
}

// Root returns the absolute path being served.
func (l *Local) Root() string { return l.root }

// Shutdown closes every open handle and the root descriptor. The
// provider must not be used afterwards.
func (l *Local) Shutdown() error {
	l.mu.Lock()
	handles := l.handles
	l.handles = make(map[FileHandle]int)
	l.mu.Unlock()

	for handle, fd := range handles {
		l.logger.Debug("closing leaked handle at shutdown", "handle", handle)
		unix.Close(fd)
	}
	return unix.Close(l.rootFD)
}

// relative converts a share path into a path below the root descriptor.
func relative(path string) string {
	clean := filepath.Clean("/" + path)
	if clean == "/" {
		return "."
	}
	return clean[1:]
}

func (l *Local) openBeneath(op, path string, flags int) (int, error) {
	fd, err := unix.Openat2(l.rootFD, relative(path), &unix.OpenHow{
		Flags:   uint64(flags | unix.O_CLOEXEC),
		Resolve: unix.RESOLVE_BENEATH | unix.RESOLVE_NO_MAGICLINKS,
	})
	if err != nil {
		return -1, &fs.PathError{Op: op, Path: path, Err: err}
	}
	return fd, nil
}

func (l *Local) Open(ctx context.Context, path string) (FileHandle, error) {
	fd, err := l.openBeneath("open", path, unix.O_RDONLY|unix.O_NOFOLLOW)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	l.next++
	handle := l.next
	l.handles[handle] = fd
	l.mu.Unlock()

	l.logger.Debug("opened", "path", path, "handle", handle)
	return handle, nil
}

func (l *Local) Close(ctx context.Context, handle FileHandle) error {
	l.mu.Lock()
	fd, ok := l.handles[handle]
	delete(l.handles, handle)
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("close handle %d: %w", handle, unix.EBADF)
	}
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close handle %d: %w", handle, err)
	}
	return nil
}

func (l *Local) Read(ctx context.Context, handle FileHandle, offset int64, dest []byte) (int, error) {
	l.mu.Lock()
	fd, ok := l.handles[handle]
	l.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("read handle %d: %w", handle, unix.EBADF)
	}

	n, err := unix.Pread(fd, dest, offset)
	if err != nil {
		return 0, fmt.Errorf("read handle %d at %d: %w", handle, offset, err)
	}
	return n, nil
}

func (l *Local) Readlink(ctx context.Context, path string, capacity int) (string, error) {
	fd, err := l.openBeneath("readlink", path, unix.O_PATH|unix.O_NOFOLLOW)
	if err != nil {
		return "", err
	}
	defer unix.Close(fd)

	buf := make([]byte, capacity)
	n, err := unix.Readlinkat(fd, "", buf)
	if err != nil {
		return "", &fs.PathError{Op: "readlink", Path: path, Err: err}
	}
	if n >= capacity {
		return "", &fs.PathError{Op: "readlink", Path: path, Err: unix.ENAMETOOLONG}
	}
	return string(buf[:n]), nil
}

func (l *Local) ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	fd, err := l.openBeneath("readdir", path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW)
	if err != nil {
		return nil, err
	}
	directory := os.NewFile(uintptr(fd), path)
	defer directory.Close()

	listing, err := directory.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, err)
	}

	entries := make([]DirEntry, 0, len(listing)+2)
	entries = append(entries,
		DirEntry{Name: ".", Mode: unix.S_IFDIR},
		DirEntry{Name: "..", Mode: unix.S_IFDIR},
	)
	for _, entry := range listing {
		entries = append(entries, DirEntry{Name: entry.Name(), Mode: typeBits(entry.Type())})
	}
	slices.SortFunc(entries[2:], func(a, b DirEntry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return entries, nil
}

func (l *Local) GetAttributes(ctx context.Context, path string) (Stat, error) {
	fd, err := l.openBeneath("getattr", path, unix.O_PATH|unix.O_NOFOLLOW)
	if err != nil {
		return Stat{}, err
	}
	defer unix.Close(fd)

	var statx unix.Statx_t
	if err := unix.Statx(fd, "", unix.AT_EMPTY_PATH, unix.STATX_BASIC_STATS|unix.STATX_BTIME, &statx); err != nil {
		return Stat{}, &fs.PathError{Op: "getattr", Path: path, Err: err}
	}

	stat := Stat{
		Mode:  uint32(statx.Mode),
		Size:  int64(statx.Size),
		Alloc: int64(statx.Blocks) * 512,
		Atime: time.Unix(statx.Atime.Sec, int64(statx.Atime.Nsec)),
		Mtime: time.Unix(statx.Mtime.Sec, int64(statx.Mtime.Nsec)),
		Ctime: time.Unix(statx.Ctime.Sec, int64(statx.Ctime.Nsec)),
	}
	if statx.Mask&unix.STATX_BTIME != 0 {
		stat.Birthtime = time.Unix(statx.Btime.Sec, int64(statx.Btime.Nsec))
	}
	return stat, nil
}

// SetAttributes changes permission bits and access/modification times.
// Symlinks have no permission bits on Linux, so a mode change on one
// fails with EOPNOTSUPP.
func (l *Local) SetAttributes(ctx context.Context, path string, attr SetAttr) error {
	if l.readOnly {
		return &fs.PathError{Op: "setattr", Path: path, Err: unix.EROFS}
	}
	if attr.Mode == nil && attr.Atime == nil && attr.Mtime == nil {
		return nil
	}

	fd, err := l.openBeneath("setattr", path, unix.O_PATH|unix.O_NOFOLLOW)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	var statx unix.Statx_t
	if err := unix.Statx(fd, "", unix.AT_EMPTY_PATH, unix.STATX_TYPE, &statx); err != nil {
		return &fs.PathError{Op: "setattr", Path: path, Err: err}
	}
	isSymlink := uint32(statx.Mode)&unix.S_IFMT == unix.S_IFLNK

	// chmod and utimensat do not accept an O_PATH descriptor directly;
	// the /proc/self/fd link names the already-resolved inode.
	procPath := "/proc/self/fd/" + strconv.Itoa(fd)

	if attr.Mode != nil {
		if isSymlink {
			return &fs.PathError{Op: "chmod", Path: path, Err: unix.EOPNOTSUPP}
		}
		if err := unix.Fchmodat(unix.AT_FDCWD, procPath, *attr.Mode&0o7777, 0); err != nil {
			return &fs.PathError{Op: "chmod", Path: path, Err: err}
		}
	}

	if attr.Atime != nil || attr.Mtime != nil {
		if isSymlink {
			return &fs.PathError{Op: "utimes", Path: path, Err: unix.EOPNOTSUPP}
		}
		times := []unix.Timespec{timespec(attr.Atime), timespec(attr.Mtime)}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, procPath, times, 0); err != nil {
			return &fs.PathError{Op: "utimes", Path: path, Err: err}
		}
	}
	return nil
}

func timespec(t *time.Time) unix.Timespec {
	if t == nil {
		return unix.Timespec{Nsec: unix.UTIME_OMIT}
	}
	return unix.NsecToTimespec(t.UnixNano())
}

// typeBits converts the type portion of an fs.FileMode to S_IFMT bits.
func typeBits(mode fs.FileMode) uint32 {
	switch {
	case mode&fs.ModeDir != 0:
		return unix.S_IFDIR
	case mode&fs.ModeSymlink != 0:
		return unix.S_IFLNK
	case mode&fs.ModeNamedPipe != 0:
		return unix.S_IFIFO
	case mode&fs.ModeSocket != 0:
		return unix.S_IFSOCK
	case mode&fs.ModeCharDevice != 0:
		return unix.S_IFCHR
	case mode&fs.ModeDevice != 0:
		return unix.S_IFBLK
	default:
		return unix.S_IFREG
	}
}
