// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// SocketDir creates a short-named temporary directory in /tmp for Unix
// domain sockets, whose paths are limited to 108 bytes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "sharefs-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}

// ShareTree creates a directory tree under a fresh temporary directory
// and returns its path. Keys are slash-separated relative paths:
//
//   - "dir/" creates a directory
//   - "name" with value "-> target" creates a symlink
//   - anything else creates a regular file holding the value
//
// Parent directories are created as needed.
func ShareTree(t *testing.T, entries map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range entries {
		path := filepath.Join(root, filepath.FromSlash(strings.TrimSuffix(name, "/")))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("creating parent of %s: %v", name, err)
		}
		switch {
		case strings.HasSuffix(name, "/"):
			if err := os.MkdirAll(path, 0755); err != nil {
				t.Fatalf("creating directory %s: %v", name, err)
			}
		case strings.HasPrefix(content, "-> "):
			if err := os.Symlink(strings.TrimPrefix(content, "-> "), path); err != nil {
				t.Fatalf("creating symlink %s: %v", name, err)
			}
		default:
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatalf("writing %s: %v", name, err)
			}
		}
	}
	return root
}
