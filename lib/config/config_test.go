// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Provider.Kind != ProviderLocal {
		t.Errorf("expected provider.kind=local, got %s", cfg.Provider.Kind)
	}
	if cfg.Attributes.StatTTL.Std() != 200*time.Millisecond {
		t.Errorf("expected stat_ttl=200ms, got %v", cfg.Attributes.StatTTL.Std())
	}
	if !cfg.Lookup.Deduplicate {
		t.Error("expected lookup.deduplicate=true by default")
	}
	if cfg.Log.Format != "auto" {
		t.Errorf("expected log.format=auto, got %s", cfg.Log.Format)
	}
}

func TestLoad_RequiresEnvironment(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SHAREFS_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "SHAREFS_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestLoad_WithEnvironment(t *testing.T) {
	path := writeConfig(t, "sharefs.yaml", `
share: media
mountpoint: /mnt/media
provider:
  root: /srv/media
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Share != "media" {
		t.Errorf("expected share=media, got %s", cfg.Share)
	}
	if cfg.Provider.Root != "/srv/media" {
		t.Errorf("expected provider.root=/srv/media, got %s", cfg.Provider.Root)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeConfig(t, "sharefs.yaml", `
share: docs
mountpoint: /mnt/docs
provider:
  kind: remote
  socket: /run/sharefs/docs.sock
  compression: zstd
attributes:
  uid: 1000
  gid: 1000
  dir_mode: 0755
  file_mode: "0644"
  file_mask: 022
  stat_ttl: 1s
lookup:
  deduplicate: false
  entry_timeout: 250
fuse:
  allow_other: true
log:
  level: debug
  format: json
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Provider.Kind != ProviderRemote {
		t.Errorf("expected kind=remote, got %s", cfg.Provider.Kind)
	}
	if cfg.Attributes.DirMode != 0o755 {
		t.Errorf("expected dir_mode=0755, got %s", cfg.Attributes.DirMode)
	}
	if cfg.Attributes.FileMode != 0o644 {
		t.Errorf("expected file_mode=0644, got %s", cfg.Attributes.FileMode)
	}
	if cfg.Attributes.FileMask != 0o22 {
		t.Errorf("expected file_mask=022, got %s", cfg.Attributes.FileMask)
	}
	if cfg.Attributes.StatTTL.Std() != time.Second {
		t.Errorf("expected stat_ttl=1s, got %v", cfg.Attributes.StatTTL.Std())
	}
	if cfg.Lookup.Deduplicate {
		t.Error("expected deduplicate=false")
	}
	if cfg.Lookup.EntryTimeout.Std() != 250*time.Millisecond {
		t.Errorf("expected entry_timeout=250ms from a bare integer, got %v", cfg.Lookup.EntryTimeout.Std())
	}
	if !cfg.FUSE.AllowOther {
		t.Error("expected allow_other=true")
	}
	if err := cfg.ValidateMount(); err != nil {
		t.Errorf("ValidateMount: %v", err)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	path := writeConfig(t, "sharefs.jsonc", `{
  // Served straight from the host.
  "share": "src",
  "mountpoint": "/mnt/src",
  "provider": {"kind": "local", "root": "/home/dev/src",},
  "attributes": {"file_mode": "0600", "stat_ttl": "50ms"},
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Provider.Root != "/home/dev/src" {
		t.Errorf("expected root=/home/dev/src, got %s", cfg.Provider.Root)
	}
	if cfg.Attributes.FileMode != 0o600 {
		t.Errorf("expected file_mode=0600, got %s", cfg.Attributes.FileMode)
	}
	if cfg.Attributes.StatTTL.Std() != 50*time.Millisecond {
		t.Errorf("expected stat_ttl=50ms, got %v", cfg.Attributes.StatTTL.Std())
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	tests := []struct {
		name    string
		content string
	}{
		{"bad mode", "attributes:\n  dir_mode: 0789\n"},
		{"bad duration", "attributes:\n  stat_ttl: soon\n"},
		{"mode not scalar", "attributes:\n  file_mode: [1, 2]\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := writeConfig(t, "sharefs.yaml", test.content)
			if _, err := LoadFile(path); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("SHAREFS_RUNTIME", "")

	path := writeConfig(t, "sharefs.yaml", `
share: photos
mountpoint: ${HOME}/mnt/${SHARE}
provider:
  kind: remote
  socket: ${SHAREFS_RUNTIME:-/run/sharefs}/${SHARE}.sock
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Mountpoint != "/home/tester/mnt/photos" {
		t.Errorf("expected mountpoint=/home/tester/mnt/photos, got %s", cfg.Mountpoint)
	}
	if cfg.Provider.Socket != "/run/sharefs/photos.sock" {
		t.Errorf("expected socket=/run/sharefs/photos.sock, got %s", cfg.Provider.Socket)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Provider.Root = "/srv/share"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Share = ""
	cfg.Provider.Kind = "ftp"
	cfg.Provider.Compression = "gzip"
	cfg.Attributes.DirMode = 0o4755
	cfg.Log.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"share is required", "provider.kind", "provider.compression", "attributes.dir_mode", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestValidateMount(t *testing.T) {
	cfg := Default()
	cfg.Provider.Root = "/srv/share"

	if err := cfg.ValidateMount(); err == nil || !strings.Contains(err.Error(), "mountpoint is required") {
		t.Errorf("expected missing mountpoint error, got %v", err)
	}

	cfg.Mountpoint = "relative/path"
	if err := cfg.ValidateMount(); err == nil || !strings.Contains(err.Error(), "must be absolute") {
		t.Errorf("expected absolute path error, got %v", err)
	}

	cfg.Mountpoint = "/mnt/share"
	if err := cfg.ValidateMount(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
