// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/sharefs/lib/config"
)

func TestFormattedLogger(t *testing.T) {
	var buffer bytes.Buffer
	logger, err := newFormattedLogger(&buffer, "json", slog.LevelWarn)
	if err != nil {
		t.Fatalf("newFormattedLogger: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept", "share", "docs")

	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d records, want 1: %q", len(lines), buffer.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if record["msg"] != "kept" || record["share"] != "docs" {
		t.Errorf("unexpected record: %v", record)
	}

	buffer.Reset()
	logger, err = newFormattedLogger(&buffer, "text", slog.LevelInfo)
	if err != nil {
		t.Fatalf("newFormattedLogger: %v", err)
	}
	logger.Info("hello")
	if !strings.Contains(buffer.String(), "msg=hello") {
		t.Errorf("text record = %q", buffer.String())
	}

	if _, err := newFormattedLogger(&buffer, "xml", slog.LevelInfo); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger(os.Stderr, config.LogConfig{Level: "loud", Format: "text"})
	if err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

func TestNewLoggerAutoFormat(t *testing.T) {
	// A regular file is never a terminal, so auto selects JSON.
	file, err := os.CreateTemp(t.TempDir(), "log")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer file.Close()

	logger, err := NewLogger(file, config.LogConfig{Level: "info", Format: "auto"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("mounted")

	data, err := os.ReadFile(file.Name())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasPrefix(string(data), "{") {
		t.Errorf("expected a JSON record, got %q", data)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sharefs.yaml")
	if err := os.WriteFile(path, []byte("share: scratch\nprovider:\n  root: /srv/scratch\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig(flag): %v", err)
	}
	if cfg.Share != "scratch" {
		t.Errorf("share = %q, want scratch", cfg.Share)
	}

	t.Setenv(config.EnvironmentVariable, path)
	cfg, err = LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(env): %v", err)
	}
	if cfg.Provider.Root != "/srv/scratch" {
		t.Errorf("root = %q, want /srv/scratch", cfg.Provider.Root)
	}

	t.Setenv(config.EnvironmentVariable, "")
	if _, err := LoadConfig(""); err == nil {
		t.Error("expected an error with neither flag nor environment")
	}
}
