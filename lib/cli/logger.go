// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/sharefs/lib/config"
)

// NewLogger builds a daemon logger from the log section of the config.
// The "auto" format picks slog.TextHandler when stderr is a terminal and
// slog.JSONHandler otherwise.
func NewLogger(output *os.File, logConfig config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logConfig.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	format := logConfig.Format
	if format == "" || format == "auto" {
		format = "json"
		if IsTerminal(output) {
			format = "text"
		}
	}
	return newFormattedLogger(output, format, level)
}

func newFormattedLogger(output io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	options := &slog.HandlerOptions{Level: level}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(output, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(output, options)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

var isTerminal = term.IsTerminal
