// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli holds the pieces shared by the sharefs command-line
// binaries: logger construction and signal-aware run contexts.
package cli
