// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for sharefs packages.
//
// [SocketDir] creates a temporary directory in /tmp suitable for Unix
// domain sockets, whose paths are limited to 108 bytes (sun_path in
// sockaddr_un). [ShareTree] builds a fixture directory tree from a map
// of relative paths.
//
// [RequireReceive], [RequireClosed], and [RequireQuiet] encapsulate the
// select-with-timeout pattern so that individual tests do not need
// direct time.After calls. They are the only place in the test suite
// where real wall-clock timeouts are used.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no sharefs-internal dependencies.
package testutil
