// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-sharefs-host serves a host directory to a sandboxed
// bureau-sharefs over a Unix socket.
//
// It reads the same config file as the guest: provider.root is the
// directory to serve and provider.socket the socket to listen on.
// Every request is answered read-only. Open handles the guest stops
// touching are closed after provider.idle_handle_timeout.
package main
