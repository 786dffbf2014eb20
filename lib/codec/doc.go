// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by the guest and
// host halves of the remote provider protocol.
//
// Both sides must agree byte-for-byte on how requests and responses
// are framed, so the encoder and decoder modes live here rather than
// in each caller. The encoder uses Core Deterministic Encoding
// (RFC 8949 §4.2). The decoder rejects duplicate map keys, since a
// request carrying two "path" fields is never legitimate.
//
// Messages are self-delimiting, so a stream needs no extra framing:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
