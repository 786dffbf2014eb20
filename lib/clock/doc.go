// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time source used by the shared-folder
// filesystem.
//
// Freshness decisions (attribute cache TTLs, open-handle idle reaping
// on the host side) read the time through a Clock rather than calling
// time.Now directly. Production code injects Real(); tests inject
// Fake() and move time explicitly with Advance, so a TTL expiry is a
// single deterministic step instead of a sleep.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	mount := sharefs.NewMount(sharefs.Options{Clock: c, ...})
//	c.Advance(150 * time.Millisecond) // expire a 100ms TTL
package clock
