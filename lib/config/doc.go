// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the configuration of a sharefs mount.
//
// Configuration comes from a single file named by either the
// SHAREFS_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no environment override of
// individual values. Files ending in .json or .jsonc are read as JSON
// with comments and trailing commas; everything else is YAML.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${SHARE}, and ${VAR:-default} patterns are expanded.
//
// Permission modes are octal scalars ([FileMode]) and durations accept
// either Go duration strings or a millisecond count ([Duration]).
//
// This package depends on no other Bureau packages.
package config
