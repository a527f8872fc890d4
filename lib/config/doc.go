// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for usertest
// commands.
//
// Configuration is loaded from a single file specified by either the
// USERTEST_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search; with no file at all, the
// defaults apply. Environment variables never override file values.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${USERTEST_ROOT}, and ${VAR:-default} patterns are
// expanded. Paths not set in the file derive from paths.root.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Sandbox, Agents, Run
//   - [Default] -- returns the built-in defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
package config
