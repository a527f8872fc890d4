// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package history maintains the run history index (runs.sqlite) and
// the archive format for retired run directories.
package history
