// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact defines the per-run artifact directory contract:
// the stable file names every run produces, typed writers for them,
// and lossy-but-accounted text capture for embedding large outputs
// in summaries.
package artifact
