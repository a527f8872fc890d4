// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package runerr defines the failure taxonomy for agent runs.
//
// Every terminal run failure carries a stable Category so that callers
// (and the artifacts written into the run directory) can distinguish
// "the target could not be acquired" from "the provider ran out of
// capacity" from "the report did not validate". Categories are never
// coerced into a generic error: the runner surfaces them verbatim.
//
// The package also classifies agent stderr and final-message text into
// failure subtypes (provider capacity, auth, transient network, disk
// full, ...) using pattern tables. Subtype classification decides
// retryability: a capacity signal is retryable unless it matches a
// quota/billing pattern that no amount of waiting will fix.
package runerr
