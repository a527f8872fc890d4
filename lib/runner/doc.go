// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner is the run state machine: acquire the target, start
// the sandbox, preflight, build the prompt, drive the agent through
// capacity retries and verification follow-ups, and finalize the run
// directory. Cleanup (sandbox teardown, workspace release, run
// metadata) runs on every exit path, including cancellation, and
// never masks the original failure.
//
// Every phase outcome carries a stable failure category (see
// lib/runerr); recoverable conditions are consumed internally and
// surface only when their retry or follow-up budget is exhausted.
package runner
