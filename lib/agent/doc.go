// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent drives external coding-agent CLIs (Claude Code, Codex,
// Gemini) headlessly and captures their output streams.
//
//   - Driver: interface each agent CLI implements to spawn its
//     process, parse its stdout into raw events, and handle
//     interruption. DriverFor returns the driver for an agent ID.
//
//   - Invoke: the attempt pump. It starts the process, streams stdout
//     lines into the raw event sink, drains stderr into the attempt's
//     stderr capture, enforces the wall-clock timeout through an
//     injected clock, and kills agents that stall on interactive
//     approval prompts.
//
//   - ClassifyExit: maps an attempt outcome onto the run error
//     taxonomy, scanning stderr and the final message for failure
//     subtypes (capacity, quota, auth, network).
//
// Drivers never interpret agent semantics beyond what process control
// requires; turning raw output into the canonical event vocabulary is
// lib/normalize's job.
package agent
