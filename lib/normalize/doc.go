// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package normalize converts agent-specific raw output into a
// canonical event vocabulary shared by all agents: read_file,
// write_file, run_command, web_search, tool_call, agent_message,
// error.
//
// Each agent gets its own best-effort mapping (Claude Code stream-json
// content blocks, Codex exec msg/item envelopes, Gemini typed JSONL or
// single-object JSON). Lines that cannot be interpreted are preserved
// as error events rather than dropped, so a transcript can always be
// reconstructed. write_file events come from the workspace git diff,
// not from tool-call claims.
//
// Normalization is deterministic: the same captured records and
// workspace state produce byte-identical JSONL.
package normalize
