// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Record is one captured agent stdout line with the time it was read.
type Record struct {
	Timestamp time.Time
	Line      []byte
}

// Event is one canonical normalized event. Data holds type-specific
// fields; map marshaling sorts keys, so serialization is
// deterministic.
type Event struct {
	TS   string         `json:"ts"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Canonical event types.
const (
	TypeReadFile     = "read_file"
	TypeWriteFile    = "write_file"
	TypeRunCommand   = "run_command"
	TypeWebSearch    = "web_search"
	TypeToolCall     = "tool_call"
	TypeAgentMessage = "agent_message"
	TypeError        = "error"
)

// Options controls workspace path rewriting during normalization.
type Options struct {
	// WorkspaceRoot is the host path of the run's workspace. When set,
	// read-inference may stat candidate files under it.
	WorkspaceRoot string

	// WorkspaceMount is the container path the workspace is mounted
	// at (e.g. "/workspace"). Paths under it are rewritten relative
	// to the workspace root.
	WorkspaceMount string
}

// Events normalizes the captured raw lines of one agent run into the
// canonical event vocabulary. The mapping is best-effort: lines that
// cannot be interpreted become error events with the raw text
// preserved, never a failed run.
func Events(agentID string, records []Record, options Options) ([]Event, error) {
	switch agentID {
	case "claude":
		return claudeEvents(records, options), nil
	case "codex":
		return codexEvents(records, options), nil
	case "gemini":
		return geminiEvents(records, options), nil
	default:
		return nil, fmt.Errorf("no normalizer for agent %q", agentID)
	}
}

// WriteJSONL writes events one JSON object per line.
func WriteJSONL(w io.Writer, events []Event) error {
	for _, event := range events {
		encoded, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(encoded, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func newEvent(ts time.Time, eventType string, data map[string]any) Event {
	return Event{
		TS:   ts.UTC().Format(time.RFC3339Nano),
		Type: eventType,
		Data: data,
	}
}

func unparsedEvent(ts time.Time, line []byte) Event {
	return newEvent(ts, TypeError, map[string]any{
		"subtype": "unparsed_raw_event",
		"raw":     string(line),
	})
}

// mapWorkspacePath rewrites a path reported from inside the execution
// context into a workspace-relative path. Paths outside the workspace
// mount are returned unchanged.
func mapWorkspacePath(path string, options Options) string {
	mount := strings.TrimRight(options.WorkspaceMount, "/")
	if mount == "" {
		return path
	}
	normalized := strings.ReplaceAll(path, "\\", "/")
	if normalized == mount {
		return "."
	}
	if rest, ok := strings.CutPrefix(normalized, mount+"/"); ok && rest != "" {
		return rest
	}
	return path
}
