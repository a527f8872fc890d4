// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"encoding/json"
	"strings"
	"time"
)

// pendingTool is a tool_use waiting for its tool_result.
type pendingTool struct {
	name  string
	input map[string]any
}

type claudeContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`
}

// claudeEvents maps Claude Code stream-json lines onto the canonical
// vocabulary. Tool calls arrive as tool_use blocks in assistant
// messages and resolve when the matching tool_result block appears in
// a user message.
func claudeEvents(records []Record, options Options) []Event {
	events := []Event{}
	pending := map[string]pendingTool{}

	for _, record := range records {
		var payload struct {
			Type    string `json:"type"`
			Message *struct {
				Role    string               `json:"role"`
				Content []claudeContentBlock `json:"content"`
			} `json:"message"`
		}
		if json.Unmarshal(record.Line, &payload) != nil {
			events = append(events, unparsedEvent(record.Timestamp, record.Line))
			continue
		}
		if payload.Message == nil {
			continue
		}

		for _, block := range payload.Message.Content {
			switch block.Type {
			case "text":
				if payload.Type == "assistant" && payload.Message.Role == "assistant" && block.Text != "" {
					events = append(events, newEvent(record.Timestamp, TypeAgentMessage, map[string]any{
						"kind": "message",
						"text": block.Text,
					}))
				}
			case "tool_use":
				if block.ID != "" && block.Name != "" {
					pending[block.ID] = pendingTool{name: block.Name, input: block.Input}
				}
			case "tool_result":
				if block.ToolUseID == "" {
					continue
				}
				use, ok := pending[block.ToolUseID]
				if !ok {
					events = append(events, newEvent(record.Timestamp, TypeError, map[string]any{
						"subtype": "tool_result_missing_use",
						"message": "tool_use_id=" + block.ToolUseID,
					}))
					continue
				}
				delete(pending, block.ToolUseID)
				if event, ok := claudeToolEvent(record.Timestamp, use, block.IsError, options); ok {
					events = append(events, event)
				}
			}
		}
	}
	return events
}

// claudeToolEvent maps one resolved tool call by tool name.
func claudeToolEvent(ts time.Time, use pendingTool, isError bool, options Options) (Event, bool) {
	input := use.input
	if input == nil {
		input = map[string]any{}
	}

	switch strings.ToLower(use.name) {
	case "bash":
		command := stringField(input, "command", "cmd")
		if command == "" {
			return Event{}, false
		}
		exitCode := 0
		if isError {
			exitCode = 1
		}
		return newEvent(ts, TypeRunCommand, map[string]any{
			"command":   command,
			"exit_code": exitCode,
		}), true

	case "read":
		path := stringField(input, "path", "file_path")
		if path == "" {
			return Event{}, false
		}
		return newEvent(ts, TypeReadFile, map[string]any{
			"path": mapWorkspacePath(path, options),
		}), true

	case "edit", "write", "grep", "glob":
		return newEvent(ts, TypeToolCall, map[string]any{
			"name":     use.name,
			"input":    input,
			"is_error": isError,
		}), true

	case "websearch", "web_search":
		query := stringField(input, "query", "text")
		if query == "" {
			return Event{}, false
		}
		return newEvent(ts, TypeWebSearch, map[string]any{
			"query": strings.TrimSpace(query),
		}), true

	default:
		return newEvent(ts, TypeError, map[string]any{
			"subtype": "unhandled_tool",
			"message": use.name,
		}), true
	}
}

// stringField returns the first non-empty string value among the
// given keys.
func stringField(input map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := input[key].(string); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
