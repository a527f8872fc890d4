// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"encoding/json"
	"strings"
	"time"
)

// geminiEvents maps Gemini CLI output onto the canonical vocabulary.
// In stream mode Gemini emits typed JSONL: assistant messages arrive
// as many delta fragments that are accumulated and flushed as one
// agent_message; tool_use/tool_result pairs carry the tool activity.
// In single-object JSON mode the whole run is one payload whose
// "response" field becomes a single agent_message.
func geminiEvents(records []Record, options Options) []Event {
	events := []Event{}
	pending := map[string]pendingTool{}

	var message strings.Builder
	var messageTS time.Time
	flushMessage := func() {
		if message.Len() > 0 {
			events = append(events, agentMessage(messageTS, "message", message.String()))
			message.Reset()
		}
	}

	for _, record := range records {
		var payload struct {
			Type       string         `json:"type"`
			Role       string         `json:"role"`
			Content    string         `json:"content"`
			Delta      bool           `json:"delta"`
			ToolID     string         `json:"tool_id"`
			ToolName   string         `json:"tool_name"`
			Parameters map[string]any `json:"parameters"`
			Status     string         `json:"status"`
			ExitCode   *int           `json:"exit_code"`
			Stdout     string         `json:"stdout"`
			Output     string         `json:"output"`
			Stderr     string         `json:"stderr"`
			Response   string         `json:"response"`
		}
		if json.Unmarshal(record.Line, &payload) != nil {
			flushMessage()
			events = append(events, unparsedEvent(record.Timestamp, record.Line))
			continue
		}

		if payload.Type == "" {
			// Single-object JSON mode: the whole run in one payload.
			if payload.Response != "" {
				flushMessage()
				events = append(events, agentMessage(record.Timestamp, "message", payload.Response))
			}
			continue
		}

		switch payload.Type {
		case "message":
			if payload.Role == "assistant" && payload.Content != "" {
				if payload.Delta {
					message.WriteString(payload.Content)
				} else {
					message.Reset()
					message.WriteString(payload.Content)
				}
				messageTS = record.Timestamp
			} else {
				flushMessage()
			}

		case "tool_use":
			flushMessage()
			if payload.ToolID != "" && payload.ToolName != "" {
				pending[payload.ToolID] = pendingTool{name: payload.ToolName, input: payload.Parameters}
			}

		case "tool_result":
			flushMessage()
			if payload.ToolID == "" {
				continue
			}
			use, ok := pending[payload.ToolID]
			if !ok {
				events = append(events, newEvent(record.Timestamp, TypeError, map[string]any{
					"subtype": "tool_result_missing_use",
					"message": "tool_id=" + payload.ToolID,
				}))
				continue
			}
			delete(pending, payload.ToolID)
			isError := !strings.EqualFold(payload.Status, "success")
			stdout := payload.Stdout
			if stdout == "" {
				stdout = payload.Output
			}
			events = append(events, geminiToolEvent(record.Timestamp, use, isError, payload.ExitCode, stdout, payload.Stderr, options))

		default:
			flushMessage()
		}
	}
	flushMessage()
	return events
}

func geminiToolEvent(ts time.Time, use pendingTool, isError bool, exitCode *int, stdout, stderr string, options Options) Event {
	input := use.input
	if input == nil {
		input = map[string]any{}
	}

	switch strings.ToLower(use.name) {
	case "read_file":
		if path := stringField(input, "file_path", "path"); path != "" {
			return newEvent(ts, TypeReadFile, map[string]any{
				"path": mapWorkspacePath(path, options),
			})
		}

	case "run_shell_command":
		if command := stringField(input, "command"); command != "" {
			code := 0
			switch {
			case exitCode != nil:
				code = *exitCode
			case isError:
				code = 1
			}
			data := map[string]any{
				"command":   command,
				"exit_code": code,
			}
			if cwd := stringField(input, "cwd"); cwd != "" {
				data["cwd"] = mapWorkspacePath(cwd, options)
			}
			if code != 0 {
				if output := joinStreams(stdout, stderr); output != "" {
					excerpt, truncated := excerptText(output)
					data["output_excerpt"] = excerpt
					if truncated {
						data["output_excerpt_truncated"] = true
					}
				}
			}
			return newEvent(ts, TypeRunCommand, data)
		}

	case "google_web_search":
		if query := stringField(input, "query"); query != "" {
			return newEvent(ts, TypeWebSearch, map[string]any{
				"query": strings.TrimSpace(query),
			})
		}
	}

	// write_file, replace, and anything unrecognized surface as
	// generic tool calls; failed edits keep an output excerpt for the
	// followup prompt.
	data := map[string]any{
		"name":     use.name,
		"input":    input,
		"is_error": isError,
	}
	if isError {
		if output := joinStreams(stdout, stderr); output != "" {
			excerpt, truncated := excerptText(output)
			data["error_excerpt"] = excerpt
			if truncated {
				data["error_excerpt_truncated"] = true
			}
		}
	}
	return newEvent(ts, TypeToolCall, data)
}
