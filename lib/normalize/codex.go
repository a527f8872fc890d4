// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// readlikeCommands are commands whose file arguments count as reads.
var readlikeCommands = map[string]bool{
	"cat":  true,
	"sed":  true,
	"find": true,
	"rg":   true,
	"grep": true,
	"more": true,
	"head": true,
	"tail": true,
}

var chainOperators = map[string]bool{"&&": true, ";": true, "||": true, "|": true}

type codexCommandContext struct {
	argv []string
	cwd  string
}

// codexEvents maps Codex exec JSONL onto the canonical vocabulary.
// Codex has emitted two envelope shapes across versions: "msg" events
// (agent_message, agent_reasoning, exec_command_begin/end pairs) and
// "item.completed" items. Both are handled.
func codexEvents(records []Record, options Options) []Event {
	events := []Event{}
	contexts := map[string]codexCommandContext{}

	for _, record := range records {
		var payload struct {
			Type string `json:"type"`
			Msg  *struct {
				Type     string   `json:"type"`
				Message  string   `json:"message"`
				Text     string   `json:"text"`
				CallID   string   `json:"call_id"`
				Command  []string `json:"command"`
				Cwd      string   `json:"cwd"`
				ExitCode *int     `json:"exit_code"`
				Stdout   string   `json:"stdout"`
				Stderr   string   `json:"stderr"`
			} `json:"msg"`
			Item *struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				Command  string `json:"command"`
				ExitCode *int   `json:"exit_code"`
				Status   string `json:"status"`
				Stdout   string `json:"stdout"`
				Output   string `json:"output"`
				Stderr   string `json:"stderr"`
			} `json:"item"`
		}
		if json.Unmarshal(record.Line, &payload) != nil {
			events = append(events, unparsedEvent(record.Timestamp, record.Line))
			continue
		}

		if msg := payload.Msg; msg != nil {
			switch msg.Type {
			case "agent_message":
				if msg.Message != "" {
					events = append(events, agentMessage(record.Timestamp, "message", msg.Message))
				}
			case "agent_reasoning":
				if msg.Text != "" {
					events = append(events, agentMessage(record.Timestamp, "observation", msg.Text))
				}
			case "exec_command_begin":
				if msg.CallID != "" && len(msg.Command) > 0 {
					contexts[msg.CallID] = codexCommandContext{argv: msg.Command, cwd: msg.Cwd}
				}
			case "exec_command_end":
				argv := msg.Command
				cwd := msg.Cwd
				if stored, ok := contexts[msg.CallID]; ok {
					delete(contexts, msg.CallID)
					if len(stored.argv) > 0 {
						argv = stored.argv
					}
					if stored.cwd != "" {
						cwd = stored.cwd
					}
				}
				if len(argv) == 0 {
					continue
				}
				argv = unwrapShellCommand(argv)
				exitCode := -1
				if msg.ExitCode != nil {
					exitCode = *msg.ExitCode
				}
				events = append(events, codexRunCommand(record.Timestamp, argv, cwd, exitCode, msg.Stdout, msg.Stderr, options))
				events = append(events, inferReadEvents(record.Timestamp, argv, cwd, options)...)
			}
			continue
		}

		if payload.Type != "item.completed" || payload.Item == nil {
			continue
		}
		item := payload.Item
		switch item.Type {
		case "reasoning":
			if item.Text != "" {
				events = append(events, agentMessage(record.Timestamp, "observation", item.Text))
			}
		case "agent_message":
			if item.Text != "" {
				events = append(events, agentMessage(record.Timestamp, "message", item.Text))
			}
		case "command_execution":
			if strings.TrimSpace(item.Command) == "" {
				continue
			}
			argv := unwrapShellCommand(splitCommand(item.Command))
			exitCode := -1
			switch {
			case item.ExitCode != nil:
				exitCode = *item.ExitCode
			case strings.EqualFold(item.Status, "failed"):
				exitCode = 1
			}
			stdout := item.Stdout
			if stdout == "" {
				stdout = item.Output
			}
			events = append(events, codexRunCommand(record.Timestamp, argv, "", exitCode, stdout, item.Stderr, options))
			events = append(events, inferReadEvents(record.Timestamp, argv, "", options)...)
		}
	}
	return events
}

func agentMessage(ts time.Time, kind, text string) Event {
	return newEvent(ts, TypeAgentMessage, map[string]any{"kind": kind, "text": text})
}

func codexRunCommand(ts time.Time, argv []string, cwd string, exitCode int, stdout, stderr string, options Options) Event {
	data := map[string]any{
		"command":   formatCommand(argv),
		"exit_code": exitCode,
	}
	if cwd != "" {
		data["cwd"] = mapWorkspacePath(cwd, options)
	}
	if exitCode != 0 {
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

// inferReadEvents derives read_file events from read-like commands
// (cat, grep, head, ...) in an executed command chain. Candidates are
// verified against the workspace on disk, so flags and patterns never
// surface as phantom reads. Disabled when no workspace root is known.
func inferReadEvents(ts time.Time, argv []string, cwd string, options Options) []Event {
	if options.WorkspaceRoot == "" || len(argv) == 0 {
		return nil
	}

	var events []Event
	seen := map[string]bool{}
	effectiveCwd := mapWorkspacePath(cwd, options)

	segment := []string{}
	segments := [][]string{}
	for _, token := range argv {
		if chainOperators[token] {
			if len(segment) > 0 {
				segments = append(segments, segment)
				segment = []string{}
			}
			continue
		}
		segment = append(segment, token)
	}
	if len(segment) > 0 {
		segments = append(segments, segment)
	}

	for _, segment := range segments {
		command := strings.ToLower(segment[0])
		if command == "cd" {
			if len(segment) >= 2 {
				effectiveCwd = mapWorkspacePath(segment[1], options)
			}
			continue
		}
		if !readlikeCommands[command] {
			continue
		}
		for _, token := range segment[1:] {
			if token == "" || strings.HasPrefix(token, "-") {
				continue
			}
			relative := resolveWorkspaceRelative(token, effectiveCwd, options)
			if relative == "" || seen[relative] {
				continue
			}
			hostPath := filepath.Join(options.WorkspaceRoot, filepath.FromSlash(relative))
			info, err := os.Stat(hostPath)
			if err != nil || info.IsDir() {
				continue
			}
			seen[relative] = true
			events = append(events, newEvent(ts, TypeReadFile, map[string]any{"path": relative}))
		}
	}
	return events
}

// resolveWorkspaceRelative resolves a command token to a
// workspace-relative path, or "" when it points outside the
// workspace.
func resolveWorkspaceRelative(token, cwd string, options Options) string {
	mapped := mapWorkspacePath(token, options)
	if strings.HasPrefix(mapped, "/") {
		return ""
	}
	if cwd != "" && cwd != "." && !strings.HasPrefix(cwd, "/") {
		mapped = path.Join(cwd, mapped)
	}
	cleaned := path.Clean(mapped)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return ""
	}
	return cleaned
}
