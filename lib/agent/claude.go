// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"syscall"
)

// claudeDriver runs Claude Code in print mode with stream-json output.
type claudeDriver struct {
	binary string
}

func (driver *claudeDriver) Name() string { return "claude" }

func (driver *claudeDriver) executable() string {
	if driver.binary != "" {
		return driver.binary
	}
	return "claude"
}

func claudeArgs(config InvokeConfig) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if config.Model != "" {
		args = append(args, "--model", config.Model)
	}
	if config.PermissionMode != "" {
		args = append(args, "--permission-mode", config.PermissionMode)
	}
	if len(config.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(config.AllowedTools, ","))
	}
	return args
}

func (driver *claudeDriver) Start(ctx context.Context, config InvokeConfig) (Process, io.ReadCloser, error) {
	return startCommand(ctx, driver.executable(), claudeArgs(config), config, true)
}

func (driver *claudeDriver) ParseOutput(ctx context.Context, stdout io.Reader, events chan<- RawEvent) error {
	return scanLines(ctx, stdout, events, nil)
}

// Interrupt sends SIGINT; Claude Code finishes the current tool call
// and exits gracefully.
func (driver *claudeDriver) Interrupt(process Process) error {
	return process.Signal(syscall.SIGINT)
}

// LastMessage returns the text of the final "result" event, falling
// back to the text blocks of the last assistant message when the run
// ended without one.
func (driver *claudeDriver) LastMessage(config InvokeConfig, rawEvents []byte) string {
	var lastText string
	for _, line := range bytes.Split(rawEvents, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var envelope struct {
			Type    string `json:"type"`
			Result  string `json:"result"`
			Message struct {
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			} `json:"message"`
		}
		if json.Unmarshal(line, &envelope) != nil {
			continue
		}

		switch envelope.Type {
		case "result":
			if strings.TrimSpace(envelope.Result) != "" {
				lastText = envelope.Result
			}
		case "assistant":
			var parts []string
			for _, block := range envelope.Message.Content {
				if block.Type == "text" && block.Text != "" {
					parts = append(parts, block.Text)
				}
			}
			if len(parts) > 0 {
				lastText = strings.Join(parts, "")
			}
		}
	}
	return lastText
}
