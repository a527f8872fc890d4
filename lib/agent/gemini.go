// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"syscall"
)

// geminiDriver runs the Gemini CLI headlessly with JSON output. The
// whole run produces a single JSON object on stdout; the final message
// is its "response" field.
type geminiDriver struct {
	binary string
}

func (driver *geminiDriver) Name() string { return "gemini" }

func (driver *geminiDriver) executable() string {
	if driver.binary != "" {
		return driver.binary
	}
	return "gemini"
}

func geminiArgs(config InvokeConfig) []string {
	var args []string
	if config.Model != "" {
		args = append(args, "-m", config.Model)
	}
	approval := config.ApprovalMode
	if approval == "" {
		approval = "default"
	}
	args = append(args,
		"--approval-mode", approval,
		"--output-format", "json",
		"-p", config.Prompt,
	)
	return args
}

func (driver *geminiDriver) Start(ctx context.Context, config InvokeConfig) (Process, io.ReadCloser, error) {
	return startCommand(ctx, driver.executable(), geminiArgs(config), config, false)
}

func (driver *geminiDriver) ParseOutput(ctx context.Context, stdout io.Reader, events chan<- RawEvent) error {
	// Not scanLines: the single JSON object can exceed any fixed line
	// cap, so the gemini stream is read with a growing buffer.
	return readLines(ctx, stdout, events)
}

func (driver *geminiDriver) Interrupt(process Process) error {
	return process.Signal(syscall.SIGINT)
}

// LastMessage parses the captured stdout as a single JSON object and
// returns its "response" field.
func (driver *geminiDriver) LastMessage(config InvokeConfig, rawEvents []byte) string {
	var payload struct {
		Response string `json:"response"`
	}
	if json.Unmarshal(rawEvents, &payload) == nil && payload.Response != "" {
		return payload.Response
	}

	// Stream output fallback: the last line with a response field.
	var last string
	for _, line := range strings.Split(string(rawEvents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var streamed struct {
			Response string `json:"response"`
		}
		if json.Unmarshal([]byte(line), &streamed) == nil && streamed.Response != "" {
			last = streamed.Response
		}
	}
	return last
}
