// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"syscall"
)

// codexDriver runs Codex in exec mode with JSONL output. Codex writes
// its final message to a file (--output-last-message) rather than
// emitting it on stdout.
type codexDriver struct {
	binary string
}

func (driver *codexDriver) Name() string { return "codex" }

func (driver *codexDriver) executable() string {
	if driver.binary != "" {
		return driver.binary
	}
	return "codex"
}

func codexArgs(config InvokeConfig) []string {
	approval := config.ApprovalPolicy
	if approval == "" {
		approval = "never"
	}
	args := []string{
		"--ask-for-approval", approval,
		"exec", "--json",
		"--cd", config.WorkingDirectory,
		"--sandbox", config.SandboxMode,
	}
	if config.Model != "" {
		args = append(args, "--model", config.Model)
	}
	for _, override := range config.ConfigOverrides {
		args = append(args, "-c", override)
	}
	if config.LastMessagePath != "" {
		args = append(args, "--output-last-message", config.LastMessagePath)
	}
	// "-" reads the prompt from stdin.
	args = append(args, "-")
	return args
}

func (driver *codexDriver) Start(ctx context.Context, config InvokeConfig) (Process, io.ReadCloser, error) {
	return startCommand(ctx, driver.executable(), codexArgs(config), config, true)
}

// ParseOutput flags apply_patch_approval_request events: Codex emits
// one and then waits for an approval that a headless run can never
// give, so the pump must kill the process instead of hanging.
func (driver *codexDriver) ParseOutput(ctx context.Context, stdout io.Reader, events chan<- RawEvent) error {
	return scanLines(ctx, stdout, events, codexLineBlocks)
}

func codexLineBlocks(line []byte) bool {
	var payload struct {
		Type string `json:"type"`
		Msg  struct {
			Type string `json:"type"`
		} `json:"msg"`
	}
	if json.Unmarshal(line, &payload) != nil {
		return false
	}
	return payload.Type == "apply_patch_approval_request" ||
		payload.Msg.Type == "apply_patch_approval_request"
}

func (driver *codexDriver) Interrupt(process Process) error {
	return process.Signal(syscall.SIGINT)
}

// LastMessage reads the file Codex wrote via --output-last-message.
func (driver *codexDriver) LastMessage(config InvokeConfig, rawEvents []byte) string {
	path := config.LastMessageHostPath
	if path == "" {
		path = config.LastMessagePath
	}
	if path == "" {
		return ""
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(content)
}
