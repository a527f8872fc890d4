// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// Process represents a running agent CLI process. Driver
// implementations return this from Start. The invocation pump uses it
// to wait for completion and send signals.
type Process interface {
	// Wait blocks until the process exits and returns its exit error.
	// Returns nil if the process exited with status 0.
	Wait() error

	// Stdin returns the write end of the process's stdin pipe.
	Stdin() io.Writer

	// Signal sends an OS signal to the process.
	Signal(signal os.Signal) error
}

// InvokeConfig holds the configuration passed to Driver.Start. Fields
// not relevant to a given agent CLI are ignored by its driver.
type InvokeConfig struct {
	// Prompt is the full rendered prompt for this attempt. Drivers
	// deliver it on stdin or as an argument, whichever the CLI
	// supports headlessly.
	Prompt string

	// Model overrides the CLI's default model when non-empty.
	Model string

	// WorkingDirectory is where the agent operates. When
	// CommandPrefix is set this must be a path valid inside the
	// execution context (e.g. the container workspace mount).
	WorkingDirectory string

	// CommandPrefix is prepended to the agent argv to route the
	// process through a sandbox (e.g. "docker exec -i -w /workspace
	// NAME"). Empty means the agent runs directly on the host.
	CommandPrefix []string

	// ExtraEnv is additional environment for the agent process, in
	// "KEY=VALUE" form, appended to the inherited environment.
	ExtraEnv []string

	// PermissionMode is the Claude Code permission mode
	// (plan, default, acceptEdits).
	PermissionMode string

	// AllowedTools restricts Claude Code to the named tools.
	AllowedTools []string

	// SandboxMode is the Codex sandbox level
	// (read-only, workspace-write).
	SandboxMode string

	// ApprovalPolicy is the Codex --ask-for-approval value. Defaults
	// to "never"; headless runs cannot answer approval prompts.
	ApprovalPolicy string

	// ApprovalMode is the Gemini --approval-mode value
	// (default, auto_edit).
	ApprovalMode string

	// ConfigOverrides are Codex -c key=value overrides.
	ConfigOverrides []string

	// LastMessagePath is where Codex writes its final message
	// (--output-last-message). Must be valid inside the execution
	// context.
	LastMessagePath string

	// LastMessageHostPath is where the runner reads the final message
	// back. Defaults to LastMessagePath; differs when LastMessagePath
	// is a container mount path.
	LastMessageHostPath string

	// Stderr receives the agent's stderr stream. Nil discards it.
	Stderr io.Writer
}

// RawEvent is one line of agent stdout as captured by ParseOutput.
// The line is preserved verbatim; normalization into the canonical
// event vocabulary happens later from the captured lines.
type RawEvent struct {
	// Timestamp is when the line was read from the agent.
	Timestamp time.Time

	// Line is the verbatim stdout line, without the trailing newline.
	Line []byte

	// BlockedInteractive marks a line that means the agent is waiting
	// for interactive approval it will never receive in headless
	// mode. The pump kills the process when it sees this.
	BlockedInteractive bool
}

// Driver is the abstraction boundary between run orchestration and
// agent-specific behavior. Each agent CLI (Claude Code, Codex, Gemini)
// implements this interface.
type Driver interface {
	// Name returns the agent identifier ("claude", "codex", "gemini").
	Name() string

	// Start spawns the agent process with the given configuration.
	// Returns a Process handle and the process's stdout reader. The
	// caller must read stdout to completion (via ParseOutput) before
	// calling Process.Wait.
	Start(ctx context.Context, config InvokeConfig) (Process, io.ReadCloser, error)

	// ParseOutput reads the agent's stdout stream and emits one
	// RawEvent per line on the provided channel. Called in a
	// goroutine — blocks until the reader returns EOF or the context
	// is cancelled. The caller closes the events channel after
	// ParseOutput returns.
	ParseOutput(ctx context.Context, stdout io.Reader, events chan<- RawEvent) error

	// Interrupt requests the agent to stop gracefully.
	Interrupt(process Process) error

	// LastMessage extracts the agent's final message for this attempt
	// from the captured raw event lines (or, for CLIs that write it
	// to a file, from that file). Returns "" when no final message
	// can be recovered.
	LastMessage(config InvokeConfig, rawEvents []byte) string
}

// DriverFor returns the driver for the given agent identifier. The
// binary argument overrides the CLI executable name; empty uses the
// agent's default.
func DriverFor(agentID, binary string) (Driver, error) {
	switch agentID {
	case "claude":
		return &claudeDriver{binary: binary}, nil
	case "codex":
		return &codexDriver{binary: binary}, nil
	case "gemini":
		return &geminiDriver{binary: binary}, nil
	default:
		return nil, fmt.Errorf("no driver for agent %q", agentID)
	}
}

// NeedsNetwork reports whether an agent's CLI must reach a hosted API
// to function. All three supported CLIs are hosted; a future local
// model runner would return false here.
func NeedsNetwork(agentID string) bool {
	switch agentID {
	case "claude", "codex", "gemini":
		return true
	default:
		return false
	}
}

// cliProcess wraps an exec.Cmd to implement Process.
type cliProcess struct {
	command *exec.Cmd
	stdin   io.WriteCloser
}

func (process *cliProcess) Wait() error {
	return process.command.Wait()
}

func (process *cliProcess) Stdin() io.Writer {
	return process.stdin
}

func (process *cliProcess) Signal(signal os.Signal) error {
	if process.command.Process == nil {
		return fmt.Errorf("process not started")
	}
	return process.command.Process.Signal(signal)
}

// startCommand spawns an agent CLI with the shared plumbing: sandbox
// prefix, working directory, environment, stderr sink, and stdin
// prompt delivery.
func startCommand(ctx context.Context, binary string, args []string, config InvokeConfig, promptOnStdin bool) (Process, io.ReadCloser, error) {
	argv := append(append([]string(nil), config.CommandPrefix...), binary)
	argv = append(argv, args...)

	command := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if len(config.CommandPrefix) == 0 {
		command.Dir = config.WorkingDirectory
	}
	command.Env = append(os.Environ(), config.ExtraEnv...)
	if config.Stderr != nil {
		command.Stderr = config.Stderr
	}

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	stdout, err := command.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := command.Start(); err != nil {
		stdin.Close()
		return nil, nil, fmt.Errorf("starting %s: %w", binary, err)
	}

	if promptOnStdin {
		// Prompts can exceed the pipe buffer; deliver asynchronously
		// so Start never blocks.
		go func() {
			io.WriteString(stdin, config.Prompt)
			stdin.Close()
		}()
	}

	return &cliProcess{command: command, stdin: stdin}, stdout, nil
}
