// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// errVerificationFailed signals a failed verification round to the
// attempt loop, which decides between a follow-up and giving up.
var errVerificationFailed = errors.New("verification commands failed")

// verificationSummary is the verification.json shape.
type verificationSummary struct {
	Passed   bool                  `json:"passed"`
	Commands []verificationCommand `json:"commands"`
}

type verificationCommand struct {
	Command     string  `json:"command"`
	ExitCode    int     `json:"exit_code"`
	WallSeconds float64 `json:"wall_seconds"`
	TimedOut    bool    `json:"timed_out"`
	StdoutTail  string  `json:"stdout_tail,omitempty"`
	StderrTail  string  `json:"stderr_tail,omitempty"`
}

const verificationTailBytes = 2000

// verify runs the configured verification commands against the
// post-attempt workspace, through the sandbox prefix. Every command
// must exit zero. No commands configured means the gate passes.
func (run *activeRun) verify(ctx context.Context) error {
	if len(run.request.VerifyCommands) == 0 {
		run.verification = nil
		return nil
	}

	summary := &verificationSummary{Passed: true}
	for _, command := range run.request.VerifyCommands {
		record := run.runVerifyCommand(ctx, command)
		summary.Commands = append(summary.Commands, record)
		if record.ExitCode != 0 {
			summary.Passed = false
		}
		if ctx.Err() != nil {
			run.verification = summary
			return ctx.Err()
		}
	}
	run.verification = summary

	if !summary.Passed {
		return errVerificationFailed
	}
	return nil
}

func (run *activeRun) runVerifyCommand(ctx context.Context, command string) verificationCommand {
	record := verificationCommand{Command: command, ExitCode: -1}

	if timeout := run.request.VerifyTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	argv := append(append([]string{}, run.instance.CommandPrefix()...), "sh", "-lc", command)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if len(run.instance.CommandPrefix()) == 0 {
		cmd.Dir = run.workspace.Dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	record.WallSeconds = time.Since(started).Seconds()
	record.StdoutTail = tailString(stdout.Bytes(), verificationTailBytes)
	record.StderrTail = tailString(stderr.Bytes(), verificationTailBytes)

	switch {
	case err == nil:
		record.ExitCode = 0
	case ctx.Err() != nil:
		record.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			record.ExitCode = exitErr.ExitCode()
		}
	}

	run.logger.Debug("verification command finished",
		"command", command,
		"exit_code", record.ExitCode,
		"timed_out", record.TimedOut,
	)
	return record
}

func tailString(raw []byte, limit int) string {
	if len(raw) > limit {
		raw = raw[len(raw)-limit:]
	}
	return string(raw)
}
