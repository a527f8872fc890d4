// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/usertest/lib/clock"
	"github.com/bureau-foundation/usertest/lib/runerr"
)

// InvokeOptions tunes a single agent invocation.
type InvokeOptions struct {
	// Clock drives the wall-clock timeout. Defaults to the real clock;
	// tests inject a fake.
	Clock clock.Clock

	// Timeout is the wall-clock budget for the attempt. Zero means no
	// timeout.
	Timeout time.Duration

	// RawEvents receives the agent's stdout lines verbatim, one per
	// line, as they stream. Nil discards them (they are still
	// retained in memory for final-message extraction).
	RawEvents io.Writer

	Logger *slog.Logger
}

// InvokeResult is the outcome of one agent invocation.
type InvokeResult struct {
	// ExitCode is the process exit status. -1 when the process was
	// killed by a signal.
	ExitCode int

	// TimedOut is set when the wall-clock budget expired and the
	// process was killed.
	TimedOut bool

	// Blocked is set when the agent stalled waiting for interactive
	// approval and was killed.
	Blocked bool

	// EventCount is the number of stdout lines captured.
	EventCount int

	// Records holds the captured stdout lines with their read
	// timestamps, in arrival order, for normalization.
	Records []RawEvent

	// FinalMessage is the agent's last message, extracted by the
	// driver.
	FinalMessage string

	// Duration is the attempt's wall-clock duration.
	Duration time.Duration
}

// countingWriter tracks whether anything was written, so the pump can
// synthesize a stderr note for agents that fail silently.
type countingWriter struct {
	writer  io.Writer
	written atomic.Int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.written.Add(int64(len(p)))
	return w.writer.Write(p)
}

// Invoke runs one agent attempt to completion: it starts the process,
// pumps stdout lines through the driver's parser into the raw event
// sink, enforces the wall-clock timeout, and waits for exit. The
// returned result is never nil on a nil error.
func Invoke(ctx context.Context, driver Driver, config InvokeConfig, options InvokeOptions) (*InvokeResult, error) {
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	stderrSink := config.Stderr
	if stderrSink == nil {
		stderrSink = io.Discard
	}
	stderr := &countingWriter{writer: stderrSink}
	config.Stderr = stderr

	start := clk.Now()
	process, stdout, err := driver.Start(ctx, config)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, runerr.Wrap(runerr.CategoryMissingTool, err).
				WithDetail("agent", driver.Name()).
				WithHint(fmt.Sprintf("install the %s CLI or configure its binary path", driver.Name()))
		}
		return nil, runerr.Wrap(runerr.CategoryInternal, err)
	}
	defer stdout.Close()

	events := make(chan RawEvent, 64)
	parseDone := make(chan error, 1)
	go func() {
		parseDone <- driver.ParseOutput(ctx, stdout, events)
		close(events)
	}()

	var timedOut atomic.Bool
	watchDone := make(chan struct{})
	if options.Timeout > 0 {
		go func() {
			select {
			case <-clk.After(options.Timeout):
				timedOut.Store(true)
				fmt.Fprintf(stderr, "agent timed out after %s; terminating\n", options.Timeout)
				process.Signal(os.Kill)
			case <-watchDone:
			}
		}()
	}

	var raw bytes.Buffer
	var records []RawEvent
	blocked := false
	count := 0
	for event := range events {
		count++
		records = append(records, event)
		raw.Write(event.Line)
		raw.WriteByte('\n')
		if options.RawEvents != nil {
			options.RawEvents.Write(event.Line)
			options.RawEvents.Write([]byte{'\n'})
		}
		if event.BlockedInteractive && !blocked {
			blocked = true
			fmt.Fprintf(stderr, "agent requested interactive approval, which a headless run cannot give; terminating\n")
			process.Signal(os.Kill)
		}
	}

	if parseErr := <-parseDone; parseErr != nil && ctx.Err() == nil {
		logger.Warn("parsing agent output", "agent", driver.Name(), "error", parseErr)
	}
	close(watchDone)

	waitErr := process.Wait()
	result := &InvokeResult{
		TimedOut:   timedOut.Load(),
		Blocked:    blocked,
		EventCount: count,
		Records:    records,
		Duration:   clk.Now().Sub(start),
	}
	switch exitErr := waitErr.(type) {
	case nil:
		result.ExitCode = 0
	case *exec.ExitError:
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
	}

	if result.ExitCode != 0 && stderr.written.Load() == 0 {
		fmt.Fprintf(stderr, "agent exited with status %d and produced no stderr output\n", result.ExitCode)
	}

	result.FinalMessage = driver.LastMessage(config, raw.Bytes())

	logger.Debug("agent attempt finished",
		"agent", driver.Name(),
		"exit_code", result.ExitCode,
		"events", result.EventCount,
		"timed_out", result.TimedOut,
		"blocked", result.Blocked,
	)
	return result, nil
}
