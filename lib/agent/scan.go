// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"time"
)

// scanLines reads stdout line by line and emits a RawEvent per
// non-empty line. The optional inspect callback lets a driver flag
// control lines (e.g. Codex approval requests) as it streams.
func scanLines(ctx context.Context, stdout io.Reader, events chan<- RawEvent, inspect func(line []byte) bool) error {
	scanner := bufio.NewScanner(stdout)
	// Agent CLIs can produce long lines (tool results with large file
	// contents).
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event := RawEvent{
			Timestamp: time.Now(),
			Line:      append([]byte(nil), line...),
		}
		if inspect != nil {
			event.BlockedInteractive = inspect(event.Line)
		}
		events <- event
	}

	return scanner.Err()
}

// readLines is scanLines without the line-length cap: the buffer grows
// to fit each line. Gemini emits its whole result as one JSON object,
// which for a large response is a single multi-megabyte line that
// would overflow a fixed scanner buffer.
func readLines(ctx context.Context, stdout io.Reader, events chan<- RawEvent) error {
	reader := bufio.NewReader(stdout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > 0 {
			events <- RawEvent{
				Timestamp: time.Now(),
				Line:      append([]byte(nil), line...),
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
