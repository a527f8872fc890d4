// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDirRoundTrip(t *testing.T) {
	dir, err := NewDir(filepath.Join(t.TempDir(), "target", "20260314T093000Z", "claude", "1"))
	if err != nil {
		t.Fatal(err)
	}

	meta := map[string]string{"status": "success", "agent": "claude"}
	if err := dir.WriteJSON(RunMetaFile, meta); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(dir.Path(RunMetaFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(raw), "\n") {
		t.Error("JSON artifact missing trailing newline")
	}

	var decoded map[string]string
	if err := dir.ReadJSON(RunMetaFile, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["status"] != "success" {
		t.Errorf("round trip lost data: %v", decoded)
	}

	if !dir.Exists(RunMetaFile) || dir.Exists(ErrorFile) {
		t.Error("Exists misreports artifact presence")
	}
}

func TestDirCreateStreams(t *testing.T) {
	dir, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	file, err := dir.Create(RawEventsFile(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := file.WriteString("{\"type\":\"agent_message\"}\n"); err != nil {
		t.Fatal(err)
	}
	if err := file.Close(); err != nil {
		t.Fatal(err)
	}
	if !dir.Exists("raw_events.attempt1.jsonl") {
		t.Error("streamed artifact missing")
	}
}

func TestAttemptFileNames(t *testing.T) {
	if got := RawEventsFile(3); got != "raw_events.attempt3.jsonl" {
		t.Errorf("RawEventsFile(3) = %q", got)
	}
	if got := AgentStderrFile(1); got != "agent_stderr.attempt1.txt" {
		t.Errorf("AgentStderrFile(1) = %q", got)
	}
	if got := AgentLastMessageFile(2); got != "agent_last_message.attempt2.txt" {
		t.Errorf("AgentLastMessageFile(2) = %q", got)
	}
}
