// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDriverFor(t *testing.T) {
	for _, id := range []string{"claude", "codex", "gemini"} {
		driver, err := DriverFor(id, "")
		if err != nil {
			t.Fatalf("DriverFor(%q): %v", id, err)
		}
		if driver.Name() != id {
			t.Errorf("DriverFor(%q).Name() = %q", id, driver.Name())
		}
	}
	if _, err := DriverFor("cursor", ""); err == nil {
		t.Error("expected error for unknown agent")
	}
}

func TestClaudeArgs(t *testing.T) {
	args := claudeArgs(InvokeConfig{
		Model:          "opus",
		PermissionMode: "acceptEdits",
		AllowedTools:   []string{"Read", "Grep", "Bash"},
	})
	want := []string{
		"-p", "--output-format", "stream-json", "--verbose",
		"--model", "opus",
		"--permission-mode", "acceptEdits",
		"--allowedTools", "Read,Grep,Bash",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("claudeArgs = %v, want %v", args, want)
	}
}

func TestClaudeArgsMinimal(t *testing.T) {
	args := claudeArgs(InvokeConfig{})
	want := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("claudeArgs = %v, want %v", args, want)
	}
}

func TestCodexArgs(t *testing.T) {
	args := codexArgs(InvokeConfig{
		WorkingDirectory: "/workspace",
		SandboxMode:      "workspace-write",
		Model:            "o4",
		ConfigOverrides:  []string{"model_reasoning_effort=high"},
		LastMessagePath:  "/artifacts/last.txt",
	})
	want := []string{
		"--ask-for-approval", "never",
		"exec", "--json",
		"--cd", "/workspace",
		"--sandbox", "workspace-write",
		"--model", "o4",
		"-c", "model_reasoning_effort=high",
		"--output-last-message", "/artifacts/last.txt",
		"-",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("codexArgs = %v, want %v", args, want)
	}
}

func TestGeminiArgs(t *testing.T) {
	args := geminiArgs(InvokeConfig{
		Model:        "gemini-pro",
		ApprovalMode: "auto_edit",
		Prompt:       "do the thing",
	})
	want := []string{
		"-m", "gemini-pro",
		"--approval-mode", "auto_edit",
		"--output-format", "json",
		"-p", "do the thing",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("geminiArgs = %v, want %v", args, want)
	}
}

func TestClaudeLastMessageFromResult(t *testing.T) {
	driver := &claudeDriver{}
	raw := strings.Join([]string{
		`{"type":"system","subtype":"init"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"}]}}`,
		`{"type":"result","result":"{\"status\":\"done\"}"}`,
	}, "\n")
	if got := driver.LastMessage(InvokeConfig{}, []byte(raw)); got != `{"status":"done"}` {
		t.Errorf("LastMessage = %q", got)
	}
}

func TestClaudeLastMessageFallsBackToAssistantText(t *testing.T) {
	driver := &claudeDriver{}
	raw := strings.Join([]string{
		`{"type":"assistant","message":{"content":[{"type":"text","text":"first"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"part one, "},{"type":"text","text":"part two"}]}}`,
		`not json at all`,
	}, "\n")
	if got := driver.LastMessage(InvokeConfig{}, []byte(raw)); got != "part one, part two" {
		t.Errorf("LastMessage = %q", got)
	}
}

func TestCodexLastMessageReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last.txt")
	if err := os.WriteFile(path, []byte("final answer"), 0o644); err != nil {
		t.Fatal(err)
	}
	driver := &codexDriver{}
	got := driver.LastMessage(InvokeConfig{
		LastMessagePath:     "/artifacts/last.txt",
		LastMessageHostPath: path,
	}, nil)
	if got != "final answer" {
		t.Errorf("LastMessage = %q", got)
	}
	if got := driver.LastMessage(InvokeConfig{LastMessagePath: filepath.Join(t.TempDir(), "absent")}, nil); got != "" {
		t.Errorf("LastMessage for missing file = %q", got)
	}
}

func TestCodexLineBlocks(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{`{"type":"apply_patch_approval_request","call_id":"c1"}`, true},
		{`{"msg":{"type":"apply_patch_approval_request"}}`, true},
		{`{"msg":{"type":"agent_message","message":"apply_patch_approval_request"}}`, false},
		{`plain text mentioning apply_patch_approval_request`, false},
	}
	for _, test := range tests {
		if got := codexLineBlocks([]byte(test.line)); got != test.want {
			t.Errorf("codexLineBlocks(%s) = %v, want %v", test.line, got, test.want)
		}
	}
}

func TestGeminiLastMessage(t *testing.T) {
	driver := &geminiDriver{}
	raw := `{"response":"all done","stats":{"turns":3}}`
	if got := driver.LastMessage(InvokeConfig{}, []byte(raw)); got != "all done" {
		t.Errorf("LastMessage = %q", got)
	}

	stream := "{\"type\":\"message\"}\n{\"response\":\"streamed\"}\n"
	if got := driver.LastMessage(InvokeConfig{}, []byte(stream)); got != "streamed" {
		t.Errorf("LastMessage (stream) = %q", got)
	}
}

func TestGeminiParseOutputHandlesLargeObject(t *testing.T) {
	driver := &geminiDriver{}
	response := strings.Repeat("a", 2*1024*1024)
	payload := fmt.Sprintf(`{"response":%q}`, response)

	events := make(chan RawEvent, 4)
	var lines [][]byte
	drained := make(chan struct{})
	go func() {
		for event := range events {
			lines = append(lines, event.Line)
		}
		close(drained)
	}()

	err := driver.ParseOutput(context.Background(), strings.NewReader(payload+"\n"), events)
	close(events)
	<-drained

	if err != nil {
		t.Fatalf("ParseOutput: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("events = %d, want 1", len(lines))
	}
	if len(lines[0]) != len(payload) {
		t.Fatalf("line truncated: %d bytes, want %d", len(lines[0]), len(payload))
	}
	if got := driver.LastMessage(InvokeConfig{}, lines[0]); got != response {
		t.Errorf("LastMessage lost the oversized response (%d bytes returned)", len(got))
	}
}
