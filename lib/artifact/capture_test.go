// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeArtifact(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCaptureTextSmallFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello artifact\n")
	path := writeArtifact(t, dir, "note.txt", content)

	capture := CaptureText(path, dir, DefaultCapturePolicy)

	if capture.Error != "" {
		t.Fatalf("unexpected error: %s", capture.Error)
	}
	if capture.Artifact.Path != "note.txt" {
		t.Errorf("Path = %q, want note.txt", capture.Artifact.Path)
	}
	if !capture.Artifact.Exists || capture.Artifact.SizeBytes != int64(len(content)) {
		t.Errorf("metadata wrong: %+v", capture.Artifact)
	}
	sum := sha256.Sum256(content)
	if capture.Artifact.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("SHA256 = %q", capture.Artifact.SHA256)
	}
	if capture.Excerpt == nil || capture.Excerpt.Truncated || capture.Excerpt.Head != string(content) {
		t.Errorf("excerpt wrong: %+v", capture.Excerpt)
	}
}

func TestCaptureTextTruncatesOversized(t *testing.T) {
	dir := t.TempDir()
	content := []byte("HEAD" + strings.Repeat("x", 500) + "TAIL")
	path := writeArtifact(t, dir, "big.log", content)

	policy := CapturePolicy{MaxExcerptBytes: 100, HeadBytes: 40, TailBytes: 40, BinarySampleBytes: 64}
	capture := CaptureText(path, dir, policy)

	if capture.Error != "" {
		t.Fatalf("unexpected error: %s", capture.Error)
	}
	excerpt := capture.Excerpt
	if excerpt == nil || !excerpt.Truncated {
		t.Fatalf("oversized artifact not truncated: %+v", excerpt)
	}
	if len(excerpt.Head) != 40 || len(excerpt.Tail) != 40 {
		t.Errorf("segment sizes %d/%d, want 40/40", len(excerpt.Head), len(excerpt.Tail))
	}
	if !strings.HasPrefix(excerpt.Head, "HEAD") {
		t.Errorf("head segment lost the file start: %q", excerpt.Head[:8])
	}
	if !strings.HasSuffix(excerpt.Tail, "TAIL") {
		t.Errorf("tail segment lost the file end: %q", excerpt.Tail)
	}
	// The hash covers the full content, not the excerpt.
	sum := sha256.Sum256(content)
	if capture.Artifact.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("SHA256 = %q", capture.Artifact.SHA256)
	}
}

func TestCaptureTextMissingFile(t *testing.T) {
	dir := t.TempDir()
	capture := CaptureText(filepath.Join(dir, "absent.txt"), dir, DefaultCapturePolicy)
	if capture.Artifact.Exists || capture.Error != "" || capture.Excerpt != nil {
		t.Errorf("missing file mis-reported: %+v", capture)
	}
}

func TestCaptureTextBinaryFile(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "blob.bin", []byte{0x00, 0x01, 0x02, 'a', 'b'})

	capture := CaptureText(path, dir, DefaultCapturePolicy)
	if !strings.Contains(capture.Error, "binary_artifact_detected") {
		t.Errorf("binary not flagged: %+v", capture)
	}
	if capture.Excerpt != nil {
		t.Error("binary artifact decoded as text")
	}
	if capture.Artifact.SHA256 == "" {
		t.Error("binary artifact still needs its hash")
	}
}

func TestCaptureTextPathOutsideRoot(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	path := writeArtifact(t, other, "elsewhere.txt", []byte("x"))

	capture := CaptureText(path, dir, DefaultCapturePolicy)
	if capture.Artifact.Path != filepath.ToSlash(path) {
		t.Errorf("out-of-root path rewritten: %q", capture.Artifact.Path)
	}
}
