// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CapturePolicy bounds how much of a text artifact gets embedded in
// summaries. Oversized artifacts keep a head and a tail segment; the
// full content stays on disk and is identified by its sha256.
type CapturePolicy struct {
	// MaxExcerptBytes is the total byte budget. Artifacts at or under
	// it are embedded whole.
	MaxExcerptBytes int

	// HeadBytes and TailBytes split the budget for oversized
	// artifacts.
	HeadBytes int
	TailBytes int

	// BinarySampleBytes is how many leading bytes to inspect for
	// binary content. Binary artifacts are never decoded as text.
	BinarySampleBytes int
}

// DefaultCapturePolicy is the policy used for run summaries.
var DefaultCapturePolicy = CapturePolicy{
	MaxExcerptBytes:   24_000,
	HeadBytes:         12_000,
	TailBytes:         12_000,
	BinarySampleBytes: 2048,
}

// Ref identifies an artifact on disk.
type Ref struct {
	Path      string `json:"path"`
	AbsPath   string `json:"abs_path"`
	Exists    bool   `json:"exists"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256,omitempty"`
}

// Excerpt is the embedded portion of a text artifact.
type Excerpt struct {
	Head      string `json:"head"`
	Tail      string `json:"tail,omitempty"`
	Truncated bool   `json:"truncated"`
}

// Capture is one artifact's metadata plus its (possibly truncated)
// text content.
type Capture struct {
	Artifact Ref      `json:"artifact"`
	Excerpt  *Excerpt `json:"excerpt,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// CaptureText captures a text artifact with loss accounting: the
// result always carries path/size/hash metadata, truncation is marked
// explicitly, and failures land in Error rather than being dropped.
// root, when non-empty, makes the recorded path relative.
func CaptureText(path string, root string, policy CapturePolicy) Capture {
	policy = policy.normalize()

	capture := Capture{Artifact: Ref{Path: relativePath(path, root), AbsPath: absolutePath(path)}}
	var problems []string

	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			capture.Error = fmt.Sprintf("stat_failed: %v", err)
		}
		return capture
	}
	capture.Artifact.Exists = true
	capture.Artifact.SizeBytes = info.Size()

	if digest, err := hashFile(path); err != nil {
		problems = append(problems, fmt.Sprintf("hash_failed: %v", err))
	} else {
		capture.Artifact.SHA256 = digest
	}

	binary, err := looksBinary(path, policy.BinarySampleBytes)
	if err != nil {
		problems = append(problems, fmt.Sprintf("binary_detection_failed: %v", err))
	}
	if binary {
		problems = append(problems, "binary_artifact_detected")
		capture.Error = strings.Join(problems, "; ")
		return capture
	}

	excerpt, err := readExcerpt(path, info.Size(), policy)
	if err != nil {
		problems = append(problems, fmt.Sprintf("read_failed: %v", err))
	} else {
		capture.Excerpt = excerpt
	}

	if len(problems) > 0 {
		capture.Error = strings.Join(problems, "; ")
	}
	return capture
}

func (p CapturePolicy) normalize() CapturePolicy {
	if p.MaxExcerptBytes < 1 {
		p.MaxExcerptBytes = 1
	}
	if p.HeadBytes < 0 {
		p.HeadBytes = 0
	}
	if p.TailBytes < 0 {
		p.TailBytes = 0
	}
	if p.HeadBytes+p.TailBytes == 0 {
		p.HeadBytes = 1
	}
	if p.HeadBytes+p.TailBytes > p.MaxExcerptBytes {
		p.HeadBytes = min(p.HeadBytes, p.MaxExcerptBytes)
		p.TailBytes = min(p.TailBytes, p.MaxExcerptBytes-p.HeadBytes)
	}
	if p.BinarySampleBytes < 1 {
		p.BinarySampleBytes = 1
	}
	return p
}

func readExcerpt(path string, size int64, policy CapturePolicy) (*Excerpt, error) {
	if size <= int64(policy.MaxExcerptBytes) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &Excerpt{Head: string(raw)}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	head := make([]byte, policy.HeadBytes)
	if _, err := io.ReadFull(file, head); err != nil {
		return nil, err
	}
	tail := make([]byte, policy.TailBytes)
	if policy.TailBytes > 0 {
		if _, err := file.ReadAt(tail, size-int64(policy.TailBytes)); err != nil {
			return nil, err
		}
	}
	return &Excerpt{Head: string(head), Tail: string(tail), Truncated: true}, nil
}

func looksBinary(path string, sampleBytes int) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	sample := make([]byte, sampleBytes)
	n, err := file.Read(sample)
	if err != nil && err != io.EOF {
		return false, err
	}
	sample = sample[:n]
	if len(sample) == 0 {
		return false, nil
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return true, nil
	}
	controls := 0
	for _, b := range sample {
		if b < 9 || (b > 13 && b < 32) {
			controls++
		}
	}
	return float64(controls)/float64(len(sample)) > 0.30, nil
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

func relativePath(path, root string) string {
	if root == "" {
		return filepath.ToSlash(path)
	}
	relative, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(relative, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(relative)
}

func absolutePath(path string) string {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absolute
}
