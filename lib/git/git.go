// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for the repository
// operations a run needs: cloning targets, materializing copied trees
// as repositories so post-run diffs are always available, and reading
// those diffs back as numstat records. All commands target a specific
// repository directory via the -C flag, which is automatically
// injected by all Repository methods.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Repository represents a git repository at a specific directory. All
// operations target this directory via "git -C <dir>". There is no
// default directory — callers must always specify which repository
// they mean.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error messages
// on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Clone clones source into destination and returns a Repository
// targeting the clone. Works for local paths and remote URLs.
func Clone(ctx context.Context, source, destination string) (*Repository, error) {
	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", "clone", "--quiet", source, destination)
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("git clone %s: %w (stderr: %s)",
			source, err, strings.TrimSpace(stderr.String()))
	}
	return NewRepository(destination), nil
}

// IsRepository reports whether dir is inside a git working tree.
func IsRepository(ctx context.Context, dir string) bool {
	command := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--is-inside-work-tree")
	output, err := command.Output()
	return err == nil && strings.TrimSpace(string(output)) == "true"
}

// Init initializes a new repository in dir with an initial commit of
// everything present, so later diffs have a baseline. The committer
// identity is fixed to a synthetic identity to keep runs reproducible
// on machines without global git config.
func Init(ctx context.Context, dir string) (*Repository, error) {
	repo := NewRepository(dir)
	if _, err := repo.Run(ctx, "init", "--quiet"); err != nil {
		return nil, err
	}
	if _, err := repo.Run(ctx, "add", "-A"); err != nil {
		return nil, err
	}
	if _, err := repo.Run(ctx,
		"-c", "user.name=usertest",
		"-c", "user.email=usertest@localhost",
		"commit", "--quiet", "--allow-empty", "-m", "baseline",
	); err != nil {
		return nil, err
	}
	return repo, nil
}

// Checkout checks out ref in detached HEAD mode.
func (r *Repository) Checkout(ctx context.Context, ref string) error {
	_, err := r.Run(ctx, "checkout", "--quiet", "--detach", ref)
	return err
}

// Head returns the full commit hash of HEAD.
func (r *Repository) Head(ctx context.Context) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// NumstatEntry is one changed path from "git diff --numstat". Binary
// files report -1 for both counts (git prints "-").
type NumstatEntry struct {
	Path         string `json:"path"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

// DiffNumstat returns line-level change counts for the working tree
// against HEAD, including untracked files (via a temporary index add).
// An empty slice means no changes.
func (r *Repository) DiffNumstat(ctx context.Context) ([]NumstatEntry, error) {
	// Stage everything so untracked files show up in the diff; this
	// only touches the index, not the working tree.
	if _, err := r.Run(ctx, "add", "-A", "--intent-to-add"); err != nil {
		return nil, err
	}
	output, err := r.Run(ctx, "diff", "--numstat", "HEAD")
	if err != nil {
		return nil, err
	}
	return ParseNumstat(output), nil
}

// DiffPatch returns the unified diff of the working tree against HEAD.
func (r *Repository) DiffPatch(ctx context.Context) (string, error) {
	return r.Run(ctx, "diff", "HEAD")
}

// ParseNumstat parses "git diff --numstat" output. Lines that do not
// have three tab-separated fields are skipped.
func ParseNumstat(output string) []NumstatEntry {
	entries := []NumstatEntry{}
	for _, line := range strings.Split(output, "\n") {
		fields := strings.SplitN(strings.TrimRight(line, "\r"), "\t", 3)
		if len(fields) != 3 || fields[2] == "" {
			continue
		}
		entries = append(entries, NumstatEntry{
			Path:         fields[2],
			LinesAdded:   parseCount(fields[0]),
			LinesRemoved: parseCount(fields[1]),
		})
	}
	return entries
}

// parseCount converts a numstat count field. Git prints "-" for
// binary files; that maps to -1.
func parseCount(field string) int {
	if field == "-" {
		return -1
	}
	n, err := strconv.Atoi(field)
	if err != nil {
		return -1
	}
	return n
}
