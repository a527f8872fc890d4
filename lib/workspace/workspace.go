// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workspace materializes run targets into isolated, disposable
// directories and owns their cleanup. A target is a local directory
// (copied, never symlinked, so runs cannot mutate each other's
// source), a git URL with an optional ref (cloned, detached checkout),
// or a package specifier like "pip:requests==2.31" (a synthetic
// project directory is generated; the install itself happens inside
// the sandbox during preflight).
//
// Every acquired workspace ends up as a git repository with a baseline
// commit, so the post-run diff is always computable regardless of how
// the target arrived.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bureau-foundation/usertest/lib/git"
	"github.com/bureau-foundation/usertest/lib/runerr"
)

// Kind identifies how a target reference is interpreted.
type Kind string

const (
	// KindLocal is a directory on this machine.
	KindLocal Kind = "local"
	// KindGit is a clonable git URL.
	KindGit Kind = "git"
	// KindPackage is a package specifier ("pip:NAME[==VERSION]").
	KindPackage Kind = "package"
)

// Target is the resolved identity of a run's input. Created once per
// run during acquisition and never mutated afterwards; it is written
// verbatim into target_ref.json.
type Target struct {
	Kind   Kind   `json:"kind"`
	Source string `json:"source"`
	// Ref is the requested git ref, when given.
	Ref string `json:"ref,omitempty"`
	// Commit is the resolved baseline commit of the workspace.
	Commit string `json:"commit"`
	// Mode records how the workspace was materialized:
	// "clone", "copy", or "synthesize".
	Mode string `json:"mode"`
}

// Workspace is an exclusively-owned directory containing the acquired
// target. It is destroyed on release unless retention is requested.
type Workspace struct {
	Dir    string
	Target Target
	Repo   *git.Repository
}

// Manager acquires and releases workspaces under a root directory.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager returns a Manager that creates workspaces under root.
// The root is created on first acquisition if absent.
func NewManager(root string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{root: root, logger: logger}
}

// Root returns the directory workspaces are created under.
func (m *Manager) Root() string {
	return m.root
}

// alwaysIgnore are directory entries never copied from a local target,
// at any depth.
var alwaysIgnore = map[string]bool{
	".git": true, ".hg": true, ".svn": true, ".bzr": true,
	".venv": true, "venv": true, "__pypackages__": true,
	"__pycache__": true, ".pytest_cache": true, ".mypy_cache": true,
	".ruff_cache": true, ".tox": true, ".nox": true,
	"node_modules": true, ".idea": true, ".vscode": true,
}

// rootOnlyIgnore are entries skipped only at the top level of the
// source tree. A nested "build" directory may be real source.
var rootOnlyIgnore = map[string]bool{
	"runs": true, "dist": true, "build": true,
}

// Acquire materializes the target referenced by rawRef into a fresh
// workspace directory. On any failure the partially-created directory
// is removed and a target_acquire_failed error is returned; acquisition
// is never retried.
func (m *Manager) Acquire(ctx context.Context, rawRef string, gitRef string) (*Workspace, error) {
	kind := classifyRef(rawRef)

	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, runerr.Wrap(runerr.CategoryTargetAcquire, fmt.Errorf("creating workspace root: %w", err))
	}
	dir := filepath.Join(m.root, "ws-"+uuid.NewString()[:8])

	workspace, err := m.acquireInto(ctx, kind, rawRef, gitRef, dir)
	if err != nil {
		// Remove whatever was created before failing.
		os.RemoveAll(dir)
		var runError *runerr.Error
		if errors.As(err, &runError) {
			return nil, err
		}
		return nil, runerr.Wrap(runerr.CategoryTargetAcquire, err)
	}

	m.logger.Info("workspace acquired",
		"dir", workspace.Dir,
		"kind", string(workspace.Target.Kind),
		"mode", workspace.Target.Mode,
		"commit", workspace.Target.Commit,
	)
	return workspace, nil
}

func (m *Manager) acquireInto(ctx context.Context, kind Kind, rawRef, gitRef, dir string) (*Workspace, error) {
	switch kind {
	case KindGit:
		return acquireGit(ctx, rawRef, gitRef, dir)
	case KindPackage:
		return acquirePackage(ctx, rawRef, dir)
	default:
		return acquireLocal(ctx, rawRef, gitRef, dir)
	}
}

// classifyRef decides how to interpret a raw target reference.
// Existing paths win over URL-shaped strings so that a local checkout
// named "github.com" behaves predictably.
func classifyRef(rawRef string) Kind {
	if strings.HasPrefix(rawRef, "pip:") {
		return KindPackage
	}
	if _, err := os.Stat(rawRef); err == nil {
		return KindLocal
	}
	if strings.Contains(rawRef, "://") || strings.HasPrefix(rawRef, "git@") || strings.HasSuffix(rawRef, ".git") {
		return KindGit
	}
	return KindLocal
}

func acquireGit(ctx context.Context, url, ref, dir string) (*Workspace, error) {
	repo, err := git.Clone(ctx, url, dir)
	if err != nil {
		return nil, runerr.Wrap(runerr.CategoryTargetAcquire, err).
			WithDetail("url", url).
			WithHint("check that the URL is reachable and the ref exists")
	}
	if ref != "" {
		if err := repo.Checkout(ctx, ref); err != nil {
			return nil, runerr.Wrap(runerr.CategoryTargetAcquire, err).
				WithDetail("url", url).
				WithDetail("ref", ref)
		}
	}
	commit, err := repo.Head(ctx)
	if err != nil {
		return nil, err
	}
	return &Workspace{
		Dir:  dir,
		Repo: repo,
		Target: Target{
			Kind: KindGit, Source: url, Ref: ref,
			Commit: commit, Mode: "clone",
		},
	}, nil
}

func acquireLocal(ctx context.Context, source, ref, dir string) (*Workspace, error) {
	absoluteSource, err := filepath.Abs(source)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absoluteSource)
	if err != nil {
		return nil, runerr.Newf(runerr.CategoryTargetAcquire, "target path %s does not exist", source)
	}
	if !info.IsDir() {
		return nil, runerr.Newf(runerr.CategoryTargetAcquire, "target path %s is not a directory", source)
	}

	// A local repo is cloned so the workspace gets real history; a
	// plain directory is copied and given a baseline commit.
	if git.IsRepository(ctx, absoluteSource) {
		workspace, err := acquireGit(ctx, absoluteSource, ref, dir)
		if err != nil {
			return nil, err
		}
		workspace.Target.Kind = KindLocal
		return workspace, nil
	}

	if err := copyTree(absoluteSource, dir); err != nil {
		return nil, fmt.Errorf("copying target tree: %w", err)
	}
	repo, err := git.Init(ctx, dir)
	if err != nil {
		return nil, err
	}
	commit, err := repo.Head(ctx)
	if err != nil {
		return nil, err
	}
	return &Workspace{
		Dir:  dir,
		Repo: repo,
		Target: Target{
			Kind: KindLocal, Source: absoluteSource,
			Commit: commit, Mode: "copy",
		},
	}, nil
}

// acquirePackage synthesizes a minimal project declaring the package
// as a dependency. The actual install runs inside the sandbox during
// preflight, so a bad package name fails there, not here.
func acquirePackage(ctx context.Context, spec, dir string) (*Workspace, error) {
	name, version, err := parsePackageSpec(spec)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	requirement := name
	if version != "" {
		requirement = name + "==" + version
	}
	pyproject := fmt.Sprintf(`[project]
name = "usertest-target-%s"
version = "0.0.0"
dependencies = [%q]
`, name, requirement)
	if err := os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(pyproject), 0o644); err != nil {
		return nil, err
	}
	readme := fmt.Sprintf("# Target package: %s\n\nSynthesized workspace for inspecting the installed package.\n", requirement)
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte(readme), 0o644); err != nil {
		return nil, err
	}

	repo, err := git.Init(ctx, dir)
	if err != nil {
		return nil, err
	}
	commit, err := repo.Head(ctx)
	if err != nil {
		return nil, err
	}
	return &Workspace{
		Dir:  dir,
		Repo: repo,
		Target: Target{
			Kind: KindPackage, Source: spec, Ref: version,
			Commit: commit, Mode: "synthesize",
		},
	}, nil
}

// parsePackageSpec splits "pip:NAME[==VERSION]" into name and version.
func parsePackageSpec(spec string) (name, version string, err error) {
	body := strings.TrimPrefix(spec, "pip:")
	if body == "" {
		return "", "", runerr.Newf(runerr.CategoryTargetAcquire, "empty package specifier %q", spec)
	}
	name, version, _ = strings.Cut(body, "==")
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" {
		return "", "", runerr.Newf(runerr.CategoryTargetAcquire, "invalid package specifier %q", spec)
	}
	return name, version, nil
}

// Release destroys the workspace. With retain set, the directory is
// moved (not copied) under a "retained" sibling of the workspace root
// and the new path is returned.
func (m *Manager) Release(workspace *Workspace, retain bool) (string, error) {
	if workspace == nil {
		return "", nil
	}
	if retain {
		retainedRoot := filepath.Join(filepath.Dir(m.root), "retained")
		if err := os.MkdirAll(retainedRoot, 0o755); err != nil {
			return "", fmt.Errorf("creating retained root: %w", err)
		}
		destination := filepath.Join(retainedRoot, filepath.Base(workspace.Dir))
		if err := os.Rename(workspace.Dir, destination); err != nil {
			return "", fmt.Errorf("retaining workspace: %w", err)
		}
		m.logger.Info("workspace retained", "dir", destination)
		return destination, nil
	}
	if err := os.RemoveAll(workspace.Dir); err != nil {
		return "", fmt.Errorf("removing workspace: %w", err)
	}
	m.logger.Debug("workspace removed", "dir", workspace.Dir)
	return "", nil
}

// copyTree copies src into dst, skipping VCS metadata, caches, and
// virtualenvs. Symlinks are skipped entirely: a symlinked workspace
// entry could reach outside the copied tree.
func copyTree(src, dst string) error {
	return copyTreeLevel(src, dst, true)
}

func copyTreeLevel(src, dst string, isRoot bool) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if alwaysIgnore[name] {
			continue
		}
		if isRoot && rootOnlyIgnore[name] {
			continue
		}
		if entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		sourcePath := filepath.Join(src, name)
		destinationPath := filepath.Join(dst, name)
		if entry.IsDir() {
			if err := copyTreeLevel(sourcePath, destinationPath, false); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(sourcePath, destinationPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return err
	}
	destination, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(destination, source); err != nil {
		destination.Close()
		return err
	}
	return destination.Close()
}
