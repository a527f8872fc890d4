// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/usertest/lib/sandbox"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usertest.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Sandbox.Backend != "docker" {
		t.Errorf("backend = %q, want docker", cfg.Sandbox.Backend)
	}
	if cfg.Sandbox.Network != string(sandbox.NetworkOpen) {
		t.Errorf("network = %q, want open", cfg.Sandbox.Network)
	}
	if cfg.Run.AttemptTimeout.Value() != 20*time.Minute {
		t.Errorf("attempt_timeout = %v", cfg.Run.AttemptTimeout.Value())
	}
	if cfg.Run.MaxRetries != 2 || cfg.Run.FollowupAttempts != 1 {
		t.Errorf("run defaults = %+v", cfg.Run)
	}
}

func TestLoadWithoutEnvUsesDefaults(t *testing.T) {
	t.Setenv("USERTEST_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.Runs != filepath.Join(cfg.Paths.Root, "runs") {
		t.Errorf("runs = %q not derived from root %q", cfg.Paths.Runs, cfg.Paths.Root)
	}
	if cfg.Paths.HistoryDB != filepath.Join(cfg.Paths.Root, "history.db") {
		t.Errorf("history_db = %q", cfg.Paths.HistoryDB)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
paths:
  root: /srv/usertest
  catalog: ${USERTEST_ROOT}/catalog
sandbox:
  backend: local
  network: none
agents:
  binaries:
    codex: /opt/codex/bin/codex
run:
  attempt_timeout: 90s
  max_retries: 5
  backoff_base: 500ms
  workers: 4
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.Root != "/srv/usertest" {
		t.Errorf("root = %q", cfg.Paths.Root)
	}
	if cfg.Paths.Catalog != "/srv/usertest/catalog" {
		t.Errorf("catalog = %q, want expanded root", cfg.Paths.Catalog)
	}
	if cfg.Paths.Workspaces != "/srv/usertest/workspaces" {
		t.Errorf("workspaces = %q, want derived from root", cfg.Paths.Workspaces)
	}
	if cfg.Run.AttemptTimeout.Value() != 90*time.Second {
		t.Errorf("attempt_timeout = %v", cfg.Run.AttemptTimeout.Value())
	}
	if cfg.Run.BackoffBase.Value() != 500*time.Millisecond {
		t.Errorf("backoff_base = %v", cfg.Run.BackoffBase.Value())
	}
	// File values layer over defaults; untouched fields keep them.
	if cfg.Run.BackoffMultiplier != 2 || cfg.Run.FollowupAttempts != 1 {
		t.Errorf("run = %+v, want defaults preserved", cfg.Run)
	}
	if cfg.Agents.Binaries["codex"] != "/opt/codex/bin/codex" {
		t.Errorf("binaries = %v", cfg.Agents.Binaries)
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
sandbox:
  backend: local
  netwrok: none
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile accepted a misspelled key")
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
run:
  attempt_timeout: twenty minutes
`)
	_, err := LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("err = %v, want invalid duration", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"docker backend needs image context",
			func(c *Config) { c.Sandbox.ImageContextDir = "" },
			"image_context_dir",
		},
		{
			"unknown backend",
			func(c *Config) { c.Sandbox.Backend = "podman" },
			"sandbox.backend",
		},
		{
			"unknown network",
			func(c *Config) { c.Sandbox.Network = "host" },
			"sandbox.network",
		},
		{
			"multiplier below one",
			func(c *Config) { c.Run.BackoffMultiplier = 0.5 },
			"backoff_multiplier",
		},
		{
			"zero workers",
			func(c *Config) { c.Run.Workers = 0 },
			"workers",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			cfg.Sandbox.ImageContextDir = "/srv/image"
			cfg.Sandbox.ImageRepo = "usertest-sandbox"
			c.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), c.wantErr) {
				t.Errorf("Validate() = %v, want mention of %q", err, c.wantErr)
			}
		})
	}
}

func TestSandboxSpec(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.ImageContextDir = "/srv/image"
	cfg.Sandbox.ImageRepo = "usertest-sandbox"
	cfg.Sandbox.Network = "none"
	cfg.Sandbox.CPUs = 2
	cfg.Sandbox.Memory = "4g"
	cfg.Sandbox.EnvAllowlist = []string{"ANTHROPIC_API_KEY"}

	spec := cfg.SandboxSpec()
	if spec.Network != sandbox.NetworkNone {
		t.Errorf("network = %q", spec.Network)
	}
	if spec.Resources.CPUs != 2 || spec.Resources.Memory != "4g" {
		t.Errorf("resources = %+v", spec.Resources)
	}
	if len(spec.EnvAllowlist) != 1 {
		t.Errorf("env allowlist = %v", spec.EnvAllowlist)
	}
}

func TestEnsurePaths(t *testing.T) {
	cfg := Default()
	cfg.Paths.Root = filepath.Join(t.TempDir(), "data")
	cfg.finalize()

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{cfg.Paths.Root, cfg.Paths.Runs, cfg.Paths.Workspaces} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("missing directory %s (err=%v)", dir, err)
		}
	}
}
