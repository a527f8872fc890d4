// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/usertest/lib/sandbox"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "20m" or "1.5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Value returns the wrapped time.Duration.
func (d Duration) Value() time.Duration { return time.Duration(d) }

// Config is the master configuration for usertest.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Sandbox configures how agent processes are contained.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Agents configures the agent CLIs.
	Agents AgentsConfig `yaml:"agents"`

	// Run holds the per-run defaults applied when a flag is not given.
	Run RunConfig `yaml:"run"`
}

// PathsConfig configures directory locations. Runs, Workspaces, and
// HistoryDB default to subpaths of Root.
type PathsConfig struct {
	// Root is the base directory for usertest data.
	Root string `yaml:"root"`

	// Runs is where run directories are created.
	Runs string `yaml:"runs"`

	// Workspaces is where targets are materialized.
	Workspaces string `yaml:"workspaces"`

	// Catalog is the persona/mission catalog root. Empty means the
	// command's --catalog flag is required.
	Catalog string `yaml:"catalog"`

	// HistoryDB is the SQLite run-index database path.
	HistoryDB string `yaml:"history_db"`

	// PoliciesFile overrides the embedded policy table (JSONC).
	PoliciesFile string `yaml:"policies_file"`
}

// SandboxConfig configures the execution sandbox.
type SandboxConfig struct {
	// Backend selects the sandbox implementation: "docker" or "local".
	Backend string `yaml:"backend"`

	// ImageContextDir is the docker build context. Required for the
	// docker backend.
	ImageContextDir string `yaml:"image_context_dir"`

	// Dockerfile is the Dockerfile path, relative to the context when
	// not absolute.
	Dockerfile string `yaml:"dockerfile"`

	// ImageRepo is the repository part of the image tag; the tag
	// suffix is the build-context content hash.
	ImageRepo string `yaml:"image_repo"`

	// Network is the container network mode: "open" or "none".
	Network string `yaml:"network"`

	// Resource limits. Zero means no limit.
	CPUs      float64 `yaml:"cpus"`
	Memory    string  `yaml:"memory"`
	PIDsLimit int     `yaml:"pids_limit"`

	// EnvAllowlist names host environment variables passed through to
	// the container (the agent CLIs' credentials live here).
	EnvAllowlist []string `yaml:"env_allowlist"`

	// KeepContainer leaves run containers in place for debugging.
	KeepContainer bool `yaml:"keep_container"`
}

// AgentsConfig configures the agent CLIs.
type AgentsConfig struct {
	// Binaries overrides the executable per agent id, e.g.
	// claude: /opt/claude/bin/claude.
	Binaries map[string]string `yaml:"binaries"`

	// Model is the default model override passed to every agent.
	// Empty uses each CLI's own default.
	Model string `yaml:"model"`
}

// RunConfig holds per-run defaults.
type RunConfig struct {
	// AttemptTimeout is the wall-clock budget per agent invocation.
	AttemptTimeout Duration `yaml:"attempt_timeout"`

	// MaxRetries bounds retries after retryable provider-capacity
	// failures.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase and BackoffMultiplier shape the retry delay.
	BackoffBase       Duration `yaml:"backoff_base"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`

	// FollowupAttempts bounds follow-up invocations after report or
	// verification failures.
	FollowupAttempts int `yaml:"followup_attempts"`

	// VerifyTimeout bounds each verification command.
	VerifyTimeout Duration `yaml:"verify_timeout"`

	// Workers is the batch concurrency limit.
	Workers int `yaml:"workers"`
}

// Default returns the default configuration, rooted under
// ~/.cache/usertest.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".cache", "usertest")

	return &Config{
		Paths: PathsConfig{
			Root: root,
		},
		Sandbox: SandboxConfig{
			Backend: "docker",
			Network: string(sandbox.NetworkOpen),
		},
		Run: RunConfig{
			AttemptTimeout:    Duration(20 * time.Minute),
			MaxRetries:        2,
			BackoffBase:       Duration(2 * time.Second),
			BackoffMultiplier: 2,
			FollowupAttempts:  1,
			VerifyTimeout:     Duration(5 * time.Minute),
			Workers:           2,
		},
	}
}

// Load loads configuration from the file named by USERTEST_CONFIG, or
// returns the defaults when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv("USERTEST_CONFIG")
	if path == "" {
		cfg := Default()
		cfg.finalize()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, layered over the defaults.
// Unknown keys are rejected so a typo cannot silently fall back to a
// default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.finalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// finalize expands path variables and derives unset paths from Root.
func (c *Config) finalize() {
	c.expandVariables()

	if c.Paths.Runs == "" {
		c.Paths.Runs = filepath.Join(c.Paths.Root, "runs")
	}
	if c.Paths.Workspaces == "" {
		c.Paths.Workspaces = filepath.Join(c.Paths.Root, "workspaces")
	}
	if c.Paths.HistoryDB == "" {
		c.Paths.HistoryDB = filepath.Join(c.Paths.Root, "history.db")
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"USERTEST_ROOT": c.Paths.Root,
		"HOME":          os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["USERTEST_ROOT"] = c.Paths.Root // dependent paths see the expanded root

	c.Paths.Runs = expandVars(c.Paths.Runs, vars)
	c.Paths.Workspaces = expandVars(c.Paths.Workspaces, vars)
	c.Paths.Catalog = expandVars(c.Paths.Catalog, vars)
	c.Paths.HistoryDB = expandVars(c.Paths.HistoryDB, vars)
	c.Paths.PoliciesFile = expandVars(c.Paths.PoliciesFile, vars)
	c.Sandbox.ImageContextDir = expandVars(c.Sandbox.ImageContextDir, vars)
	c.Sandbox.Dockerfile = expandVars(c.Sandbox.Dockerfile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, checking
// the provided vars first and the process environment second.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}

	switch c.Sandbox.Backend {
	case "docker":
		if c.Sandbox.ImageContextDir == "" {
			errs = append(errs, fmt.Errorf("sandbox.image_context_dir is required for the docker backend"))
		}
		if c.Sandbox.ImageRepo == "" {
			errs = append(errs, fmt.Errorf("sandbox.image_repo is required for the docker backend"))
		}
	case "local":
	default:
		errs = append(errs, fmt.Errorf("sandbox.backend must be \"docker\" or \"local\", got %q", c.Sandbox.Backend))
	}

	switch sandbox.NetworkMode(c.Sandbox.Network) {
	case sandbox.NetworkOpen, sandbox.NetworkNone:
	default:
		errs = append(errs, fmt.Errorf("sandbox.network must be \"open\" or \"none\", got %q", c.Sandbox.Network))
	}

	if c.Run.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("run.max_retries must be >= 0"))
	}
	if c.Run.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("run.backoff_multiplier must be >= 1"))
	}
	if c.Run.Workers < 1 {
		errs = append(errs, fmt.Errorf("run.workers must be >= 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured data directories.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{
		c.Paths.Root,
		c.Paths.Runs,
		c.Paths.Workspaces,
	} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// SandboxSpec translates the sandbox section into a backend spec.
func (c *Config) SandboxSpec() sandbox.Spec {
	return sandbox.Spec{
		ImageContextDir: c.Sandbox.ImageContextDir,
		Dockerfile:      c.Sandbox.Dockerfile,
		ImageRepo:       c.Sandbox.ImageRepo,
		Network:         sandbox.NetworkMode(c.Sandbox.Network),
		Resources: sandbox.Resources{
			CPUs:      c.Sandbox.CPUs,
			Memory:    c.Sandbox.Memory,
			PIDsLimit: c.Sandbox.PIDsLimit,
		},
		EnvAllowlist:  c.Sandbox.EnvAllowlist,
		KeepContainer: c.Sandbox.KeepContainer,
	}
}

// SandboxBackend constructs the configured backend.
func (c *Config) SandboxBackend(logger *slog.Logger) sandbox.Backend {
	if c.Sandbox.Backend == "local" {
		return sandbox.NewLocal()
	}
	return sandbox.NewDocker(sandbox.DockerOptions{Logger: logger})
}
