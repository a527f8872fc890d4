// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/usertest/lib/catalog"
	"github.com/bureau-foundation/usertest/lib/config"
	"github.com/bureau-foundation/usertest/lib/history"
	"github.com/bureau-foundation/usertest/lib/policy"
)

const probeTimeout = 10 * time.Second

// doctorCheck is one environment check. A nil error with a non-empty
// skip reason renders as SKIP rather than PASS.
type doctorCheck struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) (detail string, skip string, err error)
}

func cmdDoctor(args []string) error {
	flags := pflag.NewFlagSet("doctor", pflag.ContinueOnError)
	configPath := flags.String("config", "", "config file (defaults to $USERTEST_CONFIG)")
	catalogPath := flags.String("catalog", "", "persona/mission catalog directory")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *catalogPath != "" {
		cfg.Paths.Catalog = *catalogPath
	}

	checks := []doctorCheck{
		{"git", probeBinary("git", "--version")},
		{"sh", probeBinary("sh", "-c", "true")},
		{"docker", checkDocker},
		{"agent: claude", checkAgent("claude")},
		{"agent: codex", checkAgent("codex")},
		{"agent: gemini", checkAgent("gemini")},
		{"policy table", checkPolicies},
		{"catalog", checkCatalog},
		{"history db", checkHistory},
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	failed := 0
	for _, check := range checks {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		detail, skip, err := check.run(ctx, cfg)
		cancel()

		switch {
		case err != nil:
			failed++
			fmt.Fprintf(writer, "FAIL\t%s\t%v\n", check.name, err)
		case skip != "":
			fmt.Fprintf(writer, "SKIP\t%s\t%s\n", check.name, skip)
		default:
			fmt.Fprintf(writer, "PASS\t%s\t%s\n", check.name, detail)
		}
	}
	writer.Flush()

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

// probeBinary builds a check that runs a command and reports its
// first output line.
func probeBinary(name string, probeArgs ...string) func(context.Context, *config.Config) (string, string, error) {
	return func(ctx context.Context, cfg *config.Config) (string, string, error) {
		return runProbe(ctx, name, probeArgs...)
	}
}

func checkDocker(ctx context.Context, cfg *config.Config) (string, string, error) {
	if cfg.Sandbox.Backend != "docker" {
		return "", "sandbox.backend is " + cfg.Sandbox.Backend, nil
	}
	return runProbe(ctx, "docker", "version", "--format", "{{.Server.Version}}")
}

func checkAgent(agentID string) func(context.Context, *config.Config) (string, string, error) {
	return func(ctx context.Context, cfg *config.Config) (string, string, error) {
		binary := cfg.Agents.Binaries[agentID]
		if binary == "" {
			binary = agentID
		}
		return runProbe(ctx, binary, "--version")
	}
}

func checkPolicies(ctx context.Context, cfg *config.Config) (string, string, error) {
	table, err := policy.Load(cfg.Paths.PoliciesFile)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("policies: %s", strings.Join(table.Names(), ", ")), "", nil
}

func checkCatalog(ctx context.Context, cfg *config.Config) (string, string, error) {
	if cfg.Paths.Catalog == "" {
		return "", "no catalog configured", nil
	}
	loaded, err := catalog.Load(cfg.Paths.Catalog)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("%d personas, %d missions", len(loaded.Personas), len(loaded.Missions)), "", nil
}

func checkHistory(ctx context.Context, cfg *config.Config) (string, string, error) {
	if err := cfg.EnsurePaths(); err != nil {
		return "", "", err
	}
	store, err := history.OpenStore(cfg.Paths.HistoryDB, nil)
	if err != nil {
		return "", "", err
	}
	store.Close()
	return cfg.Paths.HistoryDB, "", nil
}

// runProbe executes a probe command and returns its first output
// line.
func runProbe(ctx context.Context, name string, probeArgs ...string) (string, string, error) {
	output, err := exec.CommandContext(ctx, name, probeArgs...).CombinedOutput()
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", name, err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	return line, "", nil
}
