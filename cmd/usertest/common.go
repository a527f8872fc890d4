// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/usertest/lib/catalog"
	"github.com/bureau-foundation/usertest/lib/config"
	"github.com/bureau-foundation/usertest/lib/history"
	"github.com/bureau-foundation/usertest/lib/policy"
	"github.com/bureau-foundation/usertest/lib/runner"
	"github.com/bureau-foundation/usertest/lib/workspace"
)

// loadConfig resolves the configuration: an explicit --config path
// wins, otherwise USERTEST_CONFIG, otherwise the defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// buildRunner wires a Runner and its history store from the
// configuration. The caller owns closing the returned store.
func buildRunner(cfg *config.Config, catalogPath string, logger *slog.Logger) (*runner.Runner, *history.Store, error) {
	if catalogPath == "" {
		catalogPath = cfg.Paths.Catalog
	}
	if catalogPath == "" {
		return nil, nil, fmt.Errorf("no catalog directory: set paths.catalog in the config or pass --catalog")
	}
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading catalog: %w", err)
	}

	policies, err := policy.Load(cfg.Paths.PoliciesFile)
	if err != nil {
		return nil, nil, err
	}

	if err := cfg.EnsurePaths(); err != nil {
		return nil, nil, err
	}
	store, err := history.OpenStore(cfg.Paths.HistoryDB, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening run history: %w", err)
	}

	return &runner.Runner{
		Workspaces:    workspace.NewManager(cfg.Paths.Workspaces, logger),
		Backend:       cfg.SandboxBackend(logger),
		Policies:      policies,
		Catalog:       cat,
		Logger:        logger,
		RunsRoot:      cfg.Paths.Runs,
		SandboxSpec:   cfg.SandboxSpec(),
		AgentBinaries: cfg.Agents.Binaries,
		History:       store,
	}, store, nil
}

// configRequest fills a request's tunables from the config's run
// defaults. Flag overrides are applied by the caller afterwards.
func configRequest(request *runner.Request, cfg *config.Config) {
	if request.Model == "" {
		request.Model = cfg.Agents.Model
	}
	if request.AttemptTimeout == 0 {
		request.AttemptTimeout = cfg.Run.AttemptTimeout.Value()
	}
	if request.MaxRetries == 0 {
		request.MaxRetries = cfg.Run.MaxRetries
	}
	if request.BackoffBase == 0 {
		request.BackoffBase = cfg.Run.BackoffBase.Value()
	}
	if request.BackoffMultiplier == 0 {
		request.BackoffMultiplier = cfg.Run.BackoffMultiplier
	}
	if request.FollowupAttempts == 0 {
		request.FollowupAttempts = cfg.Run.FollowupAttempts
	}
	if request.VerifyTimeout == 0 {
		request.VerifyTimeout = cfg.Run.VerifyTimeout.Value()
	}
}

// printResult writes a run's outcome to stdout.
func printResult(result *runner.Result) {
	fmt.Printf("run %s: %s\n", result.RunID, result.Status)
	if result.Category != "" {
		fmt.Printf("  category: %s\n", result.Category)
	}
	if result.Error != "" {
		fmt.Printf("  error:    %s\n", result.Error)
	}
	fmt.Printf("  attempts: %d\n", len(result.Attempts))
	fmt.Printf("  artifacts: %s\n", result.RunDir)
}
