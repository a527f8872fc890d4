// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/usertest/lib/runner"
)

func cmdRun(args []string) error {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	configPath := flags.String("config", "", "config file (defaults to $USERTEST_CONFIG)")
	catalogPath := flags.String("catalog", "", "persona/mission catalog directory")
	agentID := flags.String("agent", "claude", "agent id (claude, codex, gemini)")
	policyID := flags.String("policy", "safe", "permission policy (safe, inspect, write)")
	persona := flags.String("persona", "", "persona id from the catalog")
	mission := flags.String("mission", "", "mission id from the catalog")
	gitRef := flags.String("ref", "", "git ref to check out after cloning")
	seed := flags.Int("seed", 0, "seed distinguishing repeated runs")
	model := flags.String("model", "", "model override for the agent CLI")
	attemptTimeout := flags.Duration("attempt-timeout", 0, "wall-clock budget per agent invocation")
	maxRetries := flags.Int("max-retries", 0, "retries after retryable provider-capacity failures")
	backoffBase := flags.Duration("backoff-base", 0, "base delay before the first retry")
	backoffMultiplier := flags.Float64("backoff-multiplier", 0, "backoff growth factor")
	followups := flags.Int("followups", 0, "follow-up invocations after report or verification failures")
	verify := flags.StringArray("verify", nil, "verification command run after the agent (repeatable)")
	verifyTimeout := flags.Duration("verify-timeout", 0, "budget per verification command")
	retain := flags.Bool("retain-workspace", false, "keep the workspace directory after the run")
	local := flags.Bool("local", false, "run on the host instead of a container sandbox")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: usertest run [flags] <target>")
	}
	if *persona == "" || *mission == "" {
		return fmt.Errorf("--persona and --mission are required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *local {
		cfg.Sandbox.Backend = "local"
	}

	logger := newLogger()
	engine, store, err := buildRunner(cfg, *catalogPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	request := runner.Request{
		Target:          flags.Arg(0),
		GitRef:          *gitRef,
		Agent:           *agentID,
		Policy:          *policyID,
		Persona:         *persona,
		Mission:         *mission,
		Seed:            *seed,
		Model:           *model,
		VerifyCommands:  *verify,
		RetainWorkspace: *retain,
	}
	configRequest(&request, cfg)
	// Explicit flags win over config defaults, including zero values.
	if flags.Changed("attempt-timeout") {
		request.AttemptTimeout = *attemptTimeout
	}
	if flags.Changed("max-retries") {
		request.MaxRetries = *maxRetries
	}
	if flags.Changed("backoff-base") {
		request.BackoffBase = *backoffBase
	}
	if flags.Changed("backoff-multiplier") {
		request.BackoffMultiplier = *backoffMultiplier
	}
	if flags.Changed("followups") {
		request.FollowupAttempts = *followups
	}
	if flags.Changed("verify-timeout") {
		request.VerifyTimeout = *verifyTimeout
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := engine.Run(ctx, request)
	if err != nil {
		return err
	}
	printResult(result)
	if result.Status != runner.StatusSuccess {
		return fmt.Errorf("run finished %s (%s)", result.Status, result.Category)
	}
	return nil
}
