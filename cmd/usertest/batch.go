// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/usertest/lib/runner"
)

func cmdBatch(args []string) error {
	flags := pflag.NewFlagSet("batch", pflag.ContinueOnError)
	configPath := flags.String("config", "", "config file (defaults to $USERTEST_CONFIG)")
	catalogPath := flags.String("catalog", "", "persona/mission catalog directory")
	workers := flags.Int("workers", 0, "runs in flight at once (defaults to run.workers)")
	local := flags.Bool("local", false, "run on the host instead of a container sandbox")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: usertest batch [flags] <requests.json>")
	}

	raw, err := os.ReadFile(flags.Arg(0))
	if err != nil {
		return fmt.Errorf("reading batch file: %w", err)
	}
	var requests []runner.Request
	if err := json.Unmarshal(raw, &requests); err != nil {
		return fmt.Errorf("parsing batch file: %w", err)
	}
	if len(requests) == 0 {
		return fmt.Errorf("batch file contains no requests")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *local {
		cfg.Sandbox.Backend = "local"
	}
	if *workers == 0 {
		*workers = cfg.Run.Workers
	}
	for i := range requests {
		configRequest(&requests[i], cfg)
	}

	logger := newLogger()
	engine, store, err := buildRunner(cfg, *catalogPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, batchErr := engine.RunBatch(ctx, requests, *workers)

	failed := 0
	for i, result := range results {
		if result == nil {
			// Aborted before this run produced a result.
			fmt.Printf("run #%d (%s): not started\n", i+1, requests[i].Target)
			failed++
			continue
		}
		printResult(result)
		if result.Status != runner.StatusSuccess {
			failed++
		}
	}
	if batchErr != nil {
		return batchErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs did not succeed", failed, len(requests))
	}
	fmt.Printf("all %d runs succeeded\n", len(requests))
	return nil
}
