// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/usertest/lib/history"
)

func cmdHistory(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: usertest history <list|show|archive> [flags]")
	}
	switch args[0] {
	case "list":
		return cmdHistoryList(args[1:])
	case "show":
		return cmdHistoryShow(args[1:])
	case "archive":
		return cmdHistoryArchive(args[1:])
	default:
		return fmt.Errorf("unknown history verb %q (want list, show, or archive)", args[0])
	}
}

// openHistory opens the configured history store.
func openHistory(configPath string) (*history.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return history.OpenStore(cfg.Paths.HistoryDB, newLogger())
}

func cmdHistoryList(args []string) error {
	flags := pflag.NewFlagSet("history list", pflag.ContinueOnError)
	configPath := flags.String("config", "", "config file (defaults to $USERTEST_CONFIG)")
	targetSlug := flags.String("target", "", "filter by target slug")
	agentID := flags.String("agent", "", "filter by agent id")
	status := flags.String("status", "", "filter by status (success, failed, blocked)")
	limit := flags.Int("limit", 50, "maximum rows")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	store, err := openHistory(*configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(context.Background(), history.Filter{
		TargetSlug: *targetSlug,
		Agent:      *agentID,
		Status:     *status,
		Limit:      *limit,
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "RUN\tFINISHED\tTARGET\tAGENT\tSTATUS\tCATEGORY\tATTEMPTS")
	for _, record := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			record.RunID,
			record.FinishedAt.Format("2006-01-02 15:04"),
			record.TargetSlug,
			record.Agent,
			record.Status,
			record.Category,
			record.Attempts,
		)
	}
	return writer.Flush()
}

func cmdHistoryShow(args []string) error {
	flags := pflag.NewFlagSet("history show", pflag.ContinueOnError)
	configPath := flags.String("config", "", "config file (defaults to $USERTEST_CONFIG)")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: usertest history show <run-id>")
	}

	store, err := openHistory(*configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	record, err := store.Get(context.Background(), flags.Arg(0))
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))

	if _, err := os.Stat(record.RunDir); err == nil {
		fmt.Printf("artifacts: %s\n", record.RunDir)
	} else if _, err := os.Stat(record.RunDir + ".tar.zst"); err == nil {
		fmt.Printf("artifacts: %s.tar.zst (archived)\n", record.RunDir)
	} else {
		fmt.Println("artifacts: missing")
	}
	return nil
}

func cmdHistoryArchive(args []string) error {
	flags := pflag.NewFlagSet("history archive", pflag.ContinueOnError)
	configPath := flags.String("config", "", "config file (defaults to $USERTEST_CONFIG)")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: usertest history archive <run-id>")
	}

	store, err := openHistory(*configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	record, err := store.Get(context.Background(), flags.Arg(0))
	if err != nil {
		return err
	}
	archivePath, err := history.Archive(record.RunDir)
	if err != nil {
		return err
	}
	fmt.Printf("archived %s -> %s\n", record.RunDir, archivePath)
	return nil
}
