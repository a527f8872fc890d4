// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// usertest drives coding-agent CLIs (Claude Code, Codex, Gemini)
// against a target codebase inside a sandbox, under a named permission
// policy, and leaves behind a replayable evidence trail: raw and
// normalized event streams, diffs, metrics, and a schema-validated
// report per run.
//
// Subcommands:
//
//	run      execute one run and print its outcome
//	batch    execute a JSON file of run requests with a worker pool
//	doctor   check the environment (docker, git, agent CLIs, catalog)
//	history  list, show, and archive past runs
//	version  print the version
//
// Configuration comes from the file named by USERTEST_CONFIG or
// --config; set USERTEST_DEBUG=1 for debug logging.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/usertest/lib/process"
)

const version = "0.3.0"

func usage() {
	fmt.Fprint(os.Stderr, `usage: usertest <command> [flags]

commands:
  run <target>       execute one run against a target
  batch <file>       execute a JSON list of run requests
  doctor             check the environment
  history <verb>     inspect past runs (list, show, archive)
  version            print the version

Run "usertest <command> --help" for command flags.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "batch":
		err = cmdBatch(os.Args[2:])
	case "doctor":
		err = cmdDoctor(os.Args[2:])
	case "history":
		err = cmdHistory(os.Args[2:])
	case "version":
		fmt.Printf("usertest %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "usertest: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		process.Fatal(err)
	}
}

// newLogger builds the process logger: text on stderr, debug level
// when USERTEST_DEBUG is set.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("USERTEST_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
