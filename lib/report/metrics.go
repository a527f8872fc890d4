// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"path"
	"sort"
	"strings"

	"github.com/bureau-foundation/usertest/lib/normalize"
)

// docExtensions marks read paths that count as documentation rather
// than code.
var docExtensions = map[string]bool{
	".md":   true,
	".rst":  true,
	".txt":  true,
	".adoc": true,
}

// Metrics summarizes one run's normalized event stream. All fields
// are deterministic functions of the events; the distinct-path slices
// are sorted.
type Metrics struct {
	EventCounts          map[string]int `json:"event_counts"`
	DistinctFilesRead    []string       `json:"distinct_files_read"`
	DistinctDocsRead     []string       `json:"distinct_docs_read"`
	DistinctFilesWritten []string       `json:"distinct_files_written"`
	CommandsExecuted     int            `json:"commands_executed"`
	CommandsFailed       int            `json:"commands_failed"`
	LinesAddedTotal      int            `json:"lines_added_total"`
	LinesRemovedTotal    int            `json:"lines_removed_total"`
	StepCount            int            `json:"step_count"`
}

// ComputeMetrics folds a normalized event stream into run metrics.
// Files referenced as arguments of executed commands count as reads:
// the agents do much of their exploration through cat/grep/sed rather
// than dedicated read tools, and dropping those would undercount.
func ComputeMetrics(events []normalize.Event) Metrics {
	counts := make(map[string]int)
	filesRead := make(map[string]bool)
	docsRead := make(map[string]bool)
	filesWritten := make(map[string]bool)

	metrics := Metrics{}

	recordRead := func(p string) {
		filesRead[p] = true
		if isDocPath(p) {
			docsRead[p] = true
		}
	}

	for _, event := range events {
		counts[event.Type]++

		switch event.Type {
		case normalize.TypeReadFile, normalize.TypeWriteFile, normalize.TypeRunCommand,
			normalize.TypeWebSearch, normalize.TypeToolCall:
			metrics.StepCount++
		}

		switch event.Type {
		case normalize.TypeReadFile:
			if p, ok := event.Data["path"].(string); ok {
				recordRead(p)
			}
		case normalize.TypeWriteFile:
			if p, ok := event.Data["path"].(string); ok {
				filesWritten[p] = true
			}
			metrics.LinesAddedTotal += positiveInt(event.Data["lines_added"])
			metrics.LinesRemovedTotal += positiveInt(event.Data["lines_removed"])
		case normalize.TypeRunCommand:
			metrics.CommandsExecuted++
			if code, ok := intValue(event.Data["exit_code"]); ok && code != 0 {
				metrics.CommandsFailed++
			}
			if command, ok := event.Data["command"].(string); ok {
				for _, p := range inferFilesFromCommand(command) {
					recordRead(p)
				}
			}
		}
	}

	metrics.EventCounts = counts
	metrics.DistinctFilesRead = sortedKeys(filesRead)
	metrics.DistinctDocsRead = sortedKeys(docsRead)
	metrics.DistinctFilesWritten = sortedKeys(filesWritten)
	return metrics
}

func isDocPath(p string) bool {
	return docExtensions[strings.ToLower(path.Ext(strings.ReplaceAll(p, "\\", "/")))]
}

// inferFilesFromCommand extracts likely file arguments from a command
// line. Flags, absolute paths, and bare words are skipped; only
// tokens that look like relative paths count.
func inferFilesFromCommand(command string) []string {
	fields := strings.Fields(command)
	if len(fields) < 2 {
		return nil
	}
	var files []string
	for _, token := range fields[1:] {
		if looksLikePath(token) {
			files = append(files, token)
		}
	}
	return files
}

func looksLikePath(token string) bool {
	if token == "" || strings.HasPrefix(token, "-") || strings.HasPrefix(token, "/") {
		return false
	}
	if strings.ContainsAny(token, `\/`) {
		return true
	}
	return strings.Contains(token, ".") && !strings.HasPrefix(token, ".")
}

func positiveInt(value any) int {
	if n, ok := intValue(value); ok && n > 0 {
		return n
	}
	return 0
}

// intValue accepts the numeric shapes that survive a JSON round trip.
func intValue(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
