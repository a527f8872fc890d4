// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"sort"
	"time"

	"github.com/bureau-foundation/usertest/lib/git"
)

// AppendFileWrites appends one write_file event per changed path,
// derived from the workspace diff against the pre-run commit. The
// diff is the ground truth for what the agent actually wrote,
// independent of which tool calls it claimed. Entries are emitted in
// path order.
func AppendFileWrites(events []Event, ts time.Time, entries []git.NumstatEntry) []Event {
	sorted := append([]git.NumstatEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	for _, entry := range sorted {
		events = append(events, newEvent(ts, TypeWriteFile, map[string]any{
			"path":          entry.Path,
			"lines_added":   entry.LinesAdded,
			"lines_removed": entry.LinesRemoved,
		}))
	}
	return events
}
