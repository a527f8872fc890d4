// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "runs.sqlite"), nil)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(runID, target, agent, status string, finished time.Time) Record {
	return Record{
		RunID:      runID,
		TargetSlug: target,
		TargetRef:  "https://example.com/" + target + ".git",
		Agent:      agent,
		Policy:     "safe",
		Mission:    "explore",
		Status:     status,
		Attempts:   1,
		StartedAt:  finished.Add(-5 * time.Minute),
		FinishedAt: finished,
		RunDir:     "/runs/" + target + "/" + runID,
	}
}

func TestStoreInsertAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	finished := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	record := testRecord("run-1", "widgets", "claude", "success", finished)
	record.Category = ""
	if err := store.Insert(ctx, record); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TargetSlug != "widgets" || got.Agent != "claude" || got.Status != "success" {
		t.Errorf("record fields lost: %+v", got)
	}
	if !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}
	if !got.StartedAt.Equal(finished.Add(-5 * time.Minute)) {
		t.Errorf("StartedAt = %v", got.StartedAt)
	}

	if _, err := store.Get(ctx, "missing"); err == nil {
		t.Error("Get of unknown run succeeded")
	}
}

func TestStoreInsertReplacesSameRunID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	finished := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	record := testRecord("run-1", "widgets", "claude", "failed", finished)
	record.Category = "agent_timeout"
	if err := store.Insert(ctx, record); err != nil {
		t.Fatal(err)
	}
	record.Status = "success"
	record.Category = ""
	record.Attempts = 2
	if err := store.Insert(ctx, record); err != nil {
		t.Fatal(err)
	}

	records, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Status != "success" || records[0].Attempts != 2 {
		t.Errorf("replacement lost: %+v", records[0])
	}
}

func TestStoreListFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	inserts := []Record{
		testRecord("run-1", "widgets", "claude", "success", base),
		testRecord("run-2", "widgets", "codex", "failed", base.Add(time.Hour)),
		testRecord("run-3", "gadgets", "claude", "success", base.Add(2*time.Hour)),
	}
	for _, record := range inserts {
		if err := store.Insert(ctx, record); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].RunID != "run-3" || all[2].RunID != "run-1" {
		t.Errorf("list not ordered newest-first: %+v", all)
	}

	widgets, err := store.List(ctx, Filter{TargetSlug: "widgets"})
	if err != nil {
		t.Fatal(err)
	}
	if len(widgets) != 2 {
		t.Errorf("target filter returned %d records", len(widgets))
	}

	claude, err := store.List(ctx, Filter{Agent: "claude", Status: "success"})
	if err != nil {
		t.Fatal(err)
	}
	if len(claude) != 2 {
		t.Errorf("agent+status filter returned %d records", len(claude))
	}

	limited, err := store.List(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].RunID != "run-3" {
		t.Errorf("limit filter wrong: %+v", limited)
	}
}
