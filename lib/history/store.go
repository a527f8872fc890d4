// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/usertest/lib/sqlitepool"
)

// Record is one finished run as indexed in runs.sqlite. The run
// directory remains the source of truth; the index exists so that
// `history list` does not have to walk and parse every run directory.
type Record struct {
	RunID      string    `json:"run_id"`
	TargetSlug string    `json:"target_slug"`
	TargetRef  string    `json:"target_ref"`
	Agent      string    `json:"agent"`
	Policy     string    `json:"policy"`
	Mission    string    `json:"mission"`
	Status     string    `json:"status"`
	Category   string    `json:"category,omitempty"`
	Attempts   int       `json:"attempts"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	RunDir     string    `json:"run_dir"`
}

// Filter narrows List results. Zero-value fields match everything.
type Filter struct {
	TargetSlug string
	Agent      string
	Status     string
	Limit      int
}

// Store is the run history index.
type Store struct {
	pool *sqlitepool.Pool
}

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		target_slug TEXT NOT NULL,
		target_ref  TEXT NOT NULL,
		agent       TEXT NOT NULL,
		policy      TEXT NOT NULL,
		mission     TEXT NOT NULL,
		status      TEXT NOT NULL,
		category    TEXT NOT NULL DEFAULT '',
		attempts    INTEGER NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		run_dir     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS runs_target ON runs (target_slug, finished_at);
	CREATE INDEX IF NOT EXISTS runs_agent ON runs (agent, finished_at);
`

// OpenStore opens (creating if needed) the history database. The
// caller must Close the store when done.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the store's connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Insert records one finished run. Inserting the same run ID again
// replaces the row, so a re-finalized run does not duplicate.
func (s *Store) Insert(ctx context.Context, record Record) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT OR REPLACE INTO runs
			(run_id, target_slug, target_ref, agent, policy, mission,
			 status, category, attempts, started_at, finished_at, run_dir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.RunID,
				record.TargetSlug,
				record.TargetRef,
				record.Agent,
				record.Policy,
				record.Mission,
				record.Status,
				record.Category,
				record.Attempts,
				record.StartedAt.UTC().Format(time.RFC3339),
				record.FinishedAt.UTC().Format(time.RFC3339),
				record.RunDir,
			},
		})
	if err != nil {
		return fmt.Errorf("history store: inserting run %s: %w", record.RunID, err)
	}
	return nil
}

// List returns runs matching the filter, most recently finished
// first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := `SELECT run_id, target_slug, target_ref, agent, policy, mission,
		status, category, attempts, started_at, finished_at, run_dir
		FROM runs WHERE 1=1`
	var args []any
	if filter.TargetSlug != "" {
		query += " AND target_slug = ?"
		args = append(args, filter.TargetSlug)
	}
	if filter.Agent != "" {
		query += " AND agent = ?"
		args = append(args, filter.Agent)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY finished_at DESC, run_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var records []Record
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record, err := scanRecord(stmt)
			if err != nil {
				return err
			}
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history store: listing runs: %w", err)
	}
	return records, nil
}

// Get returns the run with the given ID.
func (s *Store) Get(ctx context.Context, runID string) (Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Record{}, err
	}
	defer s.pool.Put(conn)

	var record Record
	found := false
	err = sqlitex.Execute(conn, `SELECT run_id, target_slug, target_ref, agent,
		policy, mission, status, category, attempts, started_at, finished_at, run_dir
		FROM runs WHERE run_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{runID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				record, err = scanRecord(stmt)
				found = true
				return err
			},
		})
	if err != nil {
		return Record{}, fmt.Errorf("history store: reading run %s: %w", runID, err)
	}
	if !found {
		return Record{}, fmt.Errorf("history store: run %s not found", runID)
	}
	return record, nil
}

func scanRecord(stmt *sqlite.Stmt) (Record, error) {
	startedAt, err := time.Parse(time.RFC3339, stmt.ColumnText(9))
	if err != nil {
		return Record{}, fmt.Errorf("parse started_at: %w", err)
	}
	finishedAt, err := time.Parse(time.RFC3339, stmt.ColumnText(10))
	if err != nil {
		return Record{}, fmt.Errorf("parse finished_at: %w", err)
	}
	return Record{
		RunID:      stmt.ColumnText(0),
		TargetSlug: stmt.ColumnText(1),
		TargetRef:  stmt.ColumnText(2),
		Agent:      stmt.ColumnText(3),
		Policy:     stmt.ColumnText(4),
		Mission:    stmt.ColumnText(5),
		Status:     stmt.ColumnText(6),
		Category:   stmt.ColumnText(7),
		Attempts:   stmt.ColumnInt(8),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		RunDir:     stmt.ColumnText(11),
	}, nil
}
