// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool is the SQLite connection pool behind the run
// history index.
//
// It wraps zombiezen.com/go/sqlite with the pragmas the index needs:
// WAL journaling so history queries never block a run being recorded,
// NORMAL synchronous (the run directories on disk are the source of
// truth, the index is a convenience), and a busy timeout to absorb
// write contention from concurrent batch workers.
//
// The pool is built on zombiezen's sqlitex.Pool. Callers [Pool.Take] a
// connection, perform work, and [Pool.Put] it back; connections are
// NOT safe for concurrent use. The pool size is fixed at two — one
// writer, one reader — because the index is a single small table with
// a single writing code path.
//
// The package is intentionally thin: it applies pragmas and exposes
// the underlying zombiezen types directly. The history store writes
// plain SQL through sqlitex.Execute; there is no query builder and no
// ORM layer between it and SQLite.
package sqlitepool
