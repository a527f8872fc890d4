// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package report turns a run's normalized event stream and the
// agent's final message into the run's reporting artifacts: metrics
// computed from events, the schema-validated report object, and the
// rendered report.md. Everything here is a pure function of its
// inputs.
package report
