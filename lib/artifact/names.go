// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import "fmt"

// Stable file names inside a run directory. Downstream tooling keys
// on these, so they are part of the run contract.
const (
	TargetRefFile        = "target_ref.json"
	EffectiveRunSpecFile = "effective_run_spec.json"
	PromptFile           = "prompt.txt"
	ReportSchemaFile     = "report.schema.json"
	AgentAttemptsFile    = "agent_attempts.json"
	NormalizedEventsFile = "normalized_events.jsonl"
	MetricsFile          = "metrics.json"
	DiffNumstatFile      = "diff_numstat.json"
	ReportFile           = "report.json"
	ReportMarkdownFile   = "report.md"
	RunMetaFile          = "run_meta.json"

	// Present only when the condition they record occurred.
	ValidationErrorsFile = "report_validation_errors.json"
	VerificationFile     = "verification.json"
	PatchFile            = "patch.diff"
	ErrorFile            = "error.json"
	SandboxDir           = "sandbox"
	DockerBuildLogFile   = "docker_build.log"
)

// RawEventsFile names the raw agent stdout capture for one attempt.
// Attempts are numbered from 1.
func RawEventsFile(attempt int) string {
	return fmt.Sprintf("raw_events.attempt%d.jsonl", attempt)
}

// AgentStderrFile names the agent stderr capture for one attempt.
func AgentStderrFile(attempt int) string {
	return fmt.Sprintf("agent_stderr.attempt%d.txt", attempt)
}

// AgentLastMessageFile names the agent's final message for one
// attempt.
func AgentLastMessageFile(attempt int) string {
	return fmt.Sprintf("agent_last_message.attempt%d.txt", attempt)
}
