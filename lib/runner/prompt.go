// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bureau-foundation/usertest/lib/artifact"
	"github.com/bureau-foundation/usertest/lib/catalog"
	"github.com/bureau-foundation/usertest/lib/runerr"
)

// buildPrompt renders the mission's prompt template with the
// resolved persona/mission bodies and run context, and snapshots the
// result to prompt.txt.
func (run *activeRun) buildPrompt(ctx context.Context) error {
	template, err := run.runner.Catalog.Template(run.mission.PromptTemplate)
	if err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}

	policyJSON, err := json.MarshalIndent(run.permissions, "", "  ")
	if err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}
	targetJSON, err := json.MarshalIndent(run.workspace.Target, "", "  ")
	if err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}

	prompt, err := catalog.RenderTemplate(template, map[string]string{
		"persona_name":       run.persona.Name,
		"persona_md":         run.persona.Body,
		"mission_name":       run.mission.Name,
		"mission_md":         run.mission.Body,
		"policy_json":        string(policyJSON),
		"target_json":        string(targetJSON),
		"report_schema_json": string(run.schemaRaw),
	})
	if err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}

	run.basePrompt = prompt
	if err := run.dir.WriteText(artifact.PromptFile, prompt); err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}
	return nil
}

// reportFollowupPrompt extends the base prompt with the previous
// attempt's validation failure so the agent can correct its report.
func (run *activeRun) reportFollowupPrompt(followup int) string {
	var errorBlock strings.Builder
	violations := run.reports.validationErrors
	if len(violations) > 20 {
		violations = violations[:20]
	}
	for _, line := range violations {
		fmt.Fprintf(&errorBlock, "- %s\n", line)
	}
	if errorBlock.Len() == 0 {
		errorBlock.WriteString("- (no error details)\n")
	}

	return fmt.Sprintf(`%s

Follow-up required.
This is follow-up attempt #%d because your previous response did not validate against the report schema.

Validation errors:
%s
Previous assistant output:
%s

Return ONLY one JSON object that validates against this schema.
Do not include markdown fences, prose, or extra keys.

Schema:
%s
`, run.basePrompt, followup, errorBlock.String(), priorMessageBlock(run.reports.lastMessage, 4000), run.schemaRaw)
}

// verificationFollowupPrompt extends the base prompt with the failed
// verification command results.
func (run *activeRun) verificationFollowupPrompt(followup int) string {
	var commands strings.Builder
	if run.verification != nil {
		for i, command := range run.verification.Commands {
			fmt.Fprintf(&commands, "%d) %s\n   exit_code=%d\n", i+1, command.Command, command.ExitCode)
			if command.TimedOut {
				commands.WriteString("   timed_out=true\n")
			}
			if tail := strings.TrimSpace(command.StdoutTail); tail != "" {
				fmt.Fprintf(&commands, "   stdout_tail:\n```\n%s\n```\n", tail)
			}
			if tail := strings.TrimSpace(command.StderrTail); tail != "" {
				fmt.Fprintf(&commands, "   stderr_tail:\n```\n%s\n```\n", tail)
			}
		}
	}
	block := strings.TrimSpace(commands.String())
	if block == "" {
		block = "(no verification command details captured)"
	}

	return fmt.Sprintf(`%s

Follow-up required.
This is follow-up attempt #%d because the required verification checks failed.

Verification results:
%s

Previous assistant output:
%s

Fix the issues so the verification checks pass, then return ONLY one JSON object that validates against this schema.
Do not include markdown fences, prose, or extra keys.

Schema:
%s
`, run.basePrompt, followup, block, priorMessageBlock(run.reports.lastMessage, 20000), run.schemaRaw)
}

func priorMessageBlock(message string, limit int) string {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "(no prior message captured)"
	} else if len(message) > limit {
		message = message[:limit] + "\n...[truncated]"
	}
	return "```\n" + message + "\n```"
}
