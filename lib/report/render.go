// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RenderMarkdown renders a validated report object to the run's
// human-readable report.md. Two report shapes get dedicated layouts:
// persona exploration reports (persona + mission + adoption_decision)
// and task run reports (kind "task_run_v1"). Anything else falls back
// to embedding the raw JSON.
func RenderMarkdown(report map[string]any, metrics *Metrics, targetRef map[string]any) string {
	if _, hasPersona := mapField(report, "persona"); hasPersona {
		if _, hasAdoption := mapField(report, "adoption_decision"); hasAdoption {
			if _, hasMission := stringField(report, "mission"); hasMission {
				return renderPersonaReport(report, metrics, targetRef)
			}
		}
	}
	if kind, _ := stringField(report, "kind"); kind == "task_run_v1" {
		return renderTaskRunReport(report, metrics, targetRef)
	}

	var b markdownBuilder
	b.heading(1, "Report")
	b.targetSection(targetRef)
	if len(report) > 0 {
		b.jsonSection("Raw report.json", report)
	}
	b.metricsSection(metrics)
	return b.String()
}

func renderPersonaReport(report map[string]any, metrics *Metrics, targetRef map[string]any) string {
	var b markdownBuilder
	b.heading(1, "Persona exploration report")
	b.targetSection(targetRef)

	persona, _ := mapField(report, "persona")
	adoption, _ := mapField(report, "adoption_decision")

	b.heading(2, "Summary")
	if name, ok := stringField(persona, "name"); ok {
		b.bullet("Persona: " + name)
	}
	if desc, ok := stringField(persona, "description"); ok {
		b.bullet("Persona description: " + desc)
	}
	if mission, ok := stringField(report, "mission"); ok {
		b.bullet("Mission: " + mission)
	}
	if rec, ok := stringField(adoption, "recommendation"); ok {
		b.bullet("Recommendation: " + rec)
	}
	b.blank()

	minimal, _ := mapField(report, "minimal_mental_model")
	b.heading(2, "Minimal mental model")
	if summary, ok := stringField(minimal, "summary"); ok {
		b.paragraph(summary)
	}
	if entries := stringList(minimal, "entry_points"); len(entries) > 0 {
		b.heading(3, "Entry points")
		b.bulletList(entries, "")
	}

	confidence, _ := mapField(report, "confidence_signals")
	b.heading(2, "Confidence signals")
	b.heading(3, "Found")
	b.bulletList(stringList(confidence, "found"), "_None reported._")
	b.heading(3, "Missing")
	b.bulletList(stringList(confidence, "missing"), "_None reported._")

	b.heading(2, "Confusion points")
	b.bulletList(stringList(report, "confusion_points"), "_None reported._")

	b.heading(2, "Suggested changes")
	b.bulletList(stringList(report, "suggested_changes"), "_None suggested._")

	b.metricsSection(metrics)
	return b.String()
}

func renderTaskRunReport(report map[string]any, metrics *Metrics, targetRef map[string]any) string {
	var b markdownBuilder
	b.heading(1, "Task run report")
	b.targetSection(targetRef)

	b.heading(2, "Status")
	if status, ok := stringField(report, "status"); ok {
		b.bullet("Status: " + status)
	}
	if confidence, ok := report["confidence"]; ok {
		switch confidence.(type) {
		case json.Number, float64, int:
			b.bullet(fmt.Sprintf("Confidence: %v", confidence))
		}
	}
	b.blank()

	if goal, ok := stringField(report, "goal"); ok {
		b.heading(2, "Goal")
		b.paragraph(goal)
	}
	if summary, ok := stringField(report, "summary"); ok {
		b.heading(2, "Summary")
		b.paragraph(summary)
	}

	if steps, ok := report["steps"].([]any); ok && len(steps) > 0 {
		b.heading(2, "Steps")
		for _, raw := range steps {
			step, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if name, ok := stringField(step, "name"); ok {
				b.heading(3, name)
			} else {
				b.heading(3, "Step")
			}
			if outcome, ok := stringField(step, "outcome"); ok {
				b.bullet("Outcome: " + outcome)
			}
			if attempts, ok := step["attempts"].([]any); ok && len(attempts) > 0 {
				b.bullet("Attempts:")
				for _, rawAttempt := range attempts {
					attempt, ok := rawAttempt.(map[string]any)
					if !ok {
						continue
					}
					if action, ok := stringField(attempt, "action"); ok {
						b.line("  - Action: " + action)
					} else {
						b.line("  - Action: (missing)")
					}
					if result, ok := stringField(attempt, "result"); ok {
						b.line("    Result: " + result)
					}
					if evidence, ok := stringField(attempt, "evidence"); ok {
						b.line("    Evidence: " + evidence)
					}
				}
			}
			b.blank()
		}
	}

	b.heading(2, "Outputs")
	outputs, _ := report["outputs"].([]any)
	wroteOutput := false
	for _, raw := range outputs {
		output, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		label, _ := stringField(output, "label")
		if label == "" {
			label = "output"
		}
		entry := label
		if path, ok := stringField(output, "path"); ok {
			entry += " (" + path + ")"
		}
		if desc, ok := stringField(output, "description"); ok {
			entry += " - " + desc
		}
		b.bullet(entry)
		wroteOutput = true
	}
	if !wroteOutput {
		b.line("_None._")
	}
	b.blank()

	if issues, ok := report["issues"].([]any); ok && len(issues) > 0 {
		b.heading(2, "Issues")
		for _, raw := range issues {
			issue, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			severity, _ := stringField(issue, "severity")
			title, _ := stringField(issue, "title")
			if severity != "" || title != "" {
				b.bullet(strings.TrimSpace("[" + severity + "] " + title))
			} else {
				b.bullet("Issue")
			}
			if details, ok := stringField(issue, "details"); ok {
				b.line("  " + details)
			}
			if evidence, ok := stringField(issue, "evidence"); ok {
				b.line("  Evidence: " + evidence)
			}
			if fix, ok := stringField(issue, "suggested_fix"); ok {
				b.line("  Suggested fix: " + fix)
			}
		}
		b.blank()
	}

	b.heading(2, "Next actions")
	b.bulletList(stringList(report, "next_actions"), "_None._")

	b.metricsSection(metrics)
	return b.String()
}

// markdownBuilder accumulates report.md lines with blank-line
// discipline matching the renderer's output contract.
type markdownBuilder struct {
	lines []string
}

func (b *markdownBuilder) line(text string)   { b.lines = append(b.lines, text) }
func (b *markdownBuilder) blank()             { b.lines = append(b.lines, "") }
func (b *markdownBuilder) bullet(text string) { b.line("- " + text) }

func (b *markdownBuilder) heading(level int, text string) {
	b.line(strings.Repeat("#", level) + " " + text)
	b.blank()
}

func (b *markdownBuilder) paragraph(text string) {
	b.line(strings.TrimSpace(text))
	b.blank()
}

func (b *markdownBuilder) bulletList(items []string, empty string) {
	if len(items) == 0 {
		if empty != "" {
			b.line(empty)
			b.blank()
		}
		return
	}
	for _, item := range items {
		b.bullet(item)
	}
	b.blank()
}

func (b *markdownBuilder) jsonSection(title string, payload any) {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", payload))
	}
	b.heading(2, title)
	b.line("```json")
	b.line(string(encoded))
	b.line("```")
	b.blank()
}

func (b *markdownBuilder) targetSection(targetRef map[string]any) {
	if targetRef != nil {
		b.jsonSection("Target", targetRef)
	}
}

func (b *markdownBuilder) metricsSection(metrics *Metrics) {
	if metrics != nil {
		b.jsonSection("Metrics", metrics)
	}
}

func (b *markdownBuilder) String() string {
	return strings.TrimRight(strings.Join(b.lines, "\n"), "\n") + "\n"
}

func stringField(m map[string]any, key string) (string, bool) {
	value, ok := m[key].(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func mapField(m map[string]any, key string) (map[string]any, bool) {
	value, ok := m[key].(map[string]any)
	return value, ok
}

func stringList(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var items []string
	for _, entry := range raw {
		if s, ok := entry.(string); ok && strings.TrimSpace(s) != "" {
			items = append(items, strings.TrimSpace(s))
		}
	}
	return items
}
