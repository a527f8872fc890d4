// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/usertest/lib/agent"
	"github.com/bureau-foundation/usertest/lib/artifact"
	"github.com/bureau-foundation/usertest/lib/catalog"
	"github.com/bureau-foundation/usertest/lib/clock"
	"github.com/bureau-foundation/usertest/lib/history"
	"github.com/bureau-foundation/usertest/lib/policy"
	"github.com/bureau-foundation/usertest/lib/runerr"
	"github.com/bureau-foundation/usertest/lib/sandbox"
	"github.com/bureau-foundation/usertest/lib/testutil"
	"github.com/bureau-foundation/usertest/lib/workspace"
)

// stubProcess exits immediately with the scripted error.
type stubProcess struct {
	exitErr error
}

func (p stubProcess) Wait() error            { return p.exitErr }
func (p stubProcess) Stdin() io.Writer       { return io.Discard }
func (p stubProcess) Signal(os.Signal) error { return nil }

// stubAttempt scripts one agent invocation.
type stubAttempt struct {
	lines        []string
	stderr       string
	exitErr      error
	finalMessage string

	// createFile, when set, is written into the workspace before the
	// attempt "runs", simulating an agent edit.
	createFile string
}

// stubDriver plays back a scripted sequence of attempts and records
// the prompt each one received.
type stubDriver struct {
	mu       sync.Mutex
	attempts []stubAttempt
	started  int
	prompts  []string
}

func (d *stubDriver) Name() string { return "claude" }

func (d *stubDriver) Start(ctx context.Context, config agent.InvokeConfig) (agent.Process, io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started >= len(d.attempts) {
		return nil, nil, fmt.Errorf("unscripted attempt %d", d.started+1)
	}
	attempt := d.attempts[d.started]
	d.started++
	d.prompts = append(d.prompts, config.Prompt)

	if attempt.stderr != "" && config.Stderr != nil {
		io.WriteString(config.Stderr, attempt.stderr)
	}
	if attempt.createFile != "" {
		path := filepath.Join(config.WorkingDirectory, attempt.createFile)
		if err := os.WriteFile(path, []byte("created by agent\n"), 0o644); err != nil {
			return nil, nil, err
		}
	}

	stdout := strings.Join(attempt.lines, "\n")
	if stdout != "" {
		stdout += "\n"
	}
	return stubProcess{exitErr: attempt.exitErr}, io.NopCloser(strings.NewReader(stdout)), nil
}

func (d *stubDriver) ParseOutput(ctx context.Context, stdout io.Reader, events chan<- agent.RawEvent) error {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		events <- agent.RawEvent{
			Timestamp: time.Now(),
			Line:      append([]byte(nil), scanner.Bytes()...),
		}
	}
	return scanner.Err()
}

func (d *stubDriver) Interrupt(agent.Process) error { return nil }

func (d *stubDriver) LastMessage(config agent.InvokeConfig, rawEvents []byte) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[d.started-1].finalMessage
}

const validReport = `{"status":"done","summary":"surveyed the project layout"}`

func assistantLine(text string) string {
	return fmt.Sprintf(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":%q}]}}`, text)
}

func successAttempt() stubAttempt {
	return stubAttempt{
		lines:        []string{assistantLine("Surveyed the tree.")},
		finalMessage: validReport,
	}
}

func capacityAttempt() stubAttempt {
	return stubAttempt{
		stderr:  "server returned 429 Too Many Requests\n",
		exitErr: errors.New("exit status 1"),
	}
}

func writeTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"personas/explorer.persona.md": `---
id: explorer
name: Codebase Explorer
---
You explore unfamiliar codebases and report what you find.`,
		"missions/survey.mission.md": `---
id: survey
name: Library Survey
prompt_template: standard
report_schema: survey
---
Survey the project and report its layout.`,
		"missions/patch.mission.md": `---
id: patch
name: Apply Fix
prompt_template: standard
report_schema: survey
requires_edits: true
requires_shell: true
---
Fix the reported defect and prove it with the checks.`,
		"templates/standard.tmpl.md": `# ${persona_name}
${persona_md}

# ${mission_name}
${mission_md}

Permissions:
${policy_json}

Target:
${target_json}

Report schema:
${report_schema_json}
`,
		"schemas/survey.schema.json": `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["status", "summary"],
  "properties": {
    "status": {"type": "string"},
    "summary": {"type": "string"}
  }
}`,
	})
	loaded, err := catalog.Load(root)
	if err != nil {
		t.Fatalf("loading catalog fixture: %v", err)
	}
	return loaded
}

func testTarget(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"README.md":  "# sample project\n",
		"src/app.py": "def main():\n    return 0\n",
	})
	return dir
}

// newTestRunner builds a Runner over a local sandbox, a fixture
// catalog, and the embedded policy table, with all external probes
// stubbed out. Tests adjust fields afterwards as needed.
func newTestRunner(t *testing.T, driver agent.Driver) *Runner {
	t.Helper()
	policies, err := policy.Load("")
	if err != nil {
		t.Fatalf("loading policies: %v", err)
	}
	return &Runner{
		Workspaces: workspace.NewManager(filepath.Join(t.TempDir(), "workspaces"), nil),
		Backend:    sandbox.NewLocal(),
		Policies:   policies,
		Catalog:    writeTestCatalog(t),
		RunsRoot:   filepath.Join(t.TempDir(), "runs"),
		driverFor: func(agentID, binary string) (agent.Driver, error) {
			return driver, nil
		},
		runCommand: func(ctx context.Context, argv []string, dir string) (string, error) {
			return "", nil
		},
	}
}

func baseRequest(target string) Request {
	return Request{
		Target:  target,
		Agent:   "claude",
		Policy:  "safe",
		Persona: "explorer",
		Mission: "survey",
		Seed:    1,
	}
}

func requireFile(t *testing.T, result *Result, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(result.RunDir, name))
	if err != nil {
		t.Fatalf("expected artifact %s: %v", name, err)
	}
	return raw
}

func requireAbsent(t *testing.T, result *Result, name string) {
	t.Helper()
	if _, err := os.Stat(filepath.Join(result.RunDir, name)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("artifact %s should not exist (err=%v)", name, err)
	}
}

// requireNoWorkspaces asserts every workspace the run acquired was
// released, whichever stage the run died at.
func requireNoWorkspaces(t *testing.T, r *Runner) {
	t.Helper()
	entries, err := os.ReadDir(r.Workspaces.Root())
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		t.Fatalf("reading workspace root: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		t.Errorf("workspaces left behind: %v", names)
	}
}

func TestRunSuccess(t *testing.T) {
	driver := &stubDriver{attempts: []stubAttempt{successAttempt()}}
	runner := newTestRunner(t, driver)

	store, err := history.OpenStore(filepath.Join(t.TempDir(), "history.db"), nil)
	if err != nil {
		t.Fatalf("opening history store: %v", err)
	}
	defer store.Close()
	runner.History = store

	result, err := runner.Run(context.Background(), baseRequest(testTarget(t)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusSuccess || result.Err != nil {
		t.Fatalf("status = %q, err = %v, want success", result.Status, result.Err)
	}
	if len(result.Attempts) != 1 || result.Attempts[0].Reason != ReasonInitial {
		t.Fatalf("attempts = %+v, want one initial attempt", result.Attempts)
	}

	for _, name := range []string{
		artifact.TargetRefFile,
		artifact.EffectiveRunSpecFile,
		artifact.PromptFile,
		artifact.ReportSchemaFile,
		artifact.RawEventsFile(1),
		artifact.AgentStderrFile(1),
		artifact.DiffNumstatFile,
		artifact.NormalizedEventsFile,
		artifact.MetricsFile,
		artifact.ReportFile,
		artifact.ReportMarkdownFile,
		artifact.AgentAttemptsFile,
		artifact.RunMetaFile,
	} {
		requireFile(t, result, name)
	}
	// No edits were made and nothing failed.
	requireAbsent(t, result, artifact.PatchFile)
	requireAbsent(t, result, artifact.ErrorFile)
	requireAbsent(t, result, artifact.ValidationErrorsFile)

	report := string(requireFile(t, result, artifact.ReportFile))
	if report != validReport+"\n" {
		t.Errorf("report.json = %q", report)
	}

	prompt := string(requireFile(t, result, artifact.PromptFile))
	for _, want := range []string{
		"Codebase Explorer",
		"Survey the project and report its layout.",
		`"edits_allowed": false`,
		`"required": ["status", "summary"]`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	records, err := store.List(context.Background(), history.Filter{})
	if err != nil {
		t.Fatalf("listing history: %v", err)
	}
	if len(records) != 1 || records[0].RunID != result.RunID || records[0].Status != StatusSuccess {
		t.Errorf("history records = %+v", records)
	}
	requireNoWorkspaces(t, runner)
}

func TestRunRetriesProviderCapacity(t *testing.T) {
	driver := &stubDriver{attempts: []stubAttempt{
		capacityAttempt(),
		capacityAttempt(),
		successAttempt(),
	}}
	runner := newTestRunner(t, driver)
	clk := clock.Fake(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))
	runner.Clock = clk

	request := baseRequest(testTarget(t))
	request.MaxRetries = 2
	request.BackoffBase = 100 * time.Millisecond
	request.BackoffMultiplier = 2

	done := make(chan *Result, 1)
	go func() {
		result, err := runner.Run(context.Background(), request)
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		done <- result
	}()

	clk.WaitForTimers(1)
	clk.Advance(100 * time.Millisecond)
	clk.WaitForTimers(1)
	clk.Advance(200 * time.Millisecond)
	result := <-done

	if result == nil || result.Status != StatusSuccess {
		t.Fatalf("result = %+v, want success after retries", result)
	}
	reasons := make([]AttemptReason, 0, len(result.Attempts))
	for _, attempt := range result.Attempts {
		reasons = append(reasons, attempt.Reason)
	}
	want := []AttemptReason{ReasonInitial, ReasonRateLimitRetry, ReasonRateLimitRetry}
	if len(reasons) != len(want) {
		t.Fatalf("reasons = %v, want %v", reasons, want)
	}
	for i := range want {
		if reasons[i] != want[i] {
			t.Errorf("reasons[%d] = %q, want %q", i, reasons[i], want[i])
		}
	}
	for i, attempt := range result.Attempts {
		if attempt.Index != i+1 {
			t.Errorf("attempt index = %d, want %d", attempt.Index, i+1)
		}
	}
}

func TestRunCapacityRetriesExhausted(t *testing.T) {
	driver := &stubDriver{attempts: []stubAttempt{
		capacityAttempt(),
		capacityAttempt(),
	}}
	runner := newTestRunner(t, driver)
	clk := clock.Fake(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))
	runner.Clock = clk

	request := baseRequest(testTarget(t))
	request.MaxRetries = 1
	request.BackoffBase = time.Second
	request.BackoffMultiplier = 2

	done := make(chan *Result, 1)
	go func() {
		result, err := runner.Run(context.Background(), request)
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		done <- result
	}()

	clk.WaitForTimers(1)
	clk.Advance(time.Second)
	result := <-done

	if result == nil || result.Status != StatusFailed {
		t.Fatalf("result = %+v, want failed", result)
	}
	if result.Category != runerr.CategoryProviderCapacityExhausted {
		t.Errorf("category = %q", result.Category)
	}
	if len(result.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2 (one retry)", len(result.Attempts))
	}

	errorDoc := string(requireFile(t, result, artifact.ErrorFile))
	if !strings.Contains(errorDoc, string(runerr.CategoryProviderCapacityExhausted)) {
		t.Errorf("error.json = %s", errorDoc)
	}
	// The derived artifacts are written even though no attempt got
	// anywhere.
	requireFile(t, result, artifact.NormalizedEventsFile)
	requireFile(t, result, artifact.MetricsFile)
	requireFile(t, result, artifact.DiffNumstatFile)
	requireNoWorkspaces(t, runner)
}

func TestRunReportFollowupRecovers(t *testing.T) {
	driver := &stubDriver{attempts: []stubAttempt{
		{finalMessage: "I could not produce the report, sorry."},
		successAttempt(),
	}}
	runner := newTestRunner(t, driver)

	request := baseRequest(testTarget(t))
	request.FollowupAttempts = 1

	result, err := runner.Run(context.Background(), request)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %q (%v), want success", result.Status, result.Err)
	}
	if len(result.Attempts) != 2 || result.Attempts[1].Reason != ReasonFollowupReport {
		t.Fatalf("attempts = %+v", result.Attempts)
	}

	if len(driver.prompts) != 2 {
		t.Fatalf("prompts = %d, want 2", len(driver.prompts))
	}
	followup := driver.prompts[1]
	for _, want := range []string{
		"Follow-up required.",
		"did not validate against the report schema",
		"I could not produce the report, sorry.",
		"Return ONLY one JSON object",
	} {
		if !strings.Contains(followup, want) {
			t.Errorf("follow-up prompt missing %q", want)
		}
	}

	// The recovered run carries no validation errors.
	requireAbsent(t, result, artifact.ValidationErrorsFile)
}

func TestRunSchemaValidationFailure(t *testing.T) {
	driver := &stubDriver{attempts: []stubAttempt{
		{finalMessage: `{"status": 123}`},
	}}
	runner := newTestRunner(t, driver)

	result, err := runner.Run(context.Background(), baseRequest(testTarget(t)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed || result.Category != runerr.CategorySchemaValidation {
		t.Fatalf("status = %q category = %q", result.Status, result.Category)
	}
	if len(result.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1 (no follow-up budget)", len(result.Attempts))
	}

	violations := string(requireFile(t, result, artifact.ValidationErrorsFile))
	if !strings.Contains(violations, "$.status") {
		t.Errorf("validation errors = %s, want a $.status violation", violations)
	}
	// No report files for an invalid report, but the event log and
	// metrics are still there to inspect.
	requireAbsent(t, result, artifact.ReportFile)
	requireAbsent(t, result, artifact.ReportMarkdownFile)
	requireFile(t, result, artifact.NormalizedEventsFile)
	requireFile(t, result, artifact.MetricsFile)
	requireFile(t, result, artifact.DiffNumstatFile)
	requireNoWorkspaces(t, runner)
}

func TestRunVerificationFollowupRecovers(t *testing.T) {
	second := successAttempt()
	second.createFile = "proof.txt"
	driver := &stubDriver{attempts: []stubAttempt{
		successAttempt(),
		second,
	}}
	runner := newTestRunner(t, driver)

	request := baseRequest(testTarget(t))
	request.FollowupAttempts = 1
	request.VerifyCommands = []string{"test -f proof.txt"}

	result, err := runner.Run(context.Background(), request)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %q (%v), want success", result.Status, result.Err)
	}
	if len(result.Attempts) != 2 || result.Attempts[1].Reason != ReasonFollowupVerify {
		t.Fatalf("attempts = %+v", result.Attempts)
	}
	if !strings.Contains(driver.prompts[1], "verification checks failed") {
		t.Errorf("follow-up prompt = %q", driver.prompts[1])
	}

	verification := string(requireFile(t, result, artifact.VerificationFile))
	if !strings.Contains(verification, `"passed": true`) {
		t.Errorf("verification.json = %s", verification)
	}
	// The agent's created file shows up in the diff artifacts.
	requireFile(t, result, artifact.PatchFile)
	numstat := string(requireFile(t, result, artifact.DiffNumstatFile))
	if !strings.Contains(numstat, "proof.txt") {
		t.Errorf("diff_numstat.json = %s", numstat)
	}
}

func TestRunVerificationBudgetExhausted(t *testing.T) {
	second := successAttempt()
	second.createFile = "notes.txt" // edits land, but not the one verification wants
	driver := &stubDriver{attempts: []stubAttempt{
		successAttempt(),
		second,
	}}
	runner := newTestRunner(t, driver)

	request := baseRequest(testTarget(t))
	request.FollowupAttempts = 1
	request.VerifyCommands = []string{"test -f never-created.txt"}

	result, err := runner.Run(context.Background(), request)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed || result.Category != runerr.CategoryVerificationFailed {
		t.Fatalf("status = %q category = %q", result.Status, result.Category)
	}
	if len(result.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(result.Attempts))
	}

	verification := string(requireFile(t, result, artifact.VerificationFile))
	if !strings.Contains(verification, `"passed": false`) {
		t.Errorf("verification.json = %s", verification)
	}

	// The failed run keeps the evidence of what the agent changed:
	// the workspace is diffed before it is released.
	numstat := string(requireFile(t, result, artifact.DiffNumstatFile))
	if !strings.Contains(numstat, "notes.txt") {
		t.Errorf("diff_numstat.json = %s, want notes.txt entry", numstat)
	}
	requireFile(t, result, artifact.PatchFile)
	requireFile(t, result, artifact.NormalizedEventsFile)
	requireFile(t, result, artifact.MetricsFile)
	// Its report was valid, so the report files survive too.
	requireFile(t, result, artifact.ReportFile)
	requireFile(t, result, artifact.ReportMarkdownFile)
	requireNoWorkspaces(t, runner)
}

func TestRunPolicyBlocked(t *testing.T) {
	driver := &stubDriver{}
	runner := newTestRunner(t, driver)

	request := baseRequest(testTarget(t))
	request.Mission = "patch" // requires edits; "safe" forbids them

	result, err := runner.Run(context.Background(), request)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusBlocked || result.Category != runerr.CategoryPolicyBlock {
		t.Fatalf("status = %q category = %q, want blocked/policy_block", result.Status, result.Category)
	}
	if len(result.Attempts) != 0 {
		t.Errorf("attempts = %d, want 0", len(result.Attempts))
	}
	requireFile(t, result, artifact.ErrorFile)
	// No workspace was ever acquired, so there is nothing to diff,
	// but the (empty) event log and metrics are still written.
	requireFile(t, result, artifact.NormalizedEventsFile)
	requireFile(t, result, artifact.MetricsFile)
	requireAbsent(t, result, artifact.DiffNumstatFile)
	requireNoWorkspaces(t, runner)
}

func TestRunPreflightMissingTool(t *testing.T) {
	driver := &stubDriver{}
	runner := newTestRunner(t, driver)
	runner.runCommand = func(ctx context.Context, argv []string, dir string) (string, error) {
		if argv[0] == "git" {
			return "sh: git: command not found", errors.New("exit status 127")
		}
		return "", nil
	}

	result, err := runner.Run(context.Background(), baseRequest(testTarget(t)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed || result.Category != runerr.CategoryMissingTool {
		t.Fatalf("status = %q category = %q", result.Status, result.Category)
	}
	if len(result.Attempts) != 0 {
		t.Errorf("attempts = %d, want 0", len(result.Attempts))
	}
	requireFile(t, result, artifact.DiffNumstatFile)
	requireFile(t, result, artifact.NormalizedEventsFile)
	requireFile(t, result, artifact.MetricsFile)
	requireNoWorkspaces(t, runner)
}

func TestRunCanceled(t *testing.T) {
	driver := &stubDriver{}
	runner := newTestRunner(t, driver)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := runner.Run(ctx, baseRequest(testTarget(t)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed || result.Category != runerr.CategoryCanceled {
		t.Fatalf("status = %q category = %q", result.Status, result.Category)
	}
	// Terminal artifacts are still written.
	requireFile(t, result, artifact.RunMetaFile)
	requireFile(t, result, artifact.NormalizedEventsFile)
	requireFile(t, result, artifact.MetricsFile)
	requireNoWorkspaces(t, runner)
}

func TestRunAcquireFailure(t *testing.T) {
	driver := &stubDriver{}
	runner := newTestRunner(t, driver)

	request := baseRequest(filepath.Join(t.TempDir(), "does-not-exist"))

	result, err := runner.Run(context.Background(), request)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed || result.Category != runerr.CategoryTargetAcquire {
		t.Fatalf("status = %q category = %q", result.Status, result.Category)
	}
	if len(result.Attempts) != 0 {
		t.Errorf("attempts = %d, want 0", len(result.Attempts))
	}
	requireFile(t, result, artifact.ErrorFile)
	requireNoWorkspaces(t, runner)
}

func TestRunBatch(t *testing.T) {
	runner := newTestRunner(t, nil)
	runner.driverFor = func(agentID, binary string) (agent.Driver, error) {
		return &stubDriver{attempts: []stubAttempt{successAttempt()}}, nil
	}

	target := testTarget(t)
	first := baseRequest(target)
	second := baseRequest(target)
	second.Seed = 2

	results, err := runner.RunBatch(context.Background(), []Request{first, second}, 2)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for i, result := range results {
		if result == nil || result.Status != StatusSuccess {
			t.Errorf("results[%d] = %+v, want success", i, result)
		}
	}
	if results[0].RunDir == results[1].RunDir {
		t.Errorf("both runs share run dir %s", results[0].RunDir)
	}
	// Results come back in request order: seed is part of the path.
	if filepath.Base(results[0].RunDir) != "1" || filepath.Base(results[1].RunDir) != "2" {
		t.Errorf("run dirs out of order: %s, %s", results[0].RunDir, results[1].RunDir)
	}
}

func TestTargetSlug(t *testing.T) {
	t.Parallel()

	cases := []struct {
		target string
		want   string
	}{
		{"/home/user/My Project", "my-project"},
		{"https://github.com/acme/widget.git", "widget"},
		{"git@github.com:acme/widget.git", "widget"},
		{"pip:requests==2.31", "requests-2.31"},
		{"pip:Flask", "flask"},
		{"", "target"},
	}
	for _, c := range cases {
		if got := targetSlug(c.target); got != c.want {
			t.Errorf("targetSlug(%q) = %q, want %q", c.target, got, c.want)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		base       time.Duration
		multiplier float64
		i          int
		want       time.Duration
	}{
		{time.Second, 2, 0, time.Second},
		{time.Second, 2, 3, 8 * time.Second},
		{time.Second, 2, 10, maxBackoffDelay},
		{90 * time.Second, 2, 0, maxBackoffDelay},
		{0, 0, 1, 2 * time.Second}, // defaults: 1s base, 2x multiplier
	}
	for _, c := range cases {
		if got := backoffDelay(c.base, c.multiplier, c.i); got != c.want {
			t.Errorf("backoffDelay(%v, %v, %d) = %v, want %v", c.base, c.multiplier, c.i, got, c.want)
		}
	}
}
