// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/bureau-foundation/usertest/lib/agent"
	"github.com/bureau-foundation/usertest/lib/artifact"
	"github.com/bureau-foundation/usertest/lib/catalog"
	"github.com/bureau-foundation/usertest/lib/clock"
	"github.com/bureau-foundation/usertest/lib/git"
	"github.com/bureau-foundation/usertest/lib/history"
	"github.com/bureau-foundation/usertest/lib/normalize"
	"github.com/bureau-foundation/usertest/lib/policy"
	"github.com/bureau-foundation/usertest/lib/report"
	"github.com/bureau-foundation/usertest/lib/runerr"
	"github.com/bureau-foundation/usertest/lib/sandbox"
	"github.com/bureau-foundation/usertest/lib/workspace"
)

// Request is one run's immutable input. Validated and then never
// mutated; the resolved form is snapshotted to
// effective_run_spec.json.
type Request struct {
	// Target is the raw target reference: a local directory, a git
	// URL, or a package spec ("pip:NAME[==VERSION]").
	Target string `json:"target"`

	// GitRef is an optional ref to check out after cloning.
	GitRef string `json:"git_ref,omitempty"`

	Agent   string `json:"agent"`
	Policy  string `json:"policy"`
	Persona string `json:"persona"`
	Mission string `json:"mission"`

	// Seed distinguishes repeated runs of the same request. It is
	// part of the run directory layout, not fed to the agent.
	Seed int `json:"seed"`

	// Model overrides the agent CLI's default model.
	Model string `json:"model,omitempty"`

	// AttemptTimeout is the wall-clock budget per agent invocation.
	AttemptTimeout time.Duration `json:"attempt_timeout"`

	// MaxRetries bounds retries after retryable provider-capacity
	// failures: N retries means at most N+1 invocations.
	MaxRetries int `json:"max_retries"`

	// BackoffBase and BackoffMultiplier shape the delay before the
	// i-th retry: base * multiplier^i, capped at 60s.
	BackoffBase       time.Duration `json:"backoff_base"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`

	// FollowupAttempts bounds follow-up invocations triggered by
	// verification failure or an invalid report.
	FollowupAttempts int `json:"followup_attempts"`

	// VerifyCommands run against the post-attempt workspace through
	// the sandbox. All must exit zero for the run to pass.
	VerifyCommands []string `json:"verify_commands,omitempty"`

	// VerifyTimeout bounds each verification command.
	VerifyTimeout time.Duration `json:"verify_timeout,omitempty"`

	// RetainWorkspace keeps the workspace directory after the run.
	RetainWorkspace bool `json:"retain_workspace,omitempty"`
}

const maxBackoffDelay = 60 * time.Second

// AttemptReason records why an invocation happened.
type AttemptReason string

const (
	ReasonInitial        AttemptReason = "initial"
	ReasonRateLimitRetry AttemptReason = "rate_limit_retry"
	ReasonFollowupReport AttemptReason = "followup_after_report_failure"
	ReasonFollowupVerify AttemptReason = "followup_after_verification_failure"
)

// Attempt is one agent invocation's record, written (as part of the
// attempt list) to agent_attempts.json.
type Attempt struct {
	Index      int           `json:"index"`
	Reason     AttemptReason `json:"reason"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	ExitCode   int           `json:"exit_code"`
	TimedOut   bool          `json:"timed_out"`
	Blocked    bool          `json:"blocked"`
	EventCount int           `json:"event_count"`
	RawEvents  string        `json:"raw_events"`
}

// PhaseTiming records how long one state-machine phase took.
type PhaseTiming struct {
	Phase      string    `json:"phase"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Result is one finished run.
type Result struct {
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"` // success | failed | blocked
	Category   runerr.Category `json:"category,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   []Attempt       `json:"attempts"`
	Phases     []PhaseTiming   `json:"phases"`
	RunDir     string          `json:"run_dir"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`

	// Err carries the terminal failure for programmatic callers; the
	// Category/Error fields are its serialized form.
	Err error `json:"-"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusBlocked = "blocked"
)

// Runner drives runs through the full state machine. One Runner
// serves many runs; all fields are read-only after construction.
type Runner struct {
	Workspaces *workspace.Manager
	Backend    sandbox.Backend
	Policies   policy.Table
	Catalog    *catalog.Catalog
	Clock      clock.Clock
	Logger     *slog.Logger

	// RunsRoot is where run directories are created:
	// <RunsRoot>/<target-slug>/<timestamp>/<agent>/<seed>/.
	RunsRoot string

	// SandboxSpec is the base sandbox configuration; the runner fills
	// in network mode conflicts and per-run details.
	SandboxSpec sandbox.Spec

	// AgentBinaries overrides agent CLI executable names, keyed by
	// agent id.
	AgentBinaries map[string]string

	// History, when set, receives a record for every finished run.
	History *history.Store

	// driverFor and runCommand are test seams.
	driverFor  func(agentID, binary string) (agent.Driver, error)
	runCommand func(ctx context.Context, argv []string, dir string) (string, error)
}

func (r *Runner) init() {
	if r.Clock == nil {
		r.Clock = clock.Real()
	}
	if r.Logger == nil {
		r.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.driverFor == nil {
		r.driverFor = agent.DriverFor
	}
	if r.runCommand == nil {
		r.runCommand = execCommand
	}
}

// execCommand is the production runCommand seam: run argv, return its
// combined output.
func execCommand(ctx context.Context, argv []string, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// Run executes one request end to end. The returned Result is never
// nil; run failures land in Result.Err/Category with artifacts
// written, and only setup failures that prevent creating the run
// directory are returned as a bare error.
func (r *Runner) Run(ctx context.Context, request Request) (*Result, error) {
	r.init()

	run := &activeRun{
		runner:  r,
		request: request,
		result: &Result{
			RunID:     uuid.NewString(),
			StartedAt: r.Clock.Now().UTC(),
		},
	}

	runDir, err := artifact.NewDir(r.runDirPath(request, run.result.StartedAt))
	if err != nil {
		return nil, err
	}
	run.dir = runDir
	run.result.RunDir = runDir.Root()
	run.logger = r.Logger.With("run_id", run.result.RunID, "agent", request.Agent)

	run.execute(ctx)
	return run.result, nil
}

// runDirPath builds <RunsRoot>/<slug>/<timestamp>/<agent>/<seed>.
func (r *Runner) runDirPath(request Request, start time.Time) string {
	return path.Join(r.RunsRoot,
		targetSlug(request.Target),
		start.Format("20060102T150405Z"),
		request.Agent,
		strconv.Itoa(request.Seed),
	)
}

var slugCleaner = regexp.MustCompile(`[^a-z0-9._-]+`)

// targetSlug derives a filesystem-safe name from a target reference.
func targetSlug(target string) string {
	base := target
	if kind, _, found := strings.Cut(target, ":"); found && kind == "pip" {
		base = target[len("pip:"):]
	}
	base = strings.TrimSuffix(base, "/")
	base = strings.TrimSuffix(base, ".git")
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	slug := slugCleaner.ReplaceAllString(strings.ToLower(base), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "target"
	}
	return slug
}

// activeRun carries one run's mutable state through the phases.
type activeRun struct {
	runner  *Runner
	request Request
	logger  *slog.Logger
	dir     artifact.Dir
	result  *Result

	permissions policy.Permissions
	persona     *catalog.Persona
	mission     *catalog.Mission
	schemaRaw   []byte
	schema      *jsonschema.Schema

	workspace *workspace.Workspace
	instance  sandbox.Instance
	driver    agent.Driver

	basePrompt string

	records []normalize.Record
	reports struct {
		parsed           any
		validationErrors []string
		lastMessage      string
	}
	verification *verificationSummary
	derivedDone  bool
}

// execute walks every phase and guarantees the cleanup scope runs.
func (run *activeRun) execute(ctx context.Context) {
	var failure error

	defer func() {
		run.cleanup(ctx, failure)
	}()

	steps := []struct {
		phase string
		fn    func(context.Context) error
	}{
		{"resolve", run.resolve},
		{"acquire", run.acquire},
		{"sandbox_start", run.startSandbox},
		{"preflight", run.preflight},
		{"prompt_build", run.buildPrompt},
		{"invoke", run.attemptLoop},
		{"finalize", run.finalizeArtifacts},
	}
	for _, step := range steps {
		if err := run.phase(ctx, step.phase, step.fn); err != nil {
			failure = err
			return
		}
	}
}

// phase runs one step with timing and cancellation accounting.
func (run *activeRun) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	if ctx.Err() != nil {
		return runerr.Wrap(runerr.CategoryCanceled, ctx.Err())
	}
	started := run.runner.Clock.Now().UTC()
	err := fn(ctx)
	run.result.Phases = append(run.result.Phases, PhaseTiming{
		Phase:      name,
		StartedAt:  started,
		DurationMS: run.runner.Clock.Now().Sub(started).Milliseconds(),
	})
	if err != nil {
		run.logger.Error("phase failed", "phase", name, "error", err)
	}
	return err
}

// resolve loads catalog entries, resolves the policy, and snapshots
// the schema and effective spec. A conflict here blocks the run with
// zero attempts.
func (run *activeRun) resolve(ctx context.Context) error {
	r := run.runner

	persona, err := r.Catalog.Persona(run.request.Persona)
	if err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}
	mission, err := r.Catalog.Mission(run.request.Mission)
	if err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}
	run.persona = persona
	run.mission = mission

	permissions, err := r.Policies.Resolve(run.request.Policy, run.request.Agent,
		policy.MissionRequirements{
			RequiresEdits: mission.RequiresEdits,
			RequiresShell: mission.RequiresShell,
		},
		agent.NeedsNetwork(run.request.Agent))
	if err != nil {
		return err
	}
	run.permissions = permissions

	schemaRaw, err := r.Catalog.Schema(mission.ReportSchema)
	if err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}
	schema, err := report.CompileSchema(schemaRaw)
	if err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}
	run.schemaRaw = schemaRaw
	run.schema = schema

	driver, err := r.driverFor(run.request.Agent, r.AgentBinaries[run.request.Agent])
	if err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}
	run.driver = driver

	// Snapshot the schema and the resolved spec for replayability.
	if err := run.dir.WriteText(artifact.ReportSchemaFile, string(schemaRaw)); err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}
	spec := map[string]any{
		"run_id":      run.result.RunID,
		"request":     run.request,
		"permissions": permissions,
		"network":     string(run.runner.SandboxSpec.Network),
	}
	if err := run.dir.WriteJSON(artifact.EffectiveRunSpecFile, spec); err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}
	return nil
}

func (run *activeRun) acquire(ctx context.Context) error {
	ws, err := run.runner.Workspaces.Acquire(ctx, run.request.Target, run.request.GitRef)
	if err != nil {
		return err
	}
	run.workspace = ws
	return run.dir.WriteJSON(artifact.TargetRefFile, ws.Target)
}

func (run *activeRun) startSandbox(ctx context.Context) error {
	instance, err := run.runner.Backend.Start(ctx, run.workspace.Dir, run.dir.Root(), run.runner.SandboxSpec)
	if err != nil {
		return err
	}
	run.instance = instance
	return nil
}

// workspacePath is the agent-visible workspace directory.
func (run *activeRun) workspacePath() string {
	if len(run.instance.CommandPrefix()) > 0 {
		return "/workspace"
	}
	return run.workspace.Dir
}

// attemptLoop is INVOKE through VERIFY: capacity retries inside each
// invocation round, follow-up rounds for report or verification
// failures.
func (run *activeRun) attemptLoop(ctx context.Context) error {
	prompt := run.basePrompt
	followupsUsed := 0
	reason := ReasonInitial

	for {
		invocation, err := run.invokeWithRetry(ctx, prompt, reason)
		if err != nil {
			return err
		}

		if reportErr := run.evaluateReport(invocation); reportErr != nil {
			if followupsUsed < run.request.FollowupAttempts {
				followupsUsed++
				reason = ReasonFollowupReport
				prompt = run.reportFollowupPrompt(followupsUsed)
				run.logger.Info("report invalid, issuing follow-up",
					"followup", followupsUsed, "error", reportErr)
				continue
			}
			return reportErr
		}

		verifyErr := run.verify(ctx)
		if verifyErr == nil {
			return nil
		}
		if !errors.Is(verifyErr, errVerificationFailed) {
			return verifyErr
		}
		if followupsUsed < run.request.FollowupAttempts {
			followupsUsed++
			reason = ReasonFollowupVerify
			prompt = run.verificationFollowupPrompt(followupsUsed)
			run.logger.Info("verification failed, issuing follow-up", "followup", followupsUsed)
			continue
		}
		return runerr.New(runerr.CategoryVerificationFailed,
			"verification commands still failing after follow-up budget").
			WithDetail("followup_attempts", run.request.FollowupAttempts)
	}
}

// invokeWithRetry performs one invocation round, retrying retryable
// provider-capacity failures with exponential backoff.
func (run *activeRun) invokeWithRetry(ctx context.Context, prompt string, reason AttemptReason) (*agent.InvokeResult, error) {
	r := run.runner

	for retry := 0; ; retry++ {
		if retry > 0 {
			delay := backoffDelay(run.request.BackoffBase, run.request.BackoffMultiplier, retry-1)
			run.logger.Info("provider capacity exhausted, backing off",
				"retry", retry, "delay", delay)
			select {
			case <-r.Clock.After(delay):
			case <-ctx.Done():
				return nil, runerr.Wrap(runerr.CategoryCanceled, ctx.Err())
			}
			reason = ReasonRateLimitRetry
		}

		result, stderrText, err := run.invokeOnce(ctx, prompt, reason)
		if err != nil {
			return nil, err
		}

		exitErr := agent.ClassifyExit(result, stderrText)
		if exitErr == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, runerr.Wrap(runerr.CategoryCanceled, ctx.Err())
		}
		if runerr.CategoryOf(exitErr) == runerr.CategoryProviderCapacityExhausted &&
			agent.Retryable(exitErr) && retry < run.request.MaxRetries {
			continue
		}
		return nil, exitErr
	}
}

// backoffDelay computes base * multiplier^i, capped at 60s.
func backoffDelay(base time.Duration, multiplier float64, i int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if multiplier <= 0 {
		multiplier = 2
	}
	delay := float64(base)
	for ; i > 0; i-- {
		delay *= multiplier
		if delay >= float64(maxBackoffDelay) {
			return maxBackoffDelay
		}
	}
	if delay > float64(maxBackoffDelay) {
		return maxBackoffDelay
	}
	return time.Duration(delay)
}

// invokeOnce runs a single agent process and writes its per-attempt
// artifacts.
func (run *activeRun) invokeOnce(ctx context.Context, prompt string, reason AttemptReason) (*agent.InvokeResult, string, error) {
	r := run.runner
	index := len(run.result.Attempts) + 1

	rawFile, err := run.dir.Create(artifact.RawEventsFile(index))
	if err != nil {
		return nil, "", runerr.Wrap(runerr.CategoryInternal, err)
	}
	defer rawFile.Close()
	stderrFile, err := run.dir.Create(artifact.AgentStderrFile(index))
	if err != nil {
		return nil, "", runerr.Wrap(runerr.CategoryInternal, err)
	}
	defer stderrFile.Close()

	config := agent.InvokeConfig{
		Prompt:              prompt,
		Model:               run.request.Model,
		WorkingDirectory:    run.workspacePath(),
		CommandPrefix:       run.instance.CommandPrefix(),
		PermissionMode:      run.permissions.Flags.PermissionMode,
		AllowedTools:        run.permissions.Flags.AllowedTools,
		SandboxMode:         run.permissions.Flags.Sandbox,
		ApprovalMode:        run.permissions.Flags.ApprovalMode,
		LastMessagePath:     run.lastMessagePath(index),
		LastMessageHostPath: run.dir.Path(artifact.AgentLastMessageFile(index)),
		Stderr:              stderrFile,
	}

	started := r.Clock.Now().UTC()
	result, err := agent.Invoke(ctx, run.driver, config, agent.InvokeOptions{
		Clock:     r.Clock,
		Timeout:   run.request.AttemptTimeout,
		RawEvents: rawFile,
		Logger:    run.logger,
	})
	finished := r.Clock.Now().UTC()
	if err != nil {
		return nil, "", err
	}

	run.result.Attempts = append(run.result.Attempts, Attempt{
		Index:      index,
		Reason:     reason,
		StartedAt:  started,
		FinishedAt: finished,
		ExitCode:   result.ExitCode,
		TimedOut:   result.TimedOut,
		Blocked:    result.Blocked,
		EventCount: result.EventCount,
		RawEvents:  artifact.RawEventsFile(index),
	})

	for _, record := range result.Records {
		run.records = append(run.records, normalize.Record{
			Timestamp: record.Timestamp,
			Line:      record.Line,
		})
	}
	if result.FinalMessage != "" {
		if err := run.dir.WriteText(artifact.AgentLastMessageFile(index), result.FinalMessage); err != nil {
			return nil, "", runerr.Wrap(runerr.CategoryInternal, err)
		}
	}
	run.reports.lastMessage = result.FinalMessage

	stderrText := ""
	if raw, err := run.dir.ReadBytes(artifact.AgentStderrFile(index)); err == nil {
		stderrText = string(raw)
	}
	return result, stderrText, nil
}

// lastMessagePath is where Codex writes its final message, as seen
// from inside the execution context.
func (run *activeRun) lastMessagePath(index int) string {
	if len(run.instance.CommandPrefix()) > 0 {
		return path.Join("/artifacts", artifact.AgentLastMessageFile(index))
	}
	return run.dir.Path(artifact.AgentLastMessageFile(index))
}

// evaluateReport parses and schema-checks the attempt's final
// message. A failure is recorded in the run state for the follow-up
// prompt and returned.
func (run *activeRun) evaluateReport(invocation *agent.InvokeResult) error {
	parsed, err := report.ParseReport([]byte(invocation.FinalMessage))
	if err != nil {
		run.reports.parsed = nil
		run.reports.validationErrors = []string{"$: " + err.Error()}
		return runerr.Wrap(runerr.CategoryReportParse, err).
			WithHint("the agent must answer with a single JSON object matching the report schema")
	}
	run.reports.parsed = parsed

	if violations := report.ValidateReport(parsed, run.schema); len(violations) > 0 {
		run.reports.validationErrors = violations
		return runerr.Newf(runerr.CategorySchemaValidation,
			"report failed schema validation with %d violation(s)", len(violations)).
			WithDetail("violations", violations)
	}
	run.reports.validationErrors = nil
	return nil
}

// finalizeArtifacts is the success-path finalize phase. Failed runs
// reach the same derived artifacts through the cleanup scope.
func (run *activeRun) finalizeArtifacts(ctx context.Context) error {
	return run.captureDerived(ctx)
}

// captureDerived writes the artifacts computed from whatever the run
// produced: workspace diff, normalized event log, metrics, and the
// report files when a validated report exists. It runs exactly once
// per run, and for failed runs it must happen before the workspace is
// released — the diff cannot be recomputed afterwards.
func (run *activeRun) captureDerived(ctx context.Context) error {
	if run.derivedDone {
		return nil
	}
	run.derivedDone = true

	var entries []git.NumstatEntry
	if run.workspace != nil {
		var err error
		entries, err = run.workspace.Repo.DiffNumstat(ctx)
		if err != nil {
			return runerr.Wrap(runerr.CategoryInternal, err)
		}
		if err := run.dir.WriteJSON(artifact.DiffNumstatFile, entries); err != nil {
			return runerr.Wrap(runerr.CategoryInternal, err)
		}
		if len(entries) > 0 {
			patch, err := run.workspace.Repo.DiffPatch(ctx)
			if err != nil {
				return runerr.Wrap(runerr.CategoryInternal, err)
			}
			if err := run.dir.WriteText(artifact.PatchFile, patch); err != nil {
				return runerr.Wrap(runerr.CategoryInternal, err)
			}
		}
	}

	options := normalize.Options{}
	if run.workspace != nil {
		options.WorkspaceRoot = run.workspace.Dir
		options.WorkspaceMount = run.workspace.Dir
		if run.instance != nil {
			options.WorkspaceMount = run.workspacePath()
		}
	}
	events, err := normalize.Events(run.request.Agent, run.records, options)
	if err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}
	if len(entries) > 0 {
		events = normalize.AppendFileWrites(events, run.runner.Clock.Now().UTC(), entries)
	}
	eventsFile, err := run.dir.Create(artifact.NormalizedEventsFile)
	if err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}
	if err := normalize.WriteJSONL(eventsFile, events); err != nil {
		eventsFile.Close()
		return runerr.Wrap(runerr.CategoryInternal, err)
	}
	if err := eventsFile.Close(); err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}

	metrics := report.ComputeMetrics(events)
	if err := run.dir.WriteJSON(artifact.MetricsFile, metrics); err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}

	// Report files only when the report validated; a run can fail
	// verification while still carrying a perfectly good report.
	if run.reports.parsed == nil || len(run.reports.validationErrors) > 0 {
		return nil
	}
	if err := run.dir.WriteText(artifact.ReportFile, strings.TrimSpace(run.reports.lastMessage)+"\n"); err != nil {
		return runerr.Wrap(runerr.CategoryInternal, err)
	}
	var targetRef map[string]any
	run.dir.ReadJSON(artifact.TargetRefFile, &targetRef)
	if reportObject, ok := run.reports.parsed.(map[string]any); ok {
		rendered := report.RenderMarkdown(reportObject, &metrics, targetRef)
		if err := run.dir.WriteText(artifact.ReportMarkdownFile, rendered); err != nil {
			return runerr.Wrap(runerr.CategoryInternal, err)
		}
	}
	return nil
}

// cleanup is the guaranteed teardown scope. It runs on every exit
// path and never masks the original failure: its own errors are
// logged as secondary diagnostics only.
func (run *activeRun) cleanup(ctx context.Context, failure error) {
	// Cleanup must proceed even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)
	r := run.runner

	if run.instance != nil {
		if failure != nil {
			if err := run.instance.Diagnostics(ctx, run.dir.Path(artifact.SandboxDir)); err != nil {
				run.logger.Warn("capturing sandbox diagnostics", "error", err)
			}
		}
		if err := run.instance.Close(ctx); err != nil {
			run.logger.Warn("closing sandbox", "error", err)
		}
	}
	// Failed runs keep their derived artifacts too; a no-op when the
	// finalize phase already ran.
	if err := run.captureDerived(ctx); err != nil {
		run.logger.Warn("capturing derived artifacts", "error", err)
	}
	if run.workspace != nil {
		if retained, err := r.Workspaces.Release(run.workspace, run.request.RetainWorkspace); err != nil {
			run.logger.Warn("releasing workspace", "error", err)
		} else if retained != "" {
			run.logger.Info("workspace retained", "dir", retained)
		}
	}

	run.result.FinishedAt = r.Clock.Now().UTC()
	run.recordOutcome(failure)

	if len(run.reports.validationErrors) > 0 {
		if err := run.dir.WriteJSON(artifact.ValidationErrorsFile, run.reports.validationErrors); err != nil {
			run.logger.Warn("writing validation errors", "error", err)
		}
	}
	if run.verification != nil {
		if err := run.dir.WriteJSON(artifact.VerificationFile, run.verification); err != nil {
			run.logger.Warn("writing verification results", "error", err)
		}
	}
	if failure != nil {
		if err := run.dir.WriteJSON(artifact.ErrorFile, errorDocument(failure)); err != nil {
			run.logger.Warn("writing error artifact", "error", err)
		}
	}
	if err := run.dir.WriteJSON(artifact.AgentAttemptsFile, run.result.Attempts); err != nil {
		run.logger.Warn("writing attempt records", "error", err)
	}
	if err := run.dir.WriteJSON(artifact.RunMetaFile, run.result); err != nil {
		run.logger.Warn("writing run metadata", "error", err)
	}

	run.recordHistory(ctx)

	run.logger.Info("run finished",
		"status", run.result.Status,
		"category", string(run.result.Category),
		"attempts", len(run.result.Attempts),
		"duration", run.result.FinishedAt.Sub(run.result.StartedAt),
	)
}

// recordOutcome maps the terminal error (or its absence) onto the
// result's status and category.
func (run *activeRun) recordOutcome(failure error) {
	if failure == nil {
		run.result.Status = StatusSuccess
		return
	}
	run.result.Err = failure
	run.result.Category = runerr.CategoryOf(failure)
	run.result.Error = failure.Error()
	if run.result.Category == runerr.CategoryPolicyBlock {
		run.result.Status = StatusBlocked
		return
	}
	run.result.Status = StatusFailed
}

func (run *activeRun) recordHistory(ctx context.Context) {
	r := run.runner
	if r.History == nil {
		return
	}
	record := history.Record{
		RunID:      run.result.RunID,
		TargetSlug: targetSlug(run.request.Target),
		TargetRef:  run.request.Target,
		Agent:      run.request.Agent,
		Policy:     run.request.Policy,
		Mission:    run.request.Mission,
		Status:     run.result.Status,
		Category:   string(run.result.Category),
		Attempts:   len(run.result.Attempts),
		StartedAt:  run.result.StartedAt,
		FinishedAt: run.result.FinishedAt,
		RunDir:     run.dir.Root(),
	}
	if err := r.History.Insert(ctx, record); err != nil {
		run.logger.Warn("recording run history", "error", err)
	}
}

// errorDocument is the error.json shape.
func errorDocument(failure error) map[string]any {
	doc := map[string]any{
		"category": string(runerr.CategoryOf(failure)),
		"message":  failure.Error(),
	}
	if runError := runerr.AsError(failure); runError != nil {
		if runError.Hint != "" {
			doc["hint"] = runError.Hint
		}
		if len(runError.Details) > 0 {
			doc["details"] = runError.Details
		}
	}
	return doc
}
