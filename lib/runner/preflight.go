// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/bureau-foundation/usertest/lib/runerr"
	"github.com/bureau-foundation/usertest/lib/sandbox"
	"github.com/bureau-foundation/usertest/lib/workspace"
)

// preflight verifies the execution context before the first
// invocation: configuration conflicts surface as policy_block, absent
// tools as missing_tool, and package targets get their dependency
// installed. Failing here costs zero attempts.
func (run *activeRun) preflight(ctx context.Context) error {
	if run.permissions.NetworkImplied && run.runner.SandboxSpec.Network == sandbox.NetworkNone {
		return runerr.Newf(runerr.CategoryPolicyBlock,
			"agent %q requires network access to its hosted API but the sandbox network mode is %q",
			run.request.Agent, sandbox.NetworkNone).
			WithHint("use a network-open sandbox or a local agent")
	}

	if err := run.probeCommand(ctx, []string{"git", "--version"}, "git"); err != nil {
		return err
	}
	if run.mission.RequiresShell {
		if err := run.probeCommand(ctx, []string{"sh", "-lc", "true"}, "sh"); err != nil {
			return err
		}
	}

	binary := run.runner.AgentBinaries[run.request.Agent]
	if binary == "" {
		binary = run.request.Agent
	}
	if err := run.probeCommand(ctx, []string{binary, "--version"}, run.request.Agent); err != nil {
		return err
	}

	if run.workspace.Target.Kind == workspace.KindPackage {
		return run.installPackage(ctx)
	}
	return nil
}

// probeCommand runs a cheap probe through the sandbox prefix and
// reports its absence as missing_tool.
func (run *activeRun) probeCommand(ctx context.Context, argv []string, tool string) error {
	full := append(append([]string{}, run.instance.CommandPrefix()...), argv...)
	output, err := run.runner.runCommand(ctx, full, run.workspacePathForHost())
	if err != nil {
		return runerr.Newf(runerr.CategoryMissingTool,
			"required command %q is not available in the execution context", tool).
			WithDetail("probe", strings.Join(argv, " ")).
			WithDetail("output", strings.TrimSpace(output)).
			WithHint(fmt.Sprintf("install %s (or add it to the sandbox image)", tool))
	}
	run.logger.Debug("preflight probe passed", "tool", tool)
	return nil
}

// installPackage installs a pip: target's dependency inside the
// execution context so the agent finds an importable package.
func (run *activeRun) installPackage(ctx context.Context) error {
	spec := strings.TrimPrefix(run.workspace.Target.Source, "pip:")
	command := fmt.Sprintf("pip install %q", spec)
	argv := append(append([]string{}, run.instance.CommandPrefix()...), "sh", "-lc", command)

	output, err := run.runner.runCommand(ctx, argv, run.workspacePathForHost())
	if err != nil {
		return runerr.Newf(runerr.CategoryMissingTool,
			"installing package %q failed", spec).
			WithDetail("output", strings.TrimSpace(output)).
			WithHint("the sandbox image must provide a working pip")
	}
	run.logger.Info("package installed", "spec", spec)
	return nil
}

// workspacePathForHost is the directory probes run in when there is
// no sandbox prefix. With a prefix the sandbox sets the working
// directory itself and this value is ignored.
func (run *activeRun) workspacePathForHost() string {
	if len(run.instance.CommandPrefix()) > 0 {
		return ""
	}
	return run.workspace.Dir
}
