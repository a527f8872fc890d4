// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy resolves named permission policies into concrete,
// immutable capability sets and per-agent CLI flags.
//
// A policy names an abstract capability level (safe, inspect, write);
// each agent entry under it carries the flag translation for that
// agent's CLI. Resolution is a pure function: the same inputs always
// produce the same Permissions, and a conflict between what a mission
// requires and what the policy grants is a hard error, never a silent
// downgrade.
//
// The shipped table is embedded; deployments can override it with a
// JSONC file so the tables can carry comments.
package policy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/usertest/lib/runerr"
)

//go:embed policies.jsonc
var embeddedPolicies []byte

// AgentFlags is the per-agent translation of a policy level. Only the
// fields relevant to a given agent CLI are set.
type AgentFlags struct {
	// AllowEdits and AllowShell are the abstract capabilities this
	// entry grants, shared across agent CLIs.
	AllowEdits bool `json:"allow_edits"`
	AllowShell bool `json:"allow_shell"`

	// Sandbox is the codex --sandbox mode ("read-only",
	// "workspace-write").
	Sandbox string `json:"sandbox,omitempty"`

	// PermissionMode is the claude --permission-mode value.
	PermissionMode string `json:"permission_mode,omitempty"`

	// AllowedTools is the claude --allowedTools list.
	AllowedTools []string `json:"allowed_tools,omitempty"`

	// ApprovalMode is the gemini --approval-mode value.
	ApprovalMode string `json:"approval_mode,omitempty"`
}

// Table maps policy id → agent id → flags. Read-only after load; safe
// for concurrent use by parallel batch workers.
type Table map[string]map[string]AgentFlags

// MissionRequirements is what a mission declares it needs from the
// policy.
type MissionRequirements struct {
	RequiresEdits bool
	RequiresShell bool
}

// Permissions is the resolved, immutable capability snapshot for one
// run. Computed once from (policy, agent, mission requirements).
type Permissions struct {
	Policy string `json:"policy"`
	Agent  string `json:"agent"`

	EditsAllowed bool `json:"edits_allowed"`
	ShellAllowed bool `json:"shell_allowed"`

	// NetworkImplied records that the agent's own CLI must reach a
	// hosted API, independent of what the sandbox network mode says.
	// The preflight check surfaces the conflict when the sandbox is
	// network-isolated.
	NetworkImplied bool `json:"network_implied"`

	Flags AgentFlags `json:"flags"`
}

// Load returns the embedded policy table, or the table from path when
// path is non-empty. Files are JSONC.
func Load(path string) (Table, error) {
	raw := embeddedPolicies
	if path != "" {
		fileRaw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading policy table: %w", err)
		}
		raw = fileRaw
	}
	var table Table
	if err := json.Unmarshal(jsonc.ToJSON(raw), &table); err != nil {
		return nil, fmt.Errorf("parsing policy table: %w", err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("policy table is empty")
	}
	return table, nil
}

// Names returns the policy ids in the table, sorted.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve computes the Permissions for the given policy and agent,
// enforcing mission requirements. agentNeedsNetwork comes from the
// agent registry (true for hosted-API CLIs).
func (t Table) Resolve(policyID, agentID string, req MissionRequirements, agentNeedsNetwork bool) (Permissions, error) {
	agents, ok := t[policyID]
	if !ok {
		return Permissions{}, runerr.Newf(runerr.CategoryPolicyBlock, "unknown policy %q", policyID).
			WithDetail("known_policies", t.Names())
	}
	flags, ok := agents[agentID]
	if !ok {
		return Permissions{}, runerr.Newf(runerr.CategoryPolicyBlock,
			"policy %q has no entry for agent %q", policyID, agentID)
	}

	if req.RequiresEdits && !flags.AllowEdits {
		return Permissions{}, runerr.Newf(runerr.CategoryPolicyBlock,
			"mission requires edits but policy %q forbids them", policyID).
			WithHint("use --policy write")
	}
	if req.RequiresShell && !flags.AllowShell {
		return Permissions{}, runerr.Newf(runerr.CategoryPolicyBlock,
			"mission requires shell but policy %q forbids it", policyID).
			WithHint("use --policy inspect (read-only + shell) or --policy write")
	}

	return Permissions{
		Policy:         policyID,
		Agent:          agentID,
		EditsAllowed:   flags.AllowEdits,
		ShellAllowed:   flags.AllowShell,
		NetworkImplied: agentNeedsNetwork,
		Flags:          flags,
	}, nil
}
