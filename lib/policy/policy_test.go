// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/usertest/lib/runerr"
)

func TestLoadEmbeddedTable(t *testing.T) {
	table, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, policyID := range []string{"safe", "inspect", "write"} {
		if _, ok := table[policyID]; !ok {
			t.Errorf("embedded table missing policy %q", policyID)
		}
		for _, agentID := range []string{"codex", "claude", "gemini"} {
			if _, ok := table[policyID][agentID]; !ok {
				t.Errorf("policy %q missing agent %q", policyID, agentID)
			}
		}
	}
}

func TestLoadFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.jsonc")
	content := `{
  // custom table with a single locked-down policy
  "paranoid": {
    "codex": {"allow_edits": false, "allow_shell": false, "sandbox": "read-only"}
  }
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%s): %v", path, err)
	}
	if _, ok := table["paranoid"]["codex"]; !ok {
		t.Fatalf("override table not loaded: %v", table)
	}
	if _, ok := table["safe"]; ok {
		t.Error("override table must replace the embedded one, not merge")
	}
}

func TestResolveGrants(t *testing.T) {
	table, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	permissions, err := table.Resolve("write", "codex", MissionRequirements{RequiresEdits: true, RequiresShell: true}, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !permissions.EditsAllowed || !permissions.ShellAllowed {
		t.Errorf("write policy should grant edits and shell: %+v", permissions)
	}
	if !permissions.NetworkImplied {
		t.Error("hosted-API agent should imply network")
	}
	if permissions.Flags.Sandbox != "workspace-write" {
		t.Errorf("codex sandbox flag = %q, want workspace-write", permissions.Flags.Sandbox)
	}
}

func TestResolveConflictIsPolicyBlock(t *testing.T) {
	table, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		req  MissionRequirements
	}{
		{"edits against safe", MissionRequirements{RequiresEdits: true}},
		{"shell against safe", MissionRequirements{RequiresShell: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := table.Resolve("safe", "claude", tc.req, true)
			if err == nil {
				t.Fatal("expected policy_block, got success")
			}
			if got := runerr.CategoryOf(err); got != runerr.CategoryPolicyBlock {
				t.Errorf("category = %q, want policy_block", got)
			}
		})
	}
}

func TestResolveUnknownPolicyAndAgent(t *testing.T) {
	table, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := table.Resolve("yolo", "codex", MissionRequirements{}, true); err == nil {
		t.Error("unknown policy should error")
	}
	if _, err := table.Resolve("safe", "cursor", MissionRequirements{}, true); err == nil {
		t.Error("unknown agent should error")
	}
}

func TestResolveIsPure(t *testing.T) {
	table, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	first, err := table.Resolve("inspect", "gemini", MissionRequirements{RequiresShell: true}, true)
	if err != nil {
		t.Fatal(err)
	}
	second, err := table.Resolve("inspect", "gemini", MissionRequirements{RequiresShell: true}, true)
	if err != nil {
		t.Fatal(err)
	}
	if first.Flags.ApprovalMode != second.Flags.ApprovalMode ||
		first.EditsAllowed != second.EditsAllowed ||
		first.ShellAllowed != second.ShellAllowed {
		t.Errorf("Resolve is not deterministic: %+v vs %+v", first, second)
	}
}
