// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifySubtype(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Subtype
	}{
		{"http 429", "server returned 429 Too Many Requests", SubtypeProviderCapacity},
		{"rate limit", "Rate limit reached for requests", SubtypeProviderCapacity},
		{"resource exhausted", "code = RESOURCE_EXHAUSTED", SubtypeProviderCapacity},
		{"quota word", "You exceeded your current quota", SubtypeProviderCapacity},
		{"extra usage reset", "You're out of extra usage. Resets Tuesday 3am", SubtypeProviderQuotaExceeded},
		{"unauthorized", "401 Unauthorized", SubtypeProviderAuth},
		{"bad api key", "Incorrect API key provided", SubtypeProviderAuth},
		{"dns", "getaddrinfo EAI_AGAIN api.openai.com", SubtypeTransientNetwork},
		{"enospc", "write /tmp/x: no space left on device", SubtypeDiskFull},
		{"approval", "blocked waiting for interactive approval", SubtypePermissionPolicy},
		{"apply patch", "received apply_patch_approval_request", SubtypePermissionPolicy},
		{"nested", "Claude Code cannot be launched inside another Claude Code session", SubtypeNestedAgentSession},
		{"missing binary", "bash: codex: command not found", SubtypeBinaryOrCommandMissing},
		{"reasoning effort", "invalid value 'max' for model_reasoning_effort", SubtypeInvalidAgentConfig},
		{"nothing", "all good here", SubtypeUnknown},
		{"empty", "", SubtypeUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySubtype(tc.text); got != tc.want {
				t.Errorf("ClassifySubtype(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestClassifySubtypeScansAllTexts(t *testing.T) {
	// The signal may be in the final message rather than stderr.
	got := ClassifySubtype("", "model_capacity_exhausted")
	if got != SubtypeProviderCapacity {
		t.Fatalf("ClassifySubtype = %q, want provider_capacity", got)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name    string
		subtype Subtype
		text    string
		want    bool
	}{
		{"plain capacity", SubtypeProviderCapacity, "429 too many requests", true},
		{"capacity with billing", SubtypeProviderCapacity, "quota exceeded, check billing", false},
		{"insufficient quota", SubtypeProviderCapacity, "insufficient_quota", false},
		{"hit your limit", SubtypeProviderCapacity, "You've hit your limit", false},
		{"transient network", SubtypeTransientNetwork, "EAI_AGAIN", true},
		{"auth never retries", SubtypeProviderAuth, "401", false},
		{"unknown never retries", SubtypeUnknown, "boom", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.subtype, tc.text); got != tc.want {
				t.Errorf("Retryable(%q, %q) = %v, want %v", tc.subtype, tc.text, got, tc.want)
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := Newf(CategoryMissingTool, "command %q not found", "rg")
	want := `missing_tool: command "rg" not found`
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CategorySandboxUnavailable, fmt.Errorf("probing docker: %w", cause))
	if !errors.Is(err, cause) {
		t.Fatal("Wrap should preserve the cause chain")
	}
}

func TestCategoryOf(t *testing.T) {
	if got := CategoryOf(New(CategoryPolicyBlock, "x")); got != CategoryPolicyBlock {
		t.Errorf("CategoryOf(*Error) = %q, want policy_block", got)
	}
	if got := CategoryOf(fmt.Errorf("wrapped: %w", New(CategoryVerificationFailed, "y"))); got != CategoryVerificationFailed {
		t.Errorf("CategoryOf(wrapped *Error) = %q, want verification_failed", got)
	}
	if got := CategoryOf(context.Canceled); got != CategoryCanceled {
		t.Errorf("CategoryOf(context.Canceled) = %q, want canceled", got)
	}
	if got := CategoryOf(errors.New("mystery")); got != CategoryInternal {
		t.Errorf("CategoryOf(plain error) = %q, want internal", got)
	}
}

func TestWithDetailAndHint(t *testing.T) {
	err := New(CategorySandboxBuildFailed, "build failed").
		WithDetail("image", "usertest-sandbox:abc123").
		WithHint("inspect docker_build.log in the run directory")

	if err.Details["image"] != "usertest-sandbox:abc123" {
		t.Errorf("detail not recorded: %v", err.Details)
	}
	if err.Hint == "" {
		t.Error("hint not recorded")
	}
}

func TestAsErrorWrapsPlainErrors(t *testing.T) {
	plain := errors.New("boom")
	got := AsError(plain)
	if got.Category != CategoryInternal {
		t.Errorf("AsError category = %q, want internal", got.Category)
	}
	if AsError(nil) != nil {
		t.Error("AsError(nil) should be nil")
	}
}
