// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runerr

import (
	"context"
	"errors"
	"fmt"
)

// Category is a stable identifier for a class of run failure. The set
// is closed: callers switch on these values and artifact consumers
// parse them out of error.json, so new categories are additions, never
// renames.
type Category string

const (
	// CategoryTargetAcquire covers failures materializing the target:
	// bad URL, clone failure, checkout failure, copy failure.
	CategoryTargetAcquire Category = "target_acquire_failed"

	// CategoryPolicyBlock is a precondition conflict: the mission
	// requires a capability (edits, shell, network reachability) that
	// the resolved policy or sandbox configuration forbids. Recorded
	// with zero attempts.
	CategoryPolicyBlock Category = "policy_block"

	// CategoryMissingTool is a preflight failure: a required external
	// command or the agent binary itself is not available.
	CategoryMissingTool Category = "missing_tool"

	// CategorySandboxUnavailable means the container runtime could not
	// be reached at all.
	CategorySandboxUnavailable Category = "sandbox_unavailable"

	// CategorySandboxBuildFailed means the sandbox image build failed.
	CategorySandboxBuildFailed Category = "sandbox_build_failed"

	// CategorySandboxTimeout means a sandbox CLI operation (version
	// probe, build, create) exceeded its deadline.
	CategorySandboxTimeout Category = "sandbox_timeout"

	// CategoryProviderCapacityExhausted means every attempt in the
	// retry budget hit a provider capacity signal.
	CategoryProviderCapacityExhausted Category = "provider_capacity_exhausted"

	// CategoryAgentNonzeroExit means the agent process exited nonzero
	// for a reason that is not retryable.
	CategoryAgentNonzeroExit Category = "agent_nonzero_exit"

	// CategoryAgentBlockedInteractive means a headless run hit an
	// approval prompt that cannot be answered without a human.
	CategoryAgentBlockedInteractive Category = "agent_blocked_interactive"

	// CategoryAgentTimeout means the agent exceeded its wall-clock
	// budget and was killed.
	CategoryAgentTimeout Category = "agent_timeout"

	// CategoryReportParse means the agent's final message was not
	// parseable JSON.
	CategoryReportParse Category = "report_parse_failed"

	// CategorySchemaValidation means the report parsed but did not
	// validate against the mission's schema.
	CategorySchemaValidation Category = "schema_validation_failed"

	// CategoryVerificationFailed means configured verification
	// commands still failed after the follow-up budget was spent.
	CategoryVerificationFailed Category = "verification_failed"

	// CategoryCanceled means the run's context was canceled.
	CategoryCanceled Category = "canceled"

	// CategoryInternal covers bugs and unclassifiable failures.
	CategoryInternal Category = "internal"
)

// Error is a run failure with a stable category. Details carries
// structured context for error.json; Hint, when set, is a one-line
// remediation suggestion shown to the operator.
type Error struct {
	Category Category
	Message  string
	Details  map[string]any
	Hint     string

	// Cause is the underlying error, if any.
	Cause error
}

// New constructs an Error with the given category and message.
func New(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error with the given category whose message and
// cause come from err.
func Wrap(category Category, err error) *Error {
	return &Error{Category: category, Message: err.Error(), Cause: err}
}

// WithDetail returns e with key set in Details. Mutates and returns e
// for call chaining during construction.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithHint returns e with a remediation hint set.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Category)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// CategoryOf extracts the failure category from err. Returns
// CategoryInternal for errors that do not carry one, and
// CategoryCanceled for context cancellation.
func CategoryOf(err error) Category {
	var runError *Error
	if errors.As(err, &runError) {
		return runError.Category
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryCanceled
	}
	return CategoryInternal
}

// AsError extracts the *Error from err's chain, or wraps err as a
// CategoryInternal Error if none is present. Never returns nil for a
// non-nil err.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var runError *Error
	if errors.As(err, &runError) {
		return runError
	}
	return Wrap(CategoryInternal, err)
}
