// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runerr

import "regexp"

// Subtype is a finer-grained label attached to agent failures,
// derived from stderr and final-message text. Subtypes feed two
// decisions: whether an attempt is retryable, and what hint to record
// in error.json.
type Subtype string

const (
	SubtypeInvalidAgentConfig     Subtype = "invalid_agent_config"
	SubtypeProviderQuotaExceeded  Subtype = "provider_quota_exceeded"
	SubtypeProviderCapacity       Subtype = "provider_capacity"
	SubtypeProviderAuth           Subtype = "provider_auth"
	SubtypeTransientNetwork       Subtype = "transient_network"
	SubtypeDiskFull               Subtype = "disk_full"
	SubtypePermissionPolicy       Subtype = "permission_policy"
	SubtypeNestedAgentSession     Subtype = "nested_agent_session"
	SubtypeBinaryOrCommandMissing Subtype = "binary_or_command_missing"
	SubtypeUnknown                Subtype = ""
)

// subtypeRule maps a subtype to the text patterns that indicate it.
// Rules are ordered: the first subtype with any matching pattern wins,
// so more specific signals (a quota-reset notice) take precedence over
// the generic capacity patterns that would also match them.
type subtypeRule struct {
	subtype  Subtype
	patterns []*regexp.Regexp
}

var subtypeRules = []subtypeRule{
	{SubtypeInvalidAgentConfig, compileAll(
		`(?i)invalid value.*model_reasoning_effort`,
		`(?i)model_reasoning_effort.*\b(enum|expected|invalid)\b`,
	)},
	{SubtypeProviderQuotaExceeded, compileAll(
		`(?i)out of extra usage`,
		`(?i)extra usage.*\bresets?\b`,
	)},
	{SubtypeProviderCapacity, compileAll(
		`(?i)\b429\b`,
		`(?i)resource_exhausted`,
		`(?i)model_capacity_exhausted`,
		`(?i)no capacity available`,
		`(?i)exhausted your capacity`,
		`(?i)hit your limit`,
		`(?i)rate[_ -]?limit`,
		`(?i)too many requests`,
		`(?i)\bquota\b`,
	)},
	{SubtypeProviderAuth, compileAll(
		`(?i)\b401\b`,
		`(?i)\bunauthorized\b`,
		`(?i)invalid api key`,
		`(?i)incorrect api key`,
		`(?i)authentication failed`,
	)},
	{SubtypeTransientNetwork, compileAll(
		`(?i)\bEAI_AGAIN\b`,
		`(?i)temporary failure in name resolution`,
		`(?i)\bENOTFOUND\b`,
	)},
	{SubtypeDiskFull, compileAll(
		`(?i)\bENOSPC\b`,
		`(?i)no space left on device`,
		`(?i)disk quota exceeded`,
	)},
	{SubtypePermissionPolicy, compileAll(
		`(?i)interactive approval`,
		`(?i)apply_patch_approval_request`,
		`(?i)denied by policy`,
		`(?i)permission mode`,
		`(?i)outside the allowed workspace`,
	)},
	{SubtypeNestedAgentSession, compileAll(
		`(?i)claude code cannot be launched inside another claude code session`,
	)},
	{SubtypeBinaryOrCommandMissing, compileAll(
		`(?i)command not found`,
		`(?i)could not launch .*cli process`,
		`(?i)failed to launch .*cli`,
		`(?i)no such file or directory`,
	)},
}

// nonRetryableCapacityPatterns match capacity-shaped failures that
// waiting cannot fix: quota and billing exhaustion. These override the
// general "capacity is retryable" rule.
var nonRetryableCapacityPatterns = compileAll(
	`(?i)insufficient[_ -]?quota`,
	`(?i)quota exceeded`,
	`(?i)hit your limit`,
	`(?i)out of extra usage`,
	`(?i)billing`,
	`(?i)payment required`,
	`(?i)upgrade (plan|account)`,
	`(?i)trial (has )?ended`,
)

func compileAll(expressions ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(expressions))
	for i, expression := range expressions {
		compiled[i] = regexp.MustCompile(expression)
	}
	return compiled
}

// ClassifySubtype scans the given texts (typically stderr and the
// agent's final message) and returns the first matching subtype, or
// SubtypeUnknown if nothing matches.
func ClassifySubtype(texts ...string) Subtype {
	for _, rule := range subtypeRules {
		for _, pattern := range rule.patterns {
			for _, text := range texts {
				if text != "" && pattern.MatchString(text) {
					return rule.subtype
				}
			}
		}
	}
	return SubtypeUnknown
}

// Retryable reports whether an attempt that failed with the given
// subtype should be retried with backoff. Capacity and transient
// network signals are retryable unless the text also matches a
// quota/billing pattern.
func Retryable(subtype Subtype, texts ...string) bool {
	switch subtype {
	case SubtypeProviderCapacity:
		for _, pattern := range nonRetryableCapacityPatterns {
			for _, text := range texts {
				if text != "" && pattern.MatchString(text) {
					return false
				}
			}
		}
		return true
	case SubtypeTransientNetwork:
		return true
	default:
		return false
	}
}
