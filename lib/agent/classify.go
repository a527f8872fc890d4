// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"github.com/bureau-foundation/usertest/lib/runerr"
)

// ClassifyExit turns an attempt outcome into the run error taxonomy.
// Returns nil for a clean exit. The stderr text and the agent's final
// message are scanned for failure-subtype signals; capacity-shaped
// failures carry a "retryable" detail that the retry loop consults.
func ClassifyExit(result *InvokeResult, stderrText string) error {
	if result.TimedOut {
		return runerr.Newf(runerr.CategoryAgentTimeout,
			"agent killed after exceeding its wall-clock budget (%s elapsed)", result.Duration).
			WithHint("raise the attempt timeout or reduce the mission scope")
	}
	if result.Blocked {
		return runerr.New(runerr.CategoryAgentBlockedInteractive,
			"agent stalled waiting for interactive approval").
			WithDetail("subtype", string(runerr.SubtypePermissionPolicy)).
			WithHint("use a policy whose flags avoid interactive approval, or grant the needed permission")
	}
	if result.ExitCode == 0 {
		return nil
	}

	subtype := runerr.ClassifySubtype(stderrText, result.FinalMessage)
	switch subtype {
	case runerr.SubtypeProviderCapacity, runerr.SubtypeProviderQuotaExceeded:
		err := runerr.Newf(runerr.CategoryProviderCapacityExhausted,
			"provider capacity exhausted (exit %d)", result.ExitCode).
			WithDetail("subtype", string(subtype)).
			WithDetail("retryable", runerr.Retryable(subtype, stderrText, result.FinalMessage))
		if subtype == runerr.SubtypeProviderQuotaExceeded {
			err = err.WithHint("quota is exhausted; waiting will not help until it resets")
		}
		return err
	default:
		err := runerr.Newf(runerr.CategoryAgentNonzeroExit,
			"agent exited with status %d", result.ExitCode)
		if subtype != runerr.SubtypeUnknown {
			err = err.WithDetail("subtype", string(subtype)).
				WithDetail("retryable", runerr.Retryable(subtype, stderrText, result.FinalMessage))
		}
		return err
	}
}

// Retryable reports whether a classified attempt error may be retried
// with backoff: a provider capacity failure whose texts did not match
// a quota/billing pattern, or a transient network failure.
func Retryable(err error) bool {
	classified := runerr.AsError(err)
	if classified == nil {
		return false
	}
	retryable, _ := classified.Details["retryable"].(bool)
	return retryable
}
