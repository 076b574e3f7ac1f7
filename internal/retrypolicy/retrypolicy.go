// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retrypolicy centralises retry/backoff decisions that were
// scattered ad-hoc across the queue and analysis paths into one value
// object, consumed uniformly by the task processor (C6) and the analysis
// queue (C7).
package retrypolicy

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stepflow/stepflow/internal/engineerr"
)

// Policy bundles a retry cap with a precomputed backoff schedule and a
// retryable-error predicate.
type Policy struct {
	MaxAttempts     int
	BackoffSchedule []time.Duration
	Retryable       func(err error) bool
}

// Default builds the standard retry policy: maxAttempts = 2, exponential
// backoff starting at 1s, and the error-kind set that the error-handling
// design marks as retryable (Timeout, Collaborator-failure, Transient).
// Validation, NotFound, Conflict, Dependency and ResourceExhausted are
// never retried by the processor itself — resource exhaustion is handled
// by the analysis queue's own degradation policy, not by blind retry.
func Default(maxAttempts int) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Second
	eb.Multiplier = 2
	eb.MaxInterval = 30 * time.Second

	schedule := make([]time.Duration, 0, maxAttempts)
	for i := 0; i < maxAttempts; i++ {
		d, err := eb.NextBackOff()
		if err == backoff.Stop {
			break
		}
		schedule = append(schedule, d)
	}

	return &Policy{
		MaxAttempts:     maxAttempts,
		BackoffSchedule: schedule,
		Retryable:       DefaultRetryable,
	}
}

// DefaultRetryable implements the error-kind-based retry decision:
// Timeout, Collaborator and Transient are retryable; everything else is not.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	var timeout *engineerr.Timeout
	var collaborator *engineerr.Collaborator
	var transient *engineerr.Transient
	switch {
	case errors.As(err, &timeout):
		return true
	case errors.As(err, &collaborator):
		return true
	case errors.As(err, &transient):
		return true
	default:
		return false
	}
}

// DelayFor returns the backoff delay before retry attempt n (1-indexed,
// matching QueueItem.Attempts after increment). If n exceeds the
// precomputed schedule, the last scheduled delay is reused.
func (p *Policy) DelayFor(n int) time.Duration {
	if len(p.BackoffSchedule) == 0 {
		return 0
	}
	idx := n - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.BackoffSchedule) {
		idx = len(p.BackoffSchedule) - 1
	}
	return p.BackoffSchedule[idx]
}

// ShouldRetry reports whether attempt number attempts (already incremented)
// is still within budget and whether err is of a retryable kind.
func (p *Policy) ShouldRetry(attempts int, err error) bool {
	if attempts > p.MaxAttempts {
		return false
	}
	return p.Retryable(err)
}
