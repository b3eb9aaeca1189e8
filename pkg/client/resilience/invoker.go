// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package resilience wraps outbound calls with a circuit breaker, bounded
// exponential-backoff retries, and one hard wall-clock budget covering the
// whole attempt sequence.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrTimeout is returned when the end-to-end budget for an invocation
// elapses before an attempt succeeds.
var ErrTimeout = errors.New("invocation timed out")

// ErrRetryExhausted is returned when a retryable failure outlives the retry
// budget; it wraps the last underlying error.
var ErrRetryExhausted = errors.New("retry budget exhausted")

// Invoker composes breaker, retry policy, and timeout around any operation.
type Invoker struct {
	breaker *Breaker
	retry   RetryPolicy
	timeout time.Duration
	logger  *slog.Logger
}

// NewInvoker builds an invoker. The breaker outcome is recorded exactly once
// per Do call, never once per attempt.
func NewInvoker(breaker *Breaker, retry RetryPolicy, timeout time.Duration, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{breaker: breaker, retry: retry, timeout: timeout, logger: logger}
}

// Breaker returns the breaker guarding this invoker's dependency.
func (inv *Invoker) Breaker() *Breaker { return inv.breaker }

// Do runs fn under the full resilience stack:
//
//  1. consult the breaker; fail fast with ErrCircuitOpen,
//  2. start the hard budget for the entire attempt sequence,
//  3. attempt fn, retrying per policy with exponential backoff,
//  4. record the final outcome into the breaker, once,
//  5. surface ErrTimeout when the budget elapses, regardless of remaining
//     retries; caller cancellation propagates as the caller's ctx error.
func (inv *Invoker) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	if err := inv.breaker.Allow(); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}

	err := inv.attempt(ctx, operation, fn)
	inv.breaker.Record(err == nil)
	return err
}

// attempt runs the retry loop inside the hard budget. It never touches the
// breaker.
func (inv *Invoker) attempt(ctx context.Context, operation string, fn func(context.Context) error) error {
	ictx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn(ictx)
		if lastErr == nil {
			return nil
		}

		if err := inv.deadlineErr(ctx, ictx, operation); err != nil {
			return err
		}

		// attempt also numbers the upcoming retry: retry n follows attempt n.
		if attempt > inv.retry.MaxRetries {
			return fmt.Errorf("%s: %w: %w", operation, ErrRetryExhausted, lastErr)
		}
		if !inv.retry.Retryable(lastErr) {
			return fmt.Errorf("%s: %w", operation, lastErr)
		}

		delay := inv.retry.Delay(attempt)
		inv.logger.Debug("retrying after transient failure",
			"operation", operation,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr)

		if err := Wait(ictx, delay); err != nil {
			if derr := inv.deadlineErr(ctx, ictx, operation); derr != nil {
				return derr
			}
			return fmt.Errorf("%s: %w", operation, err)
		}
	}
}

// deadlineErr distinguishes the invoker's own budget expiring (ErrTimeout)
// from the caller cancelling its context (propagated unchanged).
func (inv *Invoker) deadlineErr(ctx, ictx context.Context, operation string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", operation, ctx.Err())
	}
	if errors.Is(ictx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w after %s", operation, ErrTimeout, inv.timeout)
	}
	return nil
}
