// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// StatusCoder is implemented by errors that carry the HTTP status of the
// response that produced them. The retry policy classifies errors through
// this interface only; it never inspects messages.
type StatusCoder interface {
	HTTPStatus() int
}

// StatusError attaches an HTTP status to an underlying error so the retry
// policy can classify it.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.Err }

// HTTPStatus implements StatusCoder.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// HTTPStatus extracts the HTTP status carried by err, if any.
func HTTPStatus(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus(), true
	}
	return 0, false
}

// RetryPolicy decides whether a failure may be retried and how long to wait
// before each retry. It is pure: the attempt loop lives with the caller.
type RetryPolicy struct {
	// MaxRetries bounds retries after the first attempt, so a call makes at
	// most MaxRetries+1 attempts.
	MaxRetries int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// Multiplier grows the delay exponentially between retries.
	Multiplier float64
	// MaxDelay caps the per-retry delay when positive.
	MaxDelay time.Duration
	// RetryableStatuses lists the HTTP statuses worth retrying.
	RetryableStatuses []int
}

// DefaultRetryPolicy returns the standard policy: 3 retries, 1s initial
// delay doubling each time, retrying rate limits and transient 5xx.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		Multiplier:        2.0,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

// Retryable reports whether err is worth retrying under this policy.
// Only errors carrying a retryable HTTP status qualify; everything else
// (validation failures, auth rejections, transport errors without a
// status) aborts immediately.
func (p RetryPolicy) Retryable(err error) bool {
	status, ok := HTTPStatus(err)
	if !ok {
		return false
	}
	for _, s := range p.RetryableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Delay returns the wait before the given retry (1-based):
// InitialDelay * Multiplier^(retry-1), capped at MaxDelay when set.
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(multiplier, float64(retry-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Wait blocks for d or until ctx ends, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
