// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"github.com/ledgerline/qbolink/pkg/client/credentials"
	"github.com/ledgerline/qbolink/pkg/client/exchange"
	"github.com/ledgerline/qbolink/pkg/client/guard"
	"github.com/ledgerline/qbolink/pkg/client/oauth"
	"github.com/ledgerline/qbolink/pkg/client/resilience"
	"github.com/ledgerline/qbolink/pkg/client/storage"
)

// Sentinel errors surfaced by this module, aliased here so hosts can
// classify failures with errors.Is without importing every subpackage.
var (
	// ErrCSRFMismatch: the authorization callback carried a state value
	// that does not match the one issued for this attempt. The code was
	// never exchanged.
	ErrCSRFMismatch = oauth.ErrStateMismatch

	// ErrAuthFlowFailed: the interactive authorization flow failed for a
	// reason other than CSRF (denied consent, listener failure, exchange
	// rejection). Wraps the cause.
	ErrAuthFlowFailed = credentials.ErrAuthFlowFailed

	// ErrCredentialExpiredOrRevoked: the provider terminally rejected the
	// stored refresh token; local credentials were purged.
	ErrCredentialExpiredOrRevoked = exchange.ErrTokenExpiredOrRevoked

	// ErrTimeout: the invocation's end-to-end time budget elapsed.
	ErrTimeout = resilience.ErrTimeout

	// ErrCircuitOpen: the circuit breaker short-circuited the call.
	ErrCircuitOpen = resilience.ErrCircuitOpen

	// ErrRetryExhausted: a retryable failure outlived the retry budget.
	// Wraps the last underlying error.
	ErrRetryExhausted = resilience.ErrRetryExhausted

	// ErrWriteDenied: the production write guard rejected the operation.
	ErrWriteDenied = guard.ErrWriteDenied

	// ErrNoCredentials: no credentials are stored for this environment.
	ErrNoCredentials = storage.ErrNoCredentials

	// ErrStorageFailure: reading or writing the credential store failed.
	ErrStorageFailure = storage.ErrStorageFailure
)
