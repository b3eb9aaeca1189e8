// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ledgerline/qbolink/pkg/client/exchange"
)

// Option is a functional option for configuring the Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client for provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithExchanger replaces the provider token client. Mostly useful for
// pointing tests at a fake provider.
func WithExchanger(client *exchange.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.exchanger = client
		}
	}
}

// WithFlow replaces the interactive authorization flow.
func WithFlow(flow Authorizer) Option {
	return func(m *Manager) {
		if flow != nil {
			m.flow = flow
		}
	}
}

// WithClock overrides the manager's time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
