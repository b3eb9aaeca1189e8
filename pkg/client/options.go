// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"
	"net/http"

	"github.com/ledgerline/qbolink/pkg/client/credentials"
)

// Option adjusts how New assembles the client.
type Option func(*Client)

// WithLogger replaces the logger built from the configuration's
// log_level and log_format.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets the HTTP client used for provider calls (token
// exchange, refresh, revocation).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBrowserOpener overrides how the authorization URL is opened.
// Headless hosts can capture the URL instead of launching a browser.
func WithBrowserOpener(open func(url string) error) Option {
	return func(c *Client) {
		if open != nil {
			c.openBrowser = open
		}
	}
}

// WithAuthorizeFlow replaces the interactive authorization flow. Mostly
// useful for pointing tests at a scripted flow.
func WithAuthorizeFlow(flow credentials.Authorizer) Option {
	return func(c *Client) {
		if flow != nil {
			c.flow = flow
		}
	}
}
