// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package oauth drives the interactive browser-based authorization
// flow: a short-lived local callback listener, a CSRF-protected
// redirect, and the final code exchange.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	"github.com/ledgerline/qbolink/pkg/client/exchange"
)

var (
	// ErrStateMismatch means the callback state did not match the state
	// generated for this attempt. The authorization code is discarded
	// without ever reaching the token endpoint.
	ErrStateMismatch = errors.New("state mismatch: potential CSRF attack")

	// ErrAuthorizationDenied means the provider redirected back with an
	// error instead of an authorization code.
	ErrAuthorizationDenied = errors.New("authorization denied by provider")
)

// Result is a completed authorization: the exchanged token set and the
// company realm the user granted access to.
type Result struct {
	Token   *exchange.Token
	RealmID string
}

// Flow orchestrates one browser-based authorization attempt.
type Flow struct {
	Exchanger *exchange.Client
	Port      int
	Logger    *slog.Logger

	// OpenBrowser launches the system browser; nil selects the
	// platform launcher. Launch failure is not fatal since the URL is
	// also printed.
	OpenBrowser func(url string) error

	// Out receives the user-facing authorization URL. Defaults to
	// stderr so it stays visible in headless sessions.
	Out io.Writer
}

// Authorize runs the flow to completion: listener up, browser handoff,
// callback validation, code exchange. It blocks until the user finishes
// in the browser or ctx is canceled; the listener is closed on every
// path.
func (f *Flow) Authorize(ctx context.Context) (*Result, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := f.Out
	if out == nil {
		out = os.Stderr
	}
	open := f.OpenBrowser
	if open == nil {
		open = openBrowser
	}

	// Generate state for CSRF protection, one per attempt
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}

	cs, err := newCallbackServer(f.Port, state)
	if err != nil {
		return nil, fmt.Errorf("starting callback server: %w", err)
	}
	defer cs.close()

	cs.start()

	authURL := f.Exchanger.AuthCodeURL(state)

	fmt.Fprintf(out, "Opening browser for authorization...\n")
	fmt.Fprintf(out, "If the browser doesn't open automatically, please visit:\n%s\n\n", authURL)

	if err := open(authURL); err != nil {
		logger.Warn("could not open browser, visit the URL manually", "error", err)
	}

	result, err := cs.waitForCallback(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for callback: %w", err)
	}

	if result.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrAuthorizationDenied, result.Error)
	}

	// Validate state before the code goes anywhere near the token
	// endpoint
	if result.State != state {
		return nil, ErrStateMismatch
	}
	if result.Code == "" {
		return nil, errors.New("callback carried no authorization code")
	}
	if result.RealmID == "" {
		return nil, errors.New("callback carried no realmId")
	}

	token, err := f.Exchanger.Exchange(ctx, result.Code)
	if err != nil {
		return nil, err
	}

	return &Result{Token: token, RealmID: result.RealmID}, nil
}

// generateState generates a random state parameter for CSRF protection
func generateState() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// openBrowser opens the URL in the system's default browser
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
