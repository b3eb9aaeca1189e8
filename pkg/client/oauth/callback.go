// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"
)

// callbackPath must match the path component of the redirect URI
// registered with the provider.
const callbackPath = "/callback"

// callbackResult holds the parameters the provider redirect carried
type callbackResult struct {
	Code             string
	State            string
	RealmID          string
	Error            string
	ErrorDescription string
}

// callbackServer manages the local HTTP server for OAuth callbacks
type callbackServer struct {
	server        *http.Server
	listener      net.Listener
	expectedState string
	result        chan callbackResult
	once          sync.Once
}

// newCallbackServer binds a loopback listener on the configured port.
// The port is fixed because the redirect URI registered with the
// provider names it; port 0 picks a free one for tests.
func newCallbackServer(port int, expectedState string) (*callbackServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("creating listener: %w", err)
	}

	cs := &callbackServer{
		listener:      listener,
		expectedState: expectedState,
		result:        make(chan callbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, cs.handleCallback)

	cs.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return cs, nil
}

// start begins listening for callbacks
func (cs *callbackServer) start() {
	go cs.server.Serve(cs.listener) //nolint:errcheck
}

// addr returns the bound listener address
func (cs *callbackServer) addr() string {
	return cs.listener.Addr().String()
}

// waitForCallback waits for the OAuth callback or context cancellation
func (cs *callbackServer) waitForCallback(ctx context.Context) (callbackResult, error) {
	select {
	case result := <-cs.result:
		return result, nil
	case <-ctx.Done():
		return callbackResult{}, ctx.Err()
	}
}

// close shuts the server down, letting an in-flight handler finish
// rendering the confirmation page first.
func (cs *callbackServer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cs.server.Shutdown(ctx) //nolint:errcheck
}

// handleCallback parses the redirect and hands the result to the
// waiting flow exactly once. Later requests still get a page but
// cannot replace the first result.
func (cs *callbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result := callbackResult{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		RealmID:          query.Get("realmId"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	cs.once.Do(func() {
		cs.result <- result
	})

	switch {
	case result.Error != "":
		cs.renderErrorPage(w, result.Error, result.ErrorDescription)
	case result.State != cs.expectedState:
		cs.renderErrorPage(w, "state_mismatch", "The authorization response did not match this session.")
	case result.Code == "" || result.RealmID == "":
		cs.renderErrorPage(w, "invalid_callback", "The authorization response was missing required parameters.")
	default:
		cs.renderSuccessPage(w)
	}
}

// renderSuccessPage shows a success message to the user
func (cs *callbackServer) renderSuccessPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	tmpl := template.Must(template.New("success").Parse(successPageTemplate))
	tmpl.Execute(w, nil) //nolint:errcheck
}

// renderErrorPage shows an error message to the user
func (cs *callbackServer) renderErrorPage(w http.ResponseWriter, error, description string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)

	data := struct {
		Error       string
		Description string
	}{
		Error:       error,
		Description: description,
	}

	tmpl := template.Must(template.New("error").Parse(errorPageTemplate))
	tmpl.Execute(w, data) //nolint:errcheck
}

// HTML templates for callback pages
const successPageTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>Authorization Successful</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background: linear-gradient(135deg, #0f7038 0%, #2ca01c 100%);
        }
        .container {
            background: white;
            padding: 3rem;
            border-radius: 10px;
            box-shadow: 0 10px 40px rgba(0,0,0,0.5);
            text-align: center;
            max-width: 400px;
        }
        h1 { color: #333; margin: 0 0 1rem 0; }
        .checkmark {
            font-size: 64px;
            color: #2ca01c;
            margin-bottom: 1rem;
        }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <div class="checkmark">✓</div>
        <h1>Authorization Successful!</h1>
        <p>Your company is connected. You can close this window and return to the terminal.</p>
    </div>
</body>
</html>`

const errorPageTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>Authorization Failed</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background: linear-gradient(135deg, #f093fb 0%, #f5576c 100%);
        }
        .container {
            background: white;
            padding: 3rem;
            border-radius: 10px;
            box-shadow: 0 10px 40px rgba(0,0,0,0.2);
            text-align: center;
            max-width: 400px;
        }
        h1 { color: #333; margin: 0 0 1rem 0; }
        .error-icon {
            font-size: 64px;
            color: #f44336;
            margin-bottom: 1rem;
        }
        p { color: #666; margin: 0; }
        .error-details {
            background: #f5f5f5;
            padding: 1rem;
            border-radius: 5px;
            margin-top: 1rem;
            font-size: 0.9em;
        }
    </style>
</head>
<body>
    <div class="container">
        <div class="error-icon">✗</div>
        <h1>Authorization Failed</h1>
        <p>An error occurred during authorization.</p>
        {{if .Error}}
        <div class="error-details">
            <strong>Error:</strong> {{.Error}}<br>
            {{if .Description}}<strong>Details:</strong> {{.Description}}{{end}}
        </div>
        {{end}}
        <p style="margin-top: 1rem;">Please close this window and try again.</p>
    </div>
</body>
</html>`
