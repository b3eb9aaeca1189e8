// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/qbolink/pkg/client/exchange"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close() //nolint:errcheck
	return l.Addr().(*net.TCPAddr).Port
}

func newExchangeClient(t *testing.T, port int, exchanged *atomic.Bool) *exchange.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exchanged != nil {
			exchanged.Store(true)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"token_type":"bearer"}`)
	}))
	t.Cleanup(srv.Close)

	return exchange.NewClient(exchange.Config{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
		RedirectURL:  fmt.Sprintf("http://localhost:%d/callback", port),
	}, srv.Client())
}

// simulateBrowser returns an OpenBrowser hook that plays the user's
// part: it lifts the state out of the authorization URL and redirects
// back to the local listener.
func simulateBrowser(t *testing.T, port int, mutate func(q url.Values)) func(string) error {
	t.Helper()
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		require.NoError(t, err)

		q := url.Values{}
		q.Set("code", "code-1")
		q.Set("state", u.Query().Get("state"))
		q.Set("realmId", "9341453989012345")
		if mutate != nil {
			mutate(q)
		}

		go func() {
			resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s?%s", port, callbackPath, q.Encode()))
			if err == nil {
				resp.Body.Close() //nolint:errcheck
			}
		}()
		return nil
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFlow_Authorize(t *testing.T) {
	port := freePort(t)
	var exchanged atomic.Bool
	var out bytes.Buffer

	flow := &Flow{
		Exchanger:   newExchangeClient(t, port, &exchanged),
		Port:        port,
		Logger:      quietLogger(),
		OpenBrowser: simulateBrowser(t, port, nil),
		Out:         &out,
	}

	res, err := flow.Authorize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "at-1", res.Token.AccessToken)
	assert.Equal(t, "rt-1", res.Token.RefreshToken)
	assert.Equal(t, "9341453989012345", res.RealmID)
	assert.True(t, exchanged.Load())
	assert.Contains(t, out.String(), "/authorize", "the authorization URL must be printed")
}

func TestFlow_StateMismatchAbortsBeforeExchange(t *testing.T) {
	port := freePort(t)
	var exchanged atomic.Bool

	flow := &Flow{
		Exchanger: newExchangeClient(t, port, &exchanged),
		Port:      port,
		Logger:    quietLogger(),
		OpenBrowser: simulateBrowser(t, port, func(q url.Values) {
			q.Set("state", "forged-state")
		}),
		Out: io.Discard,
	}

	_, err := flow.Authorize(context.Background())
	require.ErrorIs(t, err, ErrStateMismatch)
	assert.False(t, exchanged.Load(), "a mismatched state must never reach the token endpoint")
}

func TestFlow_ProviderError(t *testing.T) {
	port := freePort(t)

	flow := &Flow{
		Exchanger: newExchangeClient(t, port, nil),
		Port:      port,
		Logger:    quietLogger(),
		OpenBrowser: simulateBrowser(t, port, func(q url.Values) {
			q.Del("code")
			q.Set("error", "access_denied")
		}),
		Out: io.Discard,
	}

	_, err := flow.Authorize(context.Background())
	require.ErrorIs(t, err, ErrAuthorizationDenied)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestFlow_MissingRealmID(t *testing.T) {
	port := freePort(t)

	flow := &Flow{
		Exchanger: newExchangeClient(t, port, nil),
		Port:      port,
		Logger:    quietLogger(),
		OpenBrowser: simulateBrowser(t, port, func(q url.Values) {
			q.Del("realmId")
		}),
		Out: io.Discard,
	}

	_, err := flow.Authorize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "realmId")
}

func TestFlow_BrowserLaunchFailureIsNotFatal(t *testing.T) {
	port := freePort(t)
	browser := simulateBrowser(t, port, nil)

	flow := &Flow{
		Exchanger: newExchangeClient(t, port, nil),
		Port:      port,
		Logger:    quietLogger(),
		OpenBrowser: func(authURL string) error {
			browser(authURL) //nolint:errcheck
			return errors.New("no display")
		},
		Out: io.Discard,
	}

	res, err := flow.Authorize(context.Background())
	require.NoError(t, err, "the flow must continue when the browser cannot be opened")
	assert.Equal(t, "9341453989012345", res.RealmID)
}

func TestFlow_ContextCancellation(t *testing.T) {
	port := freePort(t)

	flow := &Flow{
		Exchanger:   newExchangeClient(t, port, nil),
		Port:        port,
		Logger:      quietLogger(),
		OpenBrowser: func(string) error { return nil }, // user never completes
		Out:         io.Discard,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := flow.Authorize(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFlow_PortAlreadyBound(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close() //nolint:errcheck
	port := l.Addr().(*net.TCPAddr).Port

	flow := &Flow{
		Exchanger:   newExchangeClient(t, port, nil),
		Port:        port,
		Logger:      quietLogger(),
		OpenBrowser: func(string) error { return nil },
		Out:         io.Discard,
	}

	_, err = flow.Authorize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting callback server")
}

func TestGenerateState(t *testing.T) {
	s1, err := generateState()
	require.NoError(t, err)
	s2, err := generateState()
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)

	raw, err := base64.RawURLEncoding.DecodeString(s1)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
