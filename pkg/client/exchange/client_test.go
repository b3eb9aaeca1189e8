// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package exchange

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(serverURL string) Config {
	return Config{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		AuthURL:      serverURL + "/authorize",
		TokenURL:     serverURL + "/token",
		RevokeURL:    serverURL + "/revoke",
		RedirectURL:  "http://localhost:8000/callback",
		Scopes:       []string{"com.intuit.quickbooks.accounting"},
	}
}

// makeJWT builds an unsigned JWT carrying the given claims.
func makeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "."
}

func TestClient_Exchange(t *testing.T) {
	idToken := makeJWT(t, map[string]any{"sub": "user-1", "email": "dev@example.com"})

	var gotForm url.Values
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		gotUser, gotPass, _ = r.BasicAuth()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"token_type":"bearer","id_token":"%s"}`, idToken)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client())
	tok, err := client.Exchange(context.Background(), "auth-code-1")
	require.NoError(t, err)

	assert.Equal(t, "at-1", tok.AccessToken)
	assert.Equal(t, "rt-1", tok.RefreshToken)
	assert.Equal(t, idToken, tok.IDToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, 10*time.Second)

	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "auth-code-1", gotForm.Get("code"))
	assert.Equal(t, "http://localhost:8000/callback", gotForm.Get("redirect_uri"))
	assert.Equal(t, "test-client", gotUser, "client credentials must travel as basic auth")
	assert.Equal(t, "test-secret", gotPass)
}

func TestClient_Refresh_Rotation(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-2","refresh_token":"rt-2","expires_in":3600,"token_type":"bearer"}`)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client())
	tok, err := client.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotForm.Get("grant_type"))
	assert.Equal(t, "rt-1", gotForm.Get("refresh_token"))
	assert.Equal(t, "at-2", tok.AccessToken)
	assert.Equal(t, "rt-2", tok.RefreshToken, "the rotated refresh token must be surfaced")
}

func TestClient_Refresh_NoRotationKeepsOriginal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-2","expires_in":3600,"token_type":"bearer"}`)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client())
	tok, err := client.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "rt-1", tok.RefreshToken)
}

func TestClient_Refresh_TerminalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token invalid"}`)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client())
	_, err := client.Refresh(context.Background(), "rt-stale")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenExpiredOrRevoked)

	var terr *TokenError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusBadRequest, terr.StatusCode)
	assert.Equal(t, "invalid_grant", terr.Code)
}

func TestClient_Refresh_UnauthorizedIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client())
	_, err := client.Refresh(context.Background(), "rt-1")
	assert.ErrorIs(t, err, ErrTokenExpiredOrRevoked)
}

func TestClient_Refresh_TransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"server_error"}`)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client())
	_, err := client.Refresh(context.Background(), "rt-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenExpiredOrRevoked)

	var terr *TokenError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusServiceUnavailable, terr.HTTPStatus())
}

func TestClient_AuthCodeURL(t *testing.T) {
	client := NewClient(testConfig("https://provider.example.com"), nil)

	u, err := url.Parse(client.AuthCodeURL("state-xyz"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "state-xyz", q.Get("state"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "test-client", q.Get("client_id"))
	assert.Equal(t, "com.intuit.quickbooks.accounting", q.Get("scope"))
	assert.Equal(t, "http://localhost:8000/callback", q.Get("redirect_uri"))
}

func TestClient_Revoke(t *testing.T) {
	var gotBody map[string]string
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client())
	require.NoError(t, client.Revoke(context.Background(), "rt-1"))

	assert.Equal(t, "rt-1", gotBody["token"])
	assert.Equal(t, "test-client", gotUser)
	assert.Equal(t, "test-secret", gotPass)
}

func TestClient_Revoke_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_request"}`)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client())
	err := client.Revoke(context.Background(), "rt-1")
	require.Error(t, err)

	var terr *TokenError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusBadRequest, terr.StatusCode)
	assert.Equal(t, "invalid_request", terr.Code)
}

func TestTokenError_Terminal(t *testing.T) {
	tests := []struct {
		name string
		err  TokenError
		want bool
	}{
		{name: "unauthorized", err: TokenError{StatusCode: 401}, want: true},
		{name: "invalid grant", err: TokenError{StatusCode: 400, Code: "invalid_grant"}, want: true},
		{name: "invalid token", err: TokenError{StatusCode: 400, Code: "invalid_token"}, want: true},
		{name: "malformed request", err: TokenError{StatusCode: 400, Code: "invalid_request"}, want: false},
		{name: "server error", err: TokenError{StatusCode: 503, Code: "server_error"}, want: false},
		{name: "bare 500", err: TokenError{StatusCode: 500}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Terminal())
			assert.Equal(t, tt.want, errors.Is(&tt.err, ErrTokenExpiredOrRevoked))
		})
	}
}

func TestParseIdentity(t *testing.T) {
	idToken := makeJWT(t, map[string]any{"sub": "user-1", "email": "dev@example.com"})

	ident, err := ParseIdentity(idToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", ident.Subject)
	assert.Equal(t, "dev@example.com", ident.Email)
}

func TestParseIdentity_Malformed(t *testing.T) {
	_, err := ParseIdentity("not-a-jwt")
	assert.Error(t, err)
}
