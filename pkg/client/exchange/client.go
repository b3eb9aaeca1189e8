// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package exchange talks to the provider's OAuth 2.0 endpoints:
// authorization code exchange, refresh, and revocation.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Config carries the provider endpoints and app credentials for one
// environment.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	RedirectURL  string
	Scopes       []string
}

// Token is the result of an authorization code exchange or a refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	IDToken      string
}

// Client performs OAuth token operations against one provider
// environment.
type Client struct {
	conf       *oauth2.Config
	revokeURL  string
	httpClient *http.Client
}

// NewClient creates a token exchange client. A nil httpClient gets a
// default with a 30 second timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
				// The provider wants client credentials in the
				// Authorization header, not the form body.
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		revokeURL:  cfg.RevokeURL,
		httpClient: httpClient,
	}
}

// AuthCodeURL builds the provider authorization URL, embedding state as
// the CSRF token.
func (c *Client) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token set.
func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := c.conf.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, wrapTokenError("exchanging authorization code", err)
	}
	return fromOAuth2(tok), nil
}

// Refresh mints a fresh access token from a refresh token. The returned
// token carries the rotated refresh token when the provider issued one,
// and the original otherwise.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	src := c.conf.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, wrapTokenError("refreshing access token", err)
	}
	return fromOAuth2(tok), nil
}

// Revoke invalidates a refresh token with the provider.
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	payload, err := json.Marshal(map[string]string{"token": refreshToken})
	if err != nil {
		return fmt.Errorf("marshaling revocation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating revocation request: %w", err)
	}
	req.SetBasicAuth(c.conf.ClientID, c.conf.ClientSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending revocation request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("revoking refresh token: %w", newHTTPTokenError(resp.StatusCode, body))
	}

	return nil
}

// oauthContext injects the configured HTTP client into oauth2 calls.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func fromOAuth2(tok *oauth2.Token) *Token {
	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = id
	}
	return out
}
