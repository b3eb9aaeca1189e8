// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/ledgerline/qbolink/pkg/client/resilience"
)

// ErrTokenExpiredOrRevoked marks provider responses that mean the
// stored refresh token can never work again. Callers must purge the
// credential and re-authorize instead of retrying.
var ErrTokenExpiredOrRevoked = errors.New("refresh token expired or revoked")

// terminalCodes is the closed set of OAuth error codes that invalidate
// a refresh token outright.
var terminalCodes = map[string]bool{
	"invalid_grant": true,
	"invalid_token": true,
}

// TokenError is a structured error response from a token endpoint.
type TokenError struct {
	StatusCode  int
	Code        string
	Description string
}

var _ resilience.StatusCoder = (*TokenError)(nil)

func (e *TokenError) Error() string {
	msg := fmt.Sprintf("token endpoint returned HTTP %d", e.StatusCode)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

// HTTPStatus exposes the response status for retry classification.
func (e *TokenError) HTTPStatus() int {
	return e.StatusCode
}

// Terminal reports whether the provider response invalidates the
// refresh token.
func (e *TokenError) Terminal() bool {
	return e.StatusCode == http.StatusUnauthorized || terminalCodes[e.Code]
}

// Unwrap lets errors.Is match terminal responses against
// ErrTokenExpiredOrRevoked.
func (e *TokenError) Unwrap() error {
	if e.Terminal() {
		return ErrTokenExpiredOrRevoked
	}
	return nil
}

// errorBody is the OAuth 2.0 error response shape.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// wrapTokenError converts oauth2 retrieval failures into TokenError so
// callers can classify them. Transport errors pass through unchanged.
func wrapTokenError(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	terr := &TokenError{Code: rerr.ErrorCode, Description: rerr.ErrorDescription}
	if rerr.Response != nil {
		terr.StatusCode = rerr.Response.StatusCode
	}
	if terr.Code == "" {
		var body errorBody
		if json.Unmarshal(rerr.Body, &body) == nil {
			terr.Code = body.Error
			terr.Description = body.ErrorDescription
		}
	}

	return fmt.Errorf("%s: %w", op, terr)
}

func newHTTPTokenError(statusCode int, payload []byte) error {
	terr := &TokenError{StatusCode: statusCode}
	var body errorBody
	if json.Unmarshal(payload, &body) == nil && body.Error != "" {
		terr.Code = body.Error
		terr.Description = body.ErrorDescription
	}
	return terr
}
