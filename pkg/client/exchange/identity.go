// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package exchange

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the subject information carried in an OpenID id_token.
// The provider only issues one when the openid scopes are requested.
type Identity struct {
	Subject string
	Email   string
}

// idTokenClaims extends jwt.RegisteredClaims with the profile claims
// the provider includes when the email scope is granted.
type idTokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// ParseIdentity extracts identity claims from an id_token.
func ParseIdentity(idToken string) (*Identity, error) {
	// Parse without validation (we just want to read the claims)
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(idToken, &idTokenClaims{})
	if err != nil {
		return nil, fmt.Errorf("parsing id_token: %w", err)
	}

	claims, ok := token.Claims.(*idTokenClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	return &Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
	}, nil
}
