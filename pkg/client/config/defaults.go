// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package config

// Environment names. The environment selects endpoint defaults and decides
// whether the production write gates apply.
const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

// ScopeAccounting grants access to the accounting API. Add "openid",
// "profile" and "email" to receive an id_token for identity logging.
const ScopeAccounting = "com.intuit.quickbooks.accounting"

// DefaultCallbackPort is the loopback port for the authorization redirect.
// The registered redirect URI must use the same port.
const DefaultCallbackPort = 8000

// EnvironmentConfig holds per-environment endpoint defaults. The OAuth
// endpoints are shared across environments; only the API base differs.
type EnvironmentConfig struct {
	AuthURL     string
	TokenURL    string
	RevokeURL   string
	UserInfoURL string
	APIBaseURL  string
}

var (
	SandboxDefaults = EnvironmentConfig{
		AuthURL:     "https://appcenter.intuit.com/connect/oauth2",
		TokenURL:    "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
		RevokeURL:   "https://developer.api.intuit.com/v2/oauth2/tokens/revoke",
		UserInfoURL: "https://sandbox-accounts.platform.intuit.com/v1/openid_connect/userinfo",
		APIBaseURL:  "https://sandbox-quickbooks.api.intuit.com",
	}

	ProductionDefaults = EnvironmentConfig{
		AuthURL:     "https://appcenter.intuit.com/connect/oauth2",
		TokenURL:    "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
		RevokeURL:   "https://developer.api.intuit.com/v2/oauth2/tokens/revoke",
		UserInfoURL: "https://accounts.platform.intuit.com/v1/openid_connect/userinfo",
		APIBaseURL:  "https://quickbooks.api.intuit.com",
	}
)

// GetEnvironmentDefaults returns the endpoint defaults for an environment.
func GetEnvironmentDefaults(environment string) *EnvironmentConfig {
	switch environment {
	case EnvProduction:
		return &ProductionDefaults
	default:
		return &SandboxDefaults
	}
}

// GetAuthURL returns the authorization URL for the configured environment.
func (c *Config) GetAuthURL() string {
	return GetEnvironmentDefaults(c.Environment).AuthURL
}

// GetTokenURL returns the token URL for the configured environment.
func (c *Config) GetTokenURL() string {
	return GetEnvironmentDefaults(c.Environment).TokenURL
}

// GetRevokeURL returns the token revocation URL for the configured environment.
func (c *Config) GetRevokeURL() string {
	return GetEnvironmentDefaults(c.Environment).RevokeURL
}

// GetAPIBaseURL returns the accounting API base URL for the configured
// environment.
func (c *Config) GetAPIBaseURL() string {
	return GetEnvironmentDefaults(c.Environment).APIBaseURL
}

// GetScopes returns the scopes to request, falling back to the accounting
// scope.
func (c *Config) GetScopes() []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	return []string{ScopeAccounting}
}
