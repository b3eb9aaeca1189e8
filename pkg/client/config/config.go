// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package config resolves the client configuration from a YAML file,
// environment variable overrides, and built-in defaults, in that order.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigPathEnvVar overrides the default config file location.
	ConfigPathEnvVar = "QBOLINK_CONFIG"

	appDir         = "qbolink"
	configFileName = "config.yaml"
)

// Duration is a time.Duration that unmarshals from YAML either as a Go
// duration string ("30s", "1h") or as a bare integer of milliseconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if err := value.Decode(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value on line %d", value.Line)
	}
	parsed, err := parseDurationValue(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// RetryConfig tunes the retry policy applied to token refresh and invocations.
type RetryConfig struct {
	MaxRetries        int      `yaml:"max_retries"`
	InitialDelay      Duration `yaml:"initial_delay"`
	Multiplier        float64  `yaml:"multiplier"`
	RetryableStatuses []int    `yaml:"retryable_statuses"`
}

// BreakerConfig tunes the circuit breaker guarding the API dependency.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	Cooldown         Duration `yaml:"cooldown"`
}

// IdempotencyConfig tunes the create-deduplication store.
type IdempotencyConfig struct {
	TTL             Duration `yaml:"ttl"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// Config represents the full client configuration.
type Config struct {
	// OAuth application credentials registered with the provider
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Environment  string   `yaml:"environment"` // "sandbox" or "production"
	Scopes       []string `yaml:"scopes"`

	// Callback listener for the interactive authorization flow. The redirect
	// URI must match the one registered with the provider exactly.
	CallbackPort int    `yaml:"callback_port"`
	RedirectURI  string `yaml:"redirect_uri"`

	// Headless bootstrap: a pre-issued refresh token and realm skip the
	// browser flow entirely. Rotated tokens are still persisted.
	RefreshToken string `yaml:"refresh_token"`
	RealmID      string `yaml:"realm_id"`

	// Storage paths and credential encryption key (base64, 32 bytes).
	CredentialsPath string `yaml:"credentials_path"`
	CredentialsKey  string `yaml:"credentials_key"`
	IdempotencyPath string `yaml:"idempotency_path"`

	// End-to-end budget for one invocation attempt sequence.
	InvokeTimeout Duration `yaml:"invoke_timeout"`

	Retry       RetryConfig       `yaml:"retry"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`

	// Production write gates. Both default to off; sandbox ignores them.
	AllowProductionCreates bool `yaml:"allow_production_creates"`
	AllowProductionDeletes bool `yaml:"allow_production_deletes"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Populated from XDG, not from the file.
	DataDir   string `yaml:"-"`
	ConfigDir string `yaml:"-"`
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config from QBOLINK_CONFIG or the default XDG
// location, applies environment variable overrides, and fills defaults.
// A missing config file is not an error; env vars alone can configure
// the client.
func LoadWithDefaults() (*Config, error) {
	configPath := os.Getenv(ConfigPathEnvVar)
	if configPath == "" {
		configPath = filepath.Join(xdg.ConfigHome, appDir, configFileName)
	}

	cfg, err := Load(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &Config{}
	}

	if err := cfg.ApplyEnvVars(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return cfg, nil
}

// ApplyEnvVars applies QBOLINK_* environment variable overrides.
func (c *Config) ApplyEnvVars() error {
	setString("QBOLINK_CLIENT_ID", &c.ClientID)
	setString("QBOLINK_CLIENT_SECRET", &c.ClientSecret)
	setString("QBOLINK_ENVIRONMENT", &c.Environment)
	setString("QBOLINK_REDIRECT_URI", &c.RedirectURI)
	setString("QBOLINK_REFRESH_TOKEN", &c.RefreshToken)
	setString("QBOLINK_REALM_ID", &c.RealmID)
	setString("QBOLINK_CREDENTIALS_PATH", &c.CredentialsPath)
	setString("QBOLINK_CREDENTIALS_KEY", &c.CredentialsKey)
	setString("QBOLINK_IDEMPOTENCY_PATH", &c.IdempotencyPath)
	setString("QBOLINK_LOG_LEVEL", &c.LogLevel)
	setString("QBOLINK_LOG_FORMAT", &c.LogFormat)

	if err := setInt("QBOLINK_CALLBACK_PORT", &c.CallbackPort); err != nil {
		return err
	}
	if err := setBool("QBOLINK_ALLOW_PRODUCTION_CREATES", &c.AllowProductionCreates); err != nil {
		return err
	}
	if err := setBool("QBOLINK_ALLOW_PRODUCTION_DELETES", &c.AllowProductionDeletes); err != nil {
		return err
	}
	if err := setDuration("QBOLINK_INVOKE_TIMEOUT", &c.InvokeTimeout); err != nil {
		return err
	}

	if err := setInt("QBOLINK_RETRY_MAX_RETRIES", &c.Retry.MaxRetries); err != nil {
		return err
	}
	if err := setDuration("QBOLINK_RETRY_INITIAL_DELAY", &c.Retry.InitialDelay); err != nil {
		return err
	}
	if v := os.Getenv("QBOLINK_RETRY_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parsing QBOLINK_RETRY_MULTIPLIER: %w", err)
		}
		c.Retry.Multiplier = f
	}
	if v := os.Getenv("QBOLINK_RETRY_STATUSES"); v != "" {
		statuses, err := parseStatusList(v)
		if err != nil {
			return fmt.Errorf("parsing QBOLINK_RETRY_STATUSES: %w", err)
		}
		c.Retry.RetryableStatuses = statuses
	}

	if err := setInt("QBOLINK_BREAKER_THRESHOLD", &c.Breaker.FailureThreshold); err != nil {
		return err
	}
	if err := setDuration("QBOLINK_BREAKER_COOLDOWN", &c.Breaker.Cooldown); err != nil {
		return err
	}

	if err := setDuration("QBOLINK_IDEMPOTENCY_TTL", &c.Idempotency.TTL); err != nil {
		return err
	}
	if err := setDuration("QBOLINK_IDEMPOTENCY_CLEANUP_INTERVAL", &c.Idempotency.CleanupInterval); err != nil {
		return err
	}

	return nil
}

// ApplyDefaults fills any unset option with its default value. It must run
// after file load and env overrides so that path defaults see the final
// environment name.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvSandbox
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{ScopeAccounting}
	}
	if c.CallbackPort == 0 {
		c.CallbackPort = DefaultCallbackPort
	}
	if c.RedirectURI == "" {
		c.RedirectURI = fmt.Sprintf("http://localhost:%d/callback", c.CallbackPort)
	}

	if c.DataDir == "" {
		c.DataDir = filepath.Join(xdg.DataHome, appDir)
	}
	if c.ConfigDir == "" {
		c.ConfigDir = filepath.Join(xdg.ConfigHome, appDir)
	}
	if c.CredentialsPath == "" {
		c.CredentialsPath = filepath.Join(c.DataDir, "credentials-"+c.Environment+".enc")
	}
	if c.IdempotencyPath == "" {
		c.IdempotencyPath = filepath.Join(c.DataDir, "idempotency.json")
	}

	if c.InvokeTimeout == 0 {
		c.InvokeTimeout = Duration(30 * time.Second)
	}

	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = Duration(time.Second)
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2.0
	}
	if len(c.Retry.RetryableStatuses) == 0 {
		c.Retry.RetryableStatuses = []int{429, 500, 502, 503, 504}
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.Cooldown == 0 {
		c.Breaker.Cooldown = Duration(30 * time.Second)
	}

	if c.Idempotency.TTL == 0 {
		c.Idempotency.TTL = Duration(24 * time.Hour)
	}
	if c.Idempotency.CleanupInterval == 0 {
		c.Idempotency.CleanupInterval = Duration(time.Hour)
	}
}

// Validate checks that required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required (set client_id in config or QBOLINK_CLIENT_ID env var)")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client secret is required (set client_secret in config or QBOLINK_CLIENT_SECRET env var)")
	}
	if c.Environment != EnvSandbox && c.Environment != EnvProduction {
		return fmt.Errorf("unknown environment %q (expected %q or %q)", c.Environment, EnvSandbox, EnvProduction)
	}
	if c.CallbackPort < 1 || c.CallbackPort > 65535 {
		return fmt.Errorf("callback port %d out of range", c.CallbackPort)
	}
	if c.RefreshToken != "" && c.RealmID == "" {
		return fmt.Errorf("realm_id is required when refresh_token is provided")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1, got %v", c.Retry.Multiplier)
	}
	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("retry initial_delay must be positive")
	}
	for _, status := range c.Retry.RetryableStatuses {
		if status < 100 || status > 599 {
			return fmt.Errorf("retryable status %d is not a valid HTTP status", status)
		}
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure_threshold must be >= 1")
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker cooldown must be positive")
	}
	if c.InvokeTimeout <= 0 {
		return fmt.Errorf("invoke_timeout must be positive")
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency ttl must be positive")
	}
	if c.Idempotency.CleanupInterval <= 0 {
		return fmt.Errorf("idempotency cleanup_interval must be positive")
	}
	if _, err := c.DecodeCredentialsKey(); err != nil {
		return err
	}
	return nil
}

// DecodeCredentialsKey decodes the configured credential encryption key.
// Returns nil when no key is configured (the store then manages its own
// key file).
func (c *Config) DecodeCredentialsKey() ([]byte, error) {
	if c.CredentialsKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("decoding credentials key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credentials key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(key string, dst *Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := parseDurationValue(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = Duration(d)
	return nil
}

// parseDurationValue accepts a Go duration string or a bare integer of
// milliseconds.
func parseDurationValue(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", s, err)
	}
	return d, nil
}

func parseStatusList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	statuses := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, n)
	}
	return statuses, nil
}
