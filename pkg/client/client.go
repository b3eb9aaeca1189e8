// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package client is the top-level entry point. It wires configuration,
// the credential lifecycle, resilience, create deduplication, and the
// production write guard into a single invocation surface; hosts bring
// the actual API calls.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ledgerline/qbolink/pkg/client/config"
	"github.com/ledgerline/qbolink/pkg/client/credentials"
	"github.com/ledgerline/qbolink/pkg/client/exchange"
	"github.com/ledgerline/qbolink/pkg/client/guard"
	"github.com/ledgerline/qbolink/pkg/client/idempotency"
	"github.com/ledgerline/qbolink/pkg/client/logging"
	"github.com/ledgerline/qbolink/pkg/client/oauth"
	"github.com/ledgerline/qbolink/pkg/client/resilience"
	"github.com/ledgerline/qbolink/pkg/client/storage"
)

// keyFileName is the auto-generated credential encryption key, used when
// no key is configured.
const keyFileName = "credentials.key"

// Request describes one remote operation to run under the client's
// guarantees.
type Request struct {
	// Operation names the call in logs and error text, e.g. "create invoice".
	Operation string
	// Class drives the production write guard.
	Class guard.Class
	// IdempotencyKey deduplicates creates when set. Build one with
	// IdempotencyKey.
	IdempotencyKey string
}

// Result is what an operation produced.
type Result struct {
	EntityType string
	EntityID   string
	// Duplicate is true when the result was served from the idempotency
	// store and no remote call was made.
	Duplicate bool
	// Body carries the operation's decoded response, when fn provides one.
	Body any
}

// InvokeFunc performs the remote call using an authenticated handle. It
// must honor ctx, which carries the invocation's time budget.
type InvokeFunc func(ctx context.Context, handle *credentials.Handle) (*Result, error)

// Client composes the credential manager, invoker, idempotency store,
// and write guard behind one API.
type Client struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *storage.Store
	creds   *credentials.Manager
	policy  guard.Policy
	idem    *idempotency.Store
	invoker *resilience.Invoker

	// construction-time injectables
	httpClient  *http.Client
	openBrowser func(url string) error
	flow        credentials.Authorizer
}

// New builds a client from cfg. A nil cfg loads configuration from the
// default file and environment variables.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	var err error
	if cfg == nil {
		cfg, err = config.LoadWithDefaults()
		if err != nil {
			return nil, fmt.Errorf("loading configuration: %w", err)
		}
	} else {
		cfg.ApplyDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger, err = logging.New(os.Stderr, logging.Config{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
		})
		if err != nil {
			return nil, err
		}
	}

	key, err := cfg.DecodeCredentialsKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		key, err = storage.LoadOrCreateKey(filepath.Join(cfg.DataDir, keyFileName))
		if err != nil {
			return nil, err
		}
	}

	c.store, err = storage.New(cfg.CredentialsPath, key, c.logger)
	if err != nil {
		return nil, err
	}

	exchanger := exchange.NewClient(exchange.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthURL:      cfg.GetAuthURL(),
		TokenURL:     cfg.GetTokenURL(),
		RevokeURL:    cfg.GetRevokeURL(),
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.GetScopes(),
	}, c.httpClient)

	flow := c.flow
	if flow == nil {
		flow = &oauth.Flow{
			Exchanger:   exchanger,
			Port:        cfg.CallbackPort,
			Logger:      c.logger,
			OpenBrowser: c.openBrowser,
		}
	}

	c.creds, err = credentials.NewManager(cfg, c.store,
		credentials.WithLogger(c.logger),
		credentials.WithExchanger(exchanger),
		credentials.WithFlow(flow),
	)
	if err != nil {
		return nil, err
	}

	c.policy = guard.FromConfig(cfg)
	c.idem = idempotency.New(cfg.IdempotencyPath,
		cfg.Idempotency.TTL.Std(), cfg.Idempotency.CleanupInterval.Std(), c.logger)

	breaker := resilience.NewBreaker("qbo-api",
		cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown.Std(),
		resilience.WithOnStateChange(func(name string, from, to resilience.BreakerState) {
			c.logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		}))

	c.invoker = resilience.NewInvoker(breaker, resilience.RetryPolicy{
		MaxRetries:        cfg.Retry.MaxRetries,
		InitialDelay:      cfg.Retry.InitialDelay.Std(),
		Multiplier:        cfg.Retry.Multiplier,
		RetryableStatuses: cfg.Retry.RetryableStatuses,
	}, cfg.InvokeTimeout.Std(), c.logger)

	return c, nil
}

// Invoke runs one operation under the full stack, in order: the
// production write guard, idempotency lookup, authentication, then the
// resilient invoker (breaker, retries, hard time budget). On success
// with an idempotency key the result is recorded best-effort; a failed
// record is logged, never fatal.
func (c *Client) Invoke(ctx context.Context, req Request, fn InvokeFunc) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation function is required")
	}
	if err := c.policy.Check(req.Class); err != nil {
		return nil, err
	}

	log := c.logger.With("operation", req.Operation, "invocation", uuid.NewString())

	if req.IdempotencyKey != "" {
		if entry, ok := c.idem.Check(ctx, req.IdempotencyKey); ok {
			log.Info("duplicate create suppressed",
				"entityType", entry.EntityType, "entityId", entry.EntityID)
			return &Result{
				EntityType: entry.EntityType,
				EntityID:   entry.EntityID,
				Duplicate:  true,
			}, nil
		}
	}

	handle, err := c.creds.EnsureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	var result *Result
	err = c.invoker.Do(ctx, req.Operation, func(ictx context.Context) error {
		r, err := fn(ictx, handle)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &Result{}
	}

	if req.IdempotencyKey != "" {
		if err := c.idem.Record(ctx, req.IdempotencyKey, result.EntityID, result.EntityType); err != nil {
			log.Warn("recording idempotency entry", "error", err)
		}
	}

	return result, nil
}

// EnsureAuthenticated makes sure a live credential exists, running the
// interactive authorization flow if needed, and returns the handle.
func (c *Client) EnsureAuthenticated(ctx context.Context) (*credentials.Handle, error) {
	return c.creds.EnsureAuthenticated(ctx)
}

// SignOut revokes and purges stored credentials.
func (c *Client) SignOut(ctx context.Context) error {
	return c.creds.SignOut(ctx)
}

// AuthState reports where the credential lifecycle currently stands.
func (c *Client) AuthState() credentials.State {
	return c.creds.State()
}

// Config returns the resolved configuration the client runs with.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// IdempotencyKey derives a deterministic deduplication key from the
// fields that identify a create. See idempotency.Key for the contract.
func IdempotencyKey(fields ...string) string {
	return idempotency.Key(fields...)
}
