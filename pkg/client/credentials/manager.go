// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package credentials owns the OAuth credential lifecycle: interactive
// authorization, access token refresh, refresh token rotation, and
// purge-and-reauthorize when the provider rejects the stored grant.
package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ledgerline/qbolink/pkg/client/config"
	"github.com/ledgerline/qbolink/pkg/client/exchange"
	"github.com/ledgerline/qbolink/pkg/client/oauth"
	"github.com/ledgerline/qbolink/pkg/client/resilience"
	"github.com/ledgerline/qbolink/pkg/client/storage"
)

// ErrAuthFlowFailed wraps interactive authorization failures surfaced
// to callers. CSRF state mismatches keep their own identity and are
// not wrapped.
var ErrAuthFlowFailed = errors.New("authorization flow failed")

// expirySkew is how early a session counts as stale, so an access
// token never expires mid-call.
const expirySkew = time.Minute

// State is the manager's lifecycle position.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthorizing
	StateAuthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthorizing:
		return "authorizing"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Authorizer runs one interactive authorization attempt.
type Authorizer interface {
	Authorize(ctx context.Context) (*oauth.Result, error)
}

var _ Authorizer = (*oauth.Flow)(nil)

// Handle is an opaque authenticated client handle: a live access token
// bound to the company realm it was issued for.
type Handle struct {
	accessToken string
	realmID     string
	apiBaseURL  string
	expiresAt   time.Time
}

// AccessToken returns the bearer token to send with API calls.
func (h *Handle) AccessToken() string { return h.accessToken }

// RealmID returns the company realm the token is scoped to.
func (h *Handle) RealmID() string { return h.realmID }

// APIBaseURL returns the API base for the active environment.
func (h *Handle) APIBaseURL() string { return h.apiBaseURL }

// Expiry returns when the access token stops being valid.
func (h *Handle) Expiry() time.Time { return h.expiresAt }

// session is the in-memory access credential. Never persisted.
type session struct {
	accessToken string
	expiresAt   time.Time
}

func (s *session) valid(now time.Time) bool {
	return s != nil && s.accessToken != "" && now.Add(expirySkew).Before(s.expiresAt)
}

// Manager drives the credential lifecycle for one environment.
// Concurrent callers asking for authentication while a refresh or
// authorization is in flight join that single attempt instead of
// starting another.
type Manager struct {
	exchanger   *exchange.Client
	flow        Authorizer
	store       *storage.Store
	retry       resilience.RetryPolicy
	logger      *slog.Logger
	httpClient  *http.Client
	apiBaseURL  string
	environment string

	// headless bootstrap overrides from configuration
	refreshTokenOverride string
	realmIDOverride      string

	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	state   State
	session *session
	record  *storage.Record
}

// NewManager creates a credential manager backed by store.
func NewManager(cfg *config.Config, store *storage.Store, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if store == nil {
		return nil, errors.New("credential store is required")
	}

	m := &Manager{
		store: store,
		retry: resilience.RetryPolicy{
			MaxRetries:        cfg.Retry.MaxRetries,
			InitialDelay:      cfg.Retry.InitialDelay.Std(),
			Multiplier:        cfg.Retry.Multiplier,
			RetryableStatuses: cfg.Retry.RetryableStatuses,
		},
		apiBaseURL:           cfg.GetAPIBaseURL(),
		environment:          cfg.Environment,
		refreshTokenOverride: cfg.RefreshToken,
		realmIDOverride:      cfg.RealmID,
		now:                  time.Now,
		state:                StateUnauthenticated,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.exchanger == nil {
		m.exchanger = exchange.NewClient(exchange.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			AuthURL:      cfg.GetAuthURL(),
			TokenURL:     cfg.GetTokenURL(),
			RevokeURL:    cfg.GetRevokeURL(),
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.GetScopes(),
		}, m.httpClient)
	}
	if m.flow == nil {
		m.flow = &oauth.Flow{
			Exchanger: m.exchanger,
			Port:      cfg.CallbackPort,
			Logger:    m.logger,
		}
	}

	return m, nil
}

// EnsureAuthenticated returns a handle carrying a live access token,
// performing whatever bootstrap, refresh, or interactive authorization
// that requires. Concurrent callers share a single in-flight attempt;
// a caller whose context ends stops waiting without canceling the
// shared attempt.
func (m *Manager) EnsureAuthenticated(ctx context.Context) (*Handle, error) {
	if h := m.cachedHandle(); h != nil {
		return h, nil
	}

	ch := m.group.DoChan("ensure", func() (any, error) {
		return m.ensure(ctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	}
}

// State reports the manager's lifecycle position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SignOut revokes the stored refresh token with the provider (best
// effort) and purges local credentials.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	record := m.record
	m.mu.Unlock()

	if record == nil {
		if rec, err := m.store.Load(ctx); err == nil {
			record = rec
		}
	}

	if record != nil && record.RefreshToken != "" {
		if err := m.exchanger.Revoke(ctx, record.RefreshToken); err != nil {
			m.logger.Warn("revoking refresh token", "error", err)
		}
	}

	return m.purge(ctx)
}

// cachedHandle returns a handle for the current session if it is still
// live.
func (m *Manager) cachedHandle() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil || !m.session.valid(m.now()) {
		return nil
	}
	return m.handleLocked()
}

// ensure is the single-flight body: resolve credentials, refresh, and
// fall back to interactive authorization when the provider rejects the
// stored grant.
func (m *Manager) ensure(ctx context.Context) (*Handle, error) {
	// A previous flight may have finished the job already.
	if h := m.cachedHandle(); h != nil {
		return h, nil
	}

	m.mu.Lock()
	record := m.record
	m.mu.Unlock()

	if record == nil {
		var err error
		record, err = m.bootstrap(ctx)
		if err != nil && !errors.Is(err, storage.ErrNoCredentials) {
			return nil, err
		}
	}

	// Nothing stored anywhere: interactive authorization.
	if record == nil {
		return m.authorize(ctx)
	}

	handle, err := m.refresh(ctx, record)
	if err == nil {
		return handle, nil
	}
	if !errors.Is(err, exchange.ErrTokenExpiredOrRevoked) {
		return nil, err
	}

	// The refresh token is dead. Purge it and re-authorize once.
	m.logger.Warn("stored credentials rejected by provider, re-authorizing",
		"environment", m.environment, "error", err)
	if perr := m.purge(ctx); perr != nil {
		return nil, perr
	}
	return m.authorize(ctx)
}

// bootstrap resolves initial credentials: a configured refresh token
// override wins, then the on-disk record. Returns
// storage.ErrNoCredentials when neither exists.
func (m *Manager) bootstrap(ctx context.Context) (*storage.Record, error) {
	if m.refreshTokenOverride != "" {
		m.logger.Debug("using refresh token override from configuration")
		rec := &storage.Record{
			RefreshToken: m.refreshTokenOverride,
			RealmID:      m.realmIDOverride,
			Environment:  m.environment,
			UpdatedAt:    m.now(),
		}
		m.mu.Lock()
		m.record = rec
		m.mu.Unlock()
		return rec, nil
	}

	rec, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if rec.Environment != "" && rec.Environment != m.environment {
		return nil, fmt.Errorf("stored credentials belong to environment %q, active environment is %q",
			rec.Environment, m.environment)
	}

	m.mu.Lock()
	m.record = rec
	m.mu.Unlock()
	return rec, nil
}

// authorize runs one interactive flow and persists the result.
func (m *Manager) authorize(ctx context.Context) (*Handle, error) {
	m.setState(StateAuthorizing)

	res, err := m.flow.Authorize(ctx)
	if err != nil {
		m.setState(StateUnauthenticated)
		if errors.Is(err, oauth.ErrStateMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrAuthFlowFailed, err)
	}
	if res.Token.RefreshToken == "" {
		m.setState(StateUnauthenticated)
		return nil, fmt.Errorf("%w: provider response carried no refresh token", ErrAuthFlowFailed)
	}

	rec := &storage.Record{
		RefreshToken: res.Token.RefreshToken,
		RealmID:      res.RealmID,
		Environment:  m.environment,
		UpdatedAt:    m.now(),
	}

	// Persist before announcing success
	if err := m.store.Save(ctx, rec); err != nil {
		m.setState(StateUnauthenticated)
		return nil, err
	}

	m.mu.Lock()
	m.record = rec
	m.session = &session{accessToken: res.Token.AccessToken, expiresAt: res.Token.Expiry}
	m.state = StateAuthenticated
	h := m.handleLocked()
	m.mu.Unlock()

	m.logger.Info("authorization complete",
		"environment", m.environment,
		"realm", rec.RealmID,
		"token", tokenDigest(res.Token.AccessToken),
		"expires", res.Token.Expiry)

	if res.Token.IDToken != "" {
		if ident, err := exchange.ParseIdentity(res.Token.IDToken); err == nil && ident.Subject != "" {
			m.logger.Info("authorized identity", "subject", ident.Subject, "email", ident.Email)
		}
	}

	return h, nil
}

// refresh mints a new session from the stored refresh token, retrying
// transient provider failures. A rotated refresh token is persisted
// before the new session is exposed; the old value is never used
// again.
func (m *Manager) refresh(ctx context.Context, record *storage.Record) (*Handle, error) {
	prev := m.setState(StateRefreshing)

	token, err := m.refreshWithRetry(ctx, record.RefreshToken)
	if err != nil {
		if errors.Is(err, exchange.ErrTokenExpiredOrRevoked) {
			m.setState(StateUnauthenticated)
		} else {
			// Transient failure. The stored grant is still presumed
			// good, so the lifecycle position does not move.
			m.setState(prev)
		}
		return nil, err
	}

	if token.RefreshToken != "" && token.RefreshToken != record.RefreshToken {
		updated := &storage.Record{
			RefreshToken: token.RefreshToken,
			RealmID:      record.RealmID,
			Environment:  m.environment,
			UpdatedAt:    m.now(),
		}

		// Keep the rotated token in memory even if the write fails, so
		// a later attempt refreshes with the only value that still
		// works.
		m.mu.Lock()
		m.record = updated
		m.mu.Unlock()

		if err := m.store.Save(ctx, updated); err != nil {
			m.setState(prev)
			return nil, err
		}
		m.logger.Debug("refresh token rotated", "token", tokenDigest(token.RefreshToken))
		record = updated
	}

	m.mu.Lock()
	m.record = record
	m.session = &session{accessToken: token.AccessToken, expiresAt: token.Expiry}
	m.state = StateAuthenticated
	h := m.handleLocked()
	m.mu.Unlock()

	m.logger.Debug("access token refreshed",
		"token", tokenDigest(token.AccessToken), "expires", token.Expiry)

	return h, nil
}

// refreshWithRetry retries transient refresh failures per the retry
// policy. Terminal classification aborts immediately.
func (m *Manager) refreshWithRetry(ctx context.Context, refreshToken string) (*exchange.Token, error) {
	for attempt := 1; ; attempt++ {
		token, err := m.exchanger.Refresh(ctx, refreshToken)
		if err == nil {
			return token, nil
		}

		if errors.Is(err, exchange.ErrTokenExpiredOrRevoked) {
			return nil, err
		}
		if attempt > m.retry.MaxRetries || !m.retry.Retryable(err) {
			return nil, err
		}

		delay := m.retry.Delay(attempt)
		m.logger.Debug("retrying token refresh", "attempt", attempt, "delay", delay, "error", err)
		if werr := resilience.Wait(ctx, delay); werr != nil {
			return nil, werr
		}
	}
}

// purge drops credentials from memory and disk.
func (m *Manager) purge(ctx context.Context) error {
	m.mu.Lock()
	m.session = nil
	m.record = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		return err
	}

	m.logger.Debug("credentials purged", "environment", m.environment)
	return nil
}

func (m *Manager) setState(to State) State {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()

	if from != to {
		m.logger.Debug("auth state change", "from", from, "to", to)
	}
	return from
}

// handleLocked builds a handle from the current session. Callers hold
// m.mu.
func (m *Manager) handleLocked() *Handle {
	return &Handle{
		accessToken: m.session.accessToken,
		realmID:     m.record.RealmID,
		apiBaseURL:  m.apiBaseURL,
		expiresAt:   m.session.expiresAt,
	}
}

// tokenDigest returns a short fingerprint safe for logs. Raw tokens
// never appear in log output.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}
