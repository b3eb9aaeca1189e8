// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package idempotency deduplicates create operations across retries and
// process restarts.
//
// Callers check a key before issuing a remote create and record it
// after success. A hit means the operation already ran and the cached
// entity must be reused instead of re-issuing the call. The store does
// not serialize concurrent creates across processes; the remote service
// remains the source of truth.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	dirPerm  = 0700
	filePerm = 0600
)

// Entry is one recorded create operation.
type Entry struct {
	EntityID   string    `json:"entityId"`
	EntityType string    `json:"entityType"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// fileFormat is the on-disk shape of the store.
type fileFormat struct {
	Entries     map[string]Entry `json:"entries"`
	LastCleanup time.Time        `json:"lastCleanup"`
}

// Store is a persistent key to entity mapping with TTL expiry. Every
// mutation rewrites the whole file; entry volume is expected to stay
// small and durability matters more than write throughput.
type Store struct {
	path            string
	ttl             time.Duration
	cleanupInterval time.Duration
	logger          *slog.Logger

	mu          sync.Mutex
	entries     map[string]Entry
	lastCleanup time.Time

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New opens the store at path. A missing file starts empty. An
// unreadable or corrupt file is logged and likewise starts empty,
// since losing dedup state only degrades to re-issuing a create.
func New(path string, ttl, cleanupInterval time.Duration, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:            path,
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		logger:          logger,
		entries:         make(map[string]Entry),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()

	return s
}

// Check returns the entry recorded under key. Expired entries are
// treated as absent and removed as a side effect. At most once per
// cleanup interval, a check also sweeps every stale entry from the
// store.
func (s *Store) Check(ctx context.Context, key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dirty := s.sweepLocked(now)

	entry, ok := s.entries[key]
	if ok && !entry.ExpiresAt.After(now) {
		delete(s.entries, key)
		dirty = true
		ok = false
	}

	if dirty {
		if err := s.persistLocked(); err != nil {
			s.logger.Warn("persisting idempotency store", "path", s.path, "error", err)
		}
	}

	if !ok {
		return Entry{}, false
	}
	return entry, true
}

// Record stores key with the created entity, overwriting any previous
// entry. A persistence failure is returned so the caller can log it;
// dedup state is best effort and the created entity is still valid.
func (s *Store) Record(ctx context.Context, key, entityID, entityType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries[key] = Entry{
		EntityID:   entityID,
		EntityType: entityType,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}

	return s.persistLocked()
}

// Remove deletes key from the store. Removing an absent key is not an
// error.
func (s *Store) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)

	return s.persistLocked()
}

// sweepLocked removes every expired entry when the cleanup interval has
// elapsed since the last sweep. It reports whether the store changed.
func (s *Store) sweepLocked(now time.Time) bool {
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return false
	}

	for key, entry := range s.entries {
		if !entry.ExpiresAt.After(now) {
			delete(s.entries, key)
		}
	}
	s.lastCleanup = now

	return true
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("reading idempotency store, starting empty", "path", s.path, "error", err)
		}
		return
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn("idempotency store is corrupt, starting empty", "path", s.path, "error", err)
		return
	}

	if f.Entries != nil {
		s.entries = f.Entries
	}
	s.lastCleanup = f.LastCleanup
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(fileFormat{Entries: s.entries, LastCleanup: s.lastCleanup}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling idempotency store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return fmt.Errorf("creating idempotency directory: %w", err)
	}

	// Atomic write: write to temp file, then rename
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, filePerm); err != nil {
		return fmt.Errorf("writing idempotency file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath) //nolint:errcheck // Clean up temp file on error
		return fmt.Errorf("renaming idempotency file: %w", err)
	}

	return nil
}

// Key derives a deterministic idempotency key from a canonical field
// tuple. The same fields in the same order always yield the same key,
// and the fields are length-delimited before hashing so no two distinct
// tuples share an encoding. Unrelated flows that hash identical tuples
// would still share a key, so callers should include a discriminating
// field such as the entity type.
func Key(fields ...string) string {
	h := sha256.New()
	for _, field := range fields {
		fmt.Fprintf(h, "%d:", len(field))
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}
