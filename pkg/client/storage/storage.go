// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package storage persists OAuth credentials encrypted at rest.
package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// blobPrefix marks the encrypted credential format. Files without it
	// are treated as legacy plaintext and migrated on first load.
	blobPrefix = "qbolink.v1:"

	dirPerm  = 0700 // User-only directory permissions
	filePerm = 0600 // User-only file permissions

	keySize = 32 // AES-256
)

var (
	// ErrNoCredentials means no credentials have been stored yet.
	ErrNoCredentials = errors.New("no stored credentials")

	// ErrStorageFailure wraps any failure to read or persist credentials.
	ErrStorageFailure = errors.New("credential storage failure")
)

// Record is the durable credential state for one environment.
type Record struct {
	RefreshToken string    `json:"refreshToken"`
	RealmID      string    `json:"realmId"`
	Environment  string    `json:"environment"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store reads and writes an encrypted credential record at a fixed path.
type Store struct {
	path   string
	aead   cipher.AEAD
	logger *slog.Logger
}

// New creates a store for path, sealing records with the 32-byte key.
func New(path string, key []byte, logger *slog.Logger) (*Store, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes, got %d", ErrStorageFailure, keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing cipher: %w", ErrStorageFailure, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing GCM: %w", ErrStorageFailure, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Store{path: path, aead: aead, logger: logger}, nil
}

// Path returns the credential file location.
func (s *Store) Path() string {
	return s.path
}

// Save encrypts rec and replaces any previous record atomically.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if err := s.save(rec); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

func (s *Store) save(rec *Record) error {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	blob, err := s.seal(plaintext)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}

	// Atomic write: write to temp file, then rename
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, blob, filePerm); err != nil {
		return fmt.Errorf("writing credential file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath) //nolint:errcheck // Clean up temp file on error
		return fmt.Errorf("renaming credential file: %w", err)
	}

	return nil
}

// Load reads the stored record. It returns ErrNoCredentials when no
// record exists. Legacy plaintext credential files are migrated to the
// encrypted format in place.
func (s *Store) Load(ctx context.Context) (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("%w: reading credential file: %w", ErrStorageFailure, err)
	}

	if !strings.HasPrefix(string(data), blobPrefix) {
		return s.migrate(ctx, data)
	}

	plaintext, err := s.open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("%w: parsing credentials: %w", ErrStorageFailure, err)
	}

	return &rec, nil
}

// migrate re-saves a legacy plaintext credential file encrypted.
func (s *Store) migrate(ctx context.Context, data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: parsing legacy credential file: %w", ErrStorageFailure, err)
	}
	if rec.RefreshToken == "" {
		return nil, fmt.Errorf("%w: legacy credential file holds no refresh token", ErrStorageFailure)
	}

	s.logger.Warn("migrating plaintext credentials to encrypted storage", "path", s.path)
	if err := s.Save(ctx, &rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

// Clear removes the stored record. Clearing an absent record is not an
// error.
func (s *Store) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: deleting credential file: %w", ErrStorageFailure, err)
	}
	return nil
}

func (s *Store) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	return []byte(blobPrefix + base64.StdEncoding.EncodeToString(sealed)), nil
}

func (s *Store) open(blob []byte) ([]byte, error) {
	encoded := strings.TrimSpace(strings.TrimPrefix(string(blob), blobPrefix))
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding credential blob: %w", err)
	}
	if len(sealed) < s.aead.NonceSize() {
		return nil, errors.New("credential blob truncated")
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting credentials: %w", err)
	}
	return plaintext, nil
}

// LoadOrCreateKey reads a base64-encoded encryption key from path,
// generating and persisting a fresh one when none exists.
func LoadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil {
			return nil, fmt.Errorf("%w: decoding key file: %w", ErrStorageFailure, decErr)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("%w: key file holds %d bytes, want %d", ErrStorageFailure, len(key), keySize)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: reading key file: %w", ErrStorageFailure, err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: generating key: %w", ErrStorageFailure, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("%w: creating key directory: %w", ErrStorageFailure, err)
	}
	encoded := base64.StdEncoding.EncodeToString(key) + "\n"
	if err := os.WriteFile(path, []byte(encoded), filePerm); err != nil {
		return nil, fmt.Errorf("%w: writing key file: %w", ErrStorageFailure, err)
	}

	return key, nil
}
