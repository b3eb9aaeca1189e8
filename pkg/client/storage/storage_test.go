// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func testRecord() *Record {
	return &Record{
		RefreshToken: "rt-secret-value",
		RealmID:      "9341453989012345",
		Environment:  "sandbox",
		UpdatedAt:    time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestStore_SaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials-sandbox.enc")
	store, err := New(path, testKey(t), nil)
	require.NoError(t, err)

	rec := testRecord()
	require.NoError(t, store.Save(context.Background(), rec))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)
}

func TestStore_FileIsEncrypted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials-sandbox.enc")
	store, err := New(path, testKey(t), nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), testRecord()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "qbolink.v1:"))
	assert.NotContains(t, string(data), "rt-secret-value")
	assert.NotContains(t, string(data), "9341453989012345")
}

func TestStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials-sandbox.enc")
	store, err := New(path, testKey(t), nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), testRecord()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

func TestStore_LoadMissing(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "credentials.enc"), testKey(t), nil)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestStore_MigratesLegacyPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials-sandbox.enc")
	legacy := `{"refreshToken":"legacy-rt","realmId":"12345","environment":"sandbox"}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0600))

	store, err := New(path, testKey(t), nil)
	require.NoError(t, err)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "legacy-rt", rec.RefreshToken)
	assert.Equal(t, "12345", rec.RealmID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "qbolink.v1:"), "file must be re-saved encrypted")

	again, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rec.RefreshToken, again.RefreshToken)
}

func TestStore_LegacyWithoutRefreshToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	require.NoError(t, os.WriteFile(path, []byte(`{"realmId":"12345"}`), 0600))

	store, err := New(path, testKey(t), nil)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrStorageFailure)
}

func TestStore_WrongKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")

	writer, err := New(path, testKey(t), nil)
	require.NoError(t, err)
	require.NoError(t, writer.Save(context.Background(), testRecord()))

	reader, err := New(path, testKey(t), nil)
	require.NoError(t, err)

	_, err = reader.Load(context.Background())
	require.ErrorIs(t, err, ErrStorageFailure)
	assert.NotErrorIs(t, err, ErrNoCredentials)
}

func TestStore_CorruptBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	require.NoError(t, os.WriteFile(path, []byte("qbolink.v1:%%%not-base64%%%"), 0600))

	store, err := New(path, testKey(t), nil)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrStorageFailure)
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	store, err := New(path, testKey(t), nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), testRecord()))
	require.NoError(t, store.Clear(context.Background()))

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)

	assert.NoError(t, store.Clear(context.Background()), "clearing twice must not fail")
}

func TestNew_RejectsBadKeySize(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "c.enc"), []byte("short"), nil)
	assert.ErrorIs(t, err, ErrStorageFailure)
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "credentials.key")

	key, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Equal(t, key, again, "existing key must be reused")
}

func TestLoadOrCreateKey_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.key")
	require.NoError(t, os.WriteFile(path, []byte("%%%"), 0600))

	_, err := LoadOrCreateKey(path)
	assert.ErrorIs(t, err, ErrStorageFailure)
}

func TestLoadOrCreateKey_RejectsWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.key")
	require.NoError(t, os.WriteFile(path, []byte("c2hvcnQ=\n"), 0600))

	_, err := LoadOrCreateKey(path)
	require.ErrorIs(t, err, ErrStorageFailure)
	assert.Contains(t, err.Error(), "32")
}
