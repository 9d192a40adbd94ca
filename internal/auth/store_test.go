package auth

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OikoumE/twitchwrapper/internal/crypto"
)

func testStore(t *testing.T) *FileStore {
	return NewFileStore(filepath.Join(t.TempDir(), "token.json"))
}

func TestFileStore_SaveLoadRoundtrip(t *testing.T) {
	store := testStore(t)

	creds := &Credentials{
		AccessToken:  "access123",
		ExpiresIn:    14400,
		RefreshToken: "refresh456",
		Scope:        []string{"user:write:chat", "user:read:chat"},
		TokenType:    "bearer",
	}
	require.NoError(t, store.Save(creds))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, creds, loaded)
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := testStore(t)

	_, err := store.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFileStore_SaveIsOwnerOnly(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}
	store := testStore(t)
	require.NoError(t, store.Save(&Credentials{AccessToken: "secret"}))

	info, err := os.Stat(store.path)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_DeleteIdempotent(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Save(&Credentials{AccessToken: "a"}))

	require.NoError(t, store.Delete())
	require.NoError(t, store.Delete())

	_, err := store.Load()
	assert.Error(t, err)
}

func TestFileStore_EncryptedAtRest(t *testing.T) {
	key := "000102030405060708090a0b0c0d0e0f"
	cipher, err := crypto.NewAesGcmService(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "token.json")
	store := NewFileStore(path, WithCipher(cipher))

	require.NoError(t, store.Save(&Credentials{AccessToken: "access123", RefreshToken: "refresh456"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "access123")

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "access123", loaded.AccessToken)
	assert.Equal(t, "refresh456", loaded.RefreshToken)
}

func TestFileStore_WrongKeyFailsLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	cipher, err := crypto.NewAesGcmService("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	require.NoError(t, NewFileStore(path, WithCipher(cipher)).Save(&Credentials{AccessToken: "a"}))

	other, err := crypto.NewAesGcmService("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	_, err = NewFileStore(path, WithCipher(other)).Load()
	require.Error(t, err)
}

func TestFileStore_SaveOverwritesWholesale(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Save(&Credentials{AccessToken: "old", RefreshToken: "old_refresh"}))
	require.NoError(t, store.Save(&Credentials{AccessToken: "new"}))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "new", loaded.AccessToken)
	assert.Empty(t, loaded.RefreshToken)
}
