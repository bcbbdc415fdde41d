package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 测试里绕开钥匙串探测，固定走文件存储
func newFileStore(t *testing.T) *CredentialStore {
	t.Helper()
	return &CredentialStore{filePath: filepath.Join(t.TempDir(), "auth.json")}
}

func TestCredentialStore_SaveLoadRoundTrip(t *testing.T) {
	store := newFileStore(t)

	store.Save(&UserSession{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-def",
		UserID:       "u-123",
		Email:        "a@b.com",
		Tier:         "pro",
	})

	loaded := store.Load()
	assert.Equal(t, "access-abc", loaded.AccessToken)
	assert.Equal(t, "refresh-def", loaded.RefreshToken)
	assert.Equal(t, "u-123", loaded.UserID)
	assert.Equal(t, "a@b.com", loaded.Email)
	assert.Equal(t, "pro", loaded.Tier)
	assert.False(t, loaded.SavedAt.IsZero())
}

func TestCredentialStore_LoadMissingFile(t *testing.T) {
	store := newFileStore(t)

	loaded := store.Load()
	assert.True(t, loaded.Empty())
}

func TestCredentialStore_LoadCorruptFile(t *testing.T) {
	store := newFileStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.filePath), 0o700))
	require.NoError(t, os.WriteFile(store.filePath, []byte("not json{"), 0o600))

	loaded := store.Load()
	assert.True(t, loaded.Empty())
}

func TestCredentialStore_Clear(t *testing.T) {
	store := newFileStore(t)
	store.Save(&UserSession{AccessToken: "a", RefreshToken: "r"})

	store.Clear()
	assert.True(t, store.Load().Empty())

	// 幂等
	store.Clear()
	assert.True(t, store.Load().Empty())
}

func TestCredentialStore_FilePermissions(t *testing.T) {
	store := newFileStore(t)
	store.Save(&UserSession{AccessToken: "a", RefreshToken: "r"})

	info, err := os.Stat(store.filePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestUserSession_Empty(t *testing.T) {
	assert.True(t, (&UserSession{}).Empty())
	assert.True(t, (*UserSession)(nil).Empty())
	assert.False(t, (&UserSession{AccessToken: "a"}).Empty())
	assert.False(t, (&UserSession{RefreshToken: "r"}).Empty())
}
