package fs

import (
	"bytes"
	"context"
	"crypto/rand"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tl "github.com/panyam/tokenlife"
)

var (
	testPair = tl.CredentialPair{AccessToken: "access-token", RefreshToken: "refresh-token"}
	testUser = &tl.UserProfile{ID: "user-1", Username: "alice", Email: "alice@example.com", Roles: []string{"admin"}}
)

func newStore(t *testing.T, opts ...Option) *FSTokenStore {
	t.Helper()
	store, err := NewFSTokenStore(filepath.Join(t.TempDir(), "nested", "session.json"), "", opts...)
	require.NoError(t, err)
	return store
}

func requireEmpty(t *testing.T, store *FSTokenStore) {
	t.Helper()
	access, err := store.LoadAccess()
	require.NoError(t, err)
	refresh, err := store.LoadRefresh()
	require.NoError(t, err)
	user, err := store.LoadUser()
	require.NoError(t, err)
	assert.Empty(t, access)
	assert.Empty(t, refresh)
	assert.Nil(t, user)
}

func TestFSTokenStore_RoundTrip(t *testing.T) {
	store := newStore(t)
	requireEmpty(t, store)

	require.NoError(t, store.Save(testPair, testUser))

	access, err := store.LoadAccess()
	require.NoError(t, err)
	assert.Equal(t, testPair.AccessToken, access)

	refresh, err := store.LoadRefresh()
	require.NoError(t, err)
	assert.Equal(t, testPair.RefreshToken, refresh)

	user, err := store.LoadUser()
	require.NoError(t, err)
	assert.Equal(t, testUser, user)

	// visible to another store on the same file
	other, err := NewFSTokenStore(store.Path(), "")
	require.NoError(t, err)
	access, _ = other.LoadAccess()
	assert.Equal(t, testPair.AccessToken, access)

	require.NoError(t, store.Clear())
	requireEmpty(t, store)
	require.NoError(t, store.Clear(), "clear is idempotent")
}

func TestFSTokenStore_SaveWithoutUser(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Save(testPair, testUser))
	require.NoError(t, store.Save(testPair, nil))

	user, err := store.LoadUser()
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestFSTokenStore_RejectsPartialPair(t *testing.T) {
	store := newStore(t)
	assert.ErrorIs(t, store.Save(tl.CredentialPair{AccessToken: "a"}, nil), tl.ErrPartialCredentials)
	assert.ErrorIs(t, store.Save(tl.CredentialPair{RefreshToken: "r"}, nil), tl.ErrPartialCredentials)
	_, err := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestFSTokenStore_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	store := newStore(t)
	require.NoError(t, store.Save(testPair, testUser))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dir, err := os.Stat(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dir.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFSTokenStore_CorruptFileIsRemoved(t *testing.T) {
	for name, content := range map[string]string{
		"not json":     `{"access_token": "a",`,
		"partial pair": `{"access_token": "a"}`,
		"orphan user":  `{"user": {"id": "user-1", "username": "alice"}}`,
		"wrong type":   `{"access_token": 42, "refresh_token": "r"}`,
	} {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0700))
			require.NoError(t, os.WriteFile(store.Path(), []byte(content), 0600))

			requireEmpty(t, store)
			_, err := os.Stat(store.Path())
			assert.True(t, os.IsNotExist(err), "corrupt file should be removed")
		})
	}
}

func TestFSTokenStore_CorruptProfileClearsSession(t *testing.T) {
	var logs bytes.Buffer
	store := newStore(t, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0700))
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{
		"access_token": "a",
		"refresh_token": "r",
		"user": {"id": "user-1"}
	}`), 0600))

	user, err := store.LoadUser()
	require.NoError(t, err)
	assert.Nil(t, user)
	requireEmpty(t, store)
	assert.Contains(t, logs.String(), "stored user profile is corrupt", "store logger receives the warning")
}

func TestFSTokenStore_Encrypted(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	store := newStore(t, WithEncryptionKey(key))
	require.NoError(t, store.Save(testPair, testUser))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte(testPair.AccessToken)), "tokens must not be stored in clear")

	user, err := store.LoadUser()
	require.NoError(t, err)
	assert.Equal(t, testUser, user)

	// a different key cannot open the file; it is discarded
	otherKey := make([]byte, 32)
	_, _ = rand.Read(otherKey)
	other, err := NewFSTokenStore(store.Path(), "", WithEncryptionKey(otherKey))
	require.NoError(t, err)
	access, err := other.LoadAccess()
	require.NoError(t, err)
	assert.Empty(t, access)
}

func TestFSTokenStore_InvalidKey(t *testing.T) {
	_, err := NewFSTokenStore(filepath.Join(t.TempDir(), "s.json"), "", WithEncryptionKey([]byte("short")))
	assert.Error(t, err)
}

func TestFSTokenStore_DefaultPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")

	store, err := NewFSTokenStore("", "myapp")
	require.NoError(t, err)
	assert.Equal(t, "session.json", filepath.Base(store.Path()))
	assert.Equal(t, "myapp", filepath.Base(filepath.Dir(store.Path())))
}

func TestFSTokenStore_Watch(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Save(testPair, testUser))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 16)
	require.NoError(t, store.Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}))

	other, err := NewFSTokenStore(store.Path(), "")
	require.NoError(t, err)
	require.NoError(t, other.Save(tl.CredentialPair{AccessToken: "a2", RefreshToken: "r2"}, testUser))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a change notification")
	}

	access, err := store.LoadAccess()
	require.NoError(t, err)
	assert.Equal(t, "a2", access)
}
