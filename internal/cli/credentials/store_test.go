package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerTokenExpired(t *testing.T) {
	tests := []struct {
		name     string
		peer     Peer
		expected bool
	}{
		{name: "no token", peer: Peer{ExpiresAt: time.Now().Add(time.Hour)}, expected: true},
		{name: "expired in past", peer: Peer{Token: "t", ExpiresAt: time.Now().Add(-time.Hour)}, expected: true},
		{name: "expires within 60s", peer: Peer{Token: "t", ExpiresAt: time.Now().Add(30 * time.Second)}, expected: true},
		{name: "zero expiry", peer: Peer{Token: "t"}, expected: true},
		{name: "valid", peer: Peer{Token: "t", ExpiresAt: time.Now().Add(2 * time.Hour)}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.peer.TokenExpired())
		})
	}
}

func TestNewStore_UsesXDGConfigHome(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	store, err := NewStore()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, DefaultConfigDir, FileName), store.Path())

	_, _, err = store.Current()
	assert.ErrorIs(t, err, ErrNoCurrentPeer)
	assert.Empty(t, store.List())
}

func TestStoreOperations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")
	store, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, store.Set("pacs", &Peer{Address: "pacs:11112", CalledAETitle: "PACS"}))
	require.NoError(t, store.Set("archive", &Peer{Address: "archive:104", CalledAETitle: "ARCHIVE"}))

	// First peer saved becomes current.
	name, peer, err := store.Current()
	require.NoError(t, err)
	assert.Equal(t, "pacs", name)
	assert.Equal(t, "PACS", peer.CalledAETitle)

	assert.Equal(t, []string{"archive", "pacs"}, store.List())

	require.NoError(t, store.Use("archive"))
	assert.Equal(t, "archive", store.CurrentName())
	assert.ErrorIs(t, store.Use("missing"), ErrPeerNotFound)

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, store.SetToken("archive", "tok", exp))
	assert.ErrorIs(t, store.SetToken("missing", "tok", exp), ErrPeerNotFound)

	// Reopen to check persistence.
	reopened, err := Open(path)
	require.NoError(t, err)
	p, err := reopened.Get("archive")
	require.NoError(t, err)
	assert.Equal(t, IdentityJWT, p.IdentityType)
	assert.Equal(t, "tok", p.Token)
	assert.True(t, exp.Equal(p.ExpiresAt))

	require.NoError(t, reopened.Delete("archive"))
	assert.Empty(t, reopened.CurrentName())
	assert.ErrorIs(t, reopened.Delete("archive"), ErrPeerNotFound)
	_, err = reopened.Get("archive")
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "peers.json")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("pacs", &Peer{Address: "pacs:11112", Password: "secret"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePermissions), info.Mode().Perm())
}

func TestStore_SetRequiresName(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "peers.json"))
	require.NoError(t, err)
	assert.Error(t, store.Set("", &Peer{}))
}

func TestOpen_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Open(path)
	assert.Error(t, err)
}
