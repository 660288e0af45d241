package kerberos

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSPN   = "dicom/archive.example.com"
	testRealm = "EXAMPLE.COM"
	testEType = 17 // aes128-cts-hmac-sha1-96
)

// createTestKeytabWithKVNO writes a keytab holding one entry for testSPN.
func createTestKeytabWithKVNO(t *testing.T, dir string, kvno uint8) string {
	t.Helper()

	kt := keytab.New()
	require.NoError(t, kt.AddEntry(testSPN, testRealm, "test-password", time.Now(), kvno, testEType))

	data, err := kt.Marshal()
	require.NoError(t, err)

	path := filepath.Join(dir, "test.keytab")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestResolveKeytabPath(t *testing.T) {
	t.Setenv("DICOMUL_KERBEROS_KEYTAB", "/env/override/keytab")
	assert.Equal(t, "/env/override/keytab", resolveKeytabPath("/config/keytab"))

	t.Setenv("DICOMUL_KERBEROS_KEYTAB", "")
	assert.Equal(t, "/config/keytab", resolveKeytabPath("/config/keytab"))
	assert.Empty(t, resolveKeytabPath(""))
}

func TestResolveServicePrincipal(t *testing.T) {
	t.Setenv("DICOMUL_KERBEROS_PRINCIPAL", "dicom/env.example.com@EXAMPLE.COM")
	assert.Equal(t, "dicom/env.example.com@EXAMPLE.COM", resolveServicePrincipal("dicom/config.example.com@EXAMPLE.COM"))

	t.Setenv("DICOMUL_KERBEROS_PRINCIPAL", "")
	assert.Equal(t, "dicom/config.example.com@EXAMPLE.COM", resolveServicePrincipal("dicom/config.example.com@EXAMPLE.COM"))
}

func TestLoadKeytab(t *testing.T) {
	dir := t.TempDir()

	kt, err := loadKeytab(createTestKeytabWithKVNO(t, dir, 1))
	require.NoError(t, err)
	assert.NotNil(t, kt)

	_, err = loadKeytab("/nonexistent/path/keytab")
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.keytab")
	require.NoError(t, os.WriteFile(bad, []byte("not a keytab"), 0600))
	_, err = loadKeytab(bad)
	assert.Error(t, err)
}

func TestReloadKeytab_AtomicSwap(t *testing.T) {
	path := createTestKeytabWithKVNO(t, t.TempDir(), 1)

	kt, err := loadKeytab(path)
	require.NoError(t, err)
	p := &Provider{keytabPath: path, keytab: kt}
	old := p.Keytab()

	createTestKeytabWithKVNO(t, filepath.Dir(path), 2)
	require.NoError(t, p.ReloadKeytab())
	assert.NotSame(t, old, p.Keytab())
}

func TestReloadKeytab_KeepsOldOnFailure(t *testing.T) {
	path := createTestKeytabWithKVNO(t, t.TempDir(), 1)

	kt, err := loadKeytab(path)
	require.NoError(t, err)
	p := &Provider{keytabPath: path, keytab: kt}
	old := p.Keytab()

	require.NoError(t, os.WriteFile(path, []byte("invalid keytab data"), 0600))
	assert.Error(t, p.ReloadKeytab())
	assert.Same(t, old, p.Keytab())
}

func TestKeytabManager_StartStop(t *testing.T) {
	path := createTestKeytabWithKVNO(t, t.TempDir(), 1)
	kt, err := loadKeytab(path)
	require.NoError(t, err)

	km := NewKeytabManager(path, &Provider{keytabPath: path, keytab: kt})
	require.NoError(t, km.Start())
	km.Stop()
	km.Stop()
}

func TestKeytabManager_StartFailsForMissingFile(t *testing.T) {
	km := NewKeytabManager("/nonexistent", &Provider{keytabPath: "/nonexistent"})
	assert.Error(t, km.Start())
}

func TestKeytabManager_ReloadsOnModification(t *testing.T) {
	path := createTestKeytabWithKVNO(t, t.TempDir(), 1)
	kt, err := loadKeytab(path)
	require.NoError(t, err)
	p := &Provider{keytabPath: path, keytab: kt}

	km := NewKeytabManager(path, p)
	info, err := os.Stat(path)
	require.NoError(t, err)
	km.lastMod = info.ModTime()

	assert.False(t, km.checkAndReload(), "unchanged file must not reload")

	createTestKeytabWithKVNO(t, filepath.Dir(path), 2)
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.True(t, km.checkAndReload())
	assert.NotSame(t, kt, p.Keytab())
}
