package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomul/pkg/capture"
	"github.com/marmos91/dicomul/pkg/capture/capturetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DefaultConfig(filepath.Join(t.TempDir(), "captures")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	capturetest.RunConformanceSuite(t, func(t *testing.T) capture.Store {
		return newTestStore(t)
	})
}

func TestLayoutOnDisk(t *testing.T) {
	s := newTestStore(t)
	r := capturetest.Sample("a1", 1, false, 16)
	require.NoError(t, s.Put(t.Context(), r))

	data, err := os.ReadFile(filepath.Join(s.BasePath(), "a1", "0000000001-003.ds"))
	require.NoError(t, err)
	assert.Equal(t, r.Data, data)
	assert.FileExists(t, filepath.Join(s.BasePath(), "a1", "0000000001-003.ds.json"))
}

func TestInterruptedPutNotListed(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.BasePath(), "a1"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(s.BasePath(), "a1", "0000000001-003.ds"), []byte("x"), 0640))

	keys, err := s.List(t.Context(), "a1")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRejectsTraversalKeys(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(t.Context(), "../../etc/passwd")
	assert.ErrorIs(t, err, capture.ErrInvalidKey)
	assert.ErrorIs(t, s.Delete(t.Context(), "../x"), capture.ErrInvalidKey)

	outside := filepath.Join(filepath.Dir(s.BasePath()), "outside")
	require.NoError(t, os.MkdirAll(outside, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "0000000001-003.ds.json"), []byte("{}"), 0640))
	_, err = s.List(t.Context(), "../outside")
	assert.ErrorIs(t, err, capture.ErrInvalidKey)
}

func TestHealthCheckDetectsMissingDirectory(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.HealthCheck(t.Context()))

	require.NoError(t, os.RemoveAll(s.BasePath()))
	assert.Error(t, s.HealthCheck(t.Context()))

	require.NoError(t, os.WriteFile(s.BasePath(), nil, 0600))
	assert.Error(t, s.HealthCheck(t.Context()))
}

func TestHealthCheckLeavesNoFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.HealthCheck(t.Context()))

	entries, err := os.ReadDir(s.BasePath())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewRequiresDirectory(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))
	_, err = New(Config{BasePath: file})
	assert.Error(t, err)
}
