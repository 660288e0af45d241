// Package capturetest provides a conformance test suite for capture store
// implementations.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    capturetest.RunConformanceSuite(t, func(t *testing.T) capture.Store {
//	        return memory.New()
//	    })
//	}
package capturetest

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomul/pkg/capture"
)

// StoreFactory creates a fresh store for each test. It may use t.TempDir
// and t.Cleanup.
type StoreFactory func(t *testing.T) capture.Store

// Sample returns a record of association assoc with a payload of size
// bytes.
func Sample(assoc string, seq uint64, command bool, size int) *capture.Record {
	return &capture.Record{
		AssociationID:  assoc,
		Sequence:       seq,
		ContextID:      3,
		AbstractSyntax: "1.2.840.10008.5.1.4.1.1.7",
		TransferSyntax: "1.2.840.10008.1.2.1",
		Command:        command,
		ReceivedAt:     time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC),
		Size:           size,
		Data:           bytes.Repeat([]byte{byte(seq)}, size),
	}
}

// RunConformanceSuite runs every behavior a capture.Store must provide.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("PutGet", func(t *testing.T) {
		s := factory(t)
		r := Sample("a1", 1, false, 4096)
		require.NoError(t, s.Put(t.Context(), r))

		got, err := s.Get(t.Context(), r.Key())
		require.NoError(t, err)
		assert.Equal(t, r.Data, got.Data)
		assert.Equal(t, r.AssociationID, got.AssociationID)
		assert.Equal(t, r.Sequence, got.Sequence)
		assert.Equal(t, r.ContextID, got.ContextID)
		assert.Equal(t, r.AbstractSyntax, got.AbstractSyntax)
		assert.Equal(t, r.TransferSyntax, got.TransferSyntax)
		assert.Equal(t, r.Command, got.Command)
		assert.Equal(t, 4096, got.Size)
		assert.True(t, r.ReceivedAt.Equal(got.ReceivedAt))
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		s := factory(t)
		r := Sample("a1", 1, true, 0)
		require.NoError(t, s.Put(t.Context(), r))

		got, err := s.Get(t.Context(), r.Key())
		require.NoError(t, err)
		assert.Empty(t, got.Data)
		assert.True(t, got.Command)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := factory(t)
		_, err := s.Get(t.Context(), Sample("a1", 9, false, 1).Key())
		assert.ErrorIs(t, err, capture.ErrNotFound)
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := factory(t)
		r := Sample("a1", 1, false, 10)
		require.NoError(t, s.Put(t.Context(), r))
		r.Data = []byte("replaced")
		require.NoError(t, s.Put(t.Context(), r))

		got, err := s.Get(t.Context(), r.Key())
		require.NoError(t, err)
		assert.Equal(t, []byte("replaced"), got.Data)
	})

	t.Run("ListInArrivalOrder", func(t *testing.T) {
		s := factory(t)
		var want []string
		for _, seq := range []uint64{1, 2, 10, 11} {
			r := Sample("a1", seq, seq%2 == 1, 8)
			require.NoError(t, s.Put(t.Context(), r))
			want = append(want, r.Key())
		}
		require.NoError(t, s.Put(t.Context(), Sample("a2", 1, false, 8)))

		keys, err := s.List(t.Context(), "a1")
		require.NoError(t, err)
		assert.Equal(t, want, keys)

		keys, err = s.List(t.Context(), "missing")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("ListRejectsInvalidAssociation", func(t *testing.T) {
		s := factory(t)
		require.NoError(t, s.Put(t.Context(), Sample("a1", 1, false, 8)))
		for _, id := range []string{"", "..", "../a1", "a1/..", `a\b`} {
			_, err := s.List(t.Context(), id)
			assert.ErrorIs(t, err, capture.ErrInvalidKey, id)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := factory(t)
		r := Sample("a1", 1, false, 8)
		require.NoError(t, s.Put(t.Context(), r))
		require.NoError(t, s.Delete(t.Context(), r.Key()))

		_, err := s.Get(t.Context(), r.Key())
		assert.ErrorIs(t, err, capture.ErrNotFound)
		assert.NoError(t, s.Delete(t.Context(), r.Key()))
	})

	t.Run("HealthCheck", func(t *testing.T) {
		s := factory(t)
		assert.NoError(t, s.HealthCheck(t.Context()))
		require.NoError(t, s.Close())
		assert.ErrorIs(t, s.HealthCheck(t.Context()), capture.ErrStoreClosed)
	})

	t.Run("Closed", func(t *testing.T) {
		s := factory(t)
		require.NoError(t, s.Close())
		assert.ErrorIs(t, s.Put(t.Context(), Sample("a1", 1, false, 1)), capture.ErrStoreClosed)
		_, err := s.Get(t.Context(), Sample("a1", 1, false, 1).Key())
		assert.ErrorIs(t, err, capture.ErrStoreClosed)
	})
}
