// Package memory provides an in-memory capture store, used when captures
// need not survive a restart and in tests.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/marmos91/dicomul/pkg/capture"
)

// Store keeps records in a map.
type Store struct {
	mu      sync.RWMutex
	records map[string]*capture.Record
	closed  bool
}

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[string]*capture.Record)}
}

func (s *Store) Put(ctx context.Context, r *capture.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return capture.ErrStoreClosed
	}

	cp := *r
	cp.Data = slices.Clone(r.Data)
	cp.Size = len(cp.Data)
	s.records[r.Key()] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*capture.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, capture.ErrStoreClosed
	}

	r, ok := s.records[key]
	if !ok {
		return nil, capture.ErrNotFound
	}
	cp := *r
	cp.Data = slices.Clone(r.Data)
	return &cp, nil
}

func (s *Store) List(ctx context.Context, associationID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := capture.ValidateAssociationID(associationID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, capture.ErrStoreClosed
	}

	prefix := capture.Prefix(associationID)
	var keys []string
	for k := range s.records {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return capture.ErrStoreClosed
	}
	delete(s.records, key)
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return capture.ErrStoreClosed
	}
	return nil
}

// Close drops all records.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

var _ capture.Store = (*Store)(nil)
