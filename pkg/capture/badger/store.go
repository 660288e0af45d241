// Package badger provides a BadgerDB capture store. Metadata and payload
// are kept under separate keys so that List never loads payloads.
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dicomul/internal/logger"
	"github.com/marmos91/dicomul/pkg/capture"
)

const (
	prefixMeta = "m:"
	prefixData = "d:"
)

func keyMeta(key string) []byte { return []byte(prefixMeta + key) }
func keyData(key string) []byte { return []byte(prefixData + key) }

// Config holds configuration for the BadgerDB capture store.
type Config struct {
	// Path is the database directory.
	Path string `mapstructure:"path" yaml:"path"`

	// InMemory keeps the database in memory; Path is then ignored.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory,omitempty"`

	// SyncWrites fsyncs every write.
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes,omitempty"`
}

// Store is a BadgerDB-backed capture.Store.
type Store struct {
	db *badgerdb.DB

	mu     sync.RWMutex
	closed bool
}

// New opens or creates the database described by cfg.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("badger capture store requires path to be set")
	}

	opts := badgerdb.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	logger.Debug("badger capture store opened", logger.KeyPath, cfg.Path, "in_memory", cfg.InMemory)
	return &Store{db: db}, nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return capture.ErrStoreClosed
	}
	return nil
}

func (s *Store) Put(ctx context.Context, r *capture.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	meta := *r
	meta.Size = len(r.Data)
	metaBytes, err := capture.EncodeMeta(&meta)
	if err != nil {
		return err
	}

	key := r.Key()
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keyData(key), r.Data); err != nil {
			return err
		}
		return txn.Set(keyMeta(key), metaBytes)
	})
}

func (s *Store) Get(ctx context.Context, key string) (*capture.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var r *capture.Record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyMeta(key))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			rec, decErr := capture.DecodeMeta(val)
			r = rec
			return decErr
		}); err != nil {
			return err
		}

		item, err = txn.Get(keyData(key))
		if err != nil {
			return err
		}
		r.Data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, capture.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) List(ctx context.Context, associationID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := capture.ValidateAssociationID(associationID); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	prefix := keyMeta(capture.Prefix(associationID))
	var keys []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefixMeta):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		for _, k := range [][]byte{keyMeta(key), keyData(key)} {
			if err := txn.Delete(k); err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
}

// HealthCheck reports ErrStoreClosed once Close was called and an error if
// the database was closed underneath the store.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Close closes the database. Calling Close twice is safe.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ capture.Store = (*Store)(nil)
