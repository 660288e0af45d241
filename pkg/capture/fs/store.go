// Package fs provides a filesystem capture store. Each record is a payload
// file named after its key plus a JSON metadata sidecar.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/dicomul/pkg/capture"
)

const (
	metaSuffix = ".json"
	tmpSuffix  = ".tmp"
)

// Config holds configuration for the filesystem capture store.
type Config struct {
	// BasePath is the root directory. Each association gets a
	// subdirectory.
	BasePath string `mapstructure:"base_path" yaml:"base_path"`

	// CreateDir creates the base directory if it doesn't exist.
	CreateDir bool `mapstructure:"create_dir" yaml:"create_dir"`

	// DirMode is the permission mode for created directories.
	// Default: 0750
	DirMode os.FileMode `mapstructure:"dir_mode" yaml:"dir_mode,omitempty"`

	// FileMode is the permission mode for created files.
	// Default: 0640
	FileMode os.FileMode `mapstructure:"file_mode" yaml:"file_mode,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:  basePath,
		CreateDir: true,
		DirMode:   0750,
		FileMode:  0640,
	}
}

// Store is a filesystem-backed capture.Store.
type Store struct {
	mu       sync.RWMutex
	basePath string
	dirMode  os.FileMode
	fileMode os.FileMode
	closed   bool
}

// New creates a store rooted at cfg.BasePath.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("base path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0750
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0640
	}

	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("base path is not a directory")
	}

	return &Store{
		basePath: cfg.BasePath,
		dirMode:  cfg.DirMode,
		fileMode: cfg.FileMode,
	}, nil
}

// BasePath returns the root directory.
func (s *Store) BasePath() string {
	return s.basePath
}

func (s *Store) recordPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

// Put writes the payload and then its metadata, each through a temporary
// file renamed into place.
func (s *Store) Put(ctx context.Context, r *capture.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := r.Key()
	if err := capture.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return capture.ErrStoreClosed
	}

	meta := *r
	meta.Size = len(r.Data)
	metaBytes, err := capture.EncodeMeta(&meta)
	if err != nil {
		return err
	}

	path := s.recordPath(key)
	if err := os.MkdirAll(filepath.Dir(path), s.dirMode); err != nil {
		return err
	}
	if err := s.writeAtomic(path, r.Data); err != nil {
		return err
	}
	return s.writeAtomic(path+metaSuffix, metaBytes)
}

func (s *Store) writeAtomic(path string, data []byte) error {
	tmpPath := path + tmpSuffix
	if err := os.WriteFile(tmpPath, data, s.fileMode); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*capture.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := capture.ValidateKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, capture.ErrStoreClosed
	}

	path := s.recordPath(key)
	metaBytes, err := os.ReadFile(path + metaSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, capture.ErrNotFound
		}
		return nil, err
	}
	r, err := capture.DecodeMeta(metaBytes)
	if err != nil {
		return nil, err
	}
	if r.Data, err = os.ReadFile(path); err != nil {
		if os.IsNotExist(err) {
			return nil, capture.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// List returns the keys whose metadata sidecar exists. A payload without
// metadata is an interrupted Put and is not listed.
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

	entries, err := os.ReadDir(filepath.Join(s.basePath, associationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		keys = append(keys, capture.Prefix(associationID)+strings.TrimSuffix(name, metaSuffix))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := capture.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return capture.ErrStoreClosed
	}

	path := s.recordPath(key)
	for _, p := range []string{path + metaSuffix, path} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	// Removing the association directory fails while it still holds records.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// HealthCheck checks that the base directory still exists and accepts new
// files.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return capture.ErrStoreClosed
	}

	info, err := os.Stat(s.basePath)
	if err != nil {
		return fmt.Errorf("capture directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("capture path %s is not a directory", s.basePath)
	}
	f, err := os.CreateTemp(s.basePath, ".health-*")
	if err != nil {
		return fmt.Errorf("capture directory not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ capture.Store = (*Store)(nil)
