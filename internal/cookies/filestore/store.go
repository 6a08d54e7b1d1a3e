// Package filestore keeps every cookie bucket in one YAML document. Each
// write replaces the document through a temporary file and a rename.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/spf13/afero"
	"github.com/tikalk/timewatch/internal/cookies"
	"gopkg.in/yaml.v3"
)

const formatVersion = 1

type document struct {
	Version int                 `yaml:"version"`
	Buckets map[string][]string `yaml:"buckets"`
}

// Store implements cookies.Store on a file in an afero.Fs.
type Store struct {
	mu      sync.Mutex
	fs      afero.Fs
	path    string
	buckets map[string][]string
	closed  bool
}

// New opens the document at path, creating its directory if needed. A
// missing file is an empty store.
func New(fs afero.Fs, path string) (*Store, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cookie directory: %w", err)
	}

	s := &Store{fs: fs, path: path, buckets: make(map[string][]string)}

	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse cookie file %s: %w", path, err)
	}
	if doc.Version > formatVersion {
		return nil, fmt.Errorf("cookie file %s has unsupported version %d", path, doc.Version)
	}
	for k, v := range doc.Buckets {
		if len(v) > 0 {
			s.buckets[k] = v
		}
	}
	return s, nil
}

// NewOS opens the document at path on the real filesystem.
func NewOS(path string) (*Store, error) {
	return New(afero.NewOsFs(), path)
}

// ReadAll returns a copy of every bucket.
func (s *Store) ReadAll(ctx context.Context) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, cookies.ErrStoreClosed
	}

	result := make(map[string][]string, len(s.buckets))
	for k, v := range s.buckets {
		result[k] = slices.Clone(v)
	}
	return result, nil
}

// WriteBucket replaces the record under key and rewrites the file.
func (s *Store) WriteBucket(ctx context.Context, key string, lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cookies.ErrStoreClosed
	}

	next := make(map[string][]string, len(s.buckets)+1)
	for k, v := range s.buckets {
		next[k] = v
	}
	if set := cookies.Dedupe(lines); len(set) > 0 {
		next[key] = set
	} else {
		delete(next, key)
	}

	if err := s.flush(next); err != nil {
		return err
	}
	s.buckets = next
	return nil
}

// Clear removes all records.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cookies.ErrStoreClosed
	}

	empty := make(map[string][]string)
	if err := s.flush(empty); err != nil {
		return err
	}
	s.buckets = empty
	return nil
}

// Close closes the store. The file is always up to date, so nothing is
// written.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *Store) flush(buckets map[string][]string) error {
	data, err := yaml.Marshal(document{Version: formatVersion, Buckets: buckets})
	if err != nil {
		return fmt.Errorf("failed to encode cookie file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := s.writeSynced(tmp, data); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace cookie file: %w", err)
	}
	return nil
}

// writeSynced writes data to name and syncs it before closing, so the
// rename that follows never exposes a partially written file.
func (s *Store) writeSynced(name string, data []byte) error {
	f, err := s.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
