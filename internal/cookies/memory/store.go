// Package memory provides an in-process cookies.Store. Records live only as
// long as the Store value.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/tikalk/timewatch/internal/cookies"
)

// Store implements cookies.Store in memory.
type Store struct {
	mu      sync.RWMutex
	records map[string][]string
	closed  bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[string][]string)}
}

// ReadAll returns a copy of every record.
func (s *Store) ReadAll(ctx context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cookies.ErrStoreClosed
	}

	result := make(map[string][]string, len(s.records))
	for k, v := range s.records {
		result[k] = slices.Clone(v)
	}
	return result, nil
}

// WriteBucket replaces the record under key.
func (s *Store) WriteBucket(ctx context.Context, key string, lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cookies.ErrStoreClosed
	}

	set := cookies.Dedupe(lines)
	if len(set) == 0 {
		delete(s.records, key)
		return nil
	}
	s.records[key] = set
	return nil
}

// Clear removes all records.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cookies.ErrStoreClosed
	}

	clear(s.records)
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
