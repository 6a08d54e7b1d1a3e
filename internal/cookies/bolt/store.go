// Package bolt stores cookie buckets in a bbolt database, one key per
// effective URI.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tikalk/timewatch/internal/cookies"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var bucketCookies = []byte("cookies")

// Store implements cookies.Store using bbolt.
type Store struct {
	mu     sync.RWMutex
	db     *bbolt.DB
	logger *zap.Logger
	noSync bool
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the database.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithNoSync disables fsync per transaction. Tests only.
func WithNoSync(noSync bool) Option {
	return func(s *Store) {
		s.noSync = noSync
	}
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  s.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening cookie database: %w", err)
	}
	s.db = db

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCookies)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket %s: %w", bucketCookies, err)
	}

	s.logger.Debug("opened cookie database", zap.String("path", path), zap.Bool("noSync", s.noSync))
	return s, nil
}

// ReadAll returns every stored bucket.
func (s *Store) ReadAll(ctx context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cookies.ErrStoreClosed
	}

	result := make(map[string][]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCookies).ForEach(func(k, v []byte) error {
			var lines []string
			if err := json.Unmarshal(v, &lines); err != nil {
				s.logger.Warn("skipping undecodable cookie record", zap.ByteString("bucket", k), zap.Error(err))
				return nil
			}
			result[string(k)] = lines
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading cookie records: %w", err)
	}
	return result, nil
}

// WriteBucket replaces the record under key. An empty set deletes it.
func (s *Store) WriteBucket(ctx context.Context, key string, lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cookies.ErrStoreClosed
	}

	set := cookies.Dedupe(lines)
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCookies)
		if len(set) == 0 {
			return b.Delete([]byte(key))
		}
		data, err := json.Marshal(set)
		if err != nil {
			return fmt.Errorf("encoding bucket %s: %w", key, err)
		}
		return b.Put([]byte(key), data)
	})
}

// Clear removes all records.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cookies.ErrStoreClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketCookies); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketCookies)
		return err
	})
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug("closing cookie database")
	return s.db.Close()
}
