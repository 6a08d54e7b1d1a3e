package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tikalk/timewatch/internal/cookies"
	_ "modernc.org/sqlite"
)

// Store implements cookies.Store using SQLite. Each cookie string of a
// bucket is one row; position keeps the bucket order.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// New creates a new SQLite-based cookie store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cookie database: %w", err)
	}

	return store, nil
}

// NewInMemory creates a new in-memory SQLite store (useful for testing).
func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables and indexes.
func (s *Store) initialize() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cookie_records (
			id TEXT PRIMARY KEY,
			bucket TEXT NOT NULL,
			position INTEGER NOT NULL,
			cookie TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(bucket, cookie)
		);

		CREATE INDEX IF NOT EXISTS idx_cookie_records_bucket ON cookie_records(bucket, position);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ReadAll returns every bucket with its cookie strings in stored order.
func (s *Store) ReadAll(ctx context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cookies.ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, cookie FROM cookie_records ORDER BY bucket, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie records: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var bucket, line string
		if err := rows.Scan(&bucket, &line); err != nil {
			return nil, err
		}
		result[bucket] = append(result[bucket], line)
	}
	return result, rows.Err()
}

// WriteBucket replaces the rows of a bucket in one transaction.
func (s *Store) WriteBucket(ctx context.Context, key string, lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cookies.ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cookie_records WHERE bucket = ?`, key); err != nil {
		return fmt.Errorf("failed to delete bucket %s: %w", key, err)
	}

	now := time.Now()
	for i, line := range lines {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO cookie_records (id, bucket, position, cookie, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, uuid.New().String(), key, i, line, now)
		if err != nil {
			return fmt.Errorf("failed to write bucket %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// Clear removes all records.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cookies.ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM cookie_records`)
	return err
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
