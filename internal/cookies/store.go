package cookies

import (
	"context"
	"errors"
)

// Common errors.
var (
	ErrStoreClosed   = errors.New("cookie store is closed")
	ErrInvalidCookie = errors.New("invalid cookie")
)

// Store is the durable key-value backing store a PersistentJar writes
// through to. Each key is an effective URI and each value is the set of
// cookie wire strings of that bucket.
type Store interface {
	// ReadAll returns every persisted bucket.
	ReadAll(ctx context.Context) (map[string][]string, error)

	// WriteBucket replaces the record stored under key. Writing an empty
	// set deletes the record. The write is durable once it returns.
	WriteBucket(ctx context.Context, key string, cookies []string) error

	// Clear removes every record.
	Clear(ctx context.Context) error

	// Close closes the store.
	Close() error
}

// Dedupe returns lines with repeated entries removed, keeping the first
// occurrence of each. Stores use it to hold every bucket as a set.
func Dedupe(lines []string) []string {
	seen := make(map[string]bool, len(lines))
	var result []string
	for _, l := range lines {
		if !seen[l] {
			seen[l] = true
			result = append(result, l)
		}
	}
	return result
}
