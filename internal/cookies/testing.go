package cookies

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreTests runs the standard store test suite against any Store implementation.
// Use this to verify that a Store implementation correctly implements the interface.
func RunStoreTests(t *testing.T, newStore func() (Store, func())) {
	t.Run("ReadAll", func(t *testing.T) {
		runReadAllTests(t, newStore)
	})
	t.Run("WriteBucket", func(t *testing.T) {
		runWriteBucketTests(t, newStore)
	})
	t.Run("Clear", func(t *testing.T) {
		runClearTests(t, newStore)
	})
	t.Run("Close", func(t *testing.T) {
		runCloseTests(t, newStore)
	})
}

func runReadAllTests(t *testing.T, newStore func() (Store, func())) {
	t.Run("returns empty map for new store", func(t *testing.T) {
		store, cleanup := newStore()
		defer cleanup()

		records, err := store.ReadAll(context.Background())

		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("returns every bucket", func(t *testing.T) {
		store, cleanup := newStore()
		defer cleanup()
		ctx := context.Background()

		require.NoError(t, store.WriteBucket(ctx, "http://a.example.com", []string{"a=1; Path=/"}))
		require.NoError(t, store.WriteBucket(ctx, "http://b.example.com", []string{"b=2; Path=/", "c=3; Path=/x"}))

		records, err := store.ReadAll(ctx)

		require.NoError(t, err)
		assert.Len(t, records, 2)
		assert.ElementsMatch(t, []string{"a=1; Path=/"}, records["http://a.example.com"])
		assert.ElementsMatch(t, []string{"b=2; Path=/", "c=3; Path=/x"}, records["http://b.example.com"])
	})
}

func runWriteBucketTests(t *testing.T, newStore func() (Store, func())) {
	t.Run("replaces existing record", func(t *testing.T) {
		store, cleanup := newStore()
		defer cleanup()
		ctx := context.Background()

		require.NoError(t, store.WriteBucket(ctx, "http://example.com", []string{"a=1", "b=2"}))
		require.NoError(t, store.WriteBucket(ctx, "http://example.com", []string{"c=3"}))

		records, err := store.ReadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"c=3"}, records["http://example.com"])
	})

	t.Run("empty set deletes record", func(t *testing.T) {
		store, cleanup := newStore()
		defer cleanup()
		ctx := context.Background()

		require.NoError(t, store.WriteBucket(ctx, "http://example.com", []string{"a=1"}))
		require.NoError(t, store.WriteBucket(ctx, "http://example.com", nil))

		records, err := store.ReadAll(ctx)
		require.NoError(t, err)
		assert.NotContains(t, records, "http://example.com")
	})

	t.Run("stores duplicates once", func(t *testing.T) {
		store, cleanup := newStore()
		defer cleanup()
		ctx := context.Background()

		require.NoError(t, store.WriteBucket(ctx, "http://example.com", []string{"a=1", "a=1"}))

		records, err := store.ReadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a=1"}, records["http://example.com"])
	})

	t.Run("leaves other buckets alone", func(t *testing.T) {
		store, cleanup := newStore()
		defer cleanup()
		ctx := context.Background()

		require.NoError(t, store.WriteBucket(ctx, "http://a.com", []string{"a=1"}))
		require.NoError(t, store.WriteBucket(ctx, "http://b.com", []string{"b=1"}))
		require.NoError(t, store.WriteBucket(ctx, "http://a.com", []string{"a=2"}))

		records, err := store.ReadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b=1"}, records["http://b.com"])
		assert.Equal(t, []string{"a=2"}, records["http://a.com"])
	})
}

func runClearTests(t *testing.T, newStore func() (Store, func())) {
	t.Run("removes every record", func(t *testing.T) {
		store, cleanup := newStore()
		defer cleanup()
		ctx := context.Background()

		require.NoError(t, store.WriteBucket(ctx, "http://a.com", []string{"a=1"}))
		require.NoError(t, store.WriteBucket(ctx, "http://b.com", []string{"b=1"}))

		require.NoError(t, store.Clear(ctx))

		records, err := store.ReadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("clear on empty store succeeds", func(t *testing.T) {
		store, cleanup := newStore()
		defer cleanup()

		assert.NoError(t, store.Clear(context.Background()))
	})
}

func runCloseTests(t *testing.T, newStore func() (Store, func())) {
	t.Run("operations fail after close", func(t *testing.T) {
		store, cleanup := newStore()
		defer cleanup()
		ctx := context.Background()

		require.NoError(t, store.Close())

		_, err := store.ReadAll(ctx)
		assert.ErrorIs(t, err, ErrStoreClosed)
		assert.ErrorIs(t, store.WriteBucket(ctx, "http://a.com", []string{"a=1"}), ErrStoreClosed)
		assert.ErrorIs(t, store.Clear(ctx), ErrStoreClosed)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		store, cleanup := newStore()
		defer cleanup()

		require.NoError(t, store.Close())
		assert.NoError(t, store.Close())
	})
}
