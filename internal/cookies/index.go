package cookies

import (
	"context"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"
)

// index holds every bucket in memory and writes each mutation through to
// the backing store before returning. It has no lock of its own: every
// method must be called with PersistentJar.mu held, and none of them may
// call back into the jar.
type index struct {
	buckets map[string][]*Cookie
	store   Store
	logger  *zap.Logger
}

func newIndex(store Store, logger *zap.Logger) *index {
	return &index{
		buckets: make(map[string][]*Cookie),
		store:   store,
		logger:  logger,
	}
}

// load replays every persisted record. Records that do not parse are
// dropped.
func (ix *index) load(ctx context.Context, now time.Time) error {
	records, err := ix.store.ReadAll(ctx)
	if err != nil {
		return err
	}

	loaded, dropped := 0, 0
	for key, lines := range records {
		for _, line := range lines {
			parsed := ParseCookies(line, now)
			if len(parsed) == 0 {
				dropped++
				ix.logger.Warn("dropping malformed cookie record",
					zap.String("bucket", key), zap.String("record", line))
				continue
			}
			for _, c := range parsed {
				ix.buckets[key] = replace(ix.buckets[key], c)
				loaded++
			}
		}
	}

	ix.logger.Debug("loaded cookie store",
		zap.Int("buckets", len(ix.buckets)),
		zap.Int("cookies", loaded),
		zap.Int("dropped", dropped))
	return nil
}

// upsert replaces any cookie with the same identity and appends c at the
// tail of the bucket.
func (ix *index) upsert(key string, c *Cookie) {
	ix.buckets[key] = replace(ix.buckets[key], c)
	ix.persist(key)
}

// allCookies returns the unexpired cookies of every bucket. Expired
// cookies are skipped, not pruned.
func (ix *index) allCookies(now time.Time) []*Cookie {
	var result []*Cookie
	seen := make(map[string]bool)
	for _, key := range ix.keys() {
		for _, c := range ix.buckets[key] {
			if c.IsExpired(now) || seen[c.identity()] {
				continue
			}
			seen[c.identity()] = true
			result = append(result, c.clone())
		}
	}
	return result
}

// cookiesForHost collects the cookies whose domain attribute matches host,
// pruning the expired ones it meets, and then the cookies stored under
// key itself.
func (ix *index) cookiesForHost(host, key string, now time.Time) []*Cookie {
	var result []*Cookie
	seen := make(map[string]bool)
	collect := func(c *Cookie) {
		if seen[c.identity()] {
			return
		}
		seen[c.identity()] = true
		result = append(result, c.clone())
	}

	if host != "" {
		for _, k := range ix.keys() {
			bucket := ix.buckets[k]
			kept := make([]*Cookie, 0, len(bucket))
			for _, c := range bucket {
				if !MatcherFor(c.Version).Match(c.Domain, host) {
					kept = append(kept, c)
					continue
				}
				if c.IsExpired(now) {
					continue
				}
				kept = append(kept, c)
				collect(c)
			}
			if len(kept) != len(bucket) {
				ix.set(k, kept)
				ix.persist(k)
			}
		}
	}

	if key != "" {
		for _, c := range ix.buckets[key] {
			if !c.IsExpired(now) {
				collect(c)
			}
		}
	}

	return result
}

// removeOne removes the cookie with c's identity from the bucket.
func (ix *index) removeOne(key string, c *Cookie) bool {
	bucket, ok := ix.buckets[key]
	if !ok {
		return false
	}
	i := slices.IndexFunc(bucket, c.SameIdentity)
	if i < 0 {
		return false
	}
	ix.set(key, slices.Delete(slices.Clone(bucket), i, i+1))
	ix.persist(key)
	return true
}

// removeIdentity removes the cookie with c's identity from every bucket.
func (ix *index) removeIdentity(c *Cookie) bool {
	removed := false
	for _, key := range ix.keys() {
		if ix.removeOne(key, c) {
			removed = true
		}
	}
	return removed
}

// removeAll empties the index and the backing store.
func (ix *index) removeAll() bool {
	had := len(ix.buckets) > 0
	clear(ix.buckets)
	if err := ix.store.Clear(context.Background()); err != nil {
		ix.logger.Warn("failed to clear cookie store", zap.Error(err))
	}
	return had
}

// keys returns the bucket keys in sorted order.
func (ix *index) keys() []string {
	return slices.Sorted(maps.Keys(ix.buckets))
}

// set stores bucket under key; an empty bucket is deleted.
func (ix *index) set(key string, bucket []*Cookie) {
	if len(bucket) == 0 {
		delete(ix.buckets, key)
		return
	}
	ix.buckets[key] = bucket
}

// persist writes the bucket under key to the backing store. A missing
// bucket deletes the record.
func (ix *index) persist(key string) {
	bucket := ix.buckets[key]
	lines := make([]string, 0, len(bucket))
	for _, c := range bucket {
		lines = append(lines, c.String())
	}
	if err := ix.store.WriteBucket(context.Background(), key, lines); err != nil {
		ix.logger.Warn("failed to persist cookie bucket",
			zap.String("bucket", key), zap.Error(err))
	}
}

// replace returns bucket without any cookie sharing c's identity and with
// c appended.
func replace(bucket []*Cookie, c *Cookie) []*Cookie {
	next := make([]*Cookie, 0, len(bucket)+1)
	for _, existing := range bucket {
		if !existing.SameIdentity(c) {
			next = append(next, existing)
		}
	}
	return append(next, c)
}
