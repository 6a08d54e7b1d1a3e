package cookies

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PersistentJar is a cookie store that survives restarts. Cookies are
// bucketed by effective URI in memory and every mutation is written through
// to the injected Store before the call returns.
//
// All methods take one mutex and are safe for concurrent use. None of them
// may be called from inside another method's critical section.
type PersistentJar struct {
	mu     sync.Mutex
	index  *index
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a PersistentJar.
type Option func(*PersistentJar)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(pj *PersistentJar) {
		pj.logger = logger
	}
}

// WithClock sets the time source expiry is evaluated against.
func WithClock(now func() time.Time) Option {
	return func(pj *PersistentJar) {
		pj.now = now
	}
}

// NewPersistentJar creates a jar over store and loads every record it holds.
func NewPersistentJar(store Store, opts ...Option) (*PersistentJar, error) {
	pj := &PersistentJar{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(pj)
	}
	pj.index = newIndex(store, pj.logger)

	if err := pj.index.load(context.Background(), pj.now()); err != nil {
		return nil, fmt.Errorf("failed to load cookies: %w", err)
	}

	return pj, nil
}

// Add stores c under the effective URI of u, replacing any cookie with the
// same name, domain and path. A nil u or c is ignored. The stored expiry is
// rounded up to the whole second so the cookie reads back the same after a
// reload. A cookie that fails Validate is not stored and its error is
// returned.
func (pj *PersistentJar) Add(u *url.URL, c *Cookie) error {
	if u == nil || c == nil {
		return nil
	}
	if err := c.Validate(); err != nil {
		pj.logger.Warn("dropping cookie that cannot be persisted",
			zap.String("name", c.Name), zap.Error(err))
		return err
	}
	key := bucketKey(u)
	c = c.clone()
	c.Expires = wholeSecond(c.Expires)

	pj.mu.Lock()
	defer pj.mu.Unlock()

	pj.index.upsert(key, c)
	return nil
}

// Get returns the unexpired cookies that apply to u's host: those whose
// domain attribute matches it plus those stored under its effective URI.
// Expired cookies met on the way are removed.
func (pj *PersistentJar) Get(u *url.URL) []*Cookie {
	if u == nil {
		return nil
	}
	key := bucketKey(u)

	pj.mu.Lock()
	defer pj.mu.Unlock()

	return pj.index.cookiesForHost(u.Hostname(), key, pj.now())
}

// All returns every unexpired cookie.
func (pj *PersistentJar) All() []*Cookie {
	pj.mu.Lock()
	defer pj.mu.Unlock()

	return pj.index.allCookies(pj.now())
}

// URIs returns the effective URIs that currently hold cookies.
func (pj *PersistentJar) URIs() []*url.URL {
	pj.mu.Lock()
	keys := pj.index.keys()
	pj.mu.Unlock()

	uris := make([]*url.URL, 0, len(keys))
	for _, k := range keys {
		u, err := url.Parse(k)
		if err != nil {
			pj.logger.Warn("skipping unparsable bucket key", zap.String("bucket", k), zap.Error(err))
			continue
		}
		uris = append(uris, u)
	}
	return uris
}

// Remove deletes the cookie with c's name, domain and path from the bucket
// of u. It reports whether a cookie was removed.
func (pj *PersistentJar) Remove(u *url.URL, c *Cookie) bool {
	if u == nil || c == nil {
		return false
	}
	key := bucketKey(u)

	pj.mu.Lock()
	defer pj.mu.Unlock()

	return pj.index.removeOne(key, c)
}

// Delete removes the cookie with c's name, domain and path from every
// bucket that holds it, wherever it was stored. It reports whether a
// cookie was removed.
func (pj *PersistentJar) Delete(c *Cookie) bool {
	if c == nil {
		return false
	}

	pj.mu.Lock()
	defer pj.mu.Unlock()

	return pj.index.removeIdentity(c)
}

// RemoveAll deletes every cookie from memory and from the store. It reports
// whether any bucket existed.
func (pj *PersistentJar) RemoveAll() bool {
	pj.mu.Lock()
	defer pj.mu.Unlock()

	return pj.index.removeAll()
}

// Store returns the underlying store (for closing).
func (pj *PersistentJar) Store() Store {
	return pj.store
}
