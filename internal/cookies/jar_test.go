package cookies

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// mockStore implements Store for testing
type mockStore struct {
	mu       sync.Mutex
	records  map[string][]string
	writes   int
	readErr  error
	writeErr error
	clearErr error
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string][]string)}
}

func (m *mockStore) ReadAll(ctx context.Context) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	result := make(map[string][]string, len(m.records))
	for k, v := range m.records {
		result[k] = slices.Clone(v)
	}
	return result, nil
}

func (m *mockStore) WriteBucket(ctx context.Context, key string, lines []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	if len(lines) == 0 {
		delete(m.records, key)
		return nil
	}
	m.records[key] = slices.Clone(lines)
	return nil
}

func (m *mockStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	clear(m.records)
	return nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) record(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records[key])
}

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestJar(t *testing.T, store Store) (*PersistentJar, *testClock) {
	t.Helper()
	clock := &testClock{now: testNow}
	jar, err := NewPersistentJar(store, WithClock(clock.Now))
	require.NoError(t, err)
	return jar, clock
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func names(cs []*Cookie) []string {
	var result []string
	for _, c := range cs {
		result = append(result, c.Name+"="+c.Value)
	}
	return result
}

func TestPersistentJar_Login(t *testing.T) {
	store := newMockStore()
	jar, clock := newTestJar(t, store)

	login := mustParse(t, "https://time.infra.tikalk.dev/login.php")
	jar.Add(login, &Cookie{
		Name: "sid", Value: "abc", Domain: "time.infra.tikalk.dev", Path: "/",
		Expires: clock.Now().Add(3600 * time.Second),
	})

	report := mustParse(t, "https://time.infra.tikalk.dev/time.php")
	assert.Equal(t, []string{"sid=abc"}, names(jar.Get(report)))

	clock.Advance(3601 * time.Second)

	assert.Empty(t, jar.Get(report))
	assert.Empty(t, jar.All())
	assert.Empty(t, store.record("http://time.infra.tikalk.dev"))
	assert.Empty(t, jar.URIs())
}

func TestPersistentJar_Add(t *testing.T) {
	t.Run("get returns added cookie", func(t *testing.T) {
		jar, _ := newTestJar(t, newMockStore())
		u := mustParse(t, "https://example.com/a")
		c := &Cookie{Name: "a", Value: "1", Domain: "example.com", Path: "/"}

		jar.Add(u, c)

		got := jar.Get(u)
		require.Len(t, got, 1)
		assert.Equal(t, c, got[0])
		assert.NotSame(t, c, got[0])
	})

	t.Run("same identity replaces and moves to tail", func(t *testing.T) {
		store := newMockStore()
		jar, _ := newTestJar(t, store)
		u := mustParse(t, "https://example.com/")

		jar.Add(u, &Cookie{Name: "a", Value: "1", Domain: "example.com", Path: "/"})
		jar.Add(u, &Cookie{Name: "b", Value: "1", Domain: "example.com", Path: "/"})
		jar.Add(u, &Cookie{Name: "a", Value: "2", Domain: "example.com", Path: "/"})

		assert.Equal(t, []string{"b=1", "a=2"}, names(jar.All()))
		assert.Equal(t, []string{
			"b=1; Path=/; Domain=example.com",
			"a=2; Path=/; Domain=example.com",
		}, store.record("http://example.com"))
	})

	t.Run("different path is a different cookie", func(t *testing.T) {
		jar, _ := newTestJar(t, newMockStore())
		u := mustParse(t, "https://example.com/")

		jar.Add(u, &Cookie{Name: "a", Value: "1", Domain: "example.com", Path: "/"})
		jar.Add(u, &Cookie{Name: "a", Value: "2", Domain: "example.com", Path: "/x"})

		assert.Len(t, jar.All(), 2)
	})

	t.Run("nil uri or cookie is dropped", func(t *testing.T) {
		store := newMockStore()
		jar, _ := newTestJar(t, store)

		jar.Add(nil, &Cookie{Name: "a", Value: "1"})
		jar.Add(mustParse(t, "https://example.com/"), nil)

		assert.Empty(t, jar.All())
		assert.Zero(t, store.writes)
	})

	t.Run("later mutation of the argument does not leak in", func(t *testing.T) {
		jar, _ := newTestJar(t, newMockStore())
		u := mustParse(t, "https://example.com/")
		c := &Cookie{Name: "a", Value: "1", Domain: "example.com", Path: "/"}

		jar.Add(u, c)
		c.Value = "changed"

		assert.Equal(t, []string{"a=1"}, names(jar.Get(u)))
	})

	t.Run("write failure is logged, not returned", func(t *testing.T) {
		store := newMockStore()
		store.writeErr = errors.New("disk full")
		core, logs := observer.New(zap.WarnLevel)
		jar, err := NewPersistentJar(store, WithLogger(zap.New(core)), WithClock(func() time.Time { return testNow }))
		require.NoError(t, err)
		u := mustParse(t, "https://example.com/")

		jar.Add(u, &Cookie{Name: "a", Value: "1", Domain: "example.com", Path: "/"})

		assert.Equal(t, []string{"a=1"}, names(jar.Get(u)))
		assert.Equal(t, 1, logs.FilterMessage("failed to persist cookie bucket").Len())
	})

	t.Run("expiry is rounded up to the second", func(t *testing.T) {
		jar, clock := newTestJar(t, newMockStore())
		u := mustParse(t, "https://example.com/")

		require.NoError(t, jar.Add(u, &Cookie{
			Name: "a", Value: "1", Domain: "example.com", Path: "/",
			Expires: clock.Now().Add(time.Hour + 250*time.Millisecond),
		}))

		got := jar.Get(u)
		require.Len(t, got, 1)
		assert.Equal(t, testNow.Add(time.Hour+time.Second), got[0].Expires)
	})

	t.Run("rejects cookies that cannot be restored", func(t *testing.T) {
		tests := []struct {
			name   string
			cookie *Cookie
		}{
			{name: "semicolon in value", cookie: &Cookie{Name: "n", Value: "a;b"}},
			{name: "quote in value", cookie: &Cookie{Name: "n", Value: `q"x`}},
			{name: "backslash in value", cookie: &Cookie{Name: "n", Value: `back\slash`}},
			{name: "tab in value", cookie: &Cookie{Name: "n", Value: "tab\tx"}},
			{name: "non-ascii value", cookie: &Cookie{Name: "n", Value: "caf\u00e9"}},
			{name: "empty name", cookie: &Cookie{Value: "1"}},
			{name: "space in name", cookie: &Cookie{Name: "bad name", Value: "1"}},
			{name: "semicolon in path", cookie: &Cookie{Name: "n", Value: "1", Path: "/a;b"}},
			{name: "padded domain", cookie: &Cookie{Name: "n", Value: "1", Domain: "example.com "}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				store := newMockStore()
				jar, _ := newTestJar(t, store)
				u := mustParse(t, "https://example.com/")

				err := jar.Add(u, tt.cookie)

				assert.ErrorIs(t, err, ErrInvalidCookie)
				assert.Empty(t, jar.All())
				assert.Zero(t, store.writes)
			})
		}
	})

	t.Run("quoted values survive restart", func(t *testing.T) {
		for _, value := range []string{"with space", "a,b", " padded ", ""} {
			store := newMockStore()
			first, _ := newTestJar(t, store)
			u := mustParse(t, "https://example.com/")
			require.NoError(t, first.Add(u, &Cookie{Name: "n", Value: value, Domain: "example.com", Path: "/"}))

			second, _ := newTestJar(t, store)

			assert.Equal(t, first.Get(u), second.Get(u), value)
		}
	})
}

func TestPersistentJar_Get(t *testing.T) {
	t.Run("legacy domain reaches subdomains", func(t *testing.T) {
		jar, _ := newTestJar(t, newMockStore())
		jar.Add(mustParse(t, "https://example.com/"), &Cookie{Name: "a", Value: "1", Domain: ".example.com", Path: "/"})

		assert.Equal(t, []string{"a=1"}, names(jar.Get(mustParse(t, "https://x.y.example.com/"))))
		assert.Equal(t, []string{"a=1"}, names(jar.Get(mustParse(t, "https://example.com/"))))
		assert.Empty(t, jar.Get(mustParse(t, "https://notexample.com/")))
	})

	t.Run("standard domain reaches one level only", func(t *testing.T) {
		jar, _ := newTestJar(t, newMockStore())
		jar.Add(mustParse(t, "https://www.example.com/"), &Cookie{Name: "a", Value: "1", Domain: ".example.com", Path: "/", Version: 1})

		assert.Equal(t, []string{"a=1"}, names(jar.Get(mustParse(t, "https://api.example.com/"))))
		assert.Empty(t, jar.Get(mustParse(t, "https://x.y.example.com/")))
	})

	t.Run("cookie without domain is found through its bucket", func(t *testing.T) {
		jar, _ := newTestJar(t, newMockStore())
		u := mustParse(t, "http://localhost:8080/login")
		jar.Add(u, &Cookie{Name: "a", Value: "1", Path: "/"})

		assert.Equal(t, []string{"a=1"}, names(jar.Get(mustParse(t, "http://localhost/other"))))
		assert.Empty(t, jar.Get(mustParse(t, "http://example.com/")))
	})

	t.Run("cookie found by both phases is returned once", func(t *testing.T) {
		jar, _ := newTestJar(t, newMockStore())
		u := mustParse(t, "https://example.com/")
		jar.Add(u, &Cookie{Name: "a", Value: "1", Domain: "example.com", Path: "/"})

		assert.Len(t, jar.Get(u), 1)
	})

	t.Run("expired cookies are pruned from matching buckets", func(t *testing.T) {
		store := newMockStore()
		jar, clock := newTestJar(t, store)
		u := mustParse(t, "https://example.com/")
		jar.Add(u, &Cookie{Name: "short", Value: "1", Domain: "example.com", Path: "/", Expires: clock.Now().Add(time.Minute)})
		jar.Add(u, &Cookie{Name: "long", Value: "1", Domain: "example.com", Path: "/", Expires: clock.Now().Add(time.Hour)})

		clock.Advance(2 * time.Minute)

		assert.Equal(t, []string{"long=1"}, names(jar.Get(u)))
		require.Len(t, store.record("http://example.com"), 1)
		assert.Contains(t, store.record("http://example.com")[0], "long=1")
	})

	t.Run("expired cookie without matching domain is skipped, not pruned", func(t *testing.T) {
		store := newMockStore()
		jar, clock := newTestJar(t, store)
		u := mustParse(t, "http://localhost/")
		jar.Add(u, &Cookie{Name: "a", Value: "1", Path: "/", Expires: clock.Now().Add(time.Minute)})

		clock.Advance(time.Hour)

		assert.Empty(t, jar.Get(u))
		assert.Len(t, store.record("http://localhost"), 1)
	})

	t.Run("nil uri finds nothing", func(t *testing.T) {
		jar, _ := newTestJar(t, newMockStore())
		assert.Empty(t, jar.Get(nil))
	})
}

func TestPersistentJar_All(t *testing.T) {
	t.Run("skips expired without mutation", func(t *testing.T) {
		store := newMockStore()
		jar, clock := newTestJar(t, store)
		u := mustParse(t, "https://example.com/")
		jar.Add(u, &Cookie{Name: "a", Value: "1", Domain: "example.com", Path: "/", Expires: clock.Now().Add(time.Minute)})
		jar.Add(u, &Cookie{Name: "b", Value: "1", Domain: "example.com", Path: "/"})
		writes := store.writes

		clock.Advance(time.Hour)

		assert.Equal(t, []string{"b=1"}, names(jar.All()))
		assert.Equal(t, writes, store.writes)
		assert.Len(t, store.record("http://example.com"), 2)
	})

	t.Run("de-duplicates across buckets", func(t *testing.T) {
		jar, _ := newTestJar(t, newMockStore())
		c := &Cookie{Name: "a", Value: "1", Domain: ".example.com", Path: "/"}
		jar.Add(mustParse(t, "https://a.example.com/"), c)
		jar.Add(mustParse(t, "https://b.example.com/"), c)

		assert.Len(t, jar.All(), 1)
		assert.Len(t, jar.URIs(), 2)
	})
}

func TestPersistentJar_Remove(t *testing.T) {
	t.Run("removes matching cookie", func(t *testing.T) {
		store := newMockStore()
		jar, _ := newTestJar(t, store)
		u := mustParse(t, "https://example.com/")
		jar.Add(u, &Cookie{Name: "a", Value: "1", Domain: "example.com", Path: "/"})
		jar.Add(u, &Cookie{Name: "b", Value: "1", Domain: "example.com", Path: "/"})

		removed := jar.Remove(u, &Cookie{Name: "a", Domain: "example.com", Path: "/"})

		assert.True(t, removed)
		assert.Equal(t, []string{"b=1"}, names(jar.Get(u)))
		assert.Equal(t, []string{"b=1; Path=/; Domain=example.com"}, store.record("http://example.com"))
	})

	t.Run("last cookie deletes the bucket", func(t *testing.T) {
		store := newMockStore()
		jar, _ := newTestJar(t, store)
		u := mustParse(t, "https://example.com/")
		jar.Add(u, &Cookie{Name: "a", Value: "1", Domain: "example.com", Path: "/"})

		require.True(t, jar.Remove(u, &Cookie{Name: "a", Domain: "example.com", Path: "/"}))

		assert.Empty(t, jar.URIs())
		records, err := store.ReadAll(context.Background())
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("reports false when nothing matched", func(t *testing.T) {
		store := newMockStore()
		jar, _ := newTestJar(t, store)
		u := mustParse(t, "https://example.com/")
		jar.Add(u, &Cookie{Name: "a", Value: "1", Domain: "example.com", Path: "/"})
		writes := store.writes

		assert.False(t, jar.Remove(u, &Cookie{Name: "a", Domain: "example.com", Path: "/other"}))
		assert.False(t, jar.Remove(mustParse(t, "https://other.com/"), &Cookie{Name: "a", Domain: "example.com", Path: "/"}))
		assert.False(t, jar.Remove(nil, &Cookie{Name: "a"}))
		assert.False(t, jar.Remove(u, nil))
		assert.Equal(t, writes, store.writes)
	})
}

func TestPersistentJar_Delete(t *testing.T) {
	t.Run("removes a domain cookie stored under another host", func(t *testing.T) {
		store := newMockStore()
		jar, _ := newTestJar(t, store)
		a := mustParse(t, "https://a.example.com/")
		b := mustParse(t, "https://b.example.com/")
		jar.Add(a, &Cookie{Name: "sid", Value: "1", Domain: ".example.com", Path: "/"})

		got := jar.Get(b)
		require.Len(t, got, 1)
		require.False(t, jar.Remove(b, got[0]))

		assert.True(t, jar.Delete(got[0]))
		assert.Empty(t, jar.Get(b))
		assert.Empty(t, jar.URIs())
		assert.Empty(t, store.record("http://a.example.com"))
	})

	t.Run("removes every copy", func(t *testing.T) {
		jar, _ := newTestJar(t, newMockStore())
		c := &Cookie{Name: "a", Value: "1", Domain: ".example.com", Path: "/"}
		jar.Add(mustParse(t, "https://a.example.com/"), c)
		jar.Add(mustParse(t, "https://b.example.com/"), c)
		jar.Add(mustParse(t, "https://b.example.com/"), &Cookie{Name: "b", Value: "1", Domain: "b.example.com", Path: "/"})

		assert.True(t, jar.Delete(&Cookie{Name: "A", Domain: ".EXAMPLE.com", Path: "/"}))
		assert.Equal(t, []string{"b=1"}, names(jar.All()))
		assert.Len(t, jar.URIs(), 1)
	})

	t.Run("reports false when nothing matched", func(t *testing.T) {
		store := newMockStore()
		jar, _ := newTestJar(t, store)
		jar.Add(mustParse(t, "https://example.com/"), &Cookie{Name: "a", Value: "1", Domain: "example.com", Path: "/"})
		writes := store.writes

		assert.False(t, jar.Delete(&Cookie{Name: "a", Domain: "example.com", Path: "/other"}))
		assert.False(t, jar.Delete(nil))
		assert.Equal(t, writes, store.writes)
	})
}

func TestPersistentJar_RemoveAll(t *testing.T) {
	t.Run("clears memory and store", func(t *testing.T) {
		store := newMockStore()
		jar, _ := newTestJar(t, store)
		jar.Add(mustParse(t, "https://a.com/"), &Cookie{Name: "a", Value: "1", Domain: "a.com", Path: "/"})
		jar.Add(mustParse(t, "https://b.com/"), &Cookie{Name: "b", Value: "1", Domain: "b.com", Path: "/"})

		assert.True(t, jar.RemoveAll())

		assert.Empty(t, jar.URIs())
		assert.Empty(t, jar.All())
		records, err := store.ReadAll(context.Background())
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("reports false on empty jar", func(t *testing.T) {
		jar, _ := newTestJar(t, newMockStore())
		assert.False(t, jar.RemoveAll())
	})

	t.Run("clear failure is logged", func(t *testing.T) {
		store := newMockStore()
		store.clearErr = errors.New("locked")
		core, logs := observer.New(zap.WarnLevel)
		jar, err := NewPersistentJar(store, WithLogger(zap.New(core)))
		require.NoError(t, err)
		jar.Add(mustParse(t, "https://a.com/"), &Cookie{Name: "a", Value: "1", Domain: "a.com", Path: "/"})

		assert.True(t, jar.RemoveAll())
		assert.Equal(t, 1, logs.FilterMessage("failed to clear cookie store").Len())
	})
}

func TestPersistentJar_URIs(t *testing.T) {
	jar, _ := newTestJar(t, newMockStore())
	jar.Add(mustParse(t, "https://b.example.com:8443/x?y=1"), &Cookie{Name: "a", Value: "1", Path: "/"})
	jar.Add(mustParse(t, "https://a.example.com/"), &Cookie{Name: "a", Value: "1", Path: "/"})

	var got []string
	for _, u := range jar.URIs() {
		got = append(got, u.String())
	}
	assert.Equal(t, []string{"http://a.example.com", "http://b.example.com"}, got)
}

func TestPersistentJar_Load(t *testing.T) {
	t.Run("restart returns the same cookies", func(t *testing.T) {
		store := newMockStore()
		first, clock := newTestJar(t, store)
		u := mustParse(t, "https://time.infra.tikalk.dev/login.php")
		first.Add(u, &Cookie{
			Name: "sid", Value: "abc", Domain: "time.infra.tikalk.dev", Path: "/",
			Expires: clock.Now().Add(time.Hour), Secure: true, HttpOnly: true,
		})
		first.Add(u, &Cookie{Name: "pref", Value: "x", Domain: ".tikalk.dev", Path: "/", Version: 1, Port: "443"})
		before := first.Get(u)

		second, _ := newTestJar(t, store)

		assert.Equal(t, before, second.Get(u))
	})

	t.Run("fractional second clock survives restart", func(t *testing.T) {
		store := newMockStore()
		now := time.Date(2026, 1, 1, 0, 0, 0, 500_000_000, time.UTC)
		clock := WithClock(func() time.Time { return now })
		first, err := NewPersistentJar(store, clock)
		require.NoError(t, err)
		u := mustParse(t, "https://example.com/")

		require.NoError(t, first.Add(u, &Cookie{Name: "sid", Value: "abc", Domain: "example.com", Path: "/", Expires: now.Add(time.Hour)}))
		first.SetCookies(u, []*http.Cookie{{Name: "short", Value: "1", MaxAge: 60}})
		before := first.Get(u)
		require.Len(t, before, 2)
		assert.Equal(t, time.Date(2026, 1, 1, 1, 0, 1, 0, time.UTC), before[0].Expires)
		assert.Equal(t, time.Date(2026, 1, 1, 0, 1, 1, 0, time.UTC), before[1].Expires)

		second, err := NewPersistentJar(store, clock)
		require.NoError(t, err)

		assert.Equal(t, before, second.Get(u))
	})

	t.Run("malformed records are dropped and logged", func(t *testing.T) {
		store := newMockStore()
		store.records["http://example.com"] = []string{"good=1; Path=/; Domain=example.com", "garbage", "=nope"}
		core, logs := observer.New(zap.WarnLevel)

		jar, err := NewPersistentJar(store, WithLogger(zap.New(core)), WithClock(func() time.Time { return testNow }))

		require.NoError(t, err)
		assert.Equal(t, []string{"good=1"}, names(jar.All()))
		assert.Equal(t, 2, logs.FilterMessage("dropping malformed cookie record").Len())
	})

	t.Run("load does not write", func(t *testing.T) {
		store := newMockStore()
		store.records["http://example.com"] = []string{"a=1; Path=/"}

		_, err := NewPersistentJar(store)

		require.NoError(t, err)
		assert.Zero(t, store.writes)
	})

	t.Run("read failure fails construction", func(t *testing.T) {
		store := newMockStore()
		store.readErr = errors.New("unavailable")

		_, err := NewPersistentJar(store)

		assert.ErrorIs(t, err, store.readErr)
	})
}

func TestPersistentJar_Concurrent(t *testing.T) {
	store := newMockStore()
	jar, _ := newTestJar(t, store)
	u := mustParse(t, "https://example.com/")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c := &Cookie{Name: "c", Value: "v", Domain: "example.com", Path: "/"}
				jar.Add(u, c)
				jar.Get(u)
				jar.All()
				jar.URIs()
				if j%10 == 0 {
					jar.Remove(u, c)
				}
			}
		}()
	}
	wg.Wait()

	got := jar.Get(u)
	assert.LessOrEqual(t, len(got), 1)
	assert.Len(t, store.record("http://example.com"), len(got))
}
