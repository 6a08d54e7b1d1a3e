package cookies

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var _ http.CookieJar = (*PersistentJar)(nil)

// PutResult says what Put did with a cookie.
type PutResult int

const (
	// Rejected means the cookie was not stored.
	Rejected PutResult = iota
	// Stored means the cookie was added or replaced a stored one.
	Stored
	// Deleted means the cookie was already expired and removed the stored
	// cookie with the same name, domain and path, if any.
	Deleted
)

func (r PutResult) String() string {
	switch r {
	case Stored:
		return "stored"
	case Deleted:
		return "deleted"
	default:
		return "rejected"
	}
}

// Put applies a cookie received in a response from u. A missing Domain
// defaults to the request host (".local" is appended to dotless hosts) and
// a missing Path to the directory of the request path. A cookie whose
// explicit domain does not match the host, whose port list excludes the
// request port, or which fails Validate is rejected. An already expired
// cookie deletes the stored one.
func (pj *PersistentJar) Put(u *url.URL, c *Cookie) PutResult {
	if u == nil || c == nil {
		return Rejected
	}
	host := strings.ToLower(u.Hostname())
	c = c.clone()

	if c.Domain == "" {
		c.Domain = host
		if !strings.Contains(host, ".") {
			c.Domain += ".local"
		}
	} else if !MatcherFor(c.Version).Match(c.Domain, host) {
		pj.logger.Debug("rejecting cookie for foreign domain",
			zap.String("name", c.Name), zap.String("domain", c.Domain), zap.String("host", host))
		return Rejected
	}
	if c.Path == "" {
		c.Path = defaultPath(u.Path)
	}
	if c.Port != "" && !portListed(c.Port, requestPort(u)) {
		pj.logger.Debug("rejecting cookie for unlisted port",
			zap.String("name", c.Name), zap.String("port", c.Port))
		return Rejected
	}

	if c.IsExpired(pj.now()) {
		pj.Remove(u, c)
		return Deleted
	}
	if err := pj.Add(u, c); err != nil {
		return Rejected
	}
	return Stored
}

// SetCookies implements http.CookieJar.
func (pj *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	now := pj.now()
	for _, hc := range cookies {
		pj.Put(u, FromHTTPCookie(hc, now))
	}
}

// Cookies implements http.CookieJar. It narrows Get to cookies whose path,
// Secure flag, HttpOnly flag and port list allow them on u, most specific
// path first.
func (pj *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	if u == nil {
		return nil
	}
	secure := u.Scheme == "https" || u.Scheme == "wss"
	httpScheme := u.Scheme == "http" || u.Scheme == "https"
	path := u.Path
	if path == "" {
		path = "/"
	}
	port := requestPort(u)

	var matched []*Cookie
	for _, c := range pj.Get(u) {
		if !pathMatch(path, c.Path) {
			continue
		}
		if c.Secure && !secure {
			continue
		}
		if c.HttpOnly && !httpScheme {
			continue
		}
		if c.Port != "" && !portListed(c.Port, port) {
			continue
		}
		matched = append(matched, c)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return len(matched[i].Path) > len(matched[j].Path)
	})

	result := make([]*http.Cookie, 0, len(matched))
	for _, c := range matched {
		result = append(result, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return result
}

// defaultPath is the directory of the request path, per RFC 6265 5.1.4.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndexByte(p, '/')
	if i == 0 {
		return "/"
	}
	return p[:i]
}

// pathMatch reports whether cookiePath applies to requestPath.
func pathMatch(requestPath, cookiePath string) bool {
	if cookiePath == "" || requestPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
}

func requestPort(u *url.URL) int {
	if p, err := strconv.Atoi(u.Port()); err == nil {
		return p
	}
	switch u.Scheme {
	case "https", "wss":
		return 443
	default:
		return 80
	}
}

func portListed(list string, port int) bool {
	for _, p := range strings.Split(list, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil && n == port {
			return true
		}
	}
	return false
}
