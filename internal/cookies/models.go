package cookies

import (
	"net/http"
	"strings"
	"time"
)

// Cookie represents a stored cookie with all attributes.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Port     string    `json:"port,omitempty"` // comma separated port list
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure"`
	HttpOnly bool      `json:"http_only"`
	Version  int       `json:"version"` // 0 = Netscape, >= 1 = RFC 2965
}

// IsExpired reports whether the cookie has expired at now.
// Session cookies never expire.
func (c *Cookie) IsExpired(now time.Time) bool {
	if c.Expires.IsZero() {
		return false
	}
	return !now.Before(c.Expires)
}

// IsSession returns true if this is a session cookie (no expiration).
func (c *Cookie) IsSession() bool {
	return c.Expires.IsZero()
}

// SameIdentity reports whether c and other replace each other in a bucket:
// equal name and domain (case-insensitive) and equal path.
func (c *Cookie) SameIdentity(other *Cookie) bool {
	return strings.EqualFold(c.Name, other.Name) &&
		strings.EqualFold(c.Domain, other.Domain) &&
		c.Path == other.Path
}

func (c *Cookie) identity() string {
	return strings.ToLower(c.Name) + "|" + strings.ToLower(c.Domain) + "|" + c.Path
}

func (c *Cookie) clone() *Cookie {
	cp := *c
	return &cp
}

// ToHTTPCookie converts to standard http.Cookie.
func (c *Cookie) ToHTTPCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		Expires:  c.Expires,
	}
}

// FromHTTPCookie creates a Cookie from an http.Cookie received at now.
// A positive MaxAge becomes an absolute expiry rounded up to the second;
// MaxAge < 0 yields a cookie that is already expired. Version and Port are read from the unparsed
// attributes.
func FromHTTPCookie(hc *http.Cookie, now time.Time) *Cookie {
	c := &Cookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Domain:   hc.Domain,
		Path:     hc.Path,
		Secure:   hc.Secure,
		HttpOnly: hc.HttpOnly,
	}

	switch {
	case hc.MaxAge > 0:
		c.Expires = wholeSecond(now.Add(time.Duration(hc.MaxAge) * time.Second))
	case hc.MaxAge < 0:
		c.Expires = now.UTC().Truncate(time.Second)
	case !hc.Expires.IsZero():
		c.Expires = wholeSecond(hc.Expires)
	}

	for _, attr := range hc.Unparsed {
		key, val, _ := strings.Cut(attr, "=")
		val = strings.Trim(strings.TrimSpace(val), `"`)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "version":
			c.Version = parseVersion(val)
		case "port":
			c.Port = val
		}
	}

	return c
}

// wholeSecond returns t in UTC rounded up to the next whole second, the
// resolution of the Expires attribute. The zero time is returned as is.
func wholeSecond(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	if floor := t.Truncate(time.Second); floor.Before(t) {
		return floor.Add(time.Second)
	}
	return t
}
