package cookies

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// String renders the cookie in Set-Cookie attribute grammar. This is the
// form written to the backing store. Expiry is written as an absolute
// Expires date so a reload does not restart the cookie's lifetime.
func (c *Cookie) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	if strings.ContainsAny(c.Value, " ,") {
		b.WriteString(`"` + c.Value + `"`)
	} else {
		b.WriteString(c.Value)
	}
	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if !c.Expires.IsZero() {
		b.WriteString("; Expires=")
		b.WriteString(c.Expires.UTC().Format(http.TimeFormat))
	}
	if c.Port != "" {
		b.WriteString("; Port=")
		b.WriteString(c.Port)
	}
	if c.Version > 0 {
		b.WriteString("; Version=")
		b.WriteString(strconv.Itoa(c.Version))
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	if c.HttpOnly {
		b.WriteString("; HttpOnly")
	}
	return b.String()
}

// Validate returns an error wrapping ErrInvalidCookie when c would not
// survive a trip through String and ParseCookies unchanged. The name must be a token, the value may hold
// printable ASCII except '"', ';' and '\', and the attributes may not
// hold those bytes or surrounding spaces either. A non-zero expiry must
// fall in years 1 to 9999.
func (c *Cookie) Validate() error {
	if !httpguts.ValidHeaderFieldName(c.Name) {
		return fmt.Errorf("%w: name %q is not a token", ErrInvalidCookie, c.Name)
	}
	if !validCookieValue(c.Value) {
		return fmt.Errorf("%w: value of %s has bytes that cannot be stored", ErrInvalidCookie, c.Name)
	}
	for attr, v := range map[string]string{"domain": c.Domain, "path": c.Path, "port": c.Port} {
		if !validCookieValue(v) || strings.TrimSpace(v) != v {
			return fmt.Errorf("%w: %s %q of %s cannot be stored", ErrInvalidCookie, attr, v, c.Name)
		}
	}
	if !c.Expires.IsZero() {
		if y := c.Expires.UTC().Year(); y < 1 || y > 9999 {
			return fmt.Errorf("%w: expiry year %d of %s is out of range", ErrInvalidCookie, y, c.Name)
		}
	}
	return nil
}

func validCookieValue(v string) bool {
	for i := 0; i < len(v); i++ {
		b := v[i]
		if b < 0x20 || b >= 0x7f || b == '"' || b == ';' || b == '\\' {
			return false
		}
	}
	return true
}

// ParseCookies parses a Set-Cookie line into zero or more cookies. A
// malformed line yields no cookies. Max-Age is resolved against now and
// takes precedence over Expires.
func ParseCookies(line string, now time.Time) []*Cookie {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	hc, err := http.ParseSetCookie(line)
	if err != nil {
		return nil
	}
	return []*Cookie{FromHTTPCookie(hc, now)}
}

func parseVersion(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
