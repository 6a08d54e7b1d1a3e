package cookies

import (
	"net/url"
	"strings"
)

// EffectiveURI reduces a request URI to the host-only key its cookies are
// bucketed under: scheme "http" plus the lower-cased host. Port, path,
// query and fragment are dropped. A nil URI yields nil; a URI without a
// host is returned unchanged.
func EffectiveURI(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return u
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return &url.URL{Scheme: "http", Host: host}
}

// bucketKey is the index and backing-store key for u.
func bucketKey(u *url.URL) string {
	eff := EffectiveURI(u)
	if eff == nil {
		return ""
	}
	return eff.String()
}
