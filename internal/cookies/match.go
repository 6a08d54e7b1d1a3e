package cookies

import "strings"

// DomainMatch selects one of the two domain-matching algorithms. Both are
// pure functions and safe for concurrent use.
type DomainMatch int

const (
	// LegacyDomainMatch is the Netscape algorithm used for version 0 cookies.
	LegacyDomainMatch DomainMatch = iota
	// StandardDomainMatch is the RFC 2965 algorithm used for version >= 1.
	StandardDomainMatch
)

// MatcherFor returns the algorithm a cookie of the given version uses.
func MatcherFor(version int) DomainMatch {
	if version == 0 {
		return LegacyDomainMatch
	}
	return StandardDomainMatch
}

// Match reports whether a cookie with the given domain attribute applies
// to host.
func (m DomainMatch) Match(domain, host string) bool {
	if m == LegacyDomainMatch {
		return legacyDomainMatch(domain, host)
	}
	return standardDomainMatch(domain, host)
}

func (m DomainMatch) String() string {
	if m == LegacyDomainMatch {
		return "legacy"
	}
	return "standard"
}

// legacyDomainMatch keeps the historical two-label looseness:
// ".domain.com" matches "x.y.domain.com".
func legacyDomainMatch(domain, host string) bool {
	if domain == "" || host == "" {
		return false
	}
	isLocal := strings.EqualFold(domain, ".local")

	dot := strings.IndexByte(domain, '.')
	if dot == 0 {
		if next := strings.IndexByte(domain[1:], '.'); next >= 0 {
			dot = next + 1
		} else {
			dot = -1
		}
	}
	if !isLocal && (dot == -1 || dot == len(domain)-1) {
		return false
	}
	if isLocal && !strings.Contains(host, ".") {
		return true
	}

	diff := len(host) - len(domain)
	switch {
	case diff == 0:
		return strings.EqualFold(host, domain)
	case diff > 0:
		return domain[0] == '.' && strings.EqualFold(host[diff:], domain)
	case diff == -1:
		return domain[0] == '.' && strings.EqualFold(host, domain[1:])
	}
	return false
}

func standardDomainMatch(domain, host string) bool {
	if domain == "" || host == "" {
		return false
	}
	domain = strings.ToLower(domain)
	host = strings.ToLower(host)
	if host == domain {
		return true
	}
	if !strings.HasPrefix(domain, ".") || !strings.HasSuffix(host, domain) {
		return false
	}
	prefix := host[:len(host)-len(domain)]
	return !strings.Contains(prefix, ".")
}
