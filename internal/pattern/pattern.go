// Package pattern matches tab URLs against user-written domain patterns.
//
// A pattern is tried, in order, as an exact hostname, as a "*.base"
// subdomain wildcard, and finally as a general wildcard in which '*'
// matches any run of characters and everything else is literal. The
// general form must match the whole URL or the whole hostname.
package pattern

import (
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/net/idna"
)

// DefaultCacheSize bounds the number of compiled patterns kept by NewMatcher(0).
const DefaultCacheSize = 256

// Matcher matches URLs against patterns, memoising compiled wildcards.
// The zero value is not usable; use NewMatcher.
type Matcher struct {
	cache *globCache
}

// NewMatcher returns a Matcher caching up to capacity compiled patterns.
func NewMatcher(capacity int) *Matcher {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Matcher{cache: newGlobCache(capacity)}
}

var defaultMatcher = NewMatcher(DefaultCacheSize)

// Matches reports whether rawURL matches pattern using the shared matcher.
func Matches(rawURL, pattern string) bool {
	return defaultMatcher.Matches(rawURL, pattern)
}

// IsExcludedDomain reports whether rawURL matches any of patterns.
func IsExcludedDomain(rawURL string, patterns []string) bool {
	return defaultMatcher.MatchesAny(rawURL, patterns)
}

// Matches reports whether rawURL matches pattern. Unparseable URLs never match.
func (m *Matcher) Matches(rawURL, pattern string) bool {
	host, ok := Hostname(rawURL)
	if !ok {
		return false
	}

	if pattern == host {
		return true
	}

	if base, ok := strings.CutPrefix(pattern, "*."); ok {
		if host == base || strings.HasSuffix(host, "."+base) {
			return true
		}
	}

	g := m.cache.get(pattern)
	if g == nil {
		return false
	}
	return g.Match(rawURL) || g.Match(host)
}

// MatchesAny reports whether rawURL matches at least one pattern, stopping at the first hit.
func (m *Matcher) MatchesAny(rawURL string, patterns []string) bool {
	for _, p := range patterns {
		if m.Matches(rawURL, p) {
			return true
		}
	}
	return false
}

// Hostname extracts the normalised hostname of an absolute URL.
// ok is false when rawURL does not parse or has no scheme. URLs without
// an authority (about:blank, data:...) yield an empty hostname.
func Hostname(rawURL string) (host string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return "", false
	}
	host = u.Hostname()
	if host == "" {
		return "", true
	}
	// IPv6 literals keep their brackets, as browsers report them.
	if strings.Contains(host, ":") {
		return "[" + strings.ToLower(host) + "]", true
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return strings.ToLower(host), true
}

// compileWildcard turns a pattern into an anchored glob in which only '*' is special.
func compileWildcard(pattern string) (glob.Glob, error) {
	pieces := strings.Split(pattern, "*")
	for i, p := range pieces {
		pieces[i] = glob.QuoteMeta(p)
	}
	return glob.Compile(strings.Join(pieces, "*"))
}
