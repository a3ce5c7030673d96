package frontier

import (
	"strings"

	"github.com/lodestone-search/lodestone/internal/engine"
)

// Lens scopes the crawl to a slice of the web. A target is accepted when at
// least one lens allows it; with no lenses configured everything passes.
type Lens struct {
	Name          string
	AllowHosts    []string
	AllowPrefixes []string
	DenyPrefixes  []string
	Tags          []engine.Tag
}

// Allows reports whether the lens accepts the canonical URL. Deny prefixes
// are checked first so they carve exceptions out of the allow set.
func (l Lens) Allows(c engine.CanonicalURL) bool {
	key := c.Key()
	for _, p := range l.DenyPrefixes {
		if strings.HasPrefix(key, p) {
			return false
		}
	}
	for _, h := range l.AllowHosts {
		if strings.EqualFold(h, c.Host) {
			return true
		}
	}
	for _, p := range l.AllowPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// match returns the first lens accepting the URL, if any.
func match(lenses []Lens, c engine.CanonicalURL) (Lens, bool) {
	for _, l := range lenses {
		if l.Allows(c) {
			return l, true
		}
	}
	return Lens{}, false
}
