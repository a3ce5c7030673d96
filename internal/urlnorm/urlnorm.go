// Package urlnorm canonicalizes fetch targets into identity keys and
// display-ready URL parts.
//
// Policy: scheme and host are lowercased, default ports are stripped,
// fragments are removed, dot segments are resolved, and query keys are
// sorted with per-key value order preserved (net/url Encode semantics).
package urlnorm

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/lodestone-search/lodestone/internal/engine"
)

// Normalize derives the canonical form of a raw URI. It is pure and
// idempotent: normalizing an already-canonical URL is a no-op.
func Normalize(rawURI string) (engine.CanonicalURL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURI))
	if err != nil {
		return engine.CanonicalURL{}, fmt.Errorf("%w: parse %q: %v", engine.ErrInvalidURI, rawURI, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return engine.CanonicalURL{}, fmt.Errorf("%w: missing scheme in %q", engine.ErrInvalidURI, rawURI)
	}
	if scheme != "http" && scheme != "https" {
		return engine.CanonicalURL{}, fmt.Errorf("%w: unsupported scheme %q", engine.ErrInvalidURI, scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return engine.CanonicalURL{}, fmt.Errorf("%w: empty host in %q", engine.ErrInvalidURI, rawURI)
	}

	port := 0
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return engine.CanonicalURL{}, fmt.Errorf("%w: bad port %q", engine.ErrInvalidURI, p)
		}
		if !isDefaultPort(scheme, n) {
			port = n
		}
	}

	var userInfo string
	if u.User != nil {
		userInfo = u.User.String()
	}

	segments := splitPath(u.EscapedPath())

	return engine.CanonicalURL{
		Scheme:       scheme,
		UserInfo:     userInfo,
		Host:         host,
		Port:         port,
		PathSegments: segments,
		PathLength:   len(segments),
		Query:        u.Query().Encode(),
	}, nil
}

// Resolve interprets a possibly-relative link against a base URI and returns
// the absolute raw form, or an error for links that cannot be parsed.
func Resolve(baseURI, link string) (string, error) {
	base, err := url.Parse(baseURI)
	if err != nil {
		return "", fmt.Errorf("%w: parse base %q: %v", engine.ErrInvalidURI, baseURI, err)
	}
	ref, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", fmt.Errorf("%w: parse link %q: %v", engine.ErrInvalidURI, link, err)
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	return abs.String(), nil
}

func isDefaultPort(scheme string, port int) bool {
	return (scheme == "http" && port == 80) || (scheme == "https" && port == 443)
}

func splitPath(escaped string) []string {
	if escaped == "" {
		escaped = "/"
	}
	clean := path.Clean("/" + escaped)
	if clean == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(clean, "/"), "/")
}
