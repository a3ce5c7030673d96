// Package docid derives stable document identifiers.
package docid

import (
	"github.com/google/uuid"

	"github.com/lodestone-search/lodestone/internal/engine"
)

// contentNamespace scopes ids for content without a stable URL so they can
// never collide with URL-derived ids.
var contentNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("lodestone/content"))

// FromCanonical derives a doc_id from a canonical URL. The derivation is
// deterministic, so re-crawling the same resource updates rather than
// duplicates it.
func FromCanonical(c engine.CanonicalURL) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.Key())).String()
}

// FromContentHash derives a doc_id for content that has no stable URL.
func FromContentHash(hash string) string {
	return uuid.NewSHA1(contentNamespace, []byte(hash)).String()
}
