package engine

import (
	"context"
	"time"
)

// DocumentStore persists documents keyed by DocID. Upsert is an atomic
// create-or-replace; callers retract index entries before replacing.
type DocumentStore interface {
	Upsert(ctx context.Context, doc Document) error
	Get(ctx context.Context, docID string) (Document, error)
	Delete(ctx context.Context, docID string) error
	List(ctx context.Context) ([]Document, error)
	ListStale(ctx context.Context, olderThan time.Time) ([]Document, error)
}

// LexicalIndex maintains term postings with per-document add/retract.
type LexicalIndex interface {
	Add(docID string, content string) error
	// Retract removes every posting for docID and returns the removed
	// postings so a failed update unit can be rolled back.
	Retract(docID string) (map[string][]Posting, error)
	Restore(docID string, postings map[string][]Posting) error
	Lookup(term string) []Posting
	DocCount() int
	DocLength(docID string) int
	Save() error
}

// VectorIndex stores one fixed-dimensionality embedding per document.
type VectorIndex interface {
	Upsert(docID string, vec []float32) error
	Delete(docID string) ([]float32, bool)
	Restore(docID string, vec []float32) error
	Search(query []float32, k int) []VectorHit
	Dimension() int
	Save() error
}

// VectorHit is a nearest-neighbor match by cosine similarity.
type VectorHit struct {
	DocID      string
	Similarity float64
}

// Embedder computes a fixed-dimensionality embedding for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Fetcher fetches a URI and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless re-fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Extractor reduces raw bytes to canonical text plus metadata.
type Extractor interface {
	Extract(ctx context.Context, body []byte, contentType string) (ExtractedDocument, error)
}

// BlobStore archives raw fetched artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes index lifecycle events to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}
