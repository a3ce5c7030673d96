// Package engine defines core types shared across subsystems.
package engine

import (
	"strings"
	"time"
)

// TargetState represents the lifecycle state of a crawl target.
type TargetState string

// Target state values tracked by the frontier.
const (
	TargetStateDiscovered TargetState = "discovered"
	TargetStateQueued     TargetState = "queued"
	TargetStateFetching   TargetState = "fetching"
	TargetStateFetched    TargetState = "fetched"
	TargetStateFailed     TargetState = "failed"
	TargetStateSkipped    TargetState = "skipped"
)

// TargetSource records how a crawl target was discovered.
type TargetSource string

// Target source values.
const (
	SourceSeed       TargetSource = "seed"
	SourceDiscovered TargetSource = "discovered"
	SourceRecrawl    TargetSource = "recrawl"
)

// CrawlTarget is a URI awaiting fetch, together with its scheduling state.
type CrawlTarget struct {
	URI         string       `json:"uri"`
	Canonical   CanonicalURL `json:"canonical"`
	Source      TargetSource `json:"source"`
	State       TargetState  `json:"state"`
	Depth       int          `json:"depth"`
	Priority    int          `json:"priority"`
	Tags        []Tag        `json:"tags,omitempty"`
	LastFetched *time.Time   `json:"last_fetched,omitempty"`
	Attempt     int          `json:"attempt"`
}

// CanonicalURL is the deterministic decomposition of a normalized URI.
// Two raw URIs with the same canonical form map to the same document identity.
type CanonicalURL struct {
	Scheme       string   `json:"scheme"`
	UserInfo     string   `json:"userinfo,omitempty"`
	Host         string   `json:"host"`
	Port         int      `json:"port,omitempty"`
	PathSegments []string `json:"path_segments"`
	PathLength   int      `json:"path_segment_count"`
	Query        string   `json:"query,omitempty"`
}

// Key returns the canonical string form used as the identity key.
func (c CanonicalURL) Key() string {
	var b strings.Builder
	b.WriteString(c.Scheme)
	b.WriteString("://")
	if c.UserInfo != "" {
		b.WriteString(c.UserInfo)
		b.WriteByte('@')
	}
	b.WriteString(c.Host)
	if c.Port != 0 {
		b.WriteByte(':')
		b.WriteString(itoa(c.Port))
	}
	b.WriteByte('/')
	b.WriteString(strings.Join(c.PathSegments, "/"))
	if c.Query != "" {
		b.WriteByte('?')
		b.WriteString(c.Query)
	}
	return b.String()
}

// Parent returns the display path up to but excluding the last segment.
func (c CanonicalURL) Parent() string {
	if len(c.PathSegments) <= 1 {
		return "/"
	}
	return "/" + strings.Join(c.PathSegments[:len(c.PathSegments)-1], "/")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// DocState represents the indexing lifecycle of a document.
type DocState string

// Document state values persisted in the document store.
const (
	DocStatePending DocState = "pending"
	DocStateIndexed DocState = "indexed"
	DocStateFailed  DocState = "failed"
	DocStateStale   DocState = "stale"
	// DocStateDeleted appears only in published events, never in the store.
	DocStateDeleted DocState = "deleted"
)

// Tag is an ordered label/value pair attached to a document.
// Keys need not be unique across a document's tag set.
type Tag struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Document is the durable record owned by the Document Store. Index entries
// hold the DocID only, never the document itself.
type Document struct {
	DocID       string       `json:"doc_id"`
	CrawlURI    string       `json:"crawl_uri"`
	OpenURL     string       `json:"open_url"`
	Canonical   CanonicalURL `json:"canonical"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Content     string       `json:"content"`
	ContentHash string       `json:"content_hash"`
	Tags        []Tag        `json:"tags,omitempty"`
	State       DocState     `json:"state"`
	IndexedAt   time.Time    `json:"indexed_at"`
}

// ExtractedDocument is the canonical text form produced by the extractor.
type ExtractedDocument struct {
	Title       string
	Description string
	Content     string
	Links       []string
	ContentType string
}

// FetchRequest captures everything needed to fetch a target.
type FetchRequest struct {
	URI           string
	Headers       map[string]string
	RespectRobots bool
	UseHeadless   bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URI          string
	FinalURI     string
	StatusCode   int
	ContentType  string
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Posting records one document occurrence of a term.
type Posting struct {
	DocID     string
	Frequency int
	Positions []int
}

// SearchRequest carries a query plus result filters.
type SearchRequest struct {
	Query      string
	Limit      int
	TagFilters []Tag
	Domain     string
	Explain    bool
}

// SearchResult is constructed per query and never persisted. The JSON field
// names are the contract consumed by the presentation layer.
type SearchResult struct {
	DocID       string       `json:"doc_id"`
	CrawlURI    string       `json:"crawl_uri"`
	Domain      string       `json:"domain"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	URL         string       `json:"url"`
	OpenURL     string       `json:"open_url"`
	Tags        []Tag        `json:"tags"`
	Score       float64      `json:"score"`
	URLParts    CanonicalURL `json:"url_parts"`
	Explain     *ScoreDetail `json:"explain,omitempty"`
}

// ScoreDetail breaks the composite score down for debugging.
type ScoreDetail struct {
	Lexical  float64 `json:"lexical"`
	Semantic float64 `json:"semantic"`
}

// IndexEvent is published after a document's index state changes.
type IndexEvent struct {
	DocID    string    `json:"doc_id"`
	CrawlURI string    `json:"crawl_uri"`
	State    DocState  `json:"state"`
	At       time.Time `json:"at"`
}
