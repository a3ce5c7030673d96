// Package query executes hybrid search: lexical postings and embedding
// similarity scored together over the live document store.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/engine"
	"github.com/lodestone-search/lodestone/internal/index/lexical"
	"github.com/lodestone-search/lodestone/internal/metrics"
)

// Weights fixes the composite scoring function.
type Weights struct {
	Lexical           float64
	Semantic          float64
	SemanticThreshold float64
}

// DefaultWeights is the stock relevance contract.
var DefaultWeights = Weights{Lexical: 0.7, Semantic: 0.3, SemanticThreshold: 0.35}

// Options tunes executor behavior beyond the weights.
type Options struct {
	Weights      Weights
	DefaultLimit int
	TopK         int
}

// Executor answers search requests.
type Executor struct {
	store    engine.DocumentStore
	lexIndex engine.LexicalIndex
	vecIndex engine.VectorIndex
	embedder engine.Embedder
	opts     Options
	logger   *zap.Logger
}

// New creates an Executor. The embedder and vector index may be nil, in
// which case search runs lexical-only.
func New(store engine.DocumentStore, lexIndex engine.LexicalIndex,
	vecIndex engine.VectorIndex, embedder engine.Embedder,
	opts Options, logger *zap.Logger) *Executor {
	if opts.Weights.Lexical == 0 && opts.Weights.Semantic == 0 {
		opts.Weights = DefaultWeights
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	if opts.TopK <= 0 {
		opts.TopK = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:    store,
		lexIndex: lexIndex,
		vecIndex: vecIndex,
		embedder: embedder,
		opts:     opts,
		logger:   logger,
	}
}

type candidate struct {
	lexical  float64
	semantic float64
}

// Search runs both retrieval legs, merges candidates by document identity,
// and returns results in descending composite score with ascending DocID
// breaking ties. Every result is re-checked against the store at read time,
// so a document deleted after indexing never surfaces.
func (e *Executor) Search(ctx context.Context, req engine.SearchRequest) ([]engine.SearchResult, error) {
	start := time.Now()
	defer func() { metrics.ObserveQuery(time.Since(start)) }()

	terms := lexical.Tokenize(req.Query)
	if len(terms) == 0 {
		return nil, fmt.Errorf("query %q has no searchable terms: %w", req.Query, engine.ErrQueryParse)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}

	candidates := make(map[string]*candidate)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semErr    error
		vectorHit []engine.VectorHit
	)

	if e.embedder != nil && e.vecIndex != nil && e.opts.Weights.Semantic > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := e.embedder.Embed(ctx, req.Query)
			if err != nil {
				mu.Lock()
				semErr = err
				mu.Unlock()
				return
			}
			hits := e.vecIndex.Search(vec, e.opts.TopK)
			mu.Lock()
			vectorHit = hits
			mu.Unlock()
		}()
	}

	lexScores := e.scoreLexical(terms)
	wg.Wait()

	// A failed embedding degrades to lexical-only rather than failing
	// the whole query.
	if semErr != nil {
		e.logger.Warn("semantic leg failed, serving lexical-only", zap.Error(semErr))
	}

	for docID, score := range lexScores {
		candidates[docID] = &candidate{lexical: score}
	}
	for _, hit := range vectorHit {
		if hit.Similarity < e.opts.Weights.SemanticThreshold {
			continue
		}
		c, ok := candidates[hit.DocID]
		if !ok {
			c = &candidate{}
			candidates[hit.DocID] = c
		}
		c.semantic = hit.Similarity
	}
	if len(candidates) == 0 {
		return []engine.SearchResult{}, nil
	}

	normalizeLexical(candidates)

	type scored struct {
		docID     string
		composite float64
		detail    engine.ScoreDetail
	}
	ranked := make([]scored, 0, len(candidates))
	for docID, c := range candidates {
		ranked = append(ranked, scored{
			docID:     docID,
			composite: e.opts.Weights.Lexical*c.lexical + e.opts.Weights.Semantic*c.semantic,
			detail:    engine.ScoreDetail{Lexical: c.lexical, Semantic: c.semantic},
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].composite != ranked[j].composite {
			return ranked[i].composite > ranked[j].composite
		}
		return ranked[i].docID < ranked[j].docID
	})

	results := make([]engine.SearchResult, 0, limit)
	for _, s := range ranked {
		if len(results) >= limit {
			break
		}
		doc, err := e.store.Get(ctx, s.docID)
		if errors.Is(err, engine.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve result %s: %w", s.docID, err)
		}
		if doc.State != engine.DocStateIndexed {
			continue
		}
		if !matchesFilters(doc, req) {
			continue
		}

		result := engine.SearchResult{
			DocID:       doc.DocID,
			CrawlURI:    doc.CrawlURI,
			Domain:      doc.Canonical.Host,
			Title:       doc.Title,
			Description: doc.Description,
			URL:         doc.Canonical.Key(),
			OpenURL:     openURL(doc),
			Tags:        doc.Tags,
			Score:       s.composite,
			URLParts:    doc.Canonical,
		}
		if req.Explain {
			detail := s.detail
			result.Explain = &detail
		}
		results = append(results, result)
	}
	return results, nil
}

// scoreLexical computes length-normalized TF-IDF per document for the
// query terms.
func (e *Executor) scoreLexical(terms []string) map[string]float64 {
	docCount := e.lexIndex.DocCount()
	if docCount == 0 {
		return nil
	}

	scores := make(map[string]float64)
	for _, term := range terms {
		postings := e.lexIndex.Lookup(term)
		if len(postings) == 0 {
			continue
		}
		idf := math.Log(1 + float64(docCount)/float64(len(postings)))
		for _, p := range postings {
			length := e.lexIndex.DocLength(p.DocID)
			if length == 0 {
				continue
			}
			tf := float64(p.Frequency) / float64(length)
			scores[p.DocID] += tf * idf
		}
	}
	return scores
}

// normalizeLexical scales lexical scores to [0,1] so they combine with
// cosine similarity on the same footing.
func normalizeLexical(candidates map[string]*candidate) {
	max := 0.0
	for _, c := range candidates {
		if c.lexical > max {
			max = c.lexical
		}
	}
	if max == 0 {
		return
	}
	for _, c := range candidates {
		c.lexical /= max
	}
}

func matchesFilters(doc engine.Document, req engine.SearchRequest) bool {
	if req.Domain != "" && !strings.EqualFold(doc.Canonical.Host, req.Domain) {
		return false
	}
	for _, want := range req.TagFilters {
		found := false
		for _, have := range doc.Tags {
			if have.Label == want.Label && have.Value == want.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// openURL prefers the explicit open URL and falls back to the crawl URI.
func openURL(doc engine.Document) string {
	if doc.OpenURL != "" {
		return doc.OpenURL
	}
	return doc.CrawlURI
}
