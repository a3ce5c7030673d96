// Package api exposes the HTTP interface for the search service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/engine"
	"github.com/lodestone-search/lodestone/internal/frontier"
	"github.com/lodestone-search/lodestone/internal/metrics"
	"github.com/lodestone-search/lodestone/internal/pipeline"
	"github.com/lodestone-search/lodestone/internal/query"
	"github.com/lodestone-search/lodestone/internal/urlnorm"
)

// Options configures the HTTP surface.
type Options struct {
	AuthEnabled bool
	APIKey      string
	Timeout     time.Duration
}

// Server wires HTTP handlers to the frontier, indexer, and query executor.
type Server struct {
	router   chi.Router
	frontier *frontier.Frontier
	indexer  *pipeline.Indexer
	executor *query.Executor
	store    engine.DocumentStore
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	f *frontier.Frontier,
	indexer *pipeline.Indexer,
	executor *query.Executor,
	store engine.DocumentStore,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	s := &Server{
		frontier: f,
		indexer:  indexer,
		executor: executor,
		store:    store,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(opts.Timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/crawl", s.submitCrawl)
		r.Get("/search", s.search)
		r.Post("/reindex", s.reindex)
		r.Route("/documents/{doc_id}", func(r chi.Router) {
			r.Get("/", s.getDocument)
			r.Delete("/", s.deleteDocument)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.List(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "document store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	URLs    []string     `json:"urls"`
	Tags    []engine.Tag `json:"tags"`
	Recrawl bool         `json:"recrawl"`
}

type crawlResponse struct {
	Accepted []string `json:"accepted"`
	Skipped  []string `json:"skipped"`
	Rejected []string `json:"rejected"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one URL required")
		return
	}

	source := engine.SourceSeed
	if req.Recrawl {
		source = engine.SourceRecrawl
	}

	var resp crawlResponse
	for _, rawURI := range req.URLs {
		canonical, err := urlnorm.Normalize(rawURI)
		if err != nil {
			resp.Rejected = append(resp.Rejected, rawURI)
			continue
		}
		accepted, err := s.frontier.Enqueue(r.Context(), engine.CrawlTarget{
			URI:       rawURI,
			Canonical: canonical,
			Source:    source,
			Tags:      req.Tags,
		})
		switch {
		case err != nil:
			resp.Rejected = append(resp.Rejected, rawURI)
		case accepted:
			resp.Accepted = append(resp.Accepted, rawURI)
		default:
			resp.Skipped = append(resp.Skipped, rawURI)
		}
	}

	status := http.StatusAccepted
	if len(resp.Accepted) == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}

	req := engine.SearchRequest{
		Query:   q,
		Domain:  r.URL.Query().Get("domain"),
		Explain: r.URL.Query().Get("explain") == "true",
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		req.Limit = limit
	}
	for _, raw := range r.URL.Query()["tag"] {
		label, value, ok := strings.Cut(raw, ":")
		if !ok {
			writeError(w, http.StatusBadRequest, "tag filter must be label:value")
			return
		}
		req.TagFilters = append(req.TagFilters, engine.Tag{Label: label, Value: value})
	}

	results, err := s.executor.Search(r.Context(), req)
	if err != nil {
		if errors.Is(err, engine.ErrQueryParse) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", zap.String("query", q), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")
	doc, err := s.store.Get(r.Context(), docID)
	if errors.Is(err, engine.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "document lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")
	doc, err := s.store.Get(r.Context(), docID)
	if errors.Is(err, engine.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "document lookup failed")
		return
	}
	if err := s.indexer.Delete(r.Context(), docID); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("delete failed", zap.String("doc_id", docID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	// The URL may be crawled again now that its document is gone.
	s.frontier.Forget(doc.Canonical)
	writeJSON(w, http.StatusOK, map[string]string{"doc_id": docID, "status": "deleted"})
}

func (s *Server) reindex(w http.ResponseWriter, r *http.Request) {
	n, err := s.indexer.Rebuild(r.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("reindex failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reindex failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reindexed": n})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
