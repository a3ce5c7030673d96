package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/engine"
	"github.com/lodestone-search/lodestone/internal/frontier"
)

// Recrawler periodically re-seeds the frontier with documents whose index
// entries have aged past the freshness window.
type Recrawler struct {
	store    engine.DocumentStore
	frontier *frontier.Frontier
	clock    engine.Clock
	interval time.Duration
	window   time.Duration
	logger   *zap.Logger
}

// NewRecrawler creates a Recrawler. A zero interval defaults to the window
// so each document is reconsidered roughly once per freshness period.
func NewRecrawler(store engine.DocumentStore, f *frontier.Frontier,
	clock engine.Clock, interval, window time.Duration, logger *zap.Logger) *Recrawler {
	if interval <= 0 {
		interval = window
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recrawler{
		store:    store,
		frontier: f,
		clock:    clock,
		interval: interval,
		window:   window,
		logger:   logger,
	}
}

// Run ticks until the context finishes, enqueueing one recrawl sweep per
// interval.
func (r *Recrawler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.logger.Error("recrawl sweep failed", zap.Error(err))
			} else if n > 0 {
				r.logger.Info("recrawl sweep queued targets", zap.Int("count", n))
			}
		}
	}
}

// Sweep lists stale documents and offers each back to the frontier as a
// recrawl target. Returns how many the frontier accepted.
func (r *Recrawler) Sweep(ctx context.Context) (int, error) {
	stale, err := r.store.ListStale(ctx, r.clock.Now().Add(-r.window))
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, doc := range stale {
		lastFetched := doc.IndexedAt
		accepted, err := r.frontier.Enqueue(ctx, engine.CrawlTarget{
			URI:         doc.CrawlURI,
			Canonical:   doc.Canonical,
			Source:      engine.SourceRecrawl,
			Tags:        doc.Tags,
			LastFetched: &lastFetched,
		})
		if err != nil {
			if ctx.Err() != nil {
				return queued, err
			}
			r.logger.Warn("recrawl enqueue failed", zap.String("doc_id", doc.DocID), zap.Error(err))
			continue
		}
		if accepted {
			queued++
		}
	}
	return queued, nil
}
