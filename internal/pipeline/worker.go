package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/engine"
	"github.com/lodestone-search/lodestone/internal/frontier"
	"github.com/lodestone-search/lodestone/internal/id/docid"
	"github.com/lodestone-search/lodestone/internal/metrics"
	"github.com/lodestone-search/lodestone/internal/urlnorm"
)

// Config controls Worker behavior.
type Config struct {
	RespectRobots bool
	BlobPrefix    string
}

// Worker consumes frontier targets and runs each through the fetch,
// extract, archive, and index stages.
type Worker struct {
	frontier        *frontier.Frontier
	probeFetcher    engine.Fetcher
	headlessFetcher engine.Fetcher
	detector        engine.HeadlessDetector
	extractor       engine.Extractor
	blobStore       engine.BlobStore
	hasher          engine.Hasher
	clock           engine.Clock
	indexer         *Indexer
	policy          *frontier.RetryPolicy
	cfg             Config
	logger          *zap.Logger
}

// NewWorker constructs a Worker. Headless fetcher and detector may be nil
// to disable promotion; the blob store may be nil to skip archiving.
func NewWorker(
	f *frontier.Frontier,
	probe engine.Fetcher,
	headless engine.Fetcher,
	detector engine.HeadlessDetector,
	extractor engine.Extractor,
	blobStore engine.BlobStore,
	hasher engine.Hasher,
	clock engine.Clock,
	indexer *Indexer,
	policy *frontier.RetryPolicy,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if policy == nil {
		policy = frontier.NewRetryPolicy(3, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		frontier:        f,
		probeFetcher:    probe,
		headlessFetcher: headless,
		detector:        detector,
		extractor:       extractor,
		blobStore:       blobStore,
		hasher:          hasher,
		clock:           clock,
		indexer:         indexer,
		policy:          policy,
		cfg:             cfg,
		logger:          logger,
	}
}

// Run blocks, consuming targets until the context finishes or the frontier
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		target, err := w.frontier.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, frontier.ErrClosed) {
				return
			}
			w.logger.Error("frontier dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued target", zap.String("url", target.URI))
		w.processTarget(ctx, target)
	}
}

func (w *Worker) processTarget(ctx context.Context, target engine.CrawlTarget) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	resp, err := w.fetchWithRetry(ctx, target)
	if err != nil {
		target.State = engine.TargetStateFailed
		metrics.ObserveFetch(target.URI, "error")
		// The URL stays suppressed until the freshness window expires.
		w.frontier.MarkFailed(target.Canonical)
		w.logger.Error("fetch failed",
			zap.String("url", target.URI),
			zap.String("state", string(target.State)),
			zap.Int("attempts", target.Attempt),
			zap.Error(err),
		)
		return
	}
	target.State = engine.TargetStateFetched
	metrics.ObserveFetch(target.URI, "success")

	if promoted, ok := w.maybePromote(ctx, target, resp); ok {
		resp = promoted
		w.logger.Info("headless promotion applied", zap.String("url", target.URI))
	}

	extracted, err := w.extractor.Extract(ctx, resp.Body, resp.ContentType)
	if errors.Is(err, engine.ErrUnsupportedContentType) {
		target.State = engine.TargetStateSkipped
		metrics.ObserveDocument("skipped")
		w.logger.Debug("skipping unsupported target",
			zap.String("url", target.URI),
			zap.String("content_type", resp.ContentType),
		)
		return
	}
	if err != nil {
		target.State = engine.TargetStateFailed
		w.indexer.RecordFailure(ctx, engine.Document{
			DocID:     docid.FromCanonical(target.Canonical),
			CrawlURI:  target.URI,
			Canonical: target.Canonical,
			Tags:      target.Tags,
		})
		w.logger.Error("extraction failed", zap.String("url", target.URI), zap.Error(err))
		return
	}

	doc, err := w.buildDocument(ctx, target, resp, extracted)
	if err != nil {
		w.logger.Error("build document failed", zap.String("url", target.URI), zap.Error(err))
		return
	}

	if err := w.indexer.Index(ctx, doc); err != nil {
		w.logger.Error("index failed", zap.String("doc_id", doc.DocID), zap.Error(err))
		return
	}
	w.logger.Info("document indexed",
		zap.String("doc_id", doc.DocID),
		zap.String("url", target.URI),
		zap.Bool("headless", resp.UsedHeadless),
	)

	w.discoverLinks(ctx, target, resp, extracted.Links)
}

// fetchWithRetry runs the probe fetch under the retry policy. Attempts are
// 1-based; only transient failures earn another try.
func (w *Worker) fetchWithRetry(ctx context.Context, target engine.CrawlTarget) (engine.FetchResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= w.policy.MaxAttempts(); attempt++ {
		resp, err := w.probeFetcher.Fetch(ctx, engine.FetchRequest{
			URI:           target.URI,
			RespectRobots: w.cfg.RespectRobots,
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !w.policy.ShouldRetry(err, attempt) {
			return engine.FetchResponse{}, err
		}
		w.logger.Warn("fetch attempt failed, backing off",
			zap.String("url", target.URI),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := sleep(ctx, w.policy.Backoff(attempt)); err != nil {
			return engine.FetchResponse{}, err
		}
	}
	return engine.FetchResponse{}, fmt.Errorf("%w: %w", engine.ErrFetchExhausted, lastErr)
}

func (w *Worker) maybePromote(ctx context.Context, target engine.CrawlTarget, resp engine.FetchResponse) (engine.FetchResponse, bool) {
	if w.detector == nil || w.headlessFetcher == nil || !w.detector.ShouldPromote(resp) {
		return resp, false
	}
	headlessResp, err := w.headlessFetcher.Fetch(ctx, engine.FetchRequest{
		URI:           target.URI,
		UseHeadless:   true,
		RespectRobots: w.cfg.RespectRobots,
	})
	if err != nil {
		w.logger.Warn("headless promotion failed", zap.String("url", target.URI), zap.Error(err))
		return resp, false
	}
	headlessResp.UsedHeadless = true
	return headlessResp, true
}

func (w *Worker) buildDocument(ctx context.Context, target engine.CrawlTarget,
	resp engine.FetchResponse, extracted engine.ExtractedDocument) (engine.Document, error) {
	hash, err := w.hasher.Hash([]byte(extracted.Content))
	if err != nil {
		return engine.Document{}, fmt.Errorf("hash content: %w", err)
	}

	// Redirect-following records the final URL as the open target.
	openURL := resp.FinalURI
	if openURL == "" {
		openURL = target.URI
	}

	doc := engine.Document{
		DocID:       docid.FromCanonical(target.Canonical),
		CrawlURI:    target.URI,
		OpenURL:     openURL,
		Canonical:   target.Canonical,
		Title:       extracted.Title,
		Description: extracted.Description,
		Content:     extracted.Content,
		ContentHash: hash,
		Tags:        target.Tags,
	}
	if doc.Title == "" {
		doc.Title = target.Canonical.Key()
	}

	if w.blobStore != nil {
		uri, err := w.blobStore.PutObject(ctx, w.blobPath(target, hash), resp.ContentType, resp.Body)
		if err != nil {
			// Archiving is best effort; the index is the system of record.
			w.logger.Warn("blob archive failed", zap.String("url", target.URI), zap.Error(err))
		} else {
			w.logger.Debug("raw page archived", zap.String("blob_uri", uri))
		}
	}

	return doc, nil
}

// discoverLinks resolves in-page links against the final URL and offers
// them to the frontier one level deeper.
func (w *Worker) discoverLinks(ctx context.Context, target engine.CrawlTarget,
	resp engine.FetchResponse, links []string) {
	if len(links) == 0 || target.Depth >= w.frontier.MaxDepth() {
		return
	}
	base := resp.FinalURI
	if base == "" {
		base = target.URI
	}

	for _, link := range links {
		resolved, err := urlnorm.Resolve(base, link)
		if err != nil {
			continue
		}
		canonical, err := urlnorm.Normalize(resolved)
		if err != nil {
			continue
		}
		accepted, err := w.frontier.Enqueue(ctx, engine.CrawlTarget{
			URI:       resolved,
			Canonical: canonical,
			Source:    engine.SourceDiscovered,
			Depth:     target.Depth + 1,
			Tags:      target.Tags,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if accepted {
			w.logger.Debug("discovered link queued", zap.String("url", resolved))
		}
	}
}

func (w *Worker) blobPath(target engine.CrawlTarget, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.raw", target.Canonical.Host, hash)
	}
	return fmt.Sprintf("%s/%s/%s.raw", prefix, target.Canonical.Host, hash)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
