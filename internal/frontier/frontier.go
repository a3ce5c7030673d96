// Package frontier schedules crawl targets: dedup, lens scoping, freshness,
// and per-host politeness.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lodestone-search/lodestone/internal/engine"
	"github.com/lodestone-search/lodestone/internal/metrics"
)

// ErrClosed is returned by Dequeue after Close drains the frontier.
var ErrClosed = errors.New("frontier closed")

// Options tunes frontier behavior.
type Options struct {
	// QueueDepth bounds how many targets can wait for a worker.
	QueueDepth int
	// PerHostRPS limits fetch starts per host per second.
	PerHostRPS float64
	// PerHostBurst allows short bursts above the sustained rate.
	PerHostBurst int
	// Freshness is how long a previous fetch suppresses a revisit.
	Freshness time.Duration
	// MaxDepth bounds link-discovery recursion; zero disables discovery.
	MaxDepth int
	// Lenses scope the crawl; empty means accept everything.
	Lenses []Lens
}

// visitRecord tracks a canonical URL already offered to the frontier. A
// non-zero failedAt means the last fetch exhausted its retries; the URL is
// suppressed until the freshness window passes.
type visitRecord struct {
	failedAt time.Time
}

// Frontier is a bounded, deduplicating crawl queue. A canonical URL enters
// the queue at most once per crawl generation, and Dequeue hands each queued
// target to exactly one caller.
type Frontier struct {
	ch     chan engine.CrawlTarget
	opts   Options
	logger *zap.Logger

	visited sync.Map // canonical key -> visitRecord

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	closeMu sync.RWMutex
	closed  bool
}

// New creates a frontier with the given options.
func New(opts Options, logger *zap.Logger) *Frontier {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 1024
	}
	if opts.PerHostRPS <= 0 {
		opts.PerHostRPS = 1
	}
	if opts.PerHostBurst <= 0 {
		opts.PerHostBurst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		ch:       make(chan engine.CrawlTarget, opts.QueueDepth),
		opts:     opts,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Enqueue offers a target to the frontier. It returns false without error
// when the target is filtered out: already seen, outside every lens, or
// still fresh. Recrawl targets bypass the freshness check and re-arm the
// visited set for their URL.
func (f *Frontier) Enqueue(ctx context.Context, target engine.CrawlTarget) (bool, error) {
	key := target.Canonical.Key()
	if key == ":///" || target.Canonical.Host == "" {
		return false, fmt.Errorf("target %q has no canonical form: %w", target.URI, engine.ErrInvalidURI)
	}

	if len(f.opts.Lenses) > 0 {
		lens, ok := match(f.opts.Lenses, target.Canonical)
		if !ok {
			f.logger.Debug("target outside all lenses", zap.String("url", key))
			return false, nil
		}
		target.Tags = append(target.Tags, lens.Tags...)
	}

	if target.Source == engine.SourceRecrawl {
		f.visited.Delete(key)
	} else if target.LastFetched != nil && f.opts.Freshness > 0 {
		if time.Since(*target.LastFetched) < f.opts.Freshness {
			f.logger.Debug("target still fresh", zap.String("url", key))
			return false, nil
		}
	}

	if prev, seen := f.visited.LoadOrStore(key, visitRecord{}); seen {
		rec := prev.(visitRecord)
		if rec.failedAt.IsZero() {
			return false, nil
		}
		// A failed URL becomes eligible again once its window expires.
		if f.opts.Freshness > 0 && time.Since(rec.failedAt) < f.opts.Freshness {
			return false, nil
		}
		f.visited.Store(key, visitRecord{})
	}

	// Discovered links can race shutdown; drop them once closed.
	f.closeMu.RLock()
	defer f.closeMu.RUnlock()
	if f.closed {
		f.visited.Delete(key)
		return false, nil
	}

	target.State = engine.TargetStateQueued

	select {
	case <-ctx.Done():
		f.visited.Delete(key)
		return false, fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case f.ch <- target:
		metrics.SetFrontierDepth(len(f.ch))
		return true, nil
	}
}

// Dequeue pops the next target and waits out the per-host politeness
// limiter before returning it. The channel hand-off guarantees a target
// reaches exactly one worker.
func (f *Frontier) Dequeue(ctx context.Context) (engine.CrawlTarget, error) {
	select {
	case <-ctx.Done():
		return engine.CrawlTarget{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case target, ok := <-f.ch:
		if !ok {
			return engine.CrawlTarget{}, ErrClosed
		}
		metrics.SetFrontierDepth(len(f.ch))
		if err := f.waitPoliteness(ctx, target.Canonical.Host); err != nil {
			return engine.CrawlTarget{}, err
		}
		target.State = engine.TargetStateFetching
		return target, nil
	}
}

// Depth returns the number of targets currently waiting.
func (f *Frontier) Depth() int {
	return len(f.ch)
}

// MaxDepth returns the configured discovery depth bound.
func (f *Frontier) MaxDepth() int {
	return f.opts.MaxDepth
}

// MarkFailed records that the URL's fetch exhausted its retries. Further
// enqueues are rejected until the freshness window expires; an explicit
// recrawl still overrides the suppression.
func (f *Frontier) MarkFailed(c engine.CanonicalURL) {
	f.visited.Store(c.Key(), visitRecord{failedAt: time.Now()})
}

// Forget removes a canonical key from the visited set so a later enqueue
// for the same URL is accepted again. Used after a document is deleted.
func (f *Frontier) Forget(c engine.CanonicalURL) {
	f.visited.Delete(c.Key())
}

// Close stops the frontier. Queued targets drain; further Dequeue calls
// return ErrClosed once empty.
func (f *Frontier) Close() {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	if f.closed {
		return
	}
	close(f.ch)
	f.closed = true
}

func (f *Frontier) waitPoliteness(ctx context.Context, host string) error {
	f.limiterMu.Lock()
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(f.opts.PerHostRPS), f.opts.PerHostBurst)
		f.limiters[host] = limiter
	}
	f.limiterMu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("politeness wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}
