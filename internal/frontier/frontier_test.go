package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-search/lodestone/internal/engine"
	"github.com/lodestone-search/lodestone/internal/urlnorm"
)

func target(t *testing.T, rawURI string) engine.CrawlTarget {
	t.Helper()
	canonical, err := urlnorm.Normalize(rawURI)
	require.NoError(t, err)
	return engine.CrawlTarget{URI: rawURI, Canonical: canonical, Source: engine.SourceSeed}
}

func newTestFrontier(opts Options) *Frontier {
	if opts.PerHostRPS == 0 {
		opts.PerHostRPS = 1000
		opts.PerHostBurst = 1000
	}
	return New(opts, nil)
}

func TestEnqueueDedupesByCanonicalURL(t *testing.T) {
	f := newTestFrontier(Options{QueueDepth: 8})
	ctx := context.Background()

	ok, err := f.Enqueue(ctx, target(t, "https://example.com/a"))
	require.NoError(t, err)
	assert.True(t, ok)

	// Same canonical form through a different raw spelling.
	ok, err = f.Enqueue(ctx, target(t, "HTTPS://EXAMPLE.COM:443/a"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, f.Depth())
}

func TestEnqueueRejectsEmptyHost(t *testing.T) {
	f := newTestFrontier(Options{QueueDepth: 8})
	_, err := f.Enqueue(context.Background(), engine.CrawlTarget{URI: "bogus"})
	assert.ErrorIs(t, err, engine.ErrInvalidURI)
}

func TestEnqueueSuppressesFailedURLUntilWindowExpires(t *testing.T) {
	f := newTestFrontier(Options{QueueDepth: 8, Freshness: 50 * time.Millisecond})
	ctx := context.Background()
	tgt := target(t, "https://example.com/flaky")

	ok, err := f.Enqueue(ctx, tgt)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.Dequeue(ctx)
	require.NoError(t, err)

	f.MarkFailed(tgt.Canonical)

	// Still inside the window: the failed URL is rejected.
	ok, err = f.Enqueue(ctx, tgt)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(70 * time.Millisecond)

	ok, err = f.Enqueue(ctx, tgt)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecrawlOverridesFailureSuppression(t *testing.T) {
	f := newTestFrontier(Options{QueueDepth: 8, Freshness: time.Hour})
	ctx := context.Background()
	tgt := target(t, "https://example.com/flaky")

	f.MarkFailed(tgt.Canonical)

	ok, err := f.Enqueue(ctx, tgt)
	require.NoError(t, err)
	require.False(t, ok)

	tgt.Source = engine.SourceRecrawl
	ok, err = f.Enqueue(ctx, tgt)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnqueueLensFiltering(t *testing.T) {
	f := newTestFrontier(Options{
		QueueDepth: 8,
		Lenses: []Lens{{
			Name:       "docs",
			AllowHosts: []string{"docs.example.com"},
			Tags:       []engine.Tag{{Label: "lens", Value: "docs"}},
		}},
	})
	ctx := context.Background()

	ok, err := f.Enqueue(ctx, target(t, "https://docs.example.com/intro"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Enqueue(ctx, target(t, "https://other.example.com/intro"))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.Dequeue(ctx)
	require.NoError(t, err)
	assert.Contains(t, got.Tags, engine.Tag{Label: "lens", Value: "docs"})
}

func TestLensDenyPrefixWins(t *testing.T) {
	lens := Lens{
		AllowHosts:   []string{"example.com"},
		DenyPrefixes: []string{"https://example.com/private"},
	}

	allowed, err := urlnorm.Normalize("https://example.com/public/page")
	require.NoError(t, err)
	denied, err := urlnorm.Normalize("https://example.com/private/page")
	require.NoError(t, err)

	assert.True(t, lens.Allows(allowed))
	assert.False(t, lens.Allows(denied))
}

func TestEnqueueFreshnessSuppression(t *testing.T) {
	f := newTestFrontier(Options{QueueDepth: 8, Freshness: time.Hour})
	ctx := context.Background()

	recent := time.Now().Add(-10 * time.Minute)
	tgt := target(t, "https://example.com/fresh")
	tgt.LastFetched = &recent

	ok, err := f.Enqueue(ctx, tgt)
	require.NoError(t, err)
	assert.False(t, ok)

	// A recrawl request overrides freshness.
	tgt.Source = engine.SourceRecrawl
	ok, err = f.Enqueue(ctx, tgt)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestForgetAllowsReenqueue(t *testing.T) {
	f := newTestFrontier(Options{QueueDepth: 8})
	ctx := context.Background()
	tgt := target(t, "https://example.com/retry-me")

	ok, err := f.Enqueue(ctx, tgt)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.Dequeue(ctx)
	require.NoError(t, err)

	ok, err = f.Enqueue(ctx, tgt)
	require.NoError(t, err)
	assert.False(t, ok)

	f.Forget(tgt.Canonical)
	ok, err = f.Enqueue(ctx, tgt)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDequeueDeliversEachTargetOnce(t *testing.T) {
	f := newTestFrontier(Options{QueueDepth: 128})
	ctx := context.Background()

	const total = 100
	for i := 0; i < total; i++ {
		ok, err := f.Enqueue(ctx, target(t, fmt.Sprintf("https://example.com/page/%d", i)))
		require.NoError(t, err)
		require.True(t, ok)
	}
	f.Close()

	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tgt, err := f.Dequeue(ctx)
				if errors.Is(err, ErrClosed) {
					return
				}
				require.NoError(t, err)
				mu.Lock()
				seen[tgt.Canonical.Key()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for key, count := range seen {
		assert.Equal(t, 1, count, key)
	}
}

func TestDequeueRespectsContext(t *testing.T) {
	f := newTestFrontier(Options{QueueDepth: 8})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDequeueAppliesPerHostRate(t *testing.T) {
	f := New(Options{QueueDepth: 8, PerHostRPS: 20, PerHostBurst: 1}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := f.Enqueue(ctx, target(t, fmt.Sprintf("https://slow.example.com/p%d", i)))
		require.NoError(t, err)
		require.True(t, ok)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := f.Dequeue(ctx)
		require.NoError(t, err)
	}
	// Burst of 1 at 20 rps forces roughly 50ms between the remaining two.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
