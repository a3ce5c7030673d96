package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-search/lodestone/internal/docstore/memory"
	"github.com/lodestone-search/lodestone/internal/engine"
	"github.com/lodestone-search/lodestone/internal/frontier"
	"github.com/lodestone-search/lodestone/internal/urlnorm"
)

func TestRecrawlSweepQueuesOnlyStaleDocuments(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	store := memory.New()
	front := frontier.New(frontier.Options{QueueDepth: 16, PerHostRPS: 10000, PerHostBurst: 10000}, nil)

	add := func(rawURI string, indexedAt time.Time, state engine.DocState) engine.Document {
		canonical, err := urlnorm.Normalize(rawURI)
		require.NoError(t, err)
		doc := engine.Document{
			DocID:     "doc-" + canonical.Host,
			CrawlURI:  rawURI,
			Canonical: canonical,
			State:     state,
			IndexedAt: indexedAt,
		}
		require.NoError(t, store.Upsert(ctx, doc))
		return doc
	}

	stale := add("https://old.example.com/", now.Add(-48*time.Hour), engine.DocStateIndexed)
	add("https://fresh.example.com/", now.Add(-time.Hour), engine.DocStateIndexed)
	add("https://broken.example.com/", now.Add(-48*time.Hour), engine.DocStateFailed)

	r := NewRecrawler(store, front, fixedClock{t: now}, time.Hour, 24*time.Hour, nil)
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Equal(t, 1, front.Depth())

	target, err := front.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, stale.CrawlURI, target.URI)
	assert.Equal(t, engine.SourceRecrawl, target.Source)
}

func TestRecrawlSweepBypassesVisitedSet(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	store := memory.New()
	front := frontier.New(frontier.Options{QueueDepth: 16, PerHostRPS: 10000, PerHostBurst: 10000}, nil)

	canonical, err := urlnorm.Normalize("https://old.example.com/page")
	require.NoError(t, err)
	doc := engine.Document{
		DocID:     "doc-1",
		CrawlURI:  "https://old.example.com/page",
		Canonical: canonical,
		State:     engine.DocStateIndexed,
		IndexedAt: now.Add(-48 * time.Hour),
	}
	require.NoError(t, store.Upsert(ctx, doc))

	// Simulate an earlier crawl generation having seen the URL.
	ok, err := front.Enqueue(ctx, engine.CrawlTarget{URI: doc.CrawlURI, Canonical: canonical, Source: engine.SourceSeed})
	require.NoError(t, err)
	require.True(t, ok)
	_, err = front.Dequeue(ctx)
	require.NoError(t, err)

	r := NewRecrawler(store, front, fixedClock{t: now}, time.Hour, 24*time.Hour, nil)
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
