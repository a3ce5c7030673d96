package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-search/lodestone/internal/docstore/memory"
	"github.com/lodestone-search/lodestone/internal/embedder/hashing"
	"github.com/lodestone-search/lodestone/internal/engine"
	eventsmem "github.com/lodestone-search/lodestone/internal/events/memory"
	"github.com/lodestone-search/lodestone/internal/index/lexical"
	"github.com/lodestone-search/lodestone/internal/index/vector"
	"github.com/lodestone-search/lodestone/internal/urlnorm"
)

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

type toggleEmbedder struct {
	inner engine.Embedder
	fail  bool
}

func (e *toggleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedding service down")
	}
	return e.inner.Embed(ctx, text)
}

func (e *toggleEmbedder) Dimension() int { return e.inner.Dimension() }

type indexerFixture struct {
	store    *memory.Store
	lex      *lexical.Index
	vec      *vector.Index
	embedder *toggleEmbedder
	events   *eventsmem.Publisher
	indexer  *Indexer
}

func newIndexerFixture() *indexerFixture {
	f := &indexerFixture{
		store:    memory.New(),
		lex:      lexical.New(""),
		vec:      vector.New(32, ""),
		embedder: &toggleEmbedder{inner: hashing.New(32)},
		events:   eventsmem.New(),
	}
	f.indexer = NewIndexer(f.store, f.lex, f.vec, f.embedder, f.events,
		fixedClock{t: time.Unix(1700000000, 0).UTC()}, "index-events", nil)
	return f
}

func document(t *testing.T, rawURI, title, content string) engine.Document {
	t.Helper()
	canonical, err := urlnorm.Normalize(rawURI)
	require.NoError(t, err)
	return engine.Document{
		DocID:     "doc-" + canonical.Host,
		CrawlURI:  rawURI,
		Canonical: canonical,
		Title:     title,
		Content:   content,
	}
}

func TestIndexMakesDocumentSearchable(t *testing.T) {
	f := newIndexerFixture()
	ctx := context.Background()

	doc := document(t, "https://a.example.com/page", "Title", "ownership borrowing")
	require.NoError(t, f.indexer.Index(ctx, doc))

	stored, err := f.store.Get(ctx, doc.DocID)
	require.NoError(t, err)
	assert.Equal(t, engine.DocStateIndexed, stored.State)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), stored.IndexedAt)

	require.Len(t, f.lex.Lookup("ownership"), 1)
	assert.Equal(t, 1, f.vec.Len())

	msgs := f.events.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "index-events", msgs[0].Topic)
	assert.Contains(t, string(msgs[0].Payload), `"state":"indexed"`)
}

func TestIndexReplacesPreviousVersion(t *testing.T) {
	f := newIndexerFixture()
	ctx := context.Background()

	doc := document(t, "https://a.example.com/page", "Title", "original wording")
	require.NoError(t, f.indexer.Index(ctx, doc))

	doc.Content = "revised wording"
	require.NoError(t, f.indexer.Index(ctx, doc))

	assert.Empty(t, f.lex.Lookup("original"))
	require.Len(t, f.lex.Lookup("revised"), 1)
	assert.Equal(t, 1, f.lex.DocCount())
	assert.Equal(t, 1, f.vec.Len())
}

func TestIndexRollsBackOnEmbedFailure(t *testing.T) {
	f := newIndexerFixture()
	ctx := context.Background()

	doc := document(t, "https://a.example.com/page", "Title", "original wording")
	require.NoError(t, f.indexer.Index(ctx, doc))

	f.embedder.fail = true
	doc.Content = "revised wording"
	err := f.indexer.Index(ctx, doc)
	require.Error(t, err)

	// The previous version's index entries survive the failed unit.
	require.Len(t, f.lex.Lookup("original"), 1)
	assert.Empty(t, f.lex.Lookup("revised"))
	assert.Equal(t, 1, f.vec.Len())

	// So does the previous committed document: it stays searchable.
	stored, err := f.store.Get(ctx, doc.DocID)
	require.NoError(t, err)
	assert.Equal(t, engine.DocStateIndexed, stored.State)
	assert.Equal(t, "original wording", stored.Content)

	// The failed attempt is still reported to event consumers.
	msgs := f.events.Messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, string(msgs[len(msgs)-1].Payload), `"state":"failed"`)
}

func TestIndexFailureWithoutPriorVersionRecordsFailed(t *testing.T) {
	f := newIndexerFixture()
	ctx := context.Background()

	f.embedder.fail = true
	doc := document(t, "https://a.example.com/page", "Title", "some wording")
	err := f.indexer.Index(ctx, doc)
	require.Error(t, err)

	// Nothing to roll back to: the failure is recorded in the store and
	// neither index keeps an entry.
	stored, err := f.store.Get(ctx, doc.DocID)
	require.NoError(t, err)
	assert.Equal(t, engine.DocStateFailed, stored.State)
	assert.Empty(t, f.lex.Lookup("wording"))
	assert.Equal(t, 0, f.vec.Len())
}

// flakyStore fails deletes on demand.
type flakyStore struct {
	*memory.Store
	failDelete bool
}

func (s *flakyStore) Delete(ctx context.Context, docID string) error {
	if s.failDelete {
		return errors.New("store offline")
	}
	return s.Store.Delete(ctx, docID)
}

func TestDeleteRestoresIndexesWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.New()}
	lex := lexical.New("")
	vec := vector.New(32, "")
	indexer := NewIndexer(store, lex, vec, hashing.New(32), eventsmem.New(),
		fixedClock{t: time.Unix(1700000000, 0).UTC()}, "index-events", nil)

	doc := document(t, "https://a.example.com/page", "Title", "some words")
	require.NoError(t, indexer.Index(ctx, doc))

	store.failDelete = true
	require.Error(t, indexer.Delete(ctx, doc.DocID))

	// The unit rolled back: the document is still fully searchable.
	assert.Len(t, lex.Lookup("words"), 1)
	assert.Equal(t, 1, vec.Len())
	stored, err := store.Get(ctx, doc.DocID)
	require.NoError(t, err)
	assert.Equal(t, engine.DocStateIndexed, stored.State)
}

func TestRecordFailureRetractsLiveEntries(t *testing.T) {
	f := newIndexerFixture()
	ctx := context.Background()

	doc := document(t, "https://a.example.com/page", "Title", "some words")
	require.NoError(t, f.indexer.Index(ctx, doc))

	f.indexer.RecordFailure(ctx, engine.Document{DocID: doc.DocID, CrawlURI: doc.CrawlURI, Canonical: doc.Canonical})

	stored, err := f.store.Get(ctx, doc.DocID)
	require.NoError(t, err)
	assert.Equal(t, engine.DocStateFailed, stored.State)
	// The stored fields of the known version are kept, only the state flips.
	assert.Equal(t, "some words", stored.Content)
	assert.Empty(t, f.lex.Lookup("words"))
	assert.Equal(t, 0, f.vec.Len())
}

func TestDeleteRemovesEverything(t *testing.T) {
	f := newIndexerFixture()
	ctx := context.Background()

	doc := document(t, "https://a.example.com/page", "Title", "some words")
	require.NoError(t, f.indexer.Index(ctx, doc))
	require.NoError(t, f.indexer.Delete(ctx, doc.DocID))

	_, err := f.store.Get(ctx, doc.DocID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	assert.Empty(t, f.lex.Lookup("words"))
	assert.Equal(t, 0, f.vec.Len())

	msgs := f.events.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, string(msgs[1].Payload), `"state":"deleted"`)
}

func TestDeleteMissingDocument(t *testing.T) {
	f := newIndexerFixture()
	err := f.indexer.Delete(context.Background(), "ghost")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestRebuildRestoresIndexes(t *testing.T) {
	f := newIndexerFixture()
	ctx := context.Background()

	docA := document(t, "https://a.example.com/page", "A", "alpha content")
	docB := document(t, "https://b.example.com/page", "B", "beta content")
	require.NoError(t, f.indexer.Index(ctx, docA))
	require.NoError(t, f.indexer.Index(ctx, docB))

	failed := document(t, "https://c.example.com/page", "C", "gamma content")
	failed.State = engine.DocStateFailed
	require.NoError(t, f.store.Upsert(ctx, failed))

	// Simulate lost snapshots: fresh indexes, same store.
	f.lex = lexical.New("")
	f.vec = vector.New(32, "")
	f.indexer = NewIndexer(f.store, f.lex, f.vec, f.embedder, f.events,
		fixedClock{t: time.Unix(1700000000, 0).UTC()}, "index-events", nil)

	n, err := f.indexer.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Len(t, f.lex.Lookup("alpha"), 1)
	assert.Len(t, f.lex.Lookup("beta"), 1)
	assert.Empty(t, f.lex.Lookup("gamma"))
	assert.Equal(t, 2, f.vec.Len())
}
