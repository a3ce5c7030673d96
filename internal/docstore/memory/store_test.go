package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-search/lodestone/internal/engine"
)

func doc(id string, state engine.DocState, indexedAt time.Time) engine.Document {
	return engine.Document{
		DocID:     id,
		CrawlURI:  "https://example.com/" + id,
		State:     state,
		IndexedAt: indexedAt,
	}
}

func TestUpsertAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Upsert(ctx, doc("doc-1", engine.DocStateIndexed, now)))

	got, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/doc-1", got.CrawlURI)

	// Upsert replaces in place under the same identity.
	updated := doc("doc-1", engine.DocStateStale, now)
	updated.Title = "changed"
	require.NoError(t, s.Upsert(ctx, updated))

	got, err = s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Title)
	assert.Equal(t, engine.DocStateStale, got.State)
}

func TestGetMissing(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	s := New()
	assert.Error(t, s.Upsert(context.Background(), engine.Document{}))
}

func TestDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, doc("doc-1", engine.DocStateIndexed, time.Now())))
	require.NoError(t, s.Delete(ctx, "doc-1"))

	_, err := s.Get(ctx, "doc-1")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "doc-1"), engine.ErrNotFound)
}

func TestListSortedByDocID(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Upsert(ctx, doc("doc-b", engine.DocStateIndexed, now)))
	require.NoError(t, s.Upsert(ctx, doc("doc-a", engine.DocStateIndexed, now)))

	docs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-a", docs[0].DocID)
	assert.Equal(t, "doc-b", docs[1].DocID)
}

func TestListStale(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Upsert(ctx, doc("old", engine.DocStateIndexed, now.Add(-48*time.Hour))))
	require.NoError(t, s.Upsert(ctx, doc("fresh", engine.DocStateIndexed, now)))
	require.NoError(t, s.Upsert(ctx, doc("old-failed", engine.DocStateFailed, now.Add(-48*time.Hour))))

	stale, err := s.ListStale(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].DocID)
}
