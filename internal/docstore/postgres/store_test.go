package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-search/lodestone/internal/engine"
)

func sampleDocument(t *testing.T) engine.Document {
	t.Helper()
	return engine.Document{
		DocID:    "2f5c9a0e-0000-5000-8000-000000000001",
		CrawlURI: "https://example.com/guide",
		OpenURL:  "https://example.com/guide",
		Canonical: engine.CanonicalURL{
			Scheme:       "https",
			Host:         "example.com",
			PathSegments: []string{"guide"},
			PathLength:   1,
		},
		Title:       "Guide",
		Content:     "guide content",
		ContentHash: "abc123",
		Tags:        []engine.Tag{{Label: "lens", Value: "docs"}},
		State:       engine.DocStateIndexed,
		IndexedAt:   time.Unix(1700000000, 0).UTC(),
	}
}

func TestUpsertInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)
	doc := sampleDocument(t)

	canonical, err := json.Marshal(doc.Canonical)
	require.NoError(t, err)
	tags, err := json.Marshal(doc.Tags)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO documents").
		WithArgs(
			doc.DocID,
			doc.CrawlURI,
			doc.OpenURL,
			canonical,
			doc.Title,
			doc.Description,
			doc.Content,
			doc.ContentHash,
			tags,
			string(doc.State),
			doc.IndexedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), doc))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMapsMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	mock.ExpectQuery("SELECT .+ FROM documents WHERE doc_id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"doc_id", "crawl_uri", "open_url", "canonical", "title",
			"description", "content", "content_hash", "tags", "state", "indexed_at",
		}))

	_, err = store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	mock.ExpectExec("DELETE FROM documents").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err = store.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)
	doc := sampleDocument(t)

	canonical, err := json.Marshal(doc.Canonical)
	require.NoError(t, err)
	tags, err := json.Marshal(doc.Tags)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .+ FROM documents ORDER BY doc_id").
		WillReturnRows(pgxmock.NewRows([]string{
			"doc_id", "crawl_uri", "open_url", "canonical", "title",
			"description", "content", "content_hash", "tags", "state", "indexed_at",
		}).AddRow(
			doc.DocID, doc.CrawlURI, doc.OpenURL, canonical, doc.Title,
			doc.Description, doc.Content, doc.ContentHash, tags,
			string(doc.State), doc.IndexedAt,
		))

	docs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, doc, docs[0])
	require.NoError(t, mock.ExpectationsWereMet())
}
