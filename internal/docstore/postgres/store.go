// Package postgres provides a PostgreSQL-backed document store for shared
// deployments where several crawler instances feed one corpus.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lodestone-search/lodestone/internal/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id       TEXT PRIMARY KEY,
	crawl_uri    TEXT NOT NULL,
	open_url     TEXT NOT NULL DEFAULT '',
	canonical    JSONB NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	tags         JSONB NOT NULL DEFAULT '[]',
	state        TEXT NOT NULL,
	indexed_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_state ON documents (state, indexed_at);
`

const selectColumns = `doc_id, crawl_uri, open_url, canonical, title, description, content, content_hash, tags, state, indexed_at`

// pool is the subset of pgxpool.Pool the store uses. Narrowing to an
// interface lets tests substitute pgxmock.
type pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists documents in PostgreSQL.
type Store struct {
	db pool
}

// Open connects to PostgreSQL with the given DSN and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool wraps an existing pool without running migrations. Used by
// tests with pgxmock.
func NewWithPool(db pool) *Store {
	return &Store{db: db}
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.db.Close()
}

// Upsert creates or replaces the document keyed by its DocID.
func (s *Store) Upsert(ctx context.Context, doc engine.Document) error {
	if doc.DocID == "" {
		return fmt.Errorf("document has no doc_id: %w", engine.ErrIndexWrite)
	}
	canonical, err := json.Marshal(doc.Canonical)
	if err != nil {
		return fmt.Errorf("marshal canonical: %w", err)
	}
	tags, err := marshalTags(doc.Tags)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO documents
			(doc_id, crawl_uri, open_url, canonical, title, description, content, content_hash, tags, state, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (doc_id) DO UPDATE SET
			crawl_uri    = excluded.crawl_uri,
			open_url     = excluded.open_url,
			canonical    = excluded.canonical,
			title        = excluded.title,
			description  = excluded.description,
			content      = excluded.content,
			content_hash = excluded.content_hash,
			tags         = excluded.tags,
			state        = excluded.state,
			indexed_at   = excluded.indexed_at`,
		doc.DocID, doc.CrawlURI, doc.OpenURL, canonical, doc.Title,
		doc.Description, doc.Content, doc.ContentHash, tags, string(doc.State), doc.IndexedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.DocID, err)
	}
	return nil
}

// Get returns the document for docID or engine.ErrNotFound.
func (s *Store) Get(ctx context.Context, docID string) (engine.Document, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM documents WHERE doc_id = $1`, docID)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Document{}, fmt.Errorf("document %s: %w", docID, engine.ErrNotFound)
	}
	if err != nil {
		return engine.Document{}, fmt.Errorf("get document %s: %w", docID, err)
	}
	return doc, nil
}

// Delete removes the document for docID, returning engine.ErrNotFound when
// it does not exist.
func (s *Store) Delete(ctx context.Context, docID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE doc_id = $1`, docID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", docID, engine.ErrNotFound)
	}
	return nil
}

// List returns all documents sorted by DocID.
func (s *Store) List(ctx context.Context) ([]engine.Document, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+selectColumns+` FROM documents ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// ListStale returns indexed documents last indexed before olderThan.
func (s *Store) ListStale(ctx context.Context, olderThan time.Time) ([]engine.Document, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+selectColumns+` FROM documents WHERE state = $1 AND indexed_at < $2 ORDER BY doc_id`,
		string(engine.DocStateIndexed), olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

func scanDocument(row pgx.Row) (engine.Document, error) {
	var doc engine.Document
	var canonical, tags []byte
	var state string
	if err := row.Scan(&doc.DocID, &doc.CrawlURI, &doc.OpenURL, &canonical,
		&doc.Title, &doc.Description, &doc.Content, &doc.ContentHash,
		&tags, &state, &doc.IndexedAt); err != nil {
		return engine.Document{}, err
	}
	if err := json.Unmarshal(canonical, &doc.Canonical); err != nil {
		return engine.Document{}, fmt.Errorf("unmarshal canonical: %w", err)
	}
	if err := json.Unmarshal(tags, &doc.Tags); err != nil {
		return engine.Document{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	doc.State = engine.DocState(state)
	return doc, nil
}

func collectDocuments(rows pgx.Rows) ([]engine.Document, error) {
	var out []engine.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func marshalTags(tags []engine.Tag) ([]byte, error) {
	if tags == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return b, nil
}
