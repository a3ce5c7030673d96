// Package sqlite provides a SQLite-backed document store using the pure-Go
// modernc driver, so the binary stays cgo-free.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lodestone-search/lodestone/internal/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id       TEXT PRIMARY KEY,
	crawl_uri    TEXT NOT NULL,
	open_url     TEXT NOT NULL DEFAULT '',
	canonical    TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	tags         TEXT NOT NULL DEFAULT '[]',
	state        TEXT NOT NULL,
	indexed_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_state ON documents (state, indexed_at);
`

// Store persists documents in a single SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at path and applies the
// schema. WAL mode keeps readers unblocked during pipeline writes.
func Open(ctx context.Context, path string, maxOpenConns int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents
			(doc_id, crawl_uri, open_url, canonical, title, description, content, content_hash, tags, state, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		doc.DocID, doc.CrawlURI, doc.OpenURL, string(canonical), doc.Title,
		doc.Description, doc.Content, doc.ContentHash, tags, string(doc.State), doc.IndexedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.DocID, err)
	}
	return nil
}

// Get returns the document for docID or engine.ErrNotFound.
func (s *Store) Get(ctx context.Context, docID string) (engine.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, crawl_uri, open_url, canonical, title, description, content, content_hash, tags, state, indexed_at
		FROM documents WHERE doc_id = ?`, docID)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", docID, engine.ErrNotFound)
	}
	return nil
}

// List returns all documents sorted by DocID.
func (s *Store) List(ctx context.Context) ([]engine.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, crawl_uri, open_url, canonical, title, description, content, content_hash, tags, state, indexed_at
		FROM documents ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// ListStale returns indexed documents last indexed before olderThan.
func (s *Store) ListStale(ctx context.Context, olderThan time.Time) ([]engine.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, crawl_uri, open_url, canonical, title, description, content, content_hash, tags, state, indexed_at
		FROM documents WHERE state = ? AND indexed_at < ? ORDER BY doc_id`,
		string(engine.DocStateIndexed), olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (engine.Document, error) {
	var doc engine.Document
	var canonical, tags, state string
	if err := row.Scan(&doc.DocID, &doc.CrawlURI, &doc.OpenURL, &canonical,
		&doc.Title, &doc.Description, &doc.Content, &doc.ContentHash,
		&tags, &state, &doc.IndexedAt); err != nil {
		return engine.Document{}, err
	}
	if err := json.Unmarshal([]byte(canonical), &doc.Canonical); err != nil {
		return engine.Document{}, fmt.Errorf("unmarshal canonical: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
		return engine.Document{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	doc.State = engine.DocState(state)
	return doc, nil
}

func collectDocuments(rows *sql.Rows) ([]engine.Document, error) {
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

func marshalTags(tags []engine.Tag) (string, error) {
	if tags == nil {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}
